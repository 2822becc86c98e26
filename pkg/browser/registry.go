package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/security/profile"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Driver launches browser processes (required)
	Driver Driver

	// Profiles maps session ids to profile directories (required)
	Profiles *profile.Guard

	// Defaults for new sessions
	Headless       bool
	Viewport       Viewport
	ExecutablePath string
	NoSandbox      bool

	// MaxSessions caps live sessions. Zero means unlimited.
	MaxSessions int

	Timeouts Timeouts
	Logger   *logging.Logger

	// Clock overrides time.Now, for tests
	Clock func() time.Time
}

// Registry is the concurrency-safe store of live sessions.
//
// The registry lock guards only the map. Page work happens under each
// session's own action lock, so a slow action never blocks create, list or
// close of other sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	launches singleflight.Group

	driver   Driver
	profiles *profile.Guard
	opts     RegistryOptions
	timeouts Timeouts
	logger   *logging.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Driver == nil {
		return nil, fmt.Errorf("registry requires a driver")
	}
	if opts.Profiles == nil {
		return nil, fmt.Errorf("registry requires a profile guard")
	}
	if opts.MaxSessions < 0 {
		return nil, fmt.Errorf("max sessions cannot be negative")
	}
	if opts.Viewport.Width <= 0 {
		opts.Viewport.Width = DefaultViewportWidth
	}
	if opts.Viewport.Height <= 0 {
		opts.Viewport.Height = DefaultViewportHeight
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Registry{
		sessions: make(map[string]*Session),
		driver:   opts.Driver,
		profiles: opts.Profiles,
		opts:     opts,
		timeouts: opts.Timeouts.withDefaults(),
		logger:   opts.Logger,
		now:      opts.Clock,
	}, nil
}

// CreateOrResume returns the live session for id, touching its activity
// time, or provisions a new one. Concurrent calls for the same id launch at
// most one process. Launch problems are returned wrapped in ErrLaunchFailed.
func (r *Registry) CreateOrResume(ctx context.Context, id string, opts SessionOptions) (*Session, error) {
	if err := profile.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if opts.Width < 0 || opts.Height < 0 {
		return nil, fmt.Errorf("%w: viewport dimensions cannot be negative", ErrInvalidParams)
	}

	if s, ok := r.Get(id); ok {
		s.touch(r.now())
		return s, nil
	}

	// The launch is shared by every caller racing on id, so it runs detached
	// from any one caller's context. Each caller still stops waiting when its
	// own context ends.
	launch := context.WithoutCancel(ctx)
	ch := r.launches.DoChan(id, func() (interface{}, error) {
		// Another launch may have finished between Get and DoChan
		if s, ok := r.Get(id); ok {
			return s, nil
		}
		return r.provision(launch, id, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		s := res.Val.(*Session)
		s.touch(r.now())
		return s, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: launching session %s", ErrTimeout, id)
		}
		return nil, fmt.Errorf("launching session %s: %w", id, ctx.Err())
	}
}

// provision launches a new process for id. ctx carries no caller
// cancellation; the launch timeout bounds both the wait for a closing
// predecessor and the launch itself.
func (r *Registry) provision(ctx context.Context, id string, opts SessionOptions) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Action)
	defer cancel()

	r.mu.RLock()
	prev := r.sessions[id]
	full := r.opts.MaxSessions > 0 && r.liveCountLocked() >= r.opts.MaxSessions
	r.mu.RUnlock()

	if full {
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManySessions, r.opts.MaxSessions)
	}

	// A closing predecessor still owns the profile directory
	if prev != nil {
		select {
		case <-prev.released:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for previous session %s to close: %w", ErrTimeout, id, ctx.Err())
		}
	}

	dir, err := r.profiles.Prepare(id)
	if err != nil {
		metricLaunchFailures.Inc()
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	spec := LaunchSpec{
		SessionID:      id,
		ProfileDir:     dir,
		Headless:       r.opts.Headless,
		Viewport:       r.opts.Viewport,
		ExecutablePath: r.opts.ExecutablePath,
		NoSandbox:      r.opts.NoSandbox,
		Timeout:        r.timeouts.Action,
	}
	if opts.Headless != nil {
		spec.Headless = *opts.Headless
	}
	if opts.Width > 0 {
		spec.Viewport.Width = opts.Width
	}
	if opts.Height > 0 {
		spec.Viewport.Height = opts.Height
	}

	start := r.now()
	proc, err := r.driver.Launch(ctx, spec)
	if err != nil {
		metricLaunchFailures.Inc()
		r.logger.Errorf("launch failed for session %s: %v", id, err)
		return nil, fmt.Errorf("%w: session %s: %w", ErrLaunchFailed, id, err)
	}

	s := newSession(id, proc, r.now())

	r.mu.Lock()
	if r.opts.MaxSessions > 0 && r.liveCountLocked() >= r.opts.MaxSessions {
		r.mu.Unlock()
		_ = proc.Close()
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManySessions, r.opts.MaxSessions)
	}
	r.sessions[id] = s
	live := r.liveCountLocked()
	r.mu.Unlock()

	metricSessionsCreated.Inc()
	metricSessionsActive.Set(float64(live))
	r.logger.Infof("session %s created (%dx%d, headless=%t) in %s",
		id, spec.Viewport.Width, spec.Viewport.Height, spec.Headless, r.now().Sub(start).Round(time.Millisecond))
	return s, nil
}

// Get returns the live session for id. Closed sessions are never returned.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

// List returns summaries of every non-closed session, sorted by id.
// It never waits on an action lock.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	summaries := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		sum := s.Summary()
		if sum.Status == StatusClosed {
			continue
		}
		summaries = append(summaries, sum)
	}
	r.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID < summaries[j].ID
	})
	return summaries
}

// Len returns the number of non-closed sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveCountLocked()
}

func (r *Registry) liveCountLocked() int {
	n := 0
	for _, s := range r.sessions {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// snapshot returns every tracked session, closed ones included.
func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Close closes the session for id. It waits up to the close timeout for an
// in-flight action to finish, then releases the process regardless.
// Closing an unknown or already closed id is a no-op.
func (r *Registry) Close(id string) error {
	r.mu.RLock()
	s := r.sessions[id]
	r.mu.RUnlock()
	if s == nil {
		return nil
	}
	return r.closeSession(context.Background(), s, closeReasonExplicit)
}

// CloseAll closes every tracked session in parallel. Used at shutdown.
func (r *Registry) CloseAll(ctx context.Context) error {
	sessions := r.snapshot()

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(8)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			if err := r.closeSession(ctx, s, closeReasonShutdown); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("session %s: %w", s.id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("errors closing sessions: %w", errors.Join(errs...))
	}
	return nil
}

// closeSession marks s closed, waits briefly for the action lock, and
// releases the process.
func (r *Registry) closeSession(ctx context.Context, s *Session, reason string) error {
	if !s.markClosed() {
		// Already closing; let the first closer finish
		<-s.released
		return nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, r.timeouts.CloseWait)
	err := s.lock.Lock(lockCtx)
	cancel()
	if err != nil {
		r.logger.Warnf("session %s busy after %s, forcing close", s.id, r.timeouts.CloseWait)
	} else {
		defer s.lock.Unlock()
	}

	return r.finishClose(s, reason)
}

// closeHeld closes a session whose action lock the caller already holds.
func (r *Registry) closeHeld(s *Session, reason string) error {
	if !s.markClosed() {
		return nil
	}
	return r.finishClose(s, reason)
}

func (r *Registry) finishClose(s *Session, reason string) error {
	err := s.release()
	r.remove(s)

	metricSessionsClosed.WithLabelValues(reason).Inc()
	metricSessionsActive.Set(float64(r.Len()))

	if err != nil {
		r.logger.Warnf("session %s closed (%s) with error: %v", s.id, reason, err)
		return fmt.Errorf("failed to close browser for session %s: %w", s.id, err)
	}
	r.logger.Infof("session %s closed (%s)", s.id, reason)
	return nil
}

// remove deletes s from the map unless a newer session took its id.
func (r *Registry) remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.id] != s {
		return false
	}
	delete(r.sessions, s.id)
	return true
}
