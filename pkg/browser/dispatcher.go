package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/security/profile"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Registry *Registry
	Policy   *URLPolicy
	Timeouts Timeouts
	Logger   *logging.Logger
}

// Dispatcher runs actions against sessions. Every entry point ensures the
// session exists, so acting on an unknown or closed id provisions a fresh
// one instead of failing.
type Dispatcher struct {
	registry *Registry
	policy   *URLPolicy
	timeouts Timeouts
	logger   *logging.Logger
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("dispatcher requires a registry")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Dispatcher{
		registry: opts.Registry,
		policy:   opts.Policy,
		timeouts: opts.Timeouts.withDefaults(),
		logger:   opts.Logger,
	}, nil
}

// Ensure creates or resumes the session for id.
func (d *Dispatcher) Ensure(ctx context.Context, id string, opts SessionOptions) (*Session, error) {
	return d.registry.CreateOrResume(ctx, id, opts)
}

type outcome struct {
	data map[string]any
	err  error
}

// Do validates and runs one action against session id.
//
// Parameter errors return before the session is touched. Otherwise the
// action runs under the session lock, bounded by a per-action deadline that
// also covers time spent queued behind earlier actions. When the deadline
// passes the caller gets a timeout envelope at once, and the lock stays held
// until the page call returns so calls never overlap on a page. A page call
// still running CloseWait after the deadline gets its session closed.
func (d *Dispatcher) Do(ctx context.Context, id string, action Action) Envelope {
	start := time.Now()
	env := d.do(ctx, id, action)
	elapsed := time.Since(start)

	observeAction(env, elapsed)
	if env.Success {
		d.logger.Debugf("session %s: %s ok in %s", id, env.Action, elapsed.Round(time.Millisecond))
	} else {
		d.logger.Infof("session %s: %s failed in %s: %s", id, env.Action, elapsed.Round(time.Millisecond), env.Error)
	}
	return env
}

func (d *Dispatcher) do(ctx context.Context, id string, action Action) Envelope {
	if action == nil {
		return Failed("", id, fmt.Errorf("%w: no action", ErrInvalidParams))
	}
	action = deref(action)
	kind := action.Kind()

	if err := profile.ValidateID(id); err != nil {
		return Failed(kind, id, invalidParam(kind, "sessionId", err.Error()))
	}
	if err := action.validate(); err != nil {
		return Failed(kind, id, err)
	}
	if err := d.checkPolicy(action); err != nil {
		return Failed(kind, id, err)
	}

	budget := d.budget(action)
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	s, err := d.acquire(ctx, id)
	if err != nil {
		return Failed(kind, id, err)
	}

	done := make(chan outcome, 1)
	go func() {
		data, err := d.run(ctx, s, action)
		d.settle(s, kind, err)
		done <- outcome{data: data, err: err}
	}()

	select {
	case res := <-done:
		s.lock.Unlock()
		if res.err != nil {
			return Failed(kind, id, res.err)
		}
		return Succeeded(kind, id, res.data)
	case <-ctx.Done():
		go d.reclaim(s, kind, done)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Failed(kind, id, fmt.Errorf("%w: %s did not finish within %s", ErrTimeout, kind, budget))
		}
		return Failed(kind, id, fmt.Errorf("%s abandoned: %w", kind, ctx.Err()))
	}
}

// reclaim holds the lock of an abandoned action until its page call
// returns. A call that outlives the close wait has wedged the page; the
// session is closed so the next action provisions a fresh browser.
func (d *Dispatcher) reclaim(s *Session, kind Kind, done <-chan outcome) {
	timer := time.NewTimer(d.timeouts.CloseWait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		d.logger.Warnf("session %s: %s still running %s after its deadline, closing", s.id, kind, d.timeouts.CloseWait)
		if err := d.registry.closeHeld(s, closeReasonHung); err != nil {
			d.logger.Warnf("session %s: %v", s.id, err)
		}
	}
	s.lock.Unlock()
}

// acquire resolves the session and takes its action lock. A session that
// closed or crashed while the caller was queued is replaced once.
func (d *Dispatcher) acquire(ctx context.Context, id string) (*Session, error) {
	for attempt := 0; attempt < 2; attempt++ {
		s, err := d.registry.CreateOrResume(ctx, id, SessionOptions{})
		if err != nil {
			return nil, err
		}

		if err := s.lock.Lock(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: waiting for session %s", ErrTimeout, id)
			}
			return nil, err
		}

		if s.Closed() {
			s.lock.Unlock()
			continue
		}
		if s.page.IsClosed() {
			d.logger.Warnf("session %s: page is gone, replacing browser", id)
			_ = d.registry.closeHeld(s, closeReasonCrashed)
			s.lock.Unlock()
			continue
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s closed while waiting", ErrSessionClosed, id)
}

// settle records that an action reached the page. Runs before the lock is
// released.
func (d *Dispatcher) settle(s *Session, kind Kind, err error) {
	s.touch(d.registry.now())
	if changesLocation(kind) || (err == nil && kind == KindEvaluate) {
		s.setURL(s.page.URL())
	}

	// The process died under the action; drop it so the next call relaunches
	if err != nil && s.page.IsClosed() {
		d.logger.Warnf("session %s: browser exited during %s", s.id, kind)
		_ = d.registry.closeHeld(s, closeReasonCrashed)
	}
}

func changesLocation(kind Kind) bool {
	switch kind {
	case KindNavigate, KindClick, KindSubmit, KindLogin, KindSearch:
		return true
	}
	return false
}

func (d *Dispatcher) checkPolicy(action Action) error {
	switch a := action.(type) {
	case NavigateAction:
		return d.policy.Check(a.URL)
	case LoginAction:
		return d.policy.Check(a.URL)
	case SearchAction:
		if a.URL != "" {
			return d.policy.Check(a.URL)
		}
	}
	return nil
}

// Navigate loads a URL.
func (d *Dispatcher) Navigate(ctx context.Context, id string, a NavigateAction) Envelope {
	return d.Do(ctx, id, a)
}

// Click clicks the first element matching a selector.
func (d *Dispatcher) Click(ctx context.Context, id string, a ClickAction) Envelope {
	return d.Do(ctx, id, a)
}

// Type types text into an element.
func (d *Dispatcher) Type(ctx context.Context, id string, a TypeAction) Envelope {
	return d.Do(ctx, id, a)
}

// Select picks an option by value.
func (d *Dispatcher) Select(ctx context.Context, id string, a SelectAction) Envelope {
	return d.Do(ctx, id, a)
}

// Scroll scrolls the window.
func (d *Dispatcher) Scroll(ctx context.Context, id string, a ScrollAction) Envelope {
	return d.Do(ctx, id, a)
}

// Wait waits for a selector or a capped duration.
func (d *Dispatcher) Wait(ctx context.Context, id string, a WaitAction) Envelope {
	return d.Do(ctx, id, a)
}

// Screenshot captures the page as base64 PNG.
func (d *Dispatcher) Screenshot(ctx context.Context, id string, a ScreenshotAction) Envelope {
	return d.Do(ctx, id, a)
}

// Extract reduces matching elements to text or attribute values.
func (d *Dispatcher) Extract(ctx context.Context, id string, a ExtractAction) Envelope {
	return d.Do(ctx, id, a)
}

// Submit submits a form.
func (d *Dispatcher) Submit(ctx context.Context, id string, a SubmitAction) Envelope {
	return d.Do(ctx, id, a)
}

// Evaluate runs a script in the page.
func (d *Dispatcher) Evaluate(ctx context.Context, id string, a EvaluateAction) Envelope {
	return d.Do(ctx, id, a)
}

// PageInfo reports url, title and cookie count.
func (d *Dispatcher) PageInfo(ctx context.Context, id string) Envelope {
	return d.Do(ctx, id, PageInfoAction{})
}

// Login fills and submits a login form.
func (d *Dispatcher) Login(ctx context.Context, id string, a LoginAction) Envelope {
	return d.Do(ctx, id, a)
}

// Search fills and submits a search box.
func (d *Dispatcher) Search(ctx context.Context, id string, a SearchAction) Envelope {
	return d.Do(ctx, id, a)
}

// Content returns cleaned page HTML.
func (d *Dispatcher) Content(ctx context.Context, id string, a ContentAction) Envelope {
	return d.Do(ctx, id, a)
}
