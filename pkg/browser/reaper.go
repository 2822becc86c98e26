package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/entrhq/browserd/pkg/logging"
)

// ReaperOptions configures the idle sweep.
type ReaperOptions struct {
	// Interval between sweeps. Default 60s.
	Interval time.Duration

	// IdleMark flips sessions inactive this long to idle. Zero, or a value
	// not below IdleTimeout, disables marking.
	IdleMark time.Duration

	// IdleTimeout closes sessions inactive this long. Default 10m.
	IdleTimeout time.Duration

	Logger *logging.Logger
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Marked  int // sessions flipped to idle
	Closed  int // sessions closed for inactivity
	Pruned  int // closed entries removed from the registry
	Skipped int // idle sessions left alone because an action was running
}

// Reaper periodically closes sessions that have been inactive too long.
//
// It never waits on a busy session: a session whose action lock is taken
// is skipped until the next tick. Because the reaper closes only while
// holding the lock, an in-flight action always completes before the
// process goes away.
type Reaper struct {
	registry *Registry
	opts     ReaperOptions
	logger   *logging.Logger

	mu        sync.Mutex
	scheduler *cron.Cron
}

// NewReaper creates a reaper for registry. Call Start to begin sweeping.
func NewReaper(registry *Registry, opts ReaperOptions) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReapInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.IdleMark < 0 || opts.IdleMark >= opts.IdleTimeout {
		opts.IdleMark = 0
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Reaper{
		registry: registry,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Start schedules the sweep. Calling Start on a running reaper is a no-op.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler != nil {
		return
	}

	log := cronLogger{r.logger}
	r.scheduler = cron.New(cron.WithChain(
		cron.Recover(log),
		cron.SkipIfStillRunning(log),
	))
	r.scheduler.Schedule(cron.Every(r.opts.Interval), cron.FuncJob(func() {
		r.Sweep(r.registry.now())
	}))
	r.scheduler.Start()
	r.logger.Infof("reaper started (interval %s, idle mark %s, idle timeout %s)",
		r.opts.Interval, r.opts.IdleMark, r.opts.IdleTimeout)
}

// Stop cancels future sweeps and waits for a running one to finish, or
// for ctx to expire.
func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	scheduler := r.scheduler
	r.scheduler = nil
	r.mu.Unlock()

	if scheduler == nil {
		return nil
	}
	select {
	case <-scheduler.Stop().Done():
		r.logger.Infof("reaper stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reaper stop: %w", ctx.Err())
	}
}

// Sweep runs one pass over the registry as of now.
func (r *Reaper) Sweep(now time.Time) SweepResult {
	var res SweepResult

	for _, s := range r.registry.snapshot() {
		if s.Closed() {
			// Leave entries whose process is still being released
			if s.isReleased() && r.registry.remove(s) {
				res.Pruned++
			}
			continue
		}

		inactive := now.Sub(s.LastActivityAt())
		switch {
		case inactive > r.opts.IdleTimeout:
			if !s.lock.TryLock() {
				res.Skipped++
				metricReaperSkipped.Inc()
				r.logger.Debugf("session %s idle but busy, skipping", s.id)
				continue
			}
			// An action may have finished between the check and the lock
			if now.Sub(s.LastActivityAt()) <= r.opts.IdleTimeout {
				s.lock.Unlock()
				continue
			}
			if err := r.registry.closeHeld(s, closeReasonIdle); err != nil {
				r.logger.Warnf("reaper: %v", err)
			}
			s.lock.Unlock()
			res.Closed++

		case r.opts.IdleMark > 0 && inactive > r.opts.IdleMark:
			if s.markIdle(now.Add(-r.opts.IdleMark)) {
				res.Marked++
			}
		}
	}

	if res != (SweepResult{}) {
		r.logger.Infof("reaper: closed %d, marked idle %d, pruned %d, skipped busy %d",
			res.Closed, res.Marked, res.Pruned, res.Skipped)
	}
	return res
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugf("cron: %s%s", msg, formatKV(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorf("cron: %s: %v%s", msg, err, formatKV(keysAndValues))
}

func formatKV(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
