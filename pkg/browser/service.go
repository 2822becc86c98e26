package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/security/profile"
)

// ServiceOptions wires the registry, dispatcher and reaper together.
type ServiceOptions struct {
	Driver      Driver
	ProfileRoot string

	Headless       bool
	Viewport       Viewport
	ExecutablePath string
	NoSandbox      bool
	MaxSessions    int

	Timeouts Timeouts
	Reaper   ReaperOptions

	AllowedURLs []string
	DeniedURLs  []string

	Logger *logging.Logger
	Clock  func() time.Time
}

// Service owns the whole session manager.
type Service struct {
	Registry   *Registry
	Dispatcher *Dispatcher
	Reaper     *Reaper

	driver Driver
	logger *logging.Logger
}

// NewService builds a service. Nothing runs until Start.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	guard, err := profile.NewGuard(opts.ProfileRoot)
	if err != nil {
		return nil, fmt.Errorf("profile root: %w", err)
	}

	policy, err := NewURLPolicy(opts.AllowedURLs, opts.DeniedURLs)
	if err != nil {
		return nil, err
	}

	registry, err := NewRegistry(RegistryOptions{
		Driver:         opts.Driver,
		Profiles:       guard,
		Headless:       opts.Headless,
		Viewport:       opts.Viewport,
		ExecutablePath: opts.ExecutablePath,
		NoSandbox:      opts.NoSandbox,
		MaxSessions:    opts.MaxSessions,
		Timeouts:       opts.Timeouts,
		Logger:         opts.Logger.With("registry"),
		Clock:          opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	dispatcher, err := NewDispatcher(DispatcherOptions{
		Registry: registry,
		Policy:   policy,
		Timeouts: opts.Timeouts,
		Logger:   opts.Logger.With("dispatcher"),
	})
	if err != nil {
		return nil, err
	}

	reaperOpts := opts.Reaper
	reaperOpts.Logger = opts.Logger.With("reaper")

	return &Service{
		Registry:   registry,
		Dispatcher: dispatcher,
		Reaper:     NewReaper(registry, reaperOpts),
		driver:     opts.Driver,
		logger:     opts.Logger,
	}, nil
}

// Start begins idle reaping.
func (s *Service) Start() {
	s.Reaper.Start()
}

// Shutdown stops the reaper, closes every session, then stops the driver.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.Reaper.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.Registry.CloseAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.driver.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		s.logger.Errorf("shutdown finished with errors: %v", errors.Join(errs...))
		return errors.Join(errs...)
	}
	s.logger.Infof("shutdown complete")
	return nil
}
