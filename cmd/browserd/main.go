// Package main runs browserd, a browser session manager served over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/config"
	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/server"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0-dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "browserd",
		Short:         "Headless browser sessions behind an HTTP API",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default $"+config.EnvConfigPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the session manager and HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				return serve(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				cfg.Server.APIToken = redact(cfg.Server.APIToken)
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("failed to encode config: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "browserd v%s\n", version)
			},
		},
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logging.Configure(logging.Options{Dir: cfg.Log.Dir, Level: level, Stderr: cfg.Log.Stderr})

	logger, err := logging.NewLogger("main")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (logging to stderr)\n", err)
	}
	defer logger.Close()

	driver := browser.NewPlaywrightDriver(browser.PlaywrightOptions{
		SkipInstall: cfg.Browser.SkipInstall,
		Logger:      logger.With("playwright"),
	})
	if err := driver.Initialize(); err != nil {
		logger.Errorf("browser driver unavailable: %v", err)
		return err
	}

	svc, err := browser.NewService(browser.ServiceOptions{
		Driver:         driver,
		ProfileRoot:    cfg.Browser.ProfileRoot,
		Headless:       cfg.Browser.Headless,
		Viewport:       browser.Viewport{Width: cfg.Browser.Width, Height: cfg.Browser.Height},
		ExecutablePath: cfg.Browser.ExecutablePath,
		NoSandbox:      cfg.Browser.NoSandbox,
		MaxSessions:    cfg.Browser.MaxSessions,
		Timeouts: browser.Timeouts{
			Selector:   cfg.Timeouts.Selector,
			Navigation: cfg.Timeouts.Navigation,
			WaitCap:    cfg.Timeouts.WaitCap,
			Action:     cfg.Timeouts.Action,
			CloseWait:  cfg.Timeouts.CloseWait,
		},
		Reaper: browser.ReaperOptions{
			Interval:    cfg.Reaper.Interval,
			IdleMark:    cfg.Reaper.IdleMark,
			IdleTimeout: cfg.Reaper.IdleTimeout,
		},
		AllowedURLs: cfg.Policy.AllowedURLs,
		DeniedURLs:  cfg.Policy.DeniedURLs,
		Logger:      logger,
	})
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("failed to build service: %w", err)
	}
	svc.Start()

	srv := server.New(svc, server.Config{
		Addr:     cfg.Server.Addr,
		APIToken: cfg.Server.APIToken,
		Logger:   logger.With("server"),
	})
	if cfg.Server.APIToken == "" {
		logger.Warnf("no API token configured; the HTTP API is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Printf("browserd v%s listening on http://%s\n", version, cfg.Server.Addr)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Infof("shutdown requested")
	case serveErr = <-errCh:
		logger.Errorf("server stopped: %v", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
