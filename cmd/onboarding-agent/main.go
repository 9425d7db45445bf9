// Command onboarding-agent detects new hires and provisions them across the
// company's systems, once or on an interval.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/upb/hr-onboarding/app"
	"github.com/upb/hr-onboarding/config"
	"github.com/upb/hr-onboarding/internal/observability"
	"github.com/upb/hr-onboarding/routes"
	"github.com/upb/hr-onboarding/services"
	"go.uber.org/zap"
)

const (
	exitOK      = 0
	exitFailure = 1
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the agent and returns the process exit code
func run(ctx context.Context, args []string, stderr io.Writer, opts ...app.Option) int {
	fs := flag.NewFlagSet("onboarding-agent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dryRun := fs.Bool("dry-run", false, "evaluate steps without calling external systems")
	watch := fs.Bool("watch", false, "run cycles until interrupted")
	interval := fs.Duration("interval", 0, "wait between watch cycles (overrides ONBOARDING_WATCH_INTERVAL_SECONDS)")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	cfg, err := config.New(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "onboarding-agent: %v\n", err)
		return exitFailure
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dry-run":
			cfg.Onboarding.DryRun = *dryRun
		case "watch":
			cfg.Onboarding.Watch = *watch
		case "interval":
			cfg.Onboarding.WatchInterval = *interval
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "onboarding-agent: config validation failed: %v\n", err)
		return exitFailure
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(stderr, "onboarding-agent: %v\n", err)
		return exitFailure
	}
	logger = logger.With(zap.String("environment", cfg.Environment))

	deps, err := app.NewDependencies(ctx, cfg, logger, opts...)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		_ = logger.Sync()
		return exitFailure
	}
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			fmt.Fprintf(stderr, "onboarding-agent: %v\n", err)
		}
	}()

	if !cfg.Onboarding.Watch {
		return runOnce(ctx, deps)
	}
	return runWatch(ctx, deps)
}

func runOnce(ctx context.Context, deps *app.Dependencies) int {
	if _, err := deps.Orchestrator.RunOnce(ctx); err != nil && services.IsCycleFatal(err) {
		deps.Logger.Error("cycle failed", zap.Error(err))
		return exitFailure
	}
	return exitOK
}

func runWatch(ctx context.Context, deps *app.Dependencies) int {
	cfg := deps.Config
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *http.Server
	serveErr := make(chan error, 1)
	if cfg.Ops.Enabled() {
		srv = &http.Server{
			Addr:              cfg.Ops.Addr,
			Handler:           routes.SetupRoutes(deps),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			deps.Logger.Info("ops API listening", zap.String("addr", cfg.Ops.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
				cancel()
			}
		}()
	}

	// returns only once no cycle, triggered ones included, is running
	_ = deps.Orchestrator.RunWatch(ctx, cfg.Onboarding.WatchInterval)

	code := exitOK
	select {
	case err := <-serveErr:
		deps.Logger.Error("ops API failed", zap.Error(err))
		code = exitFailure
	default:
	}

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			deps.Logger.Error("ops API shutdown failed", zap.Error(err))
		}
	}
	deps.Logger.Info("onboarding agent stopped")
	return code
}
