package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/upb/hr-onboarding/config"
	"github.com/upb/hr-onboarding/middleware"
	"github.com/upb/hr-onboarding/repositories"
	"github.com/upb/hr-onboarding/repositories/memory"
	"github.com/upb/hr-onboarding/repositories/postgres"
	"github.com/upb/hr-onboarding/repositories/sqlite"
	"github.com/upb/hr-onboarding/services/clients"
	"github.com/upb/hr-onboarding/services/clients/rest"
	"github.com/upb/hr-onboarding/services/detector"
	"github.com/upb/hr-onboarding/services/executor"
	"github.com/upb/hr-onboarding/services/orchestrator"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// State store
	Repos *repositories.Repositories

	// External systems
	Clients clients.Set
	Source  clients.SourceOfHire

	// Services
	Detector     *detector.DetectorService
	Executor     *executor.ExecutorService
	Orchestrator *orchestrator.OrchestratorService

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	closers []func() error
}

// Option customizes dependency wiring
type Option func(*options)

type options struct {
	out     io.Writer
	clients *clients.Set
	source  clients.SourceOfHire
}

// WithSummaryOutput sends rendered cycle summaries to w instead of stdout
func WithSummaryOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithClients replaces the REST adapters with the given clients
func WithClients(set clients.Set, source clients.SourceOfHire) Option {
	return func(o *options) {
		o.clients = &set
		o.source = source
	}
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}

	if err := deps.initClients(cfg, o); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	deps.initServices(cfg, o.out)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.Store.Driver),
		zap.Strings("clients", deps.Clients.Configured()),
		zap.Bool("dry_run", cfg.Onboarding.DryRun))
	return deps, nil
}

// initStore opens the configured state store and applies its schema
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		factory, err := postgres.NewRepositoryFactory(cfg.Store.Database, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
		if err := factory.GetDB().InitSchema(ctx); err != nil {
			_ = factory.Close()
			return err
		}
		d.closers = append(d.closers, factory.Close)
		d.Repos = factory.NewRepositories()

	case config.StoreDriverSQLite:
		db, err := sqlite.Open(cfg.Store.SQLitePath, d.Logger)
		if err != nil {
			return err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to migrate sqlite schema: %w", err)
		}
		d.closers = append(d.closers, db.Close)
		d.Repos = db.NewRepositories()

	case config.StoreDriverMemory:
		d.Logger.Warn("using in-memory state store, progress is lost on exit")
		d.Repos = memory.NewRepositories(d.Logger)

	default:
		return fmt.Errorf("unknown state store driver: %q", cfg.Store.Driver)
	}

	d.Logger.Info("state store initialized", zap.String("driver", cfg.Store.Driver))
	return nil
}

func (d *Dependencies) initClients(cfg *config.Config, o options) error {
	if o.clients != nil {
		d.Clients, d.Source = *o.clients, o.source
		return nil
	}
	set, source, err := rest.NewSet(cfg.Clients, d.Logger)
	if err != nil {
		return err
	}
	if source == nil {
		d.Logger.Warn("no source of hire configured, every cycle will fail")
	}
	d.Clients, d.Source = set, source
	return nil
}

func (d *Dependencies) initServices(cfg *config.Config, out io.Writer) {
	ob := cfg.Onboarding
	d.Detector = detector.NewDetectorService(d.Source, d.Logger.Named("detector"))
	d.Executor = executor.NewExecutorService(d.Repos.Onboarding, d.Clients, executor.Config{
		MaxStepAttempts: ob.MaxStepAttempts,
		StepTimeout:     ob.StepTimeout,
		DryRun:          ob.DryRun,
	}, d.Logger.Named("executor"))
	d.Orchestrator = orchestrator.NewOrchestratorService(d.Detector, d.Repos, d.Executor, orchestrator.Config{
		Lookback:     ob.Lookback,
		ResumeWindow: ob.ResumeWindow,
		CycleTimeout: ob.CycleTimeout,
		Workers:      ob.Workers,
	}, out, d.Logger.Named("orchestrator"))
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Ops.JWTSecret == "" {
		d.Logger.Warn("ops API authentication disabled, OPS_JWT_SECRET is empty")
		d.AuthMiddleware = middleware.NewAuthMiddleware(nil, d.Logger)
		return
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(middleware.NewHMACValidator(cfg.Ops.JWTSecret), d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	// stores close only after the active cycle, if any, has finished
	if d.Orchestrator != nil {
		d.Orchestrator.Shutdown()
	}

	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
