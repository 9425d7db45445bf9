package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/upb/hr-onboarding/models"
	"github.com/upb/hr-onboarding/repositories"
	"github.com/upb/hr-onboarding/services"
	"github.com/upb/hr-onboarding/services/executor"
	"go.uber.org/zap"
)

// Watermark keys per mode
const (
	WatermarkLive   = "live"
	WatermarkDryRun = "dry-run"
)

// HireDetector finds hires transitioned since a point in time
type HireDetector interface {
	FindNewHires(ctx context.Context, since time.Time) ([]models.Hire, error)
}

// Config holds configuration for the OrchestratorService
type Config struct {
	DryRun       bool
	Lookback     time.Duration
	ResumeWindow time.Duration
	CycleTimeout time.Duration
	Workers      int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Lookback:     24 * time.Hour,
		ResumeWindow: 30 * 24 * time.Hour,
		CycleTimeout: 10 * time.Minute,
		Workers:      4,
	}
}

// OrchestratorService runs detection and execution cycles. At most one cycle
// is active at a time.
type OrchestratorService struct {
	detector HireDetector
	repos    *repositories.Repositories
	executor *executor.ExecutorService
	config   Config
	logger   *zap.Logger
	out      io.Writer

	cycleMu sync.Mutex

	// life ends on Shutdown; every cycle stops dispatching when it does
	life     context.Context
	shutdown context.CancelFunc

	mu   sync.RWMutex
	last *Summary

	// OnCycle, when set, receives every finished summary
	OnCycle func(*Summary)

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewOrchestratorService creates a new OrchestratorService instance. Summaries
// are rendered to out when it is not nil.
func NewOrchestratorService(
	detector HireDetector,
	repos *repositories.Repositories,
	exec *executor.ExecutorService,
	config Config,
	out io.Writer,
	logger *zap.Logger,
) *OrchestratorService {
	defaults := DefaultConfig()
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.Lookback <= 0 {
		config.Lookback = defaults.Lookback
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = defaults.CycleTimeout
	}
	config.DryRun = exec.Config().DryRun
	life, shutdown := context.WithCancel(context.Background())

	return &OrchestratorService{
		detector: detector,
		repos:    repos,
		executor: exec,
		config:   config,
		logger:   logger,
		out:      out,
		life:     life,
		shutdown: shutdown,
		now:      time.Now,
		after:    time.After,
	}
}

// Executor returns the step executor
func (s *OrchestratorService) Executor() *executor.ExecutorService {
	return s.executor
}

// Config returns the orchestrator configuration
func (s *OrchestratorService) Config() Config {
	return s.config
}

// LastSummary returns the summary of the most recent finished cycle, or nil
func (s *OrchestratorService) LastSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// RunOnce runs a single cycle. It fails with ErrCycleInProgress when another
// cycle is active, and with a cycle-fatal error when the source of hire or the
// state store cannot be reached. The summary is returned in every other case,
// including aborted and interrupted cycles.
func (s *OrchestratorService) RunOnce(ctx context.Context) (*Summary, error) {
	if err := s.lockCycle(); err != nil {
		return nil, err
	}
	defer s.cycleMu.Unlock()
	return s.runCycle(ctx)
}

// StartCycle starts a cycle in the background and returns once it holds the
// cycle lock. The cycle stops dispatching when ctx ends or on Shutdown.
func (s *OrchestratorService) StartCycle(ctx context.Context) error {
	if err := s.lockCycle(); err != nil {
		return err
	}
	go func() {
		defer s.cycleMu.Unlock()
		if _, err := s.runCycle(ctx); err != nil {
			s.logger.Error("triggered cycle failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops dispatch in the active cycle, if any, and waits for it to
// finish. Hires already handed to a worker complete; the rest are deferred.
// Cycles requested afterwards fail with ErrShuttingDown.
func (s *OrchestratorService) Shutdown() {
	s.shutdown()
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
}

func (s *OrchestratorService) lockCycle() error {
	if !s.cycleMu.TryLock() {
		return services.ErrCycleInProgress
	}
	if s.life.Err() != nil {
		s.cycleMu.Unlock()
		return services.ErrShuttingDown
	}
	return nil
}

// RunWatch runs cycles until ctx is cancelled, waiting interval after each
// cycle ends. Cycle errors are logged and the loop continues. On return the
// service is shut down and no cycle is running.
func (s *OrchestratorService) RunWatch(ctx context.Context, interval time.Duration) error {
	s.logger.Info("watch loop started", zap.Duration("interval", interval), zap.Bool("dry_run", s.config.DryRun))
	for {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.RunOnce(ctx); err != nil {
			switch {
			case errors.Is(err, services.ErrCycleInProgress):
				s.logger.Info("skipping tick, a cycle is already running")
			default:
				s.logger.Error("cycle failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
		case <-s.after(interval):
		}
	}
	s.Shutdown()
	s.logger.Info("watch loop stopped")
	return nil
}

func (s *OrchestratorService) watermarkKey() string {
	if s.config.DryRun {
		return WatermarkDryRun
	}
	return WatermarkLive
}

type job struct {
	index   int
	hire    models.Hire
	resumed bool
}

func (s *OrchestratorService) runCycle(parent context.Context) (*Summary, error) {
	startedAt := s.now().UTC()
	summary := newSummary(s.config.DryRun, startedAt)
	logger := s.logger.With(zap.String("cycle_id", summary.CycleID.String()), zap.Bool("dry_run", s.config.DryRun))

	ctx, cancel := context.WithTimeout(parent, s.config.CycleTimeout)
	defer cancel()
	defer context.AfterFunc(s.life, cancel)()

	logger.Info("cycle started")
	err := s.cycle(ctx, summary, logger)
	summary.FinishedAt = s.now().UTC()
	if err != nil {
		summary.Aborted = err.Error()
		logger.Error("cycle aborted", zap.Error(err))
	} else {
		if summary.Interrupted != "" {
			logger.Warn("cycle interrupted", zap.String("reason", summary.Interrupted))
		}
		logger.Info("cycle finished",
			zap.Int("detected", summary.Detected),
			zap.Int("resumed", summary.Resumed),
			zap.Int("processed", summary.Processed),
			zap.Int("deferred", summary.Deferred),
			zap.Strings("needs_attention", summary.NeedsAttention),
			zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)))
	}

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()

	if s.out != nil {
		fmt.Fprintln(s.out, summary.Render())
	}
	if s.OnCycle != nil {
		s.OnCycle(summary)
	}
	return summary, err
}

func (s *OrchestratorService) cycle(ctx context.Context, summary *Summary, logger *zap.Logger) error {
	key := s.watermarkKey()
	since := summary.StartedAt.Add(-s.config.Lookback)
	watermark, ok, err := s.repos.Watermarks.Get(ctx, key)
	if err != nil {
		if interrupted(ctx, summary, "reading watermark") {
			return nil
		}
		return services.WrapStateStore("failed to read watermark", err)
	}
	if ok && watermark.Before(since) {
		since = watermark
	}
	summary.Since = since

	hires, err := s.detector.FindNewHires(ctx, since)
	if err != nil {
		if interrupted(ctx, summary, "detecting hires") {
			return nil
		}
		return err
	}
	summary.Detected = len(hires)
	logger.Info("hires detected", zap.Int("count", len(hires)), zap.Time("since", since))

	jobs, err := s.withResumed(ctx, hires, summary)
	if err != nil {
		if interrupted(ctx, summary, "listing unfinished hires") {
			return nil
		}
		return err
	}

	results := make([]*HireSummary, len(jobs))
	fatal := s.dispatch(ctx, jobs, results, logger)

	for _, r := range results {
		if r == nil {
			summary.Deferred++
			continue
		}
		summary.add(*r)
	}
	if fatal != nil {
		return fatal
	}

	if interrupted(ctx, summary, "dispatching hires") || summary.Deferred > 0 {
		logger.Warn("watermark not advanced", zap.Int("deferred", summary.Deferred))
		return nil
	}

	if err := s.repos.Watermarks.Set(ctx, key, summary.StartedAt); err != nil {
		// hires are recorded; the next cycle rescans an overlapping window
		logger.Error("failed to advance watermark", zap.Error(err))
		return nil
	}
	logger.Debug("watermark advanced", zap.String("key", key), zap.Time("to", summary.StartedAt))
	return nil
}

// interrupted records why the cycle stopped early when ctx has ended. Failures
// caused by cancellation or the cycle timeout are not outages.
func interrupted(ctx context.Context, summary *Summary, stage string) bool {
	if ctx.Err() == nil {
		return false
	}
	summary.Interrupted = fmt.Sprintf("%s: %v", stage, context.Cause(ctx))
	return true
}

// withResumed merges unfinished hires created within the resume window into
// the detected ones, ordered by transition time then candidate ID.
func (s *OrchestratorService) withResumed(ctx context.Context, hires []models.Hire, summary *Summary) ([]job, error) {
	jobs := make([]job, 0, len(hires))
	seen := make(map[string]bool, len(hires))
	for _, h := range hires {
		seen[h.ID] = true
		jobs = append(jobs, job{hire: h})
	}

	if s.config.ResumeWindow > 0 {
		records, err := s.repos.Onboarding.ListCreatedSince(ctx, summary.StartedAt.Add(-s.config.ResumeWindow))
		if err != nil {
			return nil, services.WrapStateStore("failed to list unfinished hires", err)
		}
		view := s.executor.Config().View()
		for _, rec := range records {
			if seen[rec.HireID] {
				continue
			}
			done, err := s.repos.Onboarding.IsComplete(ctx, rec.HireID, view)
			if err != nil {
				return nil, services.WrapStateStore("failed to check onboarding completion", err)
			}
			if done {
				continue
			}
			seen[rec.HireID] = true
			jobs = append(jobs, job{hire: rec.Hire, resumed: true})
			summary.Resumed++
		}
	}

	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].hire.Before(jobs[j].hire) })
	for i := range jobs {
		jobs[i].index = i
	}
	return jobs, nil
}

// dispatch feeds jobs in order to a bounded worker pool. Dispatch stops when
// ctx ends or a worker hits a cycle-fatal error; hires already handed to a
// worker run to completion. Undispatched hires leave a nil result.
func (s *OrchestratorService) dispatch(ctx context.Context, jobs []job, results []*HireSummary, logger *zap.Logger) error {
	queue := make(chan job)
	stop, halt := context.WithCancel(ctx)
	defer halt()

	var (
		wg       sync.WaitGroup
		fatalMu  sync.Mutex
		fatalErr error
	)
	// in-flight hires finish even if the cycle is cancelled
	work := context.WithoutCancel(ctx)

	workers := s.config.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range queue {
				fatalMu.Lock()
				failed := fatalErr != nil
				fatalMu.Unlock()
				// a hire received after dispatch stopped is deferred, not started
				if failed || stop.Err() != nil {
					continue
				}
				res, err := s.process(work, j, logger.With(zap.Int("worker_id", id)))
				if err != nil && services.IsCycleFatal(err) {
					fatalMu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					fatalMu.Unlock()
					halt()
					continue
				}
				results[j.index] = res
			}
		}(i)
	}

	for _, j := range jobs {
		if stop.Err() != nil {
			break
		}
		select {
		case queue <- j:
		case <-stop.Done():
		}
	}
	close(queue)
	wg.Wait()

	return fatalErr
}

// process records the hire and runs its steps. Only cycle-fatal errors are
// returned; anything else is reported on the hire's row.
func (s *OrchestratorService) process(ctx context.Context, j job, logger *zap.Logger) (*HireSummary, error) {
	hire := j.hire
	logger = logger.With(zap.String("hire_id", hire.ID))
	row := &HireSummary{HireID: hire.ID, Name: hire.Name, Resumed: j.resumed}

	_, created, err := s.repos.Onboarding.GetOrCreate(ctx, hire)
	if err != nil {
		return nil, services.WrapStateStore("failed to create onboarding record", err)
	}
	if created {
		logger.Info("onboarding record created", zap.String("department", hire.Department))
	}

	res, err := s.executor.Execute(ctx, hire.ID)
	if err != nil {
		if services.IsCycleFatal(err) {
			return nil, err
		}
		logger.Error("hire execution failed", zap.Error(err))
		row.Error = err.Error()
		return row, nil
	}

	row.Status = res.Status
	row.Blocked = res.Blocked()
	row.Steps = res.Attempts
	return row, nil
}
