package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/upb/hr-onboarding/models"
	"github.com/upb/hr-onboarding/repositories"
	"github.com/upb/hr-onboarding/services"
	"github.com/upb/hr-onboarding/services/clients"
	"go.uber.org/zap"
)

// ResetNote marks an operator reset in the step history
const ResetNote = "reset by operator"

// Config holds configuration for the ExecutorService
type Config struct {
	MaxStepAttempts int
	StepTimeout     time.Duration
	DryRun          bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxStepAttempts: 3,
		StepTimeout:     30 * time.Second,
	}
}

// View returns the evaluation view for the configured mode
func (c Config) View() models.StepView {
	return models.StepView{DryRun: c.DryRun, MaxAttempts: c.MaxStepAttempts}
}

// StepOutcome describes what happened to one step during an execution
type StepOutcome struct {
	Step      models.StepName  `json:"step"`
	State     models.StepState `json:"state"`
	Attempted bool             `json:"attempted"`
	Attempt   int              `json:"attempt,omitempty"`
	Ref       string           `json:"external_ref,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// HireResult is the outcome of one Execute call
type HireResult struct {
	HireID   string                   `json:"hire_id"`
	Status   models.OverallStatus     `json:"status"`
	Steps    []StepOutcome            `json:"steps"`
	Record   *models.OnboardingRecord `json:"-"`
	Attempts int                      `json:"attempts"`
}

// Blocked lists the steps that ended the execution Blocked
func (r *HireResult) Blocked() []models.StepName {
	var out []models.StepName
	for _, s := range r.Steps {
		if s.State == models.StepStateBlocked {
			out = append(out, s.Step)
		}
	}
	return out
}

// ExecutorService drives a hire's steps through the provisioning state machine.
// It is the only writer of step results.
type ExecutorService struct {
	repo    repositories.OnboardingRepository
	clients clients.Set
	config  Config
	logger  *zap.Logger
}

// NewExecutorService creates a new ExecutorService instance
func NewExecutorService(repo repositories.OnboardingRepository, set clients.Set, config Config, logger *zap.Logger) *ExecutorService {
	if config.MaxStepAttempts < 1 {
		config.MaxStepAttempts = 1
	}
	if config.StepTimeout <= 0 {
		config.StepTimeout = DefaultConfig().StepTimeout
	}
	return &ExecutorService{
		repo:    repo,
		clients: set,
		config:  config,
		logger:  logger,
	}
}

// Config returns the executor configuration
func (s *ExecutorService) Config() Config {
	return s.config
}

// Execute runs one pass over the step catalogue for hireID. Each eligible step
// is attempted at most once per call; failed steps wait for the next call.
// Only state store failures are returned as errors.
func (s *ExecutorService) Execute(ctx context.Context, hireID string) (*HireResult, error) {
	rec, err := s.load(ctx, hireID)
	if err != nil {
		return nil, err
	}

	view := s.config.View()
	result := &HireResult{HireID: hireID}
	logger := s.logger.With(zap.String("hire_id", hireID), zap.Bool("dry_run", view.DryRun))

	for _, def := range models.StepCatalog {
		state := rec.StepState(def.Name, view)
		switch {
		case state.IsTerminalSuccess():
			result.Steps = append(result.Steps, s.cachedOutcome(rec, def.Name, state))
			continue
		case state == models.StepStateBlocked:
			logger.Warn("step blocked, manual intervention required",
				zap.String("step", string(def.Name)),
				zap.Int("failed_attempts", rec.FailedAttempts(def.Name, view.DryRun)))
			result.Steps = append(result.Steps, s.cachedOutcome(rec, def.Name, state))
			continue
		case !rec.PrerequisitesMet(def, view):
			result.Steps = append(result.Steps, StepOutcome{Step: def.Name, State: models.StepStatePending})
			continue
		}

		logger.Info("step running", zap.String("step", string(def.Name)), zap.Int("attempt", rec.NextAttempt(def.Name)))
		attempt := s.runStep(ctx, rec, def)

		stored, err := s.repo.RecordStep(ctx, attempt)
		if err != nil {
			return nil, services.WrapStateStore(fmt.Sprintf("failed to record %s for %s", def.Name, hireID), err)
		}
		if stored.ID != attempt.ID {
			// another writer finished the step first
			if rec, err = s.load(ctx, hireID); err != nil {
				return nil, err
			}
		} else {
			rec.Append(*stored)
		}
		result.Attempts++

		state = rec.StepState(def.Name, view)
		outcome := StepOutcome{
			Step:      def.Name,
			State:     state,
			Attempted: true,
			Attempt:   stored.Attempt,
			Ref:       stored.ExternalRef,
			Error:     stored.Error,
		}
		result.Steps = append(result.Steps, outcome)

		fields := []zap.Field{
			zap.String("step", string(def.Name)),
			zap.Int("attempt", stored.Attempt),
		}
		switch state {
		case models.StepStateSucceeded:
			logger.Info("step succeeded", append(fields, zap.String("external_ref", stored.ExternalRef))...)
		case models.StepStateSkipped:
			logger.Info("step skipped", append(fields, zap.String("note", stored.Note))...)
		case models.StepStateBlocked:
			logger.Warn("step blocked after exhausting attempts",
				append(fields, zap.Int("max_attempts", view.MaxAttempts), zap.String("error", stored.Error))...)
		default:
			logger.Warn("step failed", append(fields, zap.String("error", stored.Error))...)
		}
	}

	result.Record = rec
	result.Status = rec.OverallStatus(view)
	return result, nil
}

// ResetStep appends an operator reset to a Blocked step so the next execution
// retries it with a fresh attempt budget.
func (s *ExecutorService) ResetStep(ctx context.Context, hireID string, step models.StepName) (*models.StepResult, error) {
	if _, ok := models.LookupStep(step); !ok {
		return nil, services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("unknown step %q", step), nil).WithDetail("step", string(step))
	}
	rec, err := s.load(ctx, hireID)
	if err != nil {
		return nil, err
	}
	view := s.config.View()
	if state := rec.StepState(step, view); state != models.StepStateBlocked {
		return nil, services.NewDomainError(services.ErrorTypeConflict,
			fmt.Sprintf("step %s is %s, not blocked", step, state), services.ErrStepNotBlocked)
	}

	marker := models.NewStepResult(hireID, step, models.StepStatusPending).WithNote(ResetNote)
	if view.DryRun {
		marker.AsDryRun()
	}
	stored, err := s.repo.RecordStep(ctx, marker)
	if err != nil {
		return nil, services.WrapStateStore("failed to record step reset", err)
	}
	s.logger.Info("step reset by operator",
		zap.String("hire_id", hireID),
		zap.String("step", string(step)),
		zap.Int("attempt", stored.Attempt))
	return stored, nil
}

func (s *ExecutorService) load(ctx context.Context, hireID string) (*models.OnboardingRecord, error) {
	rec, err := s.repo.Get(ctx, hireID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound,
				"onboarding record not found", err).WithDetail("hire_id", hireID)
		}
		return nil, services.WrapStateStore("failed to load onboarding record", err)
	}
	return rec, nil
}

func (s *ExecutorService) cachedOutcome(rec *models.OnboardingRecord, step models.StepName, state models.StepState) StepOutcome {
	out := StepOutcome{Step: step, State: state}
	if last := rec.LastResult(step, s.config.DryRun); last != nil {
		out.Attempt = last.Attempt
		out.Error = last.Error
	}
	if term := rec.TerminalResult(step, s.config.DryRun); term != nil {
		out.Attempt = term.Attempt
		out.Ref = term.ExternalRef
		out.Error = ""
	}
	return out
}

// runStep performs one attempt and returns the unrecorded result
func (s *ExecutorService) runStep(ctx context.Context, rec *models.OnboardingRecord, def models.StepDefinition) *models.StepResult {
	hire := rec.Hire
	invoke := s.invocation(rec, def.Name)

	var result *models.StepResult
	switch {
	case invoke == nil:
		result = models.NewStepResult(hire.ID, def.Name, models.StepStatusSkipped).
			WithNote(fmt.Sprintf("no %s client configured", def.System))
	case s.config.DryRun:
		result = models.NewStepResult(hire.ID, def.Name, models.StepStatusSkipped).
			WithNote("dry run: would " + describe(def.Name))
	default:
		ref, err := s.call(ctx, def.Name, invoke)
		if err != nil {
			result = models.NewStepResult(hire.ID, def.Name, models.StepStatusFailed).
				WithError(services.WrapError(services.ErrorTypeStepExecutionFailed, string(def.Name), err))
		} else {
			result = models.NewStepResult(hire.ID, def.Name, models.StepStatusSucceeded).WithRef(ref)
		}
	}
	if s.config.DryRun {
		result.AsDryRun()
	}
	return result
}

type invocation func(ctx context.Context) (string, error)

// invocation binds the client call for step, or nil when its system is not configured
func (s *ExecutorService) invocation(rec *models.OnboardingRecord, step models.StepName) invocation {
	hire := rec.Hire
	accountRef := s.accountRef(rec)

	switch step {
	case models.StepCreateHrisRecord:
		if s.clients.HRIS == nil {
			return nil
		}
		return func(ctx context.Context) (string, error) { return s.clients.HRIS.CreateEmployeeRecord(ctx, hire) }
	case models.StepCreateKnowledgeBasePage:
		if s.clients.KnowledgeBase == nil {
			return nil
		}
		return func(ctx context.Context) (string, error) { return s.clients.KnowledgeBase.CreateOnboardingPage(ctx, hire) }
	case models.StepProvisionIdentity:
		if s.clients.Identity == nil {
			return nil
		}
		return func(ctx context.Context) (string, error) { return s.clients.Identity.CreateAccount(ctx, hire) }
	case models.StepScheduleDay1Meetings:
		if s.clients.Calendar == nil {
			return nil
		}
		return func(ctx context.Context) (string, error) {
			refs, err := s.clients.Calendar.ScheduleMeetings(ctx, hire, accountRef)
			if err != nil {
				return "", err
			}
			return strings.Join(refs, ","), nil
		}
	case models.StepSendWelcomeEmail:
		if s.clients.Mail == nil {
			return nil
		}
		return func(ctx context.Context) (string, error) { return s.clients.Mail.SendWelcomeEmail(ctx, hire, accountRef) }
	case models.StepSendChatWelcome:
		if s.clients.Chat == nil {
			return nil
		}
		return func(ctx context.Context) (string, error) { return s.clients.Chat.SendWelcomeMessage(ctx, hire, accountRef) }
	case models.StepNotifyStakeholders:
		if s.clients.Chat == nil {
			return nil
		}
		return func(ctx context.Context) (string, error) { return s.clients.Chat.NotifyStakeholders(ctx, hire, hire.ManagerID) }
	}
	return nil
}

// accountRef is the primary address from provisioning, falling back to the
// personal address when identity provisioning was skipped.
func (s *ExecutorService) accountRef(rec *models.OnboardingRecord) string {
	if term := rec.TerminalResult(models.StepProvisionIdentity, s.config.DryRun); term != nil && term.ExternalRef != "" {
		return term.ExternalRef
	}
	return rec.Hire.Email
}

type callResult struct {
	ref string
	err error
}

// call runs invoke under the step timeout. A panic or an overrun is an error.
func (s *ExecutorService) call(ctx context.Context, step models.StepName, invoke invocation) (string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.config.StepTimeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("step client panicked", zap.String("step", string(step)), zap.Any("panic", r))
				done <- callResult{err: fmt.Errorf("client panic: %v", r)}
			}
		}()
		ref, err := invoke(stepCtx)
		done <- callResult{ref: ref, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-stepCtx.Done():
		res.err = stepCtx.Err()
	}
	if res.err != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("timed out after %s", s.config.StepTimeout)
	}
	return res.ref, res.err
}

func describe(step models.StepName) string {
	switch step {
	case models.StepCreateHrisRecord:
		return "create employee record"
	case models.StepCreateKnowledgeBasePage:
		return "create onboarding page"
	case models.StepProvisionIdentity:
		return "provision workspace account"
	case models.StepScheduleDay1Meetings:
		return "schedule Day-1 meetings"
	case models.StepSendWelcomeEmail:
		return "send welcome email"
	case models.StepSendChatWelcome:
		return "send chat welcome"
	case models.StepNotifyStakeholders:
		return "notify stakeholders"
	}
	return string(step)
}
