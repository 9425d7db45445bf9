package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/hr-onboarding/models"
	"github.com/upb/hr-onboarding/repositories"
	"github.com/upb/hr-onboarding/repositories/memory"
	"github.com/upb/hr-onboarding/services"
	"github.com/upb/hr-onboarding/services/clients"
	"github.com/upb/hr-onboarding/services/clients/fake"
	"go.uber.org/zap/zaptest"
)

func testHire(id string) models.Hire {
	return models.Hire{
		ID:             id,
		Name:           "Katherine Johnson",
		Email:          "kj@personal.example",
		Department:     "Research",
		ManagerID:      "M1",
		TransitionedAt: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	repo    *memory.Store
	systems *fake.Systems
	exec    *ExecutorService
}

func newFixture(t *testing.T, cfg Config, hireIDs ...string) *fixture {
	t.Helper()
	f := &fixture{
		repo:    memory.NewStore(zaptest.NewLogger(t)),
		systems: fake.NewSystems(),
	}
	f.exec = NewExecutorService(f.repo, f.systems.Clients(), cfg, zaptest.NewLogger(t))
	for _, id := range hireIDs {
		_, _, err := f.repo.GetOrCreate(context.Background(), testHire(id))
		require.NoError(t, err)
	}
	return f
}

func liveConfig() Config {
	return Config{MaxStepAttempts: 3, StepTimeout: time.Second}
}

func TestExecute_AllStepsSucceedInDependencyOrder(t *testing.T) {
	f := newFixture(t, liveConfig(), "C1")

	res, err := f.exec.Execute(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, models.OverallComplete, res.Status)
	assert.Equal(t, len(models.StepCatalog), res.Attempts)

	var ops []string
	for _, c := range f.systems.Calls() {
		ops = append(ops, c.Operation)
	}
	assert.Equal(t, []string{
		fake.OpCreateEmployee,
		fake.OpCreatePage,
		fake.OpCreateAccount,
		fake.OpScheduleMeetings,
		fake.OpSendEmail,
		fake.OpSendChatWelcome,
		fake.OpNotifyStakeholders,
	}, ops)

	meetings := f.systems.Calls(fake.OpScheduleMeetings)
	require.Len(t, meetings, 1)
	assert.Equal(t, "C1@corp.example", meetings[0].Arg, "meetings use the provisioned account")
	assert.Equal(t, "M1", f.systems.Calls(fake.OpNotifyStakeholders)[0].Arg)

	complete, err := f.repo.IsComplete(context.Background(), "C1", liveConfig().View())
	require.NoError(t, err)
	assert.True(t, complete)

	for _, s := range res.Steps {
		if s.Step == models.StepScheduleDay1Meetings {
			assert.Equal(t, "schedule_meetings-C1-1,schedule_meetings-C1-2", s.Ref)
		}
	}
}

func TestExecute_Idempotent(t *testing.T) {
	f := newFixture(t, liveConfig(), "C1")
	ctx := context.Background()

	_, err := f.exec.Execute(ctx, "C1")
	require.NoError(t, err)
	calls := f.systems.MutatingCalls()

	res, err := f.exec.Execute(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, calls, f.systems.MutatingCalls())
	assert.Zero(t, f.systems.Duplicates())
	assert.Zero(t, res.Attempts)
	assert.Equal(t, models.OverallComplete, res.Status)
	for _, s := range res.Steps {
		assert.False(t, s.Attempted)
		assert.NotEmpty(t, s.Ref, "cached reference returned for %s", s.Step)
	}
}

func TestExecute_DependentsWaitForIdentity(t *testing.T) {
	f := newFixture(t, liveConfig(), "C1")
	f.systems.FailNext(fake.OpCreateAccount, 1)
	ctx := context.Background()

	res, err := f.exec.Execute(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, models.OverallInProgress, res.Status)
	assert.Empty(t, f.systems.Calls(fake.OpScheduleMeetings, fake.OpSendEmail, fake.OpSendChatWelcome, fake.OpNotifyStakeholders))

	states := res.Record.StepStates(liveConfig().View())
	assert.Equal(t, models.StepStateSucceeded, states[models.StepCreateKnowledgeBasePage])
	assert.Equal(t, models.StepStateFailed, states[models.StepProvisionIdentity])
	assert.Equal(t, models.StepStatePending, states[models.StepScheduleDay1Meetings])

	// the failed step is retried on the next call, not within the same one
	require.Len(t, f.systems.Calls(fake.OpCreateAccount), 1)

	res, err = f.exec.Execute(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, models.OverallComplete, res.Status)
	assert.Len(t, f.systems.Calls(fake.OpCreateAccount), 2)
	assert.Zero(t, f.systems.Duplicates())

	rec, err := f.repo.Get(ctx, "C1")
	require.NoError(t, err)
	attempts := rec.Attempts(models.StepProvisionIdentity)
	require.Len(t, attempts, 2)
	assert.Equal(t, models.StepStatusFailed, attempts[0].Status)
	assert.Contains(t, attempts[0].Error, "injected failure")
	assert.Equal(t, models.StepStatusSucceeded, attempts[1].Status)
}

func TestExecute_RetryCeilingBlocks(t *testing.T) {
	cfg := liveConfig()
	f := newFixture(t, cfg, "C1")
	f.systems.FailNext(fake.OpSendEmail, 100)
	ctx := context.Background()

	for i := 0; i < cfg.MaxStepAttempts; i++ {
		_, err := f.exec.Execute(ctx, "C1")
		require.NoError(t, err)
	}
	assert.Len(t, f.systems.Calls(fake.OpSendEmail), cfg.MaxStepAttempts)

	for i := 0; i < 3; i++ {
		res, err := f.exec.Execute(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, models.OverallNeedsAttention, res.Status)
		assert.Equal(t, []models.StepName{models.StepSendWelcomeEmail}, res.Blocked())
	}
	assert.Len(t, f.systems.Calls(fake.OpSendEmail), cfg.MaxStepAttempts, "blocked steps are never attempted again")
	assert.Empty(t, f.systems.Calls(fake.OpNotifyStakeholders), "dependents of a blocked step stay pending")

	rec, err := f.repo.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatePending, rec.StepState(models.StepNotifyStakeholders, cfg.View()))
}

func TestResetStep(t *testing.T) {
	cfg := Config{MaxStepAttempts: 1, StepTimeout: time.Second}
	f := newFixture(t, cfg, "C1")
	f.systems.FailNext(fake.OpCreatePage, 1)
	ctx := context.Background()

	_, err := f.exec.ResetStep(ctx, "C1", models.StepCreateKnowledgeBasePage)
	assert.True(t, services.IsConflictError(err), "pending steps cannot be reset")

	res, err := f.exec.Execute(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, models.OverallNeedsAttention, res.Status)

	marker, err := f.exec.ResetStep(ctx, "C1", models.StepCreateKnowledgeBasePage)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusPending, marker.Status)
	assert.Equal(t, ResetNote, marker.Note)
	assert.Equal(t, 2, marker.Attempt)

	res, err = f.exec.Execute(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, models.OverallComplete, res.Status)

	rec, err := f.repo.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Len(t, rec.Attempts(models.StepCreateKnowledgeBasePage), 3, "history is append-only")

	_, err = f.exec.ResetStep(ctx, "C1", models.StepCreateKnowledgeBasePage)
	assert.ErrorIs(t, err, services.ErrStepNotBlocked)

	_, err = f.exec.ResetStep(ctx, "C1", "make_coffee")
	assert.True(t, services.IsValidationError(err))

	_, err = f.exec.ResetStep(ctx, "nobody", models.StepCreateHrisRecord)
	assert.True(t, services.IsNotFoundError(err))
}

func TestExecute_DryRun(t *testing.T) {
	cfg := liveConfig()
	cfg.DryRun = true
	f := newFixture(t, cfg, "C1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := f.exec.Execute(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, models.OverallComplete, res.Status)
		for _, s := range res.Steps {
			assert.Equal(t, models.StepStateSkipped, s.State)
		}
	}
	assert.Zero(t, f.systems.MutatingCalls())

	rec, err := f.repo.Get(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, rec.Steps, len(models.StepCatalog))
	for _, s := range rec.Steps {
		assert.True(t, s.DryRun)
		assert.Contains(t, s.Note, "dry run: would ")
	}

	// rehearsals never satisfy a live run
	live := NewExecutorService(f.repo, f.systems.Clients(), liveConfig(), zaptest.NewLogger(t))
	res, err := live.Execute(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, models.OverallComplete, res.Status)
	assert.Equal(t, len(models.StepCatalog), f.systems.MutatingCalls())
}

func TestExecute_UnconfiguredClientSkips(t *testing.T) {
	systems := fake.NewSystems()
	set := systems.Clients()
	set.KnowledgeBase = nil
	set.Identity = nil
	repo := memory.NewStore(zaptest.NewLogger(t))
	_, _, err := repo.GetOrCreate(context.Background(), testHire("C1"))
	require.NoError(t, err)

	exec := NewExecutorService(repo, set, liveConfig(), zaptest.NewLogger(t))
	res, err := exec.Execute(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, models.OverallComplete, res.Status)

	rec := res.Record
	assert.Equal(t, "no knowledge_base client configured", rec.LastResult(models.StepCreateKnowledgeBasePage, false).Note)
	assert.Equal(t, models.StepStateSkipped, rec.StepState(models.StepProvisionIdentity, liveConfig().View()))
	assert.Equal(t, "kj@personal.example", systems.Calls(fake.OpSendEmail)[0].Arg, "personal address stands in for a skipped account")
}

func TestExecute_TimeoutAndPanicFailTheStep(t *testing.T) {
	cfg := Config{MaxStepAttempts: 2, StepTimeout: 20 * time.Millisecond}
	f := newFixture(t, cfg, "C1")
	f.systems.OnCall = func(ctx context.Context, op, _ string) error {
		switch op {
		case fake.OpCreatePage:
			<-ctx.Done()
			return ctx.Err()
		case fake.OpCreateAccount:
			panic("directory exploded")
		}
		return nil
	}

	res, err := f.exec.Execute(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, models.OverallInProgress, res.Status)

	states := res.Record.StepStates(cfg.View())
	assert.Equal(t, models.StepStateSucceeded, states[models.StepCreateHrisRecord])
	assert.Equal(t, models.StepStateFailed, states[models.StepCreateKnowledgeBasePage])
	assert.Equal(t, models.StepStateFailed, states[models.StepProvisionIdentity])
	assert.Contains(t, res.Record.LastResult(models.StepCreateKnowledgeBasePage, false).Error, "timed out after 20ms")
	assert.Contains(t, res.Record.LastResult(models.StepProvisionIdentity, false).Error, "client panic: directory exploded")
}

// failingRepo wraps a repository and fails writes once armed
type failingRepo struct {
	repositories.OnboardingRepository
	failWrites bool
}

func (r *failingRepo) RecordStep(ctx context.Context, result *models.StepResult) (*models.StepResult, error) {
	if r.failWrites {
		return nil, errors.New("disk full")
	}
	return r.OnboardingRepository.RecordStep(ctx, result)
}

func TestExecute_StateStoreFailure(t *testing.T) {
	store := memory.NewStore(zaptest.NewLogger(t))
	_, _, err := store.GetOrCreate(context.Background(), testHire("C1"))
	require.NoError(t, err)
	repo := &failingRepo{OnboardingRepository: store, failWrites: true}
	systems := fake.NewSystems()

	exec := NewExecutorService(repo, systems.Clients(), liveConfig(), zaptest.NewLogger(t))
	_, err = exec.Execute(context.Background(), "C1")
	require.Error(t, err)
	assert.True(t, services.IsStateStoreUnavailable(err))
	assert.Len(t, systems.Calls(), 1, "execution stops at the first unrecordable step")

	rec, err := store.Get(context.Background(), "C1")
	require.NoError(t, err)
	assert.Empty(t, rec.Steps)

	_, err = exec.Execute(context.Background(), "missing")
	assert.True(t, services.IsNotFoundError(err))
}

func TestNewExecutorService_Defaults(t *testing.T) {
	exec := NewExecutorService(memory.NewStore(zaptest.NewLogger(t)), clients.Set{}, Config{}, zaptest.NewLogger(t))
	assert.Equal(t, 1, exec.Config().MaxStepAttempts)
	assert.Equal(t, DefaultConfig().StepTimeout, exec.Config().StepTimeout)
}
