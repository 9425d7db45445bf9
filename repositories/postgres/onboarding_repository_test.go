package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/hr-onboarding/models"
	"github.com/upb/hr-onboarding/repositories"
	"go.uber.org/zap/zaptest"
)

var (
	recordColumns = []string{"hire_id", "hire", "created_at", "updated_at"}
	stepColumns   = []string{"id", "hire_id", "step", "attempt", "status", "external_ref", "error", "note", "dry_run", "recorded_at"}
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewDBFromConn(sqlDB, zaptest.NewLogger(t)), mock
}

func testHire() models.Hire {
	return models.Hire{
		ID:             "C1",
		Name:           "Ada Lovelace",
		Department:     "Engineering",
		ManagerID:      "M9",
		TransitionedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func recordRow(t *testing.T, hire models.Hire, created time.Time) *sqlmock.Rows {
	t.Helper()
	data, err := json.Marshal(hire)
	require.NoError(t, err)
	return sqlmock.NewRows(recordColumns).AddRow(hire.ID, data, created, created)
}

func TestOnboardingRepository_GetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates new record", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOnboardingRepository(db, zaptest.NewLogger(t))

		mock.ExpectExec("INSERT INTO onboarding_records").
			WithArgs("C1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rec, created, err := repo.GetOrCreate(ctx, testHire())
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "C1", rec.HireID)
		assert.Empty(t, rec.Steps)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns existing record untouched", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOnboardingRepository(db, zaptest.NewLogger(t))
		created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

		mock.ExpectExec("INSERT INTO onboarding_records").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM onboarding_records WHERE hire_id = \\$1").
			WithArgs("C1").
			WillReturnRows(recordRow(t, testHire(), created))
		mock.ExpectQuery("FROM step_results").
			WithArgs("C1").
			WillReturnRows(sqlmock.NewRows(stepColumns).
				AddRow(uuid.NewString(), "C1", "create_hris_record", 1, "succeeded", "emp-1", "", "", false, created))

		rec, wasCreated, err := repo.GetOrCreate(ctx, testHire())
		require.NoError(t, err)
		assert.False(t, wasCreated)
		assert.Equal(t, created, rec.CreatedAt)
		assert.Equal(t, "Ada Lovelace", rec.Hire.Name)
		require.Len(t, rec.Steps, 1)
		assert.Equal(t, models.StepCreateHrisRecord, rec.Steps[0].Step)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOnboardingRepository(db, zaptest.NewLogger(t))

		mock.ExpectExec("INSERT INTO onboarding_records").WillReturnError(errors.New("connection reset"))

		_, _, err := repo.GetOrCreate(ctx, testHire())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create onboarding record")
	})
}

func TestOnboardingRepository_Get_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOnboardingRepository(db, zaptest.NewLogger(t))

	mock.ExpectQuery("FROM onboarding_records").WithArgs("missing").WillReturnRows(sqlmock.NewRows(recordColumns))

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestOnboardingRepository_RecordStep(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("appends next attempt", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOnboardingRepository(db, zaptest.NewLogger(t))

		mock.ExpectBegin()
		mock.ExpectQuery("FROM onboarding_records WHERE hire_id = \\$1 FOR UPDATE").
			WithArgs("C1").
			WillReturnRows(recordRow(t, testHire(), created))
		mock.ExpectQuery("FROM step_results").
			WithArgs("C1").
			WillReturnRows(sqlmock.NewRows(stepColumns).
				AddRow(uuid.NewString(), "C1", "create_hris_record", 1, "failed", "", "timeout", "", false, created))
		mock.ExpectExec("INSERT INTO step_results").
			WithArgs(sqlmock.AnyArg(), "C1", "create_hris_record", 2, "succeeded", "emp-1", "", "", false, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE onboarding_records SET updated_at").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res := models.NewStepResult("C1", models.StepCreateHrisRecord, models.StepStatusSucceeded).WithRef("emp-1")
		stored, err := repo.RecordStep(ctx, res)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.Attempt)
		assert.Equal(t, res.ID, stored.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("succeeded step is a no-op", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOnboardingRepository(db, zaptest.NewLogger(t))

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("C1").WillReturnRows(recordRow(t, testHire(), created))
		mock.ExpectQuery("FROM step_results").
			WillReturnRows(sqlmock.NewRows(stepColumns).
				AddRow(uuid.NewString(), "C1", "provision_identity", 1, "succeeded", "ada.lovelace@example.com", "", "", false, created))
		mock.ExpectCommit()

		stored, err := repo.RecordStep(ctx, models.NewStepResult("C1", models.StepProvisionIdentity, models.StepStatusSucceeded).WithRef("other"))
		require.NoError(t, err)
		assert.Equal(t, "ada.lovelace@example.com", stored.ExternalRef)
		assert.Equal(t, 1, stored.Attempt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing record rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOnboardingRepository(db, zaptest.NewLogger(t))

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(recordColumns))
		mock.ExpectRollback()

		_, err := repo.RecordStep(ctx, models.NewStepResult("C1", models.StepProvisionIdentity, models.StepStatusFailed))
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOnboardingRepository(db, zaptest.NewLogger(t))

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(recordRow(t, testHire(), created))
		mock.ExpectQuery("FROM step_results").WillReturnRows(sqlmock.NewRows(stepColumns))
		mock.ExpectExec("INSERT INTO step_results").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := repo.RecordStep(ctx, models.NewStepResult("C1", models.StepCreateHrisRecord, models.StepStatusFailed))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert step result")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOnboardingRepository_ListCreatedSince(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOnboardingRepository(db, zaptest.NewLogger(t))
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	created := since.Add(24 * time.Hour)

	second := testHire()
	second.ID = "C2"
	hire1, _ := json.Marshal(testHire())
	hire2, _ := json.Marshal(second)

	mock.ExpectQuery("WHERE created_at >= \\$1").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("C1", hire1, created, created).
			AddRow("C2", hire2, created, created))
	mock.ExpectQuery("FROM step_results").WithArgs("C1").WillReturnRows(sqlmock.NewRows(stepColumns))
	mock.ExpectQuery("FROM step_results").WithArgs("C2").WillReturnRows(sqlmock.NewRows(stepColumns))

	recs, err := repo.ListCreatedSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "C2", recs[1].Hire.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnboardingRepository_Ping(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOnboardingRepository(db, zaptest.NewLogger(t))

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	assert.NoError(t, repo.Ping(context.Background()))

	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("down"))
	assert.Error(t, repo.Ping(context.Background()))
}

func TestWatermarkRepository(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewWatermarkRepository(db, zaptest.NewLogger(t))
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM cycle_watermarks WHERE key = \\$1").
		WithArgs("live").
		WillReturnRows(sqlmock.NewRows([]string{"cycle_started_at"}))
	_, ok, err := repo.Get(ctx, "live")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec("INSERT INTO cycle_watermarks").
		WithArgs("live", at, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Set(ctx, "live", at))

	mock.ExpectQuery("FROM cycle_watermarks").
		WithArgs("live").
		WillReturnRows(sqlmock.NewRows([]string{"cycle_started_at"}).AddRow(at))
	got, ok, err := repo.Get(ctx, "live")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, at, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}
