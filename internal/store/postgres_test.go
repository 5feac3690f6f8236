package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hive-sim/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	temp := 1.0
	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), "user-1", "Do you support remote work?",
			pgxmock.AnyArg(), 3, "general", "", pgxmock.AnyArg(), "gpt-4o-mini",
			&temp, 500, "pending", "", 3, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), model.Job{
		RequesterRef: "user-1",
		Question:     "Do you support remote work?",
		Kinds:        model.AnswerKinds{model.KindLikert},
		PanelSize:    3,
		Perspective:  model.PerspectiveGeneral,
		Model:        "gpt-4o-mini",
		Temperature:  &temp,
		MaxTokens:    500,
		CreditCost:   3,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimJob(t *testing.T) {
	t.Run("pending job claimed", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`UPDATE jobs SET status = 'processing'`).
			WithArgs(pgxmock.AnyArg(), "job-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, s.ClaimJob(context.Background(), "job-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already processing refused", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`UPDATE jobs SET status = 'processing'`).
			WithArgs(pgxmock.AnyArg(), "job-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := s.ClaimJob(context.Background(), "job-1")
		require.ErrorIs(t, err, ErrNotClaimable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_FinishJob(t *testing.T) {
	t.Run("rejects non-terminal status", func(t *testing.T) {
		s, _ := newMockPostgresStore(t)
		err := s.FinishJob(context.Background(), "job-1", model.JobStatusProcessing, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-terminal")
	})

	t.Run("completes a processing job", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`UPDATE jobs SET status = \$1`).
			WithArgs("completed", "", pgxmock.AnyArg(), "job-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, s.FinishJob(context.Background(), "job-1", model.JobStatusCompleted, ""))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal job cannot be finished again", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`UPDATE jobs SET status = \$1`).
			WithArgs("error", "boom", pgxmock.AnyArg(), "job-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := s.FinishJob(context.Background(), "job-1", model.JobStatusError, "boom")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in processing state")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func jobColumns() []string {
	return []string{"id", "requester", "question", "answer_kinds", "panel_size",
		"perspective", "custom_label", "filter", "model", "temperature",
		"max_tokens", "status", "error_message", "credit_cost", "created_at",
		"updated_at"}
}

func TestPostgresStore_GetJob(t *testing.T) {
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
			WithArgs("job-1").
			WillReturnRows(pgxmock.NewRows(jobColumns()).AddRow(
				"job-1", "user-1", "q", []byte(`["likert"]`), 3, "general", "",
				[]byte(nil), "gpt-4o-mini", 1.0, 500, "processing", "", 3, now, now,
			))

		job, err := s.GetJob(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, job.Status)
		assert.Equal(t, model.AnswerKinds{model.KindLikert}, job.Kinds)
		assert.Nil(t, job.Filter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
			WithArgs("nope").
			WillReturnError(pgx.ErrNoRows)

		_, err := s.GetJob(context.Background(), "nope")
		require.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown status string is a persistence error", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
			WithArgs("job-1").
			WillReturnRows(pgxmock.NewRows(jobColumns()).AddRow(
				"job-1", "user-1", "q", []byte(`["likert"]`), 3, "general", "",
				[]byte(nil), "gpt-4o-mini", 1.0, 500, "exploded", "", 3, now, now,
			))

		_, err := s.GetJob(context.Background(), "job-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown job status")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filter round-trips", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
			WithArgs("job-2").
			WillReturnRows(pgxmock.NewRows(jobColumns()).AddRow(
				"job-2", "user-1", "q", []byte(`["open_ended","likert"]`), 5,
				"sampled_population", "",
				[]byte(`{"age_min":60,"age_max":65,"income_min":0,"income_max":20000}`),
				"gpt-4o-mini", 1.0, 500, "pending", "", 5, now, now,
			))

		job, err := s.GetJob(context.Background(), "job-2")
		require.NoError(t, err)
		require.NotNil(t, job.Filter)
		assert.Equal(t, 60, job.Filter.AgeMin)
		assert.Equal(t, 20000, job.Filter.IncomeMax)
	})
}

func TestPostgresStore_InsertAnswer(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO responses`).
		WithArgs(pgxmock.AnyArg(), "job-1", 0, 62, 15000, "FL", "Fine by me.",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	likert := 4
	rec, err := s.InsertAnswer(context.Background(), model.AnswerRecord{
		JobID:     "job-1",
		Index:     0,
		Persona:   model.PersonaSnapshot{Age: 62, Income: 15000, Region: "FL"},
		OpenEnded: "Fine by me.",
		Likert:    &likert,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAnswers_OrderedByIndex(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	cols := []string{"id", "job_id", "idx", "age", "income", "region", "open_ended", "likert", "created_at"}
	four := 4
	mock.ExpectQuery(`SELECT .+ FROM responses WHERE job_id = \$1 ORDER BY idx ASC`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("a1", "job-1", 0, 30, 40000, "CA", "yes", &four, now).
			AddRow("a2", "job-1", 1, 55, 80000, "TX", "no", (*int)(nil), now))

	answers, err := s.ListAnswers(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, 0, answers[0].Index)
	require.NotNil(t, answers[0].Likert)
	assert.Equal(t, 4, *answers[0].Likert)
	assert.Nil(t, answers[1].Likert)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Credits(t *testing.T) {
	t.Run("balance defaults to zero", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectQuery(`SELECT balance FROM user_credits`).
			WithArgs("new-user").
			WillReturnError(pgx.ErrNoRows)

		balance, err := s.CreditBalance(context.Background(), "new-user")
		require.NoError(t, err)
		assert.Zero(t, balance)
	})

	t.Run("deduct succeeds with sufficient balance", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`UPDATE user_credits SET balance = balance - \$1`).
			WithArgs(5, pgxmock.AnyArg(), "user-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		ok, err := s.DeductCredits(context.Background(), "user-1", 5)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("deduct refuses overdraft", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`UPDATE user_credits SET balance = balance - \$1`).
			WithArgs(500, pgxmock.AnyArg(), "user-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		ok, err := s.DeductCredits(context.Background(), "user-1", 500)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("grant upserts", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`INSERT INTO user_credits`).
			WithArgs("user-1", 20, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.GrantCredits(context.Background(), "user-1", 20))
	})
}
