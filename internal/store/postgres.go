package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hive-sim/internal/db"
	"github.com/sells-group/hive-sim/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations: the per-persona answer insert and the
// status polling read.
var preparedStatements = map[string]string{
	"insert_answer": `INSERT INTO responses (id, job_id, idx, age, income, region, open_ended, likert, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_job":       `SELECT id, requester, question, answer_kinds, panel_size, perspective, custom_label, filter, model, temperature, max_tokens, status, error_message, credit_cost, created_at, updated_at FROM jobs WHERE id = $1`,
	"claim_job":     `UPDATE jobs SET status = 'processing', updated_at = $1 WHERE id = $2 AND status = 'pending'`,
	"list_answers":  `SELECT id, job_id, idx, age, income, region, open_ended, likert, created_at FROM responses WHERE job_id = $1 ORDER BY idx ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	requester     TEXT NOT NULL,
	question      TEXT NOT NULL,
	answer_kinds  JSONB NOT NULL,
	panel_size    INTEGER NOT NULL,
	perspective   TEXT NOT NULL,
	custom_label  TEXT NOT NULL DEFAULT '',
	filter        JSONB,
	model         TEXT NOT NULL,
	temperature   DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	max_tokens    INTEGER NOT NULL DEFAULT 500,
	status        TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	credit_cost   INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS responses (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	idx        INTEGER NOT NULL,
	age        INTEGER NOT NULL,
	income     INTEGER NOT NULL,
	region     TEXT NOT NULL,
	open_ended TEXT NOT NULL DEFAULT '',
	likert     INTEGER,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (job_id, idx)
);

CREATE TABLE IF NOT EXISTS user_credits (
	user_id    TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (balance >= 0)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_requester ON jobs(requester);
CREATE INDEX IF NOT EXISTS idx_responses_job_id ON responses(job_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job model.Job) (*model.Job, error) {
	job.ID = uuid.New().String()
	job.Status = model.JobStatusPending
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	kindsJSON, filterJSON, err := marshalJobFields(job)
	if err != nil {
		return nil, err
	}
	if job.Temperature == nil {
		temp := 1.0
		job.Temperature = &temp
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, requester, question, answer_kinds, panel_size, perspective, custom_label, filter, model, temperature, max_tokens, status, error_message, credit_cost, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		job.ID, job.RequesterRef, job.Question, kindsJSON, job.PanelSize,
		string(job.Perspective), job.CustomLabel, filterJSON, job.Model,
		job.Temperature, job.MaxTokens, string(job.Status), job.ErrorMessage,
		job.CreditCost, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return &job, nil
}

func (s *PostgresStore) ClaimJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'processing', updated_at = $1 WHERE id = $2 AND status = 'pending'`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: claim job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimable
	}
	return nil
}

func (s *PostgresStore) FinishJob(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error {
	if !status.Terminal() {
		return eris.Errorf("postgres: finish job %s with non-terminal status %q", jobID, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4 AND status = 'processing'`,
		string(status), errorMessage, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: job %s not in processing state", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, requester, question, answer_kinds, panel_size, perspective, custom_label, filter, model, temperature, max_tokens, status, error_message, credit_cost, created_at, updated_at
		 FROM jobs WHERE id = $1`,
		jobID,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, requester, question, answer_kinds, panel_size, perspective, custom_label, filter, model, temperature, max_tokens, status, error_message, credit_cost, created_at, updated_at
	          FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Requester != "" {
		query += fmt.Sprintf(` AND requester = $%d`, argIdx)
		args = append(args, filter.Requester)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) InsertAnswer(ctx context.Context, rec model.AnswerRecord) (*model.AnswerRecord, error) {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO responses (id, job_id, idx, age, income, region, open_ended, likert, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.JobID, rec.Index, rec.Persona.Age, rec.Persona.Income,
		rec.Persona.Region, rec.OpenEnded, rec.Likert, rec.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert answer for job %s", rec.JobID)
	}
	return &rec, nil
}

func (s *PostgresStore) ListAnswers(ctx context.Context, jobID string) ([]model.AnswerRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, idx, age, income, region, open_ended, likert, created_at FROM responses WHERE job_id = $1 ORDER BY idx ASC`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list answers for job %s", jobID)
	}
	defer rows.Close()

	var answers []model.AnswerRecord
	for rows.Next() {
		var rec model.AnswerRecord
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Index, &rec.Persona.Age,
			&rec.Persona.Income, &rec.Persona.Region, &rec.OpenEnded, &rec.Likert,
			&rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan answer")
		}
		answers = append(answers, rec)
	}
	return answers, eris.Wrap(rows.Err(), "postgres: list answers iterate")
}

func (s *PostgresStore) CreditBalance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM user_credits WHERE user_id = $1`, userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "postgres: credit balance %s", userID)
	}
	return balance, nil
}

func (s *PostgresStore) GrantCredits(ctx context.Context, userID string, amount int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_credits (user_id, balance, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET balance = user_credits.balance + $2, updated_at = $3`,
		userID, amount, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: grant credits %s", userID)
}

func (s *PostgresStore) DeductCredits(ctx context.Context, userID string, cost int) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_credits SET balance = balance - $1, updated_at = $2 WHERE user_id = $3 AND balance >= $1`,
		cost, time.Now().UTC(), userID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: deduct credits %s", userID)
	}
	return tag.RowsAffected() > 0, nil
}

// scanJob reads one jobs row. rows.Scan and pgx.Row.Scan share this
// signature, so both GetJob and ListJobs use it.
func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j           model.Job
		kindsJSON   []byte
		filterJSON  []byte
		perspective string
		status      string
		temperature float64
	)
	if err := row.Scan(&j.ID, &j.RequesterRef, &j.Question, &kindsJSON,
		&j.PanelSize, &perspective, &j.CustomLabel, &filterJSON, &j.Model,
		&temperature, &j.MaxTokens, &status, &j.ErrorMessage, &j.CreditCost,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Temperature = &temperature
	return hydrateJob(&j, kindsJSON, filterJSON, perspective, status)
}

// hydrateJob decodes the JSON columns and validates both enums.
// Unknown persisted strings are persistence errors, never defaults.
func hydrateJob(j *model.Job, kindsJSON, filterJSON []byte, perspective, status string) (*model.Job, error) {
	if err := json.Unmarshal(kindsJSON, &j.Kinds); err != nil {
		return nil, eris.Wrap(err, "unmarshal answer kinds")
	}
	if len(filterJSON) > 0 {
		j.Filter = &model.SamplingFilter{}
		if err := json.Unmarshal(filterJSON, j.Filter); err != nil {
			return nil, eris.Wrap(err, "unmarshal filter")
		}
	}
	p, err := model.ParsePerspective(perspective)
	if err != nil {
		return nil, err
	}
	j.Perspective = p
	st, err := model.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	j.Status = st
	return j, nil
}

func marshalJobFields(job model.Job) (kindsJSON, filterJSON []byte, err error) {
	kindsJSON, err = json.Marshal(job.Kinds)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal answer kinds")
	}
	if job.Filter != nil {
		filterJSON, err = json.Marshal(job.Filter)
		if err != nil {
			return nil, nil, eris.Wrap(err, "marshal filter")
		}
	}
	return kindsJSON, filterJSON, nil
}
