package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/hive-sim/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and the orchestrator integration tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	requester     TEXT NOT NULL,
	question      TEXT NOT NULL,
	answer_kinds  TEXT NOT NULL,
	panel_size    INTEGER NOT NULL,
	perspective   TEXT NOT NULL,
	custom_label  TEXT NOT NULL DEFAULT '',
	filter        TEXT,
	model         TEXT NOT NULL,
	temperature   REAL NOT NULL DEFAULT 1.0,
	max_tokens    INTEGER NOT NULL DEFAULT 500,
	status        TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	credit_cost   INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
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
	created_at DATETIME NOT NULL,
	UNIQUE (job_id, idx)
);

CREATE TABLE IF NOT EXISTS user_credits (
	user_id    TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_requester ON jobs(requester);
CREATE INDEX IF NOT EXISTS idx_responses_job_id ON responses(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job model.Job) (*model.Job, error) {
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
	var filterArg any
	if filterJSON != nil {
		filterArg = string(filterJSON)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, requester, question, answer_kinds, panel_size, perspective, custom_label, filter, model, temperature, max_tokens, status, error_message, credit_cost, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.RequesterRef, job.Question, string(kindsJSON), job.PanelSize,
		string(job.Perspective), job.CustomLabel, filterArg, job.Model,
		job.Temperature, job.MaxTokens, string(job.Status), job.ErrorMessage,
		job.CreditCost, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	return &job, nil
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'pending'`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: claim job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotClaimable
	}
	return nil
}

func (s *SQLiteStore) FinishJob(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error {
	if !status.Terminal() {
		return eris.Errorf("sqlite: finish job %s with non-terminal status %q", jobID, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = 'processing'`,
		string(status), errorMessage, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: job %s not in processing state", jobID)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, requester, question, answer_kinds, panel_size, perspective, custom_label, filter, model, temperature, max_tokens, status, error_message, credit_cost, created_at, updated_at
		 FROM jobs WHERE id = ?`,
		jobID,
	)
	job, err := scanSQLiteJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, requester, question, answer_kinds, panel_size, perspective, custom_label, filter, model, temperature, max_tokens, status, error_message, credit_cost, created_at, updated_at
	          FROM jobs WHERE true`
	args := []any{}

	if filter.Requester != "" {
		query += ` AND requester = ?`
		args = append(args, filter.Requester)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) InsertAnswer(ctx context.Context, rec model.AnswerRecord) (*model.AnswerRecord, error) {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (id, job_id, idx, age, income, region, open_ended, likert, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.JobID, rec.Index, rec.Persona.Age, rec.Persona.Income,
		rec.Persona.Region, rec.OpenEnded, rec.Likert, rec.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert answer for job %s", rec.JobID)
	}
	return &rec, nil
}

func (s *SQLiteStore) ListAnswers(ctx context.Context, jobID string) ([]model.AnswerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, idx, age, income, region, open_ended, likert, created_at FROM responses WHERE job_id = ? ORDER BY idx ASC`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list answers for job %s", jobID)
	}
	defer rows.Close()

	var answers []model.AnswerRecord
	for rows.Next() {
		var (
			rec    model.AnswerRecord
			likert sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Index, &rec.Persona.Age,
			&rec.Persona.Income, &rec.Persona.Region, &rec.OpenEnded, &likert,
			&rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan answer")
		}
		if likert.Valid {
			v := int(likert.Int64)
			rec.Likert = &v
		}
		answers = append(answers, rec)
	}
	return answers, eris.Wrap(rows.Err(), "sqlite: list answers iterate")
}

func (s *SQLiteStore) CreditBalance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM user_credits WHERE user_id = ?`, userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "sqlite: credit balance %s", userID)
	}
	return balance, nil
}

func (s *SQLiteStore) GrantCredits(ctx context.Context, userID string, amount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_credits (user_id, balance, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET balance = balance + excluded.balance, updated_at = excluded.updated_at`,
		userID, amount, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: grant credits %s", userID)
}

func (s *SQLiteStore) DeductCredits(ctx context.Context, userID string, cost int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_credits SET balance = balance - ?, updated_at = ? WHERE user_id = ? AND balance >= ?`,
		cost, time.Now().UTC(), userID, cost,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: deduct credits %s", userID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

// scanSQLiteJob adapts a Scan func (row or rows) into a hydrated job.
func scanSQLiteJob(scan func(dest ...any) error) (*model.Job, error) {
	var (
		j           model.Job
		kindsJSON   string
		filterJSON  sql.NullString
		perspective string
		status      string
		temperature float64
	)
	if err := scan(&j.ID, &j.RequesterRef, &j.Question, &kindsJSON,
		&j.PanelSize, &perspective, &j.CustomLabel, &filterJSON, &j.Model,
		&temperature, &j.MaxTokens, &status, &j.ErrorMessage, &j.CreditCost,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Temperature = &temperature
	var filterBytes []byte
	if filterJSON.Valid {
		filterBytes = []byte(filterJSON.String)
	}
	return hydrateJob(&j, []byte(kindsJSON), filterBytes, perspective, status)
}

// Ping verifies the database file is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}
