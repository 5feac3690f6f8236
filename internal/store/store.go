// Package store persists simulation jobs, their answer records, and the
// credit ledger, with Postgres and SQLite backends.
package store

import (
	"context"
	"errors"

	"github.com/sells-group/hive-sim/internal/model"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrNotClaimable is returned by ClaimJob when the job is not in
// pending state: it is already processing or terminal, so a second
// fan-out must not start.
var ErrNotClaimable = errors.New("store: job not claimable")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Requester string          `json:"requester,omitempty"`
	Status    model.JobStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the simulation service.
// The Job row and its answers are mutated exclusively by the
// orchestrator; everything else is read-only access.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job model.Job) (*model.Job, error)
	ClaimJob(ctx context.Context, jobID string) error
	FinishJob(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Answers
	InsertAnswer(ctx context.Context, rec model.AnswerRecord) (*model.AnswerRecord, error)
	ListAnswers(ctx context.Context, jobID string) ([]model.AnswerRecord, error)

	// Credit ledger
	CreditBalance(ctx context.Context, userID string) (int, error)
	GrantCredits(ctx context.Context, userID string, amount int) error
	DeductCredits(ctx context.Context, userID string, cost int) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
