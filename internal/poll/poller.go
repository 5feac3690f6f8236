// Package poll waits for simulation jobs to reach a terminal state.
package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hive-sim/internal/model"
	"github.com/sells-group/hive-sim/internal/store"
)

// JobFailedError is returned when the watched job lands in a terminal
// failure state.
type JobFailedError struct {
	JobID   string
	Status  model.JobStatus
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("poll: job %s finished %s", e.JobID, e.Status)
	}
	return fmt.Sprintf("poll: job %s finished %s: %s", e.JobID, e.Status, e.Message)
}

// TimeoutError is returned when the attempt budget runs out while the
// job is still in flight. The job itself keeps running; only this
// caller gives up.
type TimeoutError struct {
	JobID    string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("poll: job %s still running after %d attempts", e.JobID, e.Attempts)
}

// Poller repeatedly reads a job until it completes or the budget is
// spent.
type Poller struct {
	store       store.Store
	interval    time.Duration
	maxAttempts int
	log         *zap.Logger
}

func New(s store.Store, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	return &Poller{store: s, interval: interval, maxAttempts: maxAttempts, log: zap.L().Named("poll")}
}

// AwaitCompletion blocks until the job completes, fails, times out, or
// the context is cancelled. On completion it returns the job's answers
// in persona order.
func (p *Poller) AwaitCompletion(ctx context.Context, jobID string) (*model.ResultSet, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		job, err := p.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case model.JobStatusCompleted:
			answers, err := p.store.ListAnswers(ctx, jobID)
			if err != nil {
				return nil, err
			}
			return &model.ResultSet{Question: job.Question, Perspective: job.Perspective, Answers: answers}, nil
		case model.JobStatusError, model.JobStatusInsufficientCredits:
			return nil, &JobFailedError{JobID: jobID, Status: job.Status, Message: job.ErrorMessage}
		}

		if attempt >= p.maxAttempts {
			return nil, &TimeoutError{JobID: jobID, Attempts: attempt}
		}
		p.log.Debug("job still in flight",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
			zap.Int("attempt", attempt))

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "poll: job %s", jobID)
		}
	}
}
