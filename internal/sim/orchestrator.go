// Package sim runs panel simulation jobs: it samples personas, fans
// their prompts out to a completion backend, parses the replies, and
// drives the job state machine in the store.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/hive-sim/internal/credits"
	"github.com/sells-group/hive-sim/internal/model"
	"github.com/sells-group/hive-sim/internal/panel"
	"github.com/sells-group/hive-sim/internal/parse"
	"github.com/sells-group/hive-sim/internal/prompt"
	"github.com/sells-group/hive-sim/internal/store"
)

// ValidationError reports a rejected job request. Nothing is persisted
// when validation fails.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sim: invalid %s: %s", e.Field, e.Reason)
}

// CostEstimator prices a job in credits before it is persisted.
type CostEstimator interface {
	CreditCost(job model.Job) int
}

// finishTimeout bounds the terminal status write of a claimed job.
const finishTimeout = 30 * time.Second

// Options tunes the orchestrator.
type Options struct {
	Workers      int           // concurrent completions per job, 1 = sequential
	JobTimeout   time.Duration // wall-clock budget for a whole job run
	MaxPanelSize int
	RatePerSec   float64 // completion calls per second across workers, 0 = unlimited
	DefaultModel string
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.JobTimeout <= 0 {
		out.JobTimeout = 10 * time.Minute
	}
	if out.MaxPanelSize <= 0 {
		out.MaxPanelSize = 100
	}
	if out.DefaultModel == "" {
		out.DefaultModel = "gpt-4o-mini"
	}
	return out
}

// Orchestrator owns the lifecycle of simulation jobs.
type Orchestrator struct {
	store     store.Store
	pool      *panel.Pool
	completer Completer
	biller    credits.Biller
	estimator CostEstimator
	catalog   *prompt.Catalog
	limiter   *rate.Limiter
	opts      Options
	log       *zap.Logger
}

func NewOrchestrator(s store.Store, pool *panel.Pool, completer Completer, biller credits.Biller, estimator CostEstimator, catalog *prompt.Catalog, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return &Orchestrator{
		store:     s,
		pool:      pool,
		completer: completer,
		biller:    biller,
		estimator: estimator,
		catalog:   catalog,
		limiter:   limiter,
		opts:      opts,
		log:       zap.L().Named("sim"),
	}
}

// CreateJob validates a request and persists it in the pending state.
// Invalid requests fail with a ValidationError before anything is
// written.
func (o *Orchestrator) CreateJob(ctx context.Context, job model.Job) (*model.Job, error) {
	if job.Question == "" {
		return nil, &ValidationError{Field: "question", Reason: "must not be empty"}
	}
	if err := job.Kinds.Validate(); err != nil {
		return nil, &ValidationError{Field: "answer_kinds", Reason: err.Error()}
	}
	if job.PanelSize < 1 || job.PanelSize > o.opts.MaxPanelSize {
		return nil, &ValidationError{
			Field:  "panel_size",
			Reason: fmt.Sprintf("must be between 1 and %d", o.opts.MaxPanelSize),
		}
	}
	switch job.Perspective {
	case model.PerspectiveGeneral, model.PerspectiveSampledPopulation, model.PerspectiveCustomProfile:
	default:
		return nil, &ValidationError{Field: "perspective", Reason: fmt.Sprintf("unknown perspective %q", job.Perspective)}
	}
	if job.Perspective == model.PerspectiveCustomProfile && job.CustomLabel == "" {
		return nil, &ValidationError{Field: "custom_label", Reason: "required for custom_profile perspective"}
	}
	if job.Filter != nil {
		if !job.Perspective.RequiresSampling() {
			return nil, &ValidationError{Field: "filter", Reason: "only valid with sampled_population perspective"}
		}
		if err := job.Filter.Validate(); err != nil {
			return nil, &ValidationError{Field: "filter", Reason: err.Error()}
		}
	}
	if job.Model == "" {
		job.Model = o.opts.DefaultModel
	}
	if job.Temperature == nil {
		temp := 1.0
		job.Temperature = &temp
	}
	if job.MaxTokens <= 0 {
		job.MaxTokens = 500
	}
	if o.estimator != nil {
		job.CreditCost = o.estimator.CreditCost(job)
	} else {
		job.CreditCost = job.PanelSize
	}

	created, err := o.store.CreateJob(ctx, job)
	if err != nil {
		return nil, err
	}
	o.log.Info("job created",
		zap.String("job_id", created.ID),
		zap.String("requester", created.RequesterRef),
		zap.Int("panel_size", created.PanelSize),
		zap.String("model", created.Model))
	return created, nil
}

// RunJob executes a pending job to a terminal state. A second Run of
// the same job returns store.ErrNotClaimable without side effects.
// Completion failures and empty panels land the job in the error state;
// an unaffordable job lands in insufficient_credits. Both are normal
// returns, not errors: the job reached a terminal state.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string) error {
	if err := o.store.ClaimJob(ctx, jobID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.JobTimeout)
	defer cancel()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return o.fail(ctx, jobID, err)
	}

	if err := o.biller.CheckAndDeduct(ctx, job.RequesterRef, job.CreditCost); err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			o.log.Info("job refused for insufficient credits",
				zap.String("job_id", jobID),
				zap.String("requester", job.RequesterRef),
				zap.Int("cost", job.CreditCost))
			return o.finish(ctx, jobID, model.JobStatusInsufficientCredits, err.Error())
		}
		return o.fail(ctx, jobID, err)
	}

	personas, err := o.assemblePanel(job)
	if err != nil {
		return o.fail(ctx, jobID, err)
	}

	if err := o.fanOut(ctx, job, personas); err != nil {
		return o.fail(ctx, jobID, err)
	}

	o.log.Info("job completed", zap.String("job_id", jobID), zap.Int("answers", len(personas)))
	return o.finish(ctx, jobID, model.JobStatusCompleted, "")
}

// assemblePanel picks the personas the job will interview. Perspectives
// that do not sample get the placeholder persona repeated.
func (o *Orchestrator) assemblePanel(job *model.Job) ([]model.Persona, error) {
	if !job.Perspective.RequiresSampling() {
		personas := make([]model.Persona, job.PanelSize)
		for i := range personas {
			personas[i] = panel.Placeholder()
		}
		return personas, nil
	}
	return o.pool.Sample(job.PanelSize, job.Filter)
}

// fanOut interviews every persona and stores one answer per index.
// Workers share a rate limiter; the first failure cancels the rest,
// and answers already stored stay stored.
func (o *Orchestrator) fanOut(ctx context.Context, job *model.Job, personas []model.Persona) error {
	label := job.CustomLabel
	if o.catalog != nil {
		label = o.catalog.Resolve(label)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for i, persona := range personas {
		g.Go(func() error {
			if o.limiter != nil {
				if err := o.limiter.Wait(ctx); err != nil {
					return eris.Wrap(err, "sim: rate limit wait")
				}
			}

			prompts := prompt.Build(job.Question, job.Kinds, job.Perspective, label, persona)
			raw, err := o.completer.Complete(ctx, CompletionRequest{
				Model:       job.Model,
				System:      prompts.System,
				User:        prompts.User,
				Temperature: *job.Temperature,
				MaxTokens:   job.MaxTokens,
			})
			if err != nil {
				return eris.Wrapf(err, "sim: persona %d", i)
			}

			frag := parse.Parse(raw, job.Kinds)
			_, err = o.store.InsertAnswer(ctx, model.AnswerRecord{
				JobID:     job.ID,
				Index:     i,
				Persona:   persona.Snapshot(),
				OpenEnded: frag.OpenEnded,
				Likert:    frag.Likert,
			})
			return err
		})
	}
	return g.Wait()
}

// finish writes a terminal status. The write runs on a context detached
// from the job deadline and its cancellation, so a run killed by its
// timeout or by shutdown still reaches a terminal state instead of
// sticking in processing.
func (o *Orchestrator) finish(ctx context.Context, jobID string, status model.JobStatus, msg string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	return o.store.FinishJob(ctx, jobID, status, msg)
}

// fail records a terminal error status carrying the failure message.
func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) error {
	o.log.Warn("job failed", zap.String("job_id", jobID), zap.Error(cause))
	if err := o.finish(ctx, jobID, model.JobStatusError, cause.Error()); err != nil {
		return eris.Wrap(err, "sim: record failure")
	}
	return nil
}

// Results returns a completed job's answers in persona order. Jobs in
// any other state are refused.
func (o *Orchestrator) Results(ctx context.Context, jobID string) (*model.ResultSet, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, eris.Errorf("sim: job %s is %s, results require completed", jobID, job.Status)
	}
	answers, err := o.store.ListAnswers(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.ResultSet{Question: job.Question, Perspective: job.Perspective, Answers: answers}, nil
}
