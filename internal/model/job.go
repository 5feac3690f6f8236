package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// JobStatus represents the current state of a simulation job.
// Transitions are monotonic: pending → processing → one terminal state.
type JobStatus string

const (
	JobStatusPending             JobStatus = "pending"
	JobStatusProcessing          JobStatus = "processing"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusError               JobStatus = "error"
	JobStatusInsufficientCredits JobStatus = "insufficient_credits"
)

// ParseJobStatus maps a persisted string to a JobStatus. Unknown strings
// are rejected so a corrupted row surfaces as a persistence error rather
// than a silent default.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusError, JobStatusInsufficientCredits:
		return st, nil
	default:
		return "", eris.Errorf("model: unknown job status %q", s)
	}
}

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusError, JobStatusInsufficientCredits:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal step of
// the state machine. Terminal states are never re-entered.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next.Terminal()
	}
	return false
}

// Perspective is the conditioning mode for the prompt.
type Perspective string

const (
	// PerspectiveGeneral asks the model with neutral framing and no
	// demographic conditioning.
	PerspectiveGeneral Perspective = "general"
	// PerspectiveSampledPopulation roleplays a persona drawn from the
	// weighted demographic pool.
	PerspectiveSampledPopulation Perspective = "sampled_population"
	// PerspectiveCustomProfile adopts a named viewpoint supplied with
	// the job.
	PerspectiveCustomProfile Perspective = "custom_profile"
)

// ParsePerspective maps a request string to a Perspective.
func ParsePerspective(s string) (Perspective, error) {
	switch p := Perspective(s); p {
	case PerspectiveGeneral, PerspectiveSampledPopulation, PerspectiveCustomProfile:
		return p, nil
	default:
		return "", eris.Errorf("model: unknown perspective %q", s)
	}
}

// RequiresSampling reports whether the perspective draws personas from
// the demographic pool. Other perspectives use a fixed placeholder.
func (p Perspective) RequiresSampling() bool {
	return p == PerspectiveSampledPopulation
}

// AnswerKind identifies one requested response format.
type AnswerKind string

const (
	KindOpenEnded AnswerKind = "open_ended"
	KindLikert    AnswerKind = "likert"
)

// AnswerKinds is the set of formats requested for a job. Order is not
// significant; the set is never empty on a valid job.
type AnswerKinds []AnswerKind

// Has reports whether the set contains k.
func (ks AnswerKinds) Has(k AnswerKind) bool {
	for _, have := range ks {
		if have == k {
			return true
		}
	}
	return false
}

// Validate rejects empty sets, unknown kinds, and duplicates.
func (ks AnswerKinds) Validate() error {
	if len(ks) == 0 {
		return eris.New("model: answer kinds must not be empty")
	}
	seen := make(map[AnswerKind]bool, len(ks))
	for _, k := range ks {
		switch k {
		case KindOpenEnded, KindLikert:
		default:
			return eris.Errorf("model: unknown answer kind %q", k)
		}
		if seen[k] {
			return eris.Errorf("model: duplicate answer kind %q", k)
		}
		seen[k] = true
	}
	return nil
}

// Job is one simulation request tracked through the state machine.
// Only the orchestrator mutates a job after creation. A nil Temperature
// means the requester left it unset; creation fills in the default, so
// an explicit 0 survives as 0.
type Job struct {
	ID           string          `json:"id"`
	RequesterRef string          `json:"requester_ref"`
	Question     string          `json:"question"`
	Kinds        AnswerKinds     `json:"answer_kinds"`
	PanelSize    int             `json:"panel_size"`
	Perspective  Perspective     `json:"perspective"`
	CustomLabel  string          `json:"custom_label,omitempty"`
	Filter       *SamplingFilter `json:"filter,omitempty"`
	Model        string          `json:"model"`
	Temperature  *float64        `json:"temperature,omitempty"`
	MaxTokens    int             `json:"max_tokens"`
	Status       JobStatus       `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreditCost   int             `json:"credit_cost"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
