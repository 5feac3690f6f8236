package model

import "time"

// LikertLabels spells out the five-point agreement scale, index 0 being
// a rating of 1.
var LikertLabels = [5]string{
	"Strongly Disagree",
	"Disagree",
	"Neutral",
	"Agree",
	"Strongly Agree",
}

// LikertInRange reports whether v is a legal rating.
func LikertInRange(v int) bool {
	return v >= 1 && v <= 5
}

// AnswerRecord is one persona's structured answer within a job's panel.
// Likert is nil when the rating was not requested or not parseable;
// out-of-range values are dropped, never clamped.
type AnswerRecord struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Index     int             `json:"index"`
	Persona   PersonaSnapshot `json:"persona"`
	OpenEnded string          `json:"open_ended,omitempty"`
	Likert    *int            `json:"likert,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ResultSet is the ordered answers for a completed job. Order follows
// the persona index assigned at fan-out, not completion order.
type ResultSet struct {
	Question    string         `json:"question"`
	Perspective Perspective    `json:"perspective"`
	Answers     []AnswerRecord `json:"answers"`
}
