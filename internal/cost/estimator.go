// Package cost estimates token usage, USD spend, and credit cost for
// panel simulation jobs before they run.
package cost

import (
	"math"

	"github.com/sells-group/hive-sim/internal/model"
)

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps model name to pricing.
type Rates map[string]ModelRate

// DefaultRates returns the default pricing table.
func DefaultRates() Rates {
	return Rates{
		"gpt-4o":                    {Input: 2.50, Output: 10.00},
		"gpt-4o-mini":               {Input: 0.15, Output: 0.60},
		"claude-sonnet-4-5":         {Input: 3.00, Output: 15.00},
		"claude-haiku-4-5-20251001": {Input: 0.80, Output: 4.00},
	}
}

// bytesPerToken is the rough English-text heuristic used when no
// tokenizer is available.
const bytesPerToken = 4

// promptOverheadTokens covers the system prompt and format directive
// that wrap every question.
const promptOverheadTokens = 120

// Estimate is the projected resource usage for one job.
type Estimate struct {
	InputTokens  int
	OutputTokens int
	USD          float64
	Credits      int
}

// Estimator prices jobs against a rate table.
type Estimator struct {
	rates Rates
}

func NewEstimator(rates Rates) *Estimator {
	if rates == nil {
		rates = DefaultRates()
	}
	return &Estimator{rates: rates}
}

// EstimateTokens approximates the token count of a piece of text.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / bytesPerToken))
}

// EstimateJob projects the usage of a job across its whole panel.
// Each sampled persona costs one credit. Unknown models price at zero
// USD but still cost credits.
func (e *Estimator) EstimateJob(job model.Job) Estimate {
	perCallInput := EstimateTokens(job.Question) + promptOverheadTokens
	perCallOutput := job.MaxTokens
	if perCallOutput <= 0 {
		perCallOutput = 500
	}

	est := Estimate{
		InputTokens:  perCallInput * job.PanelSize,
		OutputTokens: perCallOutput * job.PanelSize,
		Credits:      job.PanelSize,
	}

	rate, ok := e.rates[job.Model]
	if !ok {
		return est
	}
	est.USD = (float64(est.InputTokens)/1e6)*rate.Input +
		(float64(est.OutputTokens)/1e6)*rate.Output
	return est
}
