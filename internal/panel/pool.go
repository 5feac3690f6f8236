// Package panel holds the loaded demographic records and answers
// weighted, filtered persona draws for simulation jobs.
package panel

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hive-sim/internal/model"
)

// EmptyPoolError is returned when a filter matches no personas.
type EmptyPoolError struct {
	Filter *model.SamplingFilter
}

func (e *EmptyPoolError) Error() string {
	if e.Filter == nil {
		return "panel: no personas loaded"
	}
	return fmt.Sprintf("panel: no personas match age [%d,%d] income [%d,%d]",
		e.Filter.AgeMin, e.Filter.AgeMax, e.Filter.IncomeMin, e.Filter.IncomeMax)
}

// Pool is an immutable set of weighted personas. Sample is safe for
// concurrent use; the pool's RNG is guarded by a mutex.
type Pool struct {
	mu      sync.Mutex
	rng     *rand.Rand
	records []model.Persona
}

// Option configures a Pool.
type Option func(*Pool)

// WithRand injects the RNG used for draws, for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(p *Pool) {
		p.rng = r
	}
}

// NewPool creates a pool over the given records. Records with zero or
// negative weight can never be drawn but are tolerated; the loader
// rejects them upstream.
func NewPool(records []model.Persona, opts ...Option) *Pool {
	p := &Pool{
		records: append([]model.Persona(nil), records...),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Size returns the number of loaded records.
func (p *Pool) Size() int {
	return len(p.records)
}

// Sample performs n independent weighted draws with replacement from the
// records matching f. Each draw selects a persona with probability
// proportional to its weight within the filtered set. A nil filter
// matches everything. Returns *EmptyPoolError when the filtered set is
// empty.
func (p *Pool) Sample(n int, f *model.SamplingFilter) ([]model.Persona, error) {
	if n < 1 {
		return nil, eris.Errorf("panel: sample size must be >= 1, got %d", n)
	}

	var filtered []model.Persona
	if f == nil {
		filtered = p.records
	} else {
		for _, rec := range p.records {
			if f.Matches(rec) {
				filtered = append(filtered, rec)
			}
		}
	}

	var totalWeight float64
	for _, rec := range filtered {
		if rec.Weight > 0 {
			totalWeight += rec.Weight
		}
	}
	if len(filtered) == 0 || totalWeight <= 0 {
		return nil, &EmptyPoolError{Filter: f}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	drawn := make([]model.Persona, 0, n)
	for i := 0; i < n; i++ {
		drawn = append(drawn, rouletteWheel(filtered, totalWeight, p.rng.Float64()))
	}
	return drawn, nil
}

// rouletteWheel walks the set subtracting weights until the scaled draw
// r*total is exhausted. The loop always terminates on the last positive-
// weight record even under float rounding.
func rouletteWheel(records []model.Persona, totalWeight, r float64) model.Persona {
	remaining := r * totalWeight
	last := records[0]
	for _, rec := range records {
		if rec.Weight <= 0 {
			continue
		}
		last = rec
		remaining -= rec.Weight
		if remaining <= 0 {
			return rec
		}
	}
	return last
}

// Placeholder is the fixed persona used for every panel member when the
// job's perspective does not require demographic sampling.
func Placeholder() model.Persona {
	return model.Persona{Age: 0, Income: 0, Region: "n/a", Weight: 1}
}
