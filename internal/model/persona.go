package model

import "github.com/rotisserie/eris"

// Persona is one synthetic respondent drawn from the demographic table.
// Records are immutable once loaded into a pool.
type Persona struct {
	Age    int     `json:"age"`
	Income int     `json:"income"`
	Region string  `json:"region"`
	Weight float64 `json:"weight"`
}

// Snapshot returns the demographic fields persisted alongside an answer.
func (p Persona) Snapshot() PersonaSnapshot {
	return PersonaSnapshot{Age: p.Age, Income: p.Income, Region: p.Region}
}

// PersonaSnapshot captures a persona's demographics at generation time,
// without the sampling weight.
type PersonaSnapshot struct {
	Age    int    `json:"age"`
	Income int    `json:"income"`
	Region string `json:"region"`
}

// SamplingFilter constrains which personas may be drawn for a job.
// Bounds are inclusive.
type SamplingFilter struct {
	AgeMin    int `json:"age_min"`
	AgeMax    int `json:"age_max"`
	IncomeMin int `json:"income_min"`
	IncomeMax int `json:"income_max"`
}

// Validate checks that each range satisfies min <= max.
func (f SamplingFilter) Validate() error {
	if f.AgeMin > f.AgeMax {
		return eris.Errorf("model: age range inverted: %d > %d", f.AgeMin, f.AgeMax)
	}
	if f.IncomeMin > f.IncomeMax {
		return eris.Errorf("model: income range inverted: %d > %d", f.IncomeMin, f.IncomeMax)
	}
	return nil
}

// Matches reports whether a persona falls inside both ranges.
func (f SamplingFilter) Matches(p Persona) bool {
	return p.Age >= f.AgeMin && p.Age <= f.AgeMax &&
		p.Income >= f.IncomeMin && p.Income <= f.IncomeMax
}
