package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobStatus(t *testing.T) {
	t.Parallel()

	t.Run("accepts all known statuses", func(t *testing.T) {
		t.Parallel()
		for _, s := range []string{"pending", "processing", "completed", "error", "insufficient_credits"} {
			got, err := ParseJobStatus(s)
			require.NoError(t, err)
			assert.Equal(t, JobStatus(s), got)
		}
	})

	t.Run("rejects unknown strings", func(t *testing.T) {
		t.Parallel()
		_, err := ParseJobStatus("queued")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown job status")

		_, err = ParseJobStatus("")
		require.Error(t, err)
	})
}

func TestJobStatusTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, JobStatusPending.CanTransition(JobStatusProcessing))
	assert.True(t, JobStatusProcessing.CanTransition(JobStatusCompleted))
	assert.True(t, JobStatusProcessing.CanTransition(JobStatusError))
	assert.True(t, JobStatusProcessing.CanTransition(JobStatusInsufficientCredits))

	// No skipping pending, no re-entering terminal states.
	assert.False(t, JobStatusPending.CanTransition(JobStatusCompleted))
	assert.False(t, JobStatusPending.CanTransition(JobStatusError))
	assert.False(t, JobStatusCompleted.CanTransition(JobStatusProcessing))
	assert.False(t, JobStatusError.CanTransition(JobStatusProcessing))
	assert.False(t, JobStatusInsufficientCredits.CanTransition(JobStatusProcessing))
	assert.False(t, JobStatusProcessing.CanTransition(JobStatusPending))
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusError.Terminal())
	assert.True(t, JobStatusInsufficientCredits.Terminal())
}

func TestAnswerKindsValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid sets", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, AnswerKinds{KindOpenEnded}.Validate())
		assert.NoError(t, AnswerKinds{KindLikert}.Validate())
		assert.NoError(t, AnswerKinds{KindOpenEnded, KindLikert}.Validate())
	})

	t.Run("empty set rejected", func(t *testing.T) {
		t.Parallel()
		assert.Error(t, AnswerKinds{}.Validate())
		assert.Error(t, AnswerKinds(nil).Validate())
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		t.Parallel()
		assert.Error(t, AnswerKinds{"multiple_choice"}.Validate())
	})

	t.Run("duplicates rejected", func(t *testing.T) {
		t.Parallel()
		assert.Error(t, AnswerKinds{KindLikert, KindLikert}.Validate())
	})
}

func TestPerspective(t *testing.T) {
	t.Parallel()

	p, err := ParsePerspective("sampled_population")
	require.NoError(t, err)
	assert.True(t, p.RequiresSampling())

	p, err = ParsePerspective("general")
	require.NoError(t, err)
	assert.False(t, p.RequiresSampling())

	p, err = ParsePerspective("custom_profile")
	require.NoError(t, err)
	assert.False(t, p.RequiresSampling())

	_, err = ParsePerspective("sample_americans")
	assert.Error(t, err)
}

func TestSamplingFilter(t *testing.T) {
	t.Parallel()

	f := SamplingFilter{AgeMin: 18, AgeMax: 65, IncomeMin: 0, IncomeMax: 100000}
	require.NoError(t, f.Validate())

	assert.True(t, f.Matches(Persona{Age: 18, Income: 0}))
	assert.True(t, f.Matches(Persona{Age: 65, Income: 100000}))
	assert.False(t, f.Matches(Persona{Age: 66, Income: 50000}))
	assert.False(t, f.Matches(Persona{Age: 40, Income: 100001}))

	assert.Error(t, SamplingFilter{AgeMin: 30, AgeMax: 20}.Validate())
	assert.Error(t, SamplingFilter{IncomeMin: 10, IncomeMax: 5}.Validate())
}

func TestLikertInRange(t *testing.T) {
	t.Parallel()

	for v := 1; v <= 5; v++ {
		assert.True(t, LikertInRange(v))
	}
	assert.False(t, LikertInRange(0))
	assert.False(t, LikertInRange(6))
	assert.False(t, LikertInRange(-3))
}
