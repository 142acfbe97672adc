package accuracy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbabilityExtremes(t *testing.T) {
	never := NewSampler(42, 0)
	always := NewSampler(42, 1)
	for q := uint64(0); q < 1000; q++ {
		assert.False(t, never.ShouldLog(q, q*3))
		assert.True(t, always.ShouldLog(q, q*3))
	}
}

func TestDecisionIsDeterministic(t *testing.T) {
	a := NewSampler(7, 0.1)
	b := NewSampler(7, 0.1)
	for q := uint64(0); q < 10_000; q++ {
		assert.Equal(t, a.ShouldLog(q, q+1), b.ShouldLog(q, q+1), "query %d", q)
	}
}

func TestSeedChangesSelection(t *testing.T) {
	a := NewSampler(1, 0.5)
	b := NewSampler(2, 0.5)
	differs := false
	for q := uint64(0); q < 1000 && !differs; q++ {
		if a.ShouldLog(q, 0) != b.ShouldLog(q, 0) {
			differs = true
		}
	}
	assert.True(t, differs, "different seeds should select different subsets")
}

func TestSelectionRateTracksProbability(t *testing.T) {
	const n = 100_000
	const p = 0.1
	s := NewSampler(0x5eed, p)

	hits := 0
	for q := uint64(0); q < n; q++ {
		if s.ShouldLog(q, q^0xabcd) {
			hits++
		}
	}
	rate := float64(hits) / n
	assert.InDelta(t, p, rate, 0.01)
}
