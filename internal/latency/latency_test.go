package latency

import (
	"testing"

	"github.com/mlbench/loadgen/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentileCorrectness(t *testing.T) {
	const n = 1_000_000
	r := New(n)
	r.SetPhase(PhaseMeasuring)

	// Deterministic spread across [1000, 2000) covering every integer
	// value uniformly.
	for i := 0; i < n; i++ {
		v := int64(1000 + i%1000)
		r.Record(v)
	}

	st := r.Compute(0.99)
	require.Equal(t, n, st.Count)
	assert.GreaterOrEqual(t, st.TargetPercentileValue, int64(1989))
	assert.LessOrEqual(t, st.TargetPercentileValue, int64(1991))
}

func TestWarmupSamplesDiscarded(t *testing.T) {
	r := New(10)
	r.Record(123) // WARMUP phase by default, discarded
	r.SetPhase(PhaseMeasuring)
	r.Record(456)
	r.SetPhase(PhaseDraining)
	r.Record(789) // issued while measuring, completed while draining: counts

	assert.Equal(t, 2, r.Count())
}

func TestDecideSingleStreamPassFail(t *testing.T) {
	es := &settings.EffectiveSettings{Scenario: settings.SingleStream, TargetLatencyNs: 1_000_000}
	pass := Decide(es, Stats{TargetPercentileValue: 900_000}, RunFacts{DurationsMet: true})
	assert.True(t, pass.Pass)

	fail := Decide(es, Stats{TargetPercentileValue: 1_100_000}, RunFacts{DurationsMet: true})
	assert.False(t, fail.Pass)
}

func TestDecideOfflineUsesQPS(t *testing.T) {
	es := &settings.EffectiveSettings{Scenario: settings.Offline, TargetQPS: 10000}
	pass := Decide(es, Stats{QPS: 10500}, RunFacts{DurationsMet: true})
	assert.True(t, pass.Pass)

	fail := Decide(es, Stats{QPS: 9000}, RunFacts{DurationsMet: true})
	assert.False(t, fail.Pass)
}

func TestDecideAbortedAlwaysFails(t *testing.T) {
	es := &settings.EffectiveSettings{Scenario: settings.Offline, TargetQPS: 1}
	v := Decide(es, Stats{QPS: 100000}, RunFacts{DurationsMet: true, Aborted: true})
	assert.False(t, v.Pass)
}
