package schedule

import (
	"math"
	"sort"
	"testing"

	"github.com/mlbench/loadgen/internal/settings"
)

func baseSettings() *settings.EffectiveSettings {
	return &settings.EffectiveSettings{
		Scenario:               settings.Offline,
		SamplesPerQuery:        4,
		TargetQPS:              100,
		PerformanceSampleCount: 1024,
		SampleIndexRngSeed:     0x093c467e37db0c7a,
		ScheduleRngSeed:        0x3243f6a8885a308d,
		QSLRngSeed:             0x2b7e151628aed2a6,
	}
}

func TestDeterminismAcrossGenerators(t *testing.T) {
	es := baseSettings()
	es.Scenario = settings.Server

	g1 := New(es)
	g2 := New(es)

	qs1 := g1.NextN(500)
	qs2 := g2.NextN(500)

	for i := range qs1 {
		if qs1[i].IssueTimeNs != qs2[i].IssueTimeNs {
			t.Fatalf("issue time mismatch at %d: %d != %d", i, qs1[i].IssueTimeNs, qs2[i].IssueTimeNs)
		}
		for j := range qs1[i].Samples {
			if qs1[i].Samples[j] != qs2[i].Samples[j] {
				t.Fatalf("sample mismatch at query %d sample %d", i, j)
			}
		}
	}
}

func TestSeekToMatchesSequentialAdvance(t *testing.T) {
	es := baseSettings()
	es.Scenario = settings.Server

	g := New(es)
	seq := g.NextN(200)

	g2 := New(es)
	g2.SeekTo(150)
	q := g2.Next()

	if q.IssueTimeNs != seq[150].IssueTimeNs {
		t.Fatalf("seek mismatch: got %d want %d", q.IssueTimeNs, seq[150].IssueTimeNs)
	}
	if q.Samples[0] != seq[150].Samples[0] {
		t.Fatalf("seek sample mismatch")
	}
}

func TestOfflineSingleQuery(t *testing.T) {
	es := baseSettings()
	es.Scenario = settings.Offline
	es.SamplesPerQuery = 6_600_000

	g := New(es)
	q := g.Next()
	if q.QueryIndex != 0 {
		t.Fatalf("expected query index 0, got %d", q.QueryIndex)
	}
	if len(q.Samples) != 6_600_000 {
		t.Fatalf("expected 6600000 samples, got %d", len(q.Samples))
	}
	if q.IssueTimeNs != 0 {
		t.Fatalf("expected issue time 0, got %d", q.IssueTimeNs)
	}
}

func TestPerformanceIssueSame(t *testing.T) {
	es := baseSettings()
	es.PerformanceIssueSame = true
	es.PerformanceIssueSameIndex = 7
	es.SamplesPerQuery = 3

	g := New(es)
	for i := 0; i < 50; i++ {
		q := g.Next()
		for _, s := range q.Samples {
			if s.SampleIndex != 7 {
				t.Fatalf("expected sample index 7, got %d", s.SampleIndex)
			}
		}
	}
}

func TestPerformanceIssueUnique(t *testing.T) {
	es := baseSettings()
	es.PerformanceIssueUnique = true
	es.PerformanceSampleCount = 2048
	es.SamplesPerQuery = 8

	g := New(es)
	seen := make(map[uint64]bool)
	numQueries := int(es.PerformanceSampleCount / es.SamplesPerQuery)
	total := 0
	for i := 0; i < numQueries; i++ {
		q := g.Next()
		for _, s := range q.Samples {
			if seen[s.SampleIndex] {
				t.Fatalf("sample index %d issued more than once", s.SampleIndex)
			}
			seen[s.SampleIndex] = true
			total++
		}
	}
	if total != 2048 {
		t.Fatalf("expected 2048 total samples issued, got %d", total)
	}
}

func TestWithinQueryNoDuplicateSamples(t *testing.T) {
	es := baseSettings()
	g := New(es)
	for i := 0; i < 100; i++ {
		q := g.Next()
		seen := make(map[uint64]bool, len(q.Samples))
		for _, s := range q.Samples {
			if seen[s.SampleIndex] {
				t.Fatalf("query %d has duplicate sample index %d", q.QueryIndex, s.SampleIndex)
			}
			seen[s.SampleIndex] = true
		}
	}
}

// Server inter-arrival times sampled from schedule_rng_seed must follow an
// exponential distribution with rate target_qps.
func TestServerInterArrivalIsExponential(t *testing.T) {
	es := baseSettings()
	es.Scenario = settings.Server
	es.TargetQPS = 250

	const n = 20000
	deltas := make([]float64, n)
	for i := 0; i < n; i++ {
		deltas[i] = float64(poissonDeltaNs(es, uint64(i))) / 1e9
	}

	d := ksStatisticExponential(deltas, es.TargetQPS)
	// Critical value for alpha=0.01 at large n: 1.63/sqrt(n).
	critical := 1.63 / math.Sqrt(float64(n))
	if d > critical {
		t.Fatalf("KS statistic %.5f exceeds critical value %.5f at alpha=0.01", d, critical)
	}
}

// ksStatisticExponential computes the two-sided Kolmogorov-Smirnov
// statistic between samples and the exponential(rate) CDF.
func ksStatisticExponential(samples []float64, rate float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	maxD := 0.0
	for i, x := range sorted {
		cdf := 1 - math.Exp(-rate*x)
		empiricalBefore := float64(i) / n
		empiricalAfter := float64(i+1) / n
		if d := math.Abs(cdf - empiricalBefore); d > maxD {
			maxD = d
		}
		if d := math.Abs(cdf - empiricalAfter); d > maxD {
			maxD = d
		}
	}
	return maxD
}
