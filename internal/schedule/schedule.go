// Package schedule implements the deterministic schedule generator: given
// EffectiveSettings and its seeds, it produces the sequence of sample
// indices and issue times each query will use. Every decision is derived
// from (seed, query_index) via a counter-based RNG rather than sequential
// mutable state, so the stream is restartable from any query_index.
package schedule

import (
	"math"

	"github.com/mlbench/loadgen/internal/settings"
)

// SampleRef is one (sample_index, sample_id) pair within a query.
// SampleIndex is the logical position within
// the performance sample set; SampleID is the value handed to the SUT/QSL.
type SampleRef struct {
	SampleIndex uint64
	SampleID    uint64
}

// ScheduledQuery is one entry of the sample schedule: a query index, its
// samples, and (where the scenario pre-schedules it) its issue time.
type ScheduledQuery struct {
	QueryIndex  uint64
	Samples     []SampleRef
	IssueTimeNs int64 // -1 if the scenario does not pre-schedule (SingleStream)
}

// NotPreScheduled is the sentinel IssueTimeNs for scenarios (SingleStream)
// whose next issue time depends on runtime completion rather than the
// schedule alone.
const NotPreScheduled int64 = -1

// Generator produces ScheduledQuery values for one run's EffectiveSettings.
// It is safe for use by a single goroutine (the issue scheduler thread);
// callers needing concurrent access should own their own
// Generator per scheduler thread.
type Generator struct {
	es *settings.EffectiveSettings

	// poissonCumulativeNs is the running sum of Poisson inter-arrival draws
	// for the Server scenario. It advances only via Next()/NextN(), so
	// SeekTo must replay from zero to stay correct.
	poissonCumulativeNs int64
	nextIndex           uint64
}

// New constructs a Generator for es. Call Reset (or rely on the zero value)
// to start from query_index 0.
func New(es *settings.EffectiveSettings) *Generator {
	return &Generator{es: es}
}

// Reset reanchors the generator to query_index 0.
func (g *Generator) Reset() {
	g.poissonCumulativeNs = 0
	g.nextIndex = 0
}

// SeekTo repositions the generator to queryIndex by deterministically
// replaying from zero. Per-query sample selection needs no replay (it is
// already a pure function of query_index); only the Server scenario's
// cumulative Poisson clock does.
func (g *Generator) SeekTo(queryIndex uint64) {
	g.Reset()
	if g.es.Scenario != settings.Server {
		g.nextIndex = queryIndex
		return
	}
	for g.nextIndex < queryIndex {
		g.advancePoisson()
		g.nextIndex++
	}
}

// Next returns the next ScheduledQuery in sequence.
func (g *Generator) Next() ScheduledQuery {
	q := g.queryAt(g.nextIndex)
	if g.es.Scenario == settings.Server {
		g.advancePoisson()
	}
	g.nextIndex++
	return q
}

// NextN returns the next n ScheduledQuery values.
func (g *Generator) NextN(n int) []ScheduledQuery {
	out := make([]ScheduledQuery, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Next())
	}
	return out
}

// QueryAt computes the ScheduledQuery for queryIndex directly, without
// disturbing the generator's sequential cursor. For the Server scenario
// this replays the Poisson clock from zero, matching SeekTo's contract.
func (g *Generator) QueryAt(queryIndex uint64) ScheduledQuery {
	if g.es.Scenario != settings.Server {
		return g.queryAt(queryIndex)
	}
	cum := int64(0)
	for i := uint64(0); i < queryIndex; i++ {
		cum += poissonDeltaNs(g.es, i)
	}
	q := g.queryAt(queryIndex)
	q.IssueTimeNs = cum
	return q
}

func (g *Generator) advancePoisson() {
	g.poissonCumulativeNs += poissonDeltaNs(g.es, g.nextIndex)
}

// poissonDeltaNs draws the inter-arrival gap before query index i using the
// schedule_rng_seed stream, independent of any other query's draw.
func poissonDeltaNs(es *settings.EffectiveSettings, i uint64) int64 {
	r := newRNG(streamSeed(es.ScheduleRngSeed, i))
	u := r.float64()
	if u <= 0 {
		u = 1e-300
	}
	deltaSeconds := -math.Log(u) / es.TargetQPS
	return int64(deltaSeconds * 1e9)
}

// queryAt computes sample selection + (for pre-scheduled scenarios) issue
// time for queryIndex, without advancing the Poisson cumulative clock.
func (g *Generator) queryAt(queryIndex uint64) ScheduledQuery {
	es := g.es
	samples := selectSamples(es, queryIndex)

	var issueTimeNs int64
	switch es.Scenario {
	case settings.SingleStream:
		issueTimeNs = NotPreScheduled
	case settings.MultiStream, settings.MultiStreamFree:
		issueTimeNs = int64(float64(queryIndex) / es.TargetQPS * 1e9)
	case settings.Server:
		issueTimeNs = g.poissonCumulativeNs
	case settings.Offline:
		issueTimeNs = 0
	}

	return ScheduledQuery{QueryIndex: queryIndex, Samples: samples, IssueTimeNs: issueTimeNs}
}

// selectSamples applies the performance-issue overrides (mutually
// exclusive) and otherwise draws
// samples_per_query indices without replacement within the query, with
// replacement across queries, from the sample_index_rng_seed stream.
func selectSamples(es *settings.EffectiveSettings, queryIndex uint64) []SampleRef {
	n := es.SamplesPerQuery
	if n == 0 {
		n = 1
	}

	switch {
	case es.PerformanceIssueSame:
		out := make([]SampleRef, n)
		for i := range out {
			out[i] = SampleRef{SampleIndex: es.PerformanceIssueSameIndex, SampleID: es.PerformanceIssueSameIndex}
		}
		return out

	case es.PerformanceIssueUnique:
		start := queryIndex * n
		out := make([]SampleRef, n)
		for i := uint64(0); i < n; i++ {
			idx := (start + i) % maxU64(es.PerformanceSampleCount, 1)
			out[i] = SampleRef{SampleIndex: idx, SampleID: idx}
		}
		return out

	default:
		return drawWithoutReplacement(es, queryIndex, n)
	}
}

// drawWithoutReplacement selects n sample indices out of
// [0, performance_sample_count) using a per-query RNG stream keyed by
// (sample_index_rng_seed, query_index), via partial Fisher-Yates. When n
// exceeds the pool size — the coalesced Offline query routinely asks for
// millions of samples out of a much smaller working set — distinct
// selection is impossible, so draws fall back to i.i.d. uniform sampling
// with replacement, as the real coalesced-query workload requires.
func drawWithoutReplacement(es *settings.EffectiveSettings, queryIndex, n uint64) []SampleRef {
	poolSize := es.PerformanceSampleCount
	if poolSize == 0 {
		poolSize = 1
	}

	r := newRNG(streamSeed(es.SampleIndexRngSeed, queryIndex))

	if n > poolSize {
		out := make([]SampleRef, n)
		for i := uint64(0); i < n; i++ {
			idx := r.intn(poolSize)
			out[i] = SampleRef{SampleIndex: idx, SampleID: idx}
		}
		return out
	}

	// Partial Fisher-Yates over a lazily-materialized identity array: for
	// pool sizes in the millions this still only touches O(n) entries via
	// a sparse map, avoiding an O(pool) allocation per query.
	picked := make(map[uint64]uint64, n)
	out := make([]SampleRef, n)
	limit := poolSize
	for i := uint64(0); i < n; i++ {
		j := i + r.intn(limit-i)
		vi := valueAt(picked, i)
		vj := valueAt(picked, j)
		picked[i] = vj
		picked[j] = vi
		out[i] = SampleRef{SampleIndex: picked[i], SampleID: picked[i]}
	}
	return out
}

func valueAt(m map[uint64]uint64, i uint64) uint64 {
	if v, ok := m[i]; ok {
		return v
	}
	return i
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// LibraryShuffle computes the one-time uniform permutation of
// [0, performanceSampleCount) used by the cache controller to decide
// initial load order.
func LibraryShuffle(seed, performanceSampleCount uint64) []uint64 {
	perm := make([]uint64, performanceSampleCount)
	for i := range perm {
		perm[i] = uint64(i)
	}
	shuffle(newRNG(streamSeed(seed, 0)), perm)
	return perm
}
