// Package latency implements the latency recorder and percentile engine:
// it accumulates per-sample nanosecond latencies recorded
// only while the engine is in MEASURING, then computes percentile
// statistics and the scenario's pass/fail decision at DONE.
package latency

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Phase gates whether Record appends a sample. Only MEASURING samples
// count; WARMUP samples are discarded.
type Phase int32

const (
	PhaseWarmup Phase = iota
	PhaseMeasuring
	PhaseDraining
)

// Recorder accumulates latency samples into a pre-allocated slice sized for
// max_query_count * samples_per_query. It is
// safe for concurrent Record calls from multiple completion workers; each
// append takes a single
// mutex sized to hold only for the slice append itself.
type Recorder struct {
	phase atomic.Int32

	mu      sync.Mutex
	samples []int64

	firstIssueNs   atomic.Int64
	lastIssueNs    atomic.Int64
	lastCompleteNs atomic.Int64
}

// New preallocates a Recorder for up to capacity samples.
func New(capacity uint64) *Recorder {
	r := &Recorder{samples: make([]int64, 0, capacity)}
	r.phase.Store(int32(PhaseWarmup))
	r.firstIssueNs.Store(-1)
	return r
}

// SetPhase transitions which phase Record currently treats samples as
// belonging to. Called by the issue engine on its own state transitions.
func (r *Recorder) SetPhase(p Phase) { r.phase.Store(int32(p)) }

// Phase returns the current recording phase.
func (r *Recorder) Phase() Phase { return Phase(r.phase.Load()) }

// Record appends latencyNs unless the run is still warming up. Completions
// that land during DRAINING belong to queries issued while MEASURING and
// count; only WARMUP samples are discarded.
func (r *Recorder) Record(latencyNs int64) {
	if Phase(r.phase.Load()) == PhaseWarmup {
		return
	}
	r.mu.Lock()
	r.samples = append(r.samples, latencyNs)
	r.mu.Unlock()
}

// NoteIssueTime records the timestamp of an issued query for the QPS
// calculation (N / (t_last_issue - t_first_issue)).
func (r *Recorder) NoteIssueTime(tNs int64) {
	for {
		first := r.firstIssueNs.Load()
		if first != -1 {
			break
		}
		if r.firstIssueNs.CompareAndSwap(-1, tNs) {
			break
		}
	}
	for {
		last := r.lastIssueNs.Load()
		if tNs <= last {
			break
		}
		if r.lastIssueNs.CompareAndSwap(last, tNs) {
			break
		}
	}
}

// NoteCompletionTime tracks the latest completion timestamp. It feeds the
// QPS fallback for single-query runs (Offline), where first and last issue
// coincide and the issue window alone cannot define a rate.
func (r *Recorder) NoteCompletionTime(tNs int64) {
	for {
		last := r.lastCompleteNs.Load()
		if tNs <= last {
			return
		}
		if r.lastCompleteNs.CompareAndSwap(last, tNs) {
			return
		}
	}
}

// Count returns the number of recorded MEASURING-phase samples so far.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Samples returns a copy of the accumulated samples, in completion order.
// Handed to the SUT's ReportLatencyResults hook at DONE.
func (r *Recorder) Samples() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.samples...)
}

// Stats is the full set of statistics reported at run end.
type Stats struct {
	Count                 int
	Min, Max, Mean        int64
	P50, P90, P95, P99    int64
	TargetPercentileValue int64
	TargetPercentile      float64
	QPS                   float64
}

// Compute sorts a copy of the accumulated samples and derives Stats,
// including the observed value at targetPercentile using the nearest-rank
// method: index ceil(p*N)-1.
func (r *Recorder) Compute(targetPercentile float64) Stats {
	r.mu.Lock()
	sorted := append([]int64(nil), r.samples...)
	r.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	st := Stats{Count: n, TargetPercentile: targetPercentile}
	if n == 0 {
		return st
	}

	st.Min = sorted[0]
	st.Max = sorted[n-1]

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	st.Mean = sum / int64(n)

	st.P50 = percentile(sorted, 0.50)
	st.P90 = percentile(sorted, 0.90)
	st.P95 = percentile(sorted, 0.95)
	st.P99 = percentile(sorted, 0.99)
	st.TargetPercentileValue = percentile(sorted, targetPercentile)

	first := r.firstIssueNs.Load()
	last := r.lastIssueNs.Load()
	if last <= first {
		// Single-query runs (Offline): measure the rate over the span from
		// issue to the last completion instead.
		last = r.lastCompleteNs.Load()
	}
	if first >= 0 && last > first {
		elapsedSeconds := float64(last-first) / 1e9
		st.QPS = float64(n) / elapsedSeconds
	}

	return st
}

// percentile applies the nearest-rank method: index ceil(p*N)-1 on a
// 1-indexed rank, clamped into range.
func percentile(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
