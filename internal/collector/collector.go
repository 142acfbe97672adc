// Package collector implements the completion collector: it receives
// completion events from arbitrary SUT threads, pairs
// them with issue records via QueryId, emits latency samples to the
// recorder, and releases fully-completed queries back to the ring.
package collector

import (
	"sync"
	"sync/atomic"

	"github.com/mlbench/loadgen/internal/accuracy"
	"github.com/mlbench/loadgen/internal/corerr"
	"github.com/mlbench/loadgen/internal/latency"
	"github.com/mlbench/loadgen/internal/metrics"
)

// Response is one sample's completion payload as delivered by the SUT:
// the sample id plus the (opaque) response bytes, read only when the
// accuracy-log sampler selects the sample.
type Response struct {
	SampleID uint64
	Data     []byte
}

// ReleaseHook observes a query's full completion, off the per-sample hot
// path: it fires once per query, after the last sample completes. Used to
// wire tracing spans and dashboard counters without coupling the collector
// to either.
type ReleaseHook func(rec *Record, tCompleteNs int64)

// AccuracySink receives the sampled accuracy-log lines.
type AccuracySink interface {
	Emitf(tag, format string, args ...interface{})
}

// Collector is the concurrent-safe completion path. Lookups are lock-free
// on the critical path; only query creation/release touch a
// small bookkeeping mutex for the done-channel map, which is sized to the
// outstanding-query bound and therefore cheap in practice.
type Collector struct {
	ring     *ring
	recorder *latency.Recorder

	outstanding atomic.Int64

	mu   sync.Mutex
	done map[uint64]chan struct{}

	onFatal   func(error)
	onRelease ReleaseHook

	accSampler *accuracy.Sampler
	accSink    AccuracySink
}

// New constructs a Collector. ringCapacity must be >= max_async_queries +
// slack; callers typically pass
// RingCapacity(maxAsyncQueries).
func New(recorder *latency.Recorder, ringCapacity uint64, onFatal func(error)) *Collector {
	if onFatal == nil {
		onFatal = func(error) {}
	}
	return &Collector{
		ring:     newRing(ringCapacity),
		recorder: recorder,
		done:     make(map[uint64]chan struct{}),
		onFatal:  onFatal,
	}
}

// RingCapacity derives a ring size with slack for a given max outstanding
// queries bound. -1 (unbounded, Server/Offline) is mapped to a generously
// large default since those scenarios' actual outstanding count is bounded
// by SUT throughput in practice, not by the settings themselves.
func RingCapacity(maxAsyncQueries int64) uint64 {
	const slack = 64
	if maxAsyncQueries <= 0 {
		return 4096
	}
	size := uint64(maxAsyncQueries) + slack
	return nextPow2(size)
}

func nextPow2(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// SetReleaseHook installs fn to run once per fully-completed query. Must be
// called before any query is published.
func (c *Collector) SetReleaseHook(fn ReleaseHook) { c.onRelease = fn }

// SetAccuracyLog enables accuracy-log sampling of response payloads.
// Must be called before any query is published.
func (c *Collector) SetAccuracyLog(s *accuracy.Sampler, sink AccuracySink) {
	c.accSampler = s
	c.accSink = sink
}

// Publish registers a newly-issued query. Returns a channel closed once the
// query's last sample completes, for scenarios (SingleStream) whose issue
// loop must block on completion.
func (c *Collector) Publish(queryID uint64, issueTimeNs int64, sampleIDs []uint64) <-chan struct{} {
	rec := &Record{
		QueryID:     queryID,
		IssueTimeNs: issueTimeNs,
		SampleCount: len(sampleIDs),
		SampleIDs:   sampleIDs,
	}
	ch := make(chan struct{})

	c.mu.Lock()
	c.done[queryID] = ch
	c.mu.Unlock()

	if !c.ring.Publish(rec) {
		c.onFatal(corerr.New(corerr.KindInvariant,
			"ring slot for query %d still occupied: max_async_queries bound exceeded", queryID))
		close(ch)
		return ch
	}
	c.outstanding.Add(1)
	metrics.OutstandingQueries.Inc()
	return ch
}

// Outstanding returns the number of queries currently awaiting completion.
func (c *Collector) Outstanding() int64 { return c.outstanding.Load() }

// CompleteSample is the completion callback contract:
// the SUT (or its stub) calls this once per sample in a completed query,
// from any thread, in any order. tCompleteNs is the monotonic timestamp
// captured at the first line of the real callback.
func (c *Collector) CompleteSample(queryID uint64, tCompleteNs int64) {
	rec := c.ring.Lookup(queryID)
	if rec == nil {
		c.onFatal(corerr.New(corerr.KindInvariant, "completion for unknown QueryId %d", queryID))
		return
	}

	latencyNs := tCompleteNs - rec.IssueTimeNs
	c.recorder.Record(latencyNs)
	c.recorder.NoteCompletionTime(tCompleteNs)
	metrics.SamplesCompleted.Inc()
	metrics.SampleLatencySeconds.Observe(float64(latencyNs) / 1e9)

	if rec.completedCount.Add(1) == int32(rec.SampleCount) {
		c.ring.Release(queryID)
		c.outstanding.Add(-1)
		metrics.OutstandingQueries.Dec()

		c.mu.Lock()
		ch := c.done[queryID]
		delete(c.done, queryID)
		c.mu.Unlock()
		if ch != nil {
			close(ch)
		}
		if c.onRelease != nil {
			c.onRelease(rec, tCompleteNs)
		}
	}
}

// QuerySamplesComplete is the batch form of the completion callback: one
// call per completed query carrying every sample's response payload.
// Response data is consulted only by accuracy-log sampling; its contents
// never influence latency accounting.
func (c *Collector) QuerySamplesComplete(queryID uint64, responses []Response, tCompleteNs int64) {
	for _, resp := range responses {
		if c.accSampler != nil && c.accSink != nil && c.accSampler.ShouldLog(queryID, resp.SampleID) {
			c.accSink.Emitf("accuracy", "query=%d sample=%d data=%x", queryID, resp.SampleID, resp.Data)
		}
		c.CompleteSample(queryID, tCompleteNs)
	}
}
