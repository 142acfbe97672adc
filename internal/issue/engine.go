// Package issue implements the issue engine: the common
// state machine (INIT -> WARMUP -> MEASURING -> DRAINING -> DONE/ABORTED)
// and the four scenario-specific issue loops that drive it.
package issue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mlbench/loadgen/internal/collector"
	"github.com/mlbench/loadgen/internal/corerr"
	"github.com/mlbench/loadgen/internal/latency"
	"github.com/mlbench/loadgen/internal/metrics"
	"github.com/mlbench/loadgen/internal/qsl"
	"github.com/mlbench/loadgen/internal/schedule"
	"github.com/mlbench/loadgen/internal/settings"
)

// State is the issue engine's lifecycle state.
type State int32

const (
	StateInit State = iota
	StateWarmup
	StateMeasuring
	StateDraining
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateWarmup:
		return "WARMUP"
	case StateMeasuring:
		return "MEASURING"
	case StateDraining:
		return "DRAINING"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// SUT is the surface of the system under test the issue engine drives
// directly.
type SUT interface {
	IssueQuery(ctx context.Context, queryID uint64, samples []schedule.SampleRef) error
	FlushQueries()
	ReportLatencyResults(latenciesNs []int64)
}

// Sink receives operational log lines (frame drops, drain timeouts) via
// the asynchronous detail sink.
type Sink interface {
	Emitf(tag, format string, args ...interface{})
}

// Result is returned by Run once the engine reaches DONE or ABORTED.
type Result struct {
	State   State
	Verdict latency.Verdict
	Issued  uint64
}

// Engine owns the common scheduling state shared by every scenario: a
// monotonically increasing QueryId, the outstanding-query bound, and the
// state machine itself.
type Engine struct {
	es   *settings.EffectiveSettings
	gen  *schedule.Generator
	qsl  *qsl.Controller
	coll *collector.Collector
	rec  *latency.Recorder
	sut  SUT
	sink Sink

	state       atomic.Int32
	nextQueryID atomic.Uint64
	issued      atomic.Uint64

	startNs int64
	fatal   *corerr.FatalError
}

// New constructs an Engine. The collector's ring must already be sized per
// collector.RingCapacity(es.MaxAsyncQueries).
func New(es *settings.EffectiveSettings, gen *schedule.Generator, qslCtl *qsl.Controller, coll *collector.Collector, rec *latency.Recorder, sut SUT, sink Sink) *Engine {
	e := &Engine{es: es, gen: gen, qsl: qslCtl, coll: coll, rec: rec, sut: sut, sink: sink}
	e.state.Store(int32(StateInit))
	return e
}

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	metrics.StateTransitions.WithLabelValues(s.String()).Inc()
	if e.sink != nil {
		e.sink.Emitf("state", "issue engine -> %s", s)
	}
}

func nowNs() int64 { return time.Now().UnixNano() }

func (e *Engine) elapsedNs() int64 { return nowNs() - e.startNs }

func (e *Engine) abort(err *corerr.FatalError) {
	e.fatal = err
	e.setState(StateAborted)
	if e.sink != nil {
		e.sink.Emitf("fatal", "%v", err)
	}
}

// Run drives the engine through its full lifecycle and returns the final
// Result. ctx cancellation is honored at suspension points (scheduler
// sleeps, drain waits) but the SUT itself is never cancelled mid-query
// (the SUT is assumed to finish what it started).
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.startNs = nowNs()

	e.setState(StateInit)
	if err := e.qsl.Prime(ctx); err != nil {
		e.abort(corerr.Wrap(corerr.KindInvariant, err, "qsl prime failed"))
		return e.result(), nil
	}

	e.setState(StateWarmup)
	e.rec.SetPhase(latency.PhaseWarmup)
	if e.es.Mode != settings.AccuracyOnly {
		if err := e.runWarmup(ctx); err != nil {
			e.abort(asFatal(err))
			return e.result(), nil
		}
	}

	e.setState(StateMeasuring)
	e.rec.SetPhase(latency.PhaseMeasuring)
	// Durations bound the MEASURING window only; warmup and initial load
	// time never count toward min_duration.
	e.startNs = nowNs()
	if err := e.runScenario(ctx); err != nil {
		e.abort(asFatal(err))
		return e.result(), nil
	}

	e.setState(StateDraining)
	e.rec.SetPhase(latency.PhaseDraining)
	e.sut.FlushQueries()
	if err := e.drain(ctx); err != nil {
		e.abort(asFatal(err))
		return e.result(), nil
	}

	e.setState(StateDone)
	e.sut.ReportLatencyResults(e.rec.Samples())
	if err := e.qsl.Teardown(ctx); err != nil && e.sink != nil {
		e.sink.Emitf("error", "qsl teardown failed: %v", err)
	}
	return e.result(), nil
}

func asFatal(err error) *corerr.FatalError {
	if fe, ok := err.(*corerr.FatalError); ok {
		return fe
	}
	return corerr.Wrap(corerr.KindInvariant, err, "unexpected engine error")
}

func (e *Engine) result() *Result {
	aborted := e.State() == StateAborted
	stats := e.rec.Compute(e.es.TargetLatencyPercentile)
	// Offline's duration requirement is satisfied by sizing the coalesced
	// query from min_duration * target_qps; once issued there is nothing
	// further to enforce.
	durationsMet := e.es.Scenario == settings.Offline || e.elapsedNs() >= e.es.MinDurationNs
	verdict := latency.Decide(e.es, stats, latency.RunFacts{DurationsMet: durationsMet, Aborted: aborted})
	return &Result{State: e.State(), Verdict: verdict, Issued: e.issued.Load()}
}

// Snapshot is a point-in-time view of the run for the dashboard. It is
// read-only and safe to call from any goroutine while the run progresses.
type Snapshot struct {
	State       string
	Issued      uint64
	Outstanding int64
	Stats       latency.Stats
}

// Snapshot computes the current Snapshot. Percentiles are computed over a
// copy of the samples recorded so far, off the hot path.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		State:       e.State().String(),
		Issued:      e.issued.Load(),
		Outstanding: e.coll.Outstanding(),
		Stats:       e.rec.Compute(e.es.TargetLatencyPercentile),
	}
}

// runWarmup issues a single query outside the schedule's own counters and
// blocks until it completes.
func (e *Engine) runWarmup(ctx context.Context) error {
	sq := e.gen.QueryAt(0)
	queryID := e.nextQueryID.Add(1) - 1
	sampleIDs := sampleIDsOf(sq.Samples)

	done := e.coll.Publish(queryID, nowNs(), sampleIDs)
	if err := e.sut.IssueQuery(ctx, queryID, sq.Samples); err != nil {
		return corerr.Wrap(corerr.KindInvariant, err, "warmup query issue failed")
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return corerr.Wrap(corerr.KindTimeout, ctx.Err(), "warmup interrupted")
	case <-time.After(warmupGrace(e.es)):
		return corerr.New(corerr.KindTimeout, "warmup query did not complete within grace window")
	}
}

func warmupGrace(es *settings.EffectiveSettings) time.Duration {
	if es.TargetLatencyNs > 0 {
		return 10 * time.Duration(es.TargetLatencyNs)
	}
	return 10 * time.Second
}

// shouldDrain decides the MEASURING -> DRAINING transition.
func (e *Engine) shouldDrain(elapsedNs int64, issued uint64) bool {
	minMet := elapsedNs >= e.es.MinDurationNs && issued >= e.es.MinQueryCount
	maxDuration := e.es.MaxDurationNs > 0 && elapsedNs >= e.es.MaxDurationNs
	maxQueries := e.es.MaxQueryCount > 0 && issued >= e.es.MaxQueryCount
	return minMet || maxDuration || maxQueries
}

func (e *Engine) runScenario(ctx context.Context) error {
	switch e.es.Scenario {
	case settings.SingleStream:
		return e.runSingleStream(ctx)
	case settings.MultiStream:
		return e.runMultiStream(ctx, false)
	case settings.MultiStreamFree:
		return e.runMultiStream(ctx, true)
	case settings.Server:
		return e.runServer(ctx)
	case settings.Offline:
		return e.runOffline(ctx)
	}
	return corerr.New(corerr.KindInvariant, "unknown scenario")
}

func (e *Engine) drain(ctx context.Context) error {
	grace := 10 * time.Duration(e.es.TargetLatencyNs)
	if grace <= 0 {
		grace = 10 * time.Second
	}
	deadline := time.After(grace)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if e.coll.Outstanding() == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return corerr.New(corerr.KindTimeout, "drain did not complete within grace window (%s)", grace)
		case <-ctx.Done():
			return corerr.Wrap(corerr.KindTimeout, ctx.Err(), "drain interrupted")
		}
	}
}

func sampleIDsOf(samples []schedule.SampleRef) []uint64 {
	out := make([]uint64, len(samples))
	for i, s := range samples {
		out[i] = s.SampleID
	}
	return out
}
