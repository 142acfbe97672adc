package issue

import (
	"context"
	"time"

	"github.com/mlbench/loadgen/internal/corerr"
	"github.com/mlbench/loadgen/internal/metrics"
	"github.com/mlbench/loadgen/internal/schedule"
)

// issueQuery allocates the next QueryId, publishes the issue record, and
// hands the query to the SUT. The returned channel closes once the query's
// last sample completes.
func (e *Engine) issueQuery(ctx context.Context, samples []schedule.SampleRef) (<-chan struct{}, error) {
	queryID := e.nextQueryID.Add(1) - 1
	tIssue := nowNs()
	done := e.coll.Publish(queryID, tIssue, sampleIDsOf(samples))
	e.rec.NoteIssueTime(tIssue)
	metrics.QueriesIssued.WithLabelValues(e.es.Scenario.String()).Inc()
	if err := e.sut.IssueQuery(ctx, queryID, samples); err != nil {
		return nil, corerr.Wrap(corerr.KindInvariant, err, "query %d issue failed", queryID)
	}
	e.issued.Add(1)
	return done, nil
}

// sleepUntil blocks until the monotonic clock reaches targetNs, capped at
// the max_duration deadline so a long inter-arrival gap cannot overshoot
// the run's hard stop.
func (e *Engine) sleepUntil(ctx context.Context, targetNs int64) error {
	if e.es.MaxDurationNs > 0 {
		if deadline := e.startNs + e.es.MaxDurationNs; targetNs > deadline {
			targetNs = deadline
		}
	}
	for {
		d := targetNs - nowNs()
		if d <= 0 {
			return nil
		}
		t := time.NewTimer(time.Duration(d))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return corerr.Wrap(corerr.KindTimeout, ctx.Err(), "scheduler sleep interrupted")
		}
	}
}

// runSingleStream issues one query at a time, blocking on each completion
// before issuing the next. The next issue time is never pre-scheduled; it
// is defined by the completion of the previous query.
func (e *Engine) runSingleStream(ctx context.Context) error {
	for {
		if e.shouldDrain(e.elapsedNs(), e.issued.Load()) {
			return nil
		}
		sq := e.gen.Next()
		done, err := e.issueQuery(ctx, sq.Samples)
		if err != nil {
			return err
		}
		select {
		case <-done:
		case <-ctx.Done():
			return corerr.Wrap(corerr.KindTimeout, ctx.Err(), "single stream wait interrupted")
		}
	}
}

// runMultiStream issues one query of samples_per_query samples at each
// period boundary (k / target_qps). If issuing would exceed
// max_async_queries, the frame is dropped and logged; real time is never
// blocked. In free-run mode the next issue additionally waits for the
// previous query's completion, so the effective issue time is
// max(completion_of_prev, period_boundary).
func (e *Engine) runMultiStream(ctx context.Context, free bool) error {
	var prevDone <-chan struct{}
	for {
		if e.shouldDrain(e.elapsedNs(), e.issued.Load()) {
			return nil
		}
		sq := e.gen.Next()
		if err := e.sleepUntil(ctx, e.startNs+sq.IssueTimeNs); err != nil {
			return err
		}
		if free && prevDone != nil {
			select {
			case <-prevDone:
			case <-ctx.Done():
				return corerr.Wrap(corerr.KindTimeout, ctx.Err(), "multi stream wait interrupted")
			}
		}
		if !free && e.es.MaxAsyncQueries > 0 && e.coll.Outstanding() >= e.es.MaxAsyncQueries {
			metrics.FrameDrops.WithLabelValues(e.es.Scenario.String()).Inc()
			if e.sink != nil {
				e.sink.Emitf("frame_drop", "query %d dropped: %d queries outstanding at period boundary",
					sq.QueryIndex, e.coll.Outstanding())
			}
			continue
		}
		if err := e.qsl.Advance(ctx, sq.QueryIndex); err != nil {
			return corerr.Wrap(corerr.KindInvariant, err, "qsl advance failed at query %d", sq.QueryIndex)
		}
		done, err := e.issueQuery(ctx, sq.Samples)
		if err != nil {
			return err
		}
		prevDone = done
	}
}

// runServer walks the pre-computed Poisson schedule, sleeping to each
// arrival time and issuing. With server_coalesce_queries set, scheduled
// queries whose target time has already passed are merged into the next
// issued batch instead of being issued late one by one.
func (e *Engine) runServer(ctx context.Context) error {
	var carry *schedule.ScheduledQuery
	for {
		if e.shouldDrain(e.elapsedNs(), e.issued.Load()) {
			return nil
		}

		var sq schedule.ScheduledQuery
		if carry != nil {
			sq, carry = *carry, nil
		} else {
			sq = e.gen.Next()
		}

		if err := e.sleepUntil(ctx, e.startNs+sq.IssueTimeNs); err != nil {
			return err
		}

		samples := sq.Samples
		if e.es.ServerCoalesceQueries {
			merged := false
			for {
				next := e.gen.Next()
				if e.startNs+next.IssueTimeNs > nowNs() {
					carry = &next
					break
				}
				if !merged {
					samples = append([]schedule.SampleRef(nil), samples...)
					merged = true
				}
				samples = append(samples, next.Samples...)
			}
		}

		if err := e.qsl.Advance(ctx, sq.QueryIndex); err != nil {
			return corerr.Wrap(corerr.KindInvariant, err, "qsl advance failed at query %d", sq.QueryIndex)
		}
		if _, err := e.issueQuery(ctx, samples); err != nil {
			return err
		}
	}
}

// runOffline issues the single coalesced query at t=0 and returns; the
// DRAINING phase waits for its completion.
func (e *Engine) runOffline(ctx context.Context) error {
	sq := e.gen.Next()
	_, err := e.issueQuery(ctx, sq.Samples)
	return err
}
