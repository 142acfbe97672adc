// Package sut provides the in-process reference SUT used by the benchmark
// binary's self-test mode and by the integration tests. It responds to
// every sample after a configurable (optionally jittered) service latency,
// completing on its own worker goroutines so completions reach the
// collector from threads other than the issue scheduler, in arbitrary
// order, the way a real serving stack's would.
package sut

import (
	"context"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/mlbench/loadgen/internal/collector"
	"github.com/mlbench/loadgen/internal/schedule"
	"github.com/mlbench/loadgen/pkg/logger"
)

// Option configures a Stub.
type Option func(*Stub)

// WithLatency sets the constant service latency per query.
func WithLatency(d time.Duration) Option {
	return func(s *Stub) { s.latency = d }
}

// WithJitter adds a uniform random jitter in [0, d) on top of the base
// latency, drawn from a seeded source so runs stay reproducible.
func WithJitter(d time.Duration, seed int64) Option {
	return func(s *Stub) {
		s.jitter = d
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// WithSynchronousCompletion makes IssueQuery block until the query has
// completed instead of completing on a worker goroutine. Useful for tests
// that want deterministic interleaving.
func WithSynchronousCompletion() Option {
	return func(s *Stub) { s.sync = true }
}

// Stub is a reference system under test.
type Stub struct {
	coll *collector.Collector
	log  logger.Logger

	latency time.Duration
	jitter  time.Duration
	sync    bool

	mu  sync.Mutex
	rng *rand.Rand

	wg       sync.WaitGroup
	reported []int64
}

// New constructs a Stub completing queries into coll.
func New(coll *collector.Collector, log logger.Logger, opts ...Option) *Stub {
	s := &Stub{coll: coll, log: log, latency: 500 * time.Microsecond}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Stub) serviceTime() time.Duration {
	d := s.latency
	if s.jitter > 0 {
		s.mu.Lock()
		d += time.Duration(s.rng.Int63n(int64(s.jitter)))
		s.mu.Unlock()
	}
	return d
}

// IssueQuery accepts a query and schedules its completion. The response
// payload for each sample is its sample id, little-endian, standing in for
// real inference output.
func (s *Stub) IssueQuery(_ context.Context, queryID uint64, samples []schedule.SampleRef) error {
	d := s.serviceTime()
	respond := func() {
		time.Sleep(d)
		tComplete := time.Now().UnixNano()
		responses := make([]collector.Response, len(samples))
		for i, sample := range samples {
			data := make([]byte, 8)
			binary.LittleEndian.PutUint64(data, sample.SampleID)
			responses[i] = collector.Response{SampleID: sample.SampleID, Data: data}
		}
		s.coll.QuerySamplesComplete(queryID, responses, tComplete)
	}

	if s.sync {
		respond()
		return nil
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		respond()
	}()
	return nil
}

// FlushQueries waits for every in-flight completion worker to finish.
func (s *Stub) FlushQueries() {
	s.wg.Wait()
}

// ReportLatencyResults stores the final latency vector for inspection.
func (s *Stub) ReportLatencyResults(latenciesNs []int64) {
	s.mu.Lock()
	s.reported = latenciesNs
	s.mu.Unlock()
	if s.log != nil {
		s.log.Info("latency results reported", "samples", len(latenciesNs))
	}
}

// Reported returns the latency vector handed to ReportLatencyResults.
func (s *Stub) Reported() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reported
}
