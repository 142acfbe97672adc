package issue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlbench/loadgen/internal/collector"
	"github.com/mlbench/loadgen/internal/config"
	"github.com/mlbench/loadgen/internal/issue"
	"github.com/mlbench/loadgen/internal/latency"
	"github.com/mlbench/loadgen/internal/qsl"
	"github.com/mlbench/loadgen/internal/schedule"
	"github.com/mlbench/loadgen/internal/settings"
	"github.com/mlbench/loadgen/internal/sut"
)

type captureSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *captureSink) Emitf(tag, format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, tag+": "+fmt.Sprintf(format, args...))
}

func (s *captureSink) countTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.lines {
		if len(l) >= len(tag) && l[:len(tag)] == tag {
			n++
		}
	}
	return n
}

type harness struct {
	es     *settings.EffectiveSettings
	engine *issue.Engine
	stub   *sut.Stub
	rec    *latency.Recorder
	sink   *captureSink
}

func newHarness(t *testing.T, rs *config.RequestedSettings, perfSamples uint64, capacity uint64, opts ...sut.Option) *harness {
	t.Helper()
	sink := &captureSink{}

	es, err := settings.Resolve(rs, perfSamples, sink)
	require.NoError(t, err)

	lib := qsl.NewInProcessLibrary(perfSamples*2, perfSamples)
	rec := latency.New(capacity)
	coll := collector.New(rec, collector.RingCapacity(es.MaxAsyncQueries), func(err error) {
		t.Errorf("unexpected fatal: %v", err)
	})
	stub := sut.New(coll, nil, opts...)
	engine := issue.New(es, schedule.New(es), qsl.New(lib, es, schedule.New(es)), coll, rec, stub, sink)

	return &harness{es: es, engine: engine, stub: stub, rec: rec, sink: sink}
}

func TestSingleStreamEndToEnd(t *testing.T) {
	rs := &config.RequestedSettings{
		Scenario:                            config.ScenarioSingleStream,
		Mode:                                config.ModePerformanceOnly,
		SingleStreamExpectedLatencyNs:       int64(2 * time.Millisecond),
		SingleStreamTargetLatencyPercentile: 0.99,
		MinDuration:                         50 * time.Millisecond,
		MinQueryCount:                       200,
		QSLRngSeed:                          1,
		SampleIndexRngSeed:                  2,
		ScheduleRngSeed:                     3,
	}

	h := newHarness(t, rs, 128, 1024, sut.WithLatency(500*time.Microsecond))
	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, issue.StateDone, res.State)
	assert.True(t, res.Verdict.Pass, "stats: %+v", res.Verdict.Stats)
	assert.GreaterOrEqual(t, res.Issued, uint64(200))

	st := res.Verdict.Stats
	assert.GreaterOrEqual(t, st.Count, 200)
	// The stub sleeps 500us per query; the observed 99th percentile should
	// sit near that, comfortably under the 2ms target.
	assert.GreaterOrEqual(t, st.P99, int64(500*time.Microsecond))
	assert.Less(t, st.P99, int64(2*time.Millisecond))

	// The final latency vector reaches the SUT at DONE.
	assert.Len(t, h.stub.Reported(), st.Count)
}

func TestServerMeetsLatencyTarget(t *testing.T) {
	rs := &config.RequestedSettings{
		Scenario:                      config.ScenarioServer,
		Mode:                          config.ModePerformanceOnly,
		ServerTargetQPS:               500,
		ServerTargetLatencyNs:         int64(20 * time.Millisecond),
		ServerTargetLatencyPercentile: 0.99,
		MinDuration:                   300 * time.Millisecond,
		MinQueryCount:                 50,
		QSLRngSeed:                    1,
		SampleIndexRngSeed:            2,
		ScheduleRngSeed:               3,
	}

	h := newHarness(t, rs, 256, 4096, sut.WithLatency(2*time.Millisecond))
	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, issue.StateDone, res.State)
	assert.True(t, res.Verdict.Pass, "stats: %+v", res.Verdict.Stats)
	assert.GreaterOrEqual(t, res.Verdict.Stats.Count, 50)
	assert.Less(t, res.Verdict.Stats.P99, int64(20*time.Millisecond))
}

func TestServerOverloadedFails(t *testing.T) {
	rs := &config.RequestedSettings{
		Scenario:                      config.ScenarioServer,
		Mode:                          config.ModePerformanceOnly,
		ServerTargetQPS:               200,
		ServerTargetLatencyNs:         int64(5 * time.Millisecond),
		ServerTargetLatencyPercentile: 0.99,
		MinDuration:                   200 * time.Millisecond,
		MinQueryCount:                 20,
		QSLRngSeed:                    1,
		SampleIndexRngSeed:            2,
		ScheduleRngSeed:               3,
	}

	h := newHarness(t, rs, 128, 2048, sut.WithLatency(20*time.Millisecond))
	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, issue.StateDone, res.State)
	assert.False(t, res.Verdict.Pass)
	assert.Greater(t, res.Verdict.Stats.TargetPercentileValue, int64(5*time.Millisecond))
}

func TestOfflineCoalescedRun(t *testing.T) {
	rs := &config.RequestedSettings{
		Scenario:           config.ScenarioOffline,
		Mode:               config.ModePerformanceOnly,
		OfflineExpectedQPS: 2000,
		MinDuration:        time.Second,
		MinQueryCount:      1,
		QSLRngSeed:         1,
		SampleIndexRngSeed: 2,
		ScheduleRngSeed:    3,
	}

	h := newHarness(t, rs, 256, 8192, sut.WithLatency(time.Millisecond))
	require.EqualValues(t, 2200, h.es.SamplesPerQuery) // ceil(1.1 * 1s * 2000)

	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, issue.StateDone, res.State)
	assert.EqualValues(t, 1, res.Issued)
	assert.Equal(t, 2200, res.Verdict.Stats.Count)
	// 2200 samples completing ~1ms after a single issue dwarf the 2000 qps
	// target.
	assert.True(t, res.Verdict.Pass, "stats: %+v", res.Verdict.Stats)
}

func TestMultiStreamIssuesAtPeriodBoundaries(t *testing.T) {
	rs := &config.RequestedSettings{
		Scenario:                           config.ScenarioMultiStream,
		Mode:                               config.ModePerformanceOnly,
		MultiStreamTargetQPS:               100,
		MultiStreamTargetLatencyNs:         int64(50 * time.Millisecond),
		MultiStreamMaxAsyncQueries:         4,
		MultiStreamTargetLatencyPercentile: 0.99,
		MultiStreamSamplesPerQuery:         4,
		MinDuration:                        200 * time.Millisecond,
		MinQueryCount:                      20,
		QSLRngSeed:                         1,
		SampleIndexRngSeed:                 2,
		ScheduleRngSeed:                    3,
	}

	h := newHarness(t, rs, 128, 2048, sut.WithLatency(time.Millisecond))
	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, issue.StateDone, res.State)
	// 100 qps over a 200ms minimum window: the loop stops at the first
	// boundary where both minimums hold.
	assert.GreaterOrEqual(t, res.Issued, uint64(20))
	assert.LessOrEqual(t, res.Issued, uint64(23))
	assert.Equal(t, int(res.Issued)*4, res.Verdict.Stats.Count)
	assert.True(t, res.Verdict.Pass, "stats: %+v", res.Verdict.Stats)
}

func TestMultiStreamDropsFramesWhenSaturated(t *testing.T) {
	rs := &config.RequestedSettings{
		Scenario:                           config.ScenarioMultiStream,
		Mode:                               config.ModePerformanceOnly,
		MultiStreamTargetQPS:               200,
		MultiStreamTargetLatencyNs:         int64(20 * time.Millisecond),
		MultiStreamMaxAsyncQueries:         1,
		MultiStreamTargetLatencyPercentile: 0.9,
		MultiStreamSamplesPerQuery:         2,
		MinDuration:                        150 * time.Millisecond,
		MinQueryCount:                      4,
		QSLRngSeed:                         1,
		SampleIndexRngSeed:                 2,
		ScheduleRngSeed:                    3,
	}

	// 50ms service time against a 5ms period: most boundaries find the
	// previous query still outstanding.
	h := newHarness(t, rs, 64, 1024, sut.WithLatency(50*time.Millisecond))
	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, issue.StateDone, res.State)
	assert.Greater(t, h.sink.countTag("frame_drop"), 0)
	// Frame drops keep real time: far fewer queries than period boundaries.
	assert.Less(t, res.Issued, uint64(20))
}

func TestPerformanceIssueUniqueIssuesEachSampleOnce(t *testing.T) {
	rs := &config.RequestedSettings{
		Scenario:               config.ScenarioOffline,
		Mode:                   config.ModePerformanceOnly,
		OfflineExpectedQPS:     1000,
		MinQueryCount:          1,
		PerformanceIssueUnique: true,
		QSLRngSeed:             1,
		SampleIndexRngSeed:     2,
		ScheduleRngSeed:        3,
	}

	h := newHarness(t, rs, 2048, 8192, sut.WithLatency(time.Millisecond))
	require.EqualValues(t, 2048, h.es.SamplesPerQuery)

	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, issue.StateDone, res.State)
	assert.Equal(t, 2048, res.Verdict.Stats.Count)

	gen := schedule.New(h.es)
	seen := make(map[uint64]int)
	for _, s := range gen.Next().Samples {
		seen[s.SampleIndex]++
	}
	require.Len(t, seen, 2048)
	for idx, n := range seen {
		require.Equal(t, 1, n, "sample %d issued %d times", idx, n)
	}
}

func TestAccuracyModeSkipsWarmup(t *testing.T) {
	rs := &config.RequestedSettings{
		Scenario:                            config.ScenarioSingleStream,
		Mode:                                config.ModeAccuracyOnly,
		SingleStreamExpectedLatencyNs:       int64(time.Millisecond),
		SingleStreamTargetLatencyPercentile: 0.99,
		MinDuration:                         10 * time.Millisecond,
		MinQueryCount:                       5,
		QSLRngSeed:                          1,
		SampleIndexRngSeed:                  2,
		ScheduleRngSeed:                     3,
	}

	h := newHarness(t, rs, 64, 256, sut.WithLatency(100*time.Microsecond))
	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, issue.StateDone, res.State)
	// Without a warmup query, every recorded sample came from a measured
	// query: counts line up exactly with issuance.
	assert.Equal(t, int(res.Issued), res.Verdict.Stats.Count)
}
