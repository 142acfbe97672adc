// Package settings implements the settings resolver: it
// validates a RequestedSettings and derives the immutable EffectiveSettings
// plan that every other core component treats as read-only ground truth.
package settings

import (
	"fmt"
	"math"

	"github.com/mlbench/loadgen/internal/config"
	"github.com/mlbench/loadgen/internal/corerr"
)

// Scenario is the traffic pattern, dispatched as a tagged variant at the
// issue-engine boundary.
type Scenario int

const (
	SingleStream Scenario = iota
	MultiStream
	MultiStreamFree
	Server
	Offline
)

// String renders the scenario labels used in the summary and detail logs.
func (s Scenario) String() string {
	switch s {
	case SingleStream:
		return "Single Stream"
	case MultiStream:
		return "Multi Stream"
	case MultiStreamFree:
		return "Multi Stream Free"
	case Server:
		return "Server"
	case Offline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// Mode is what the run is for. The log labels are abbreviated ("Accuracy"
// for AccuracyOnly, "Performance" for PerformanceOnly), matching the
// established MLPerf log format.
type Mode int

const (
	Submission Mode = iota
	AccuracyOnly
	PerformanceOnly
	FindPeakPerformance
)

func (m Mode) String() string {
	switch m {
	case Submission:
		return "Submission"
	case AccuracyOnly:
		return "Accuracy"
	case PerformanceOnly:
		return "Performance"
	case FindPeakPerformance:
		return "Find Peak Performance"
	default:
		return "Unknown"
	}
}

func scenarioFromConfig(s config.Scenario) (Scenario, error) {
	switch s {
	case config.ScenarioSingleStream:
		return SingleStream, nil
	case config.ScenarioMultiStream:
		return MultiStream, nil
	case config.ScenarioMultiStreamFree:
		return MultiStreamFree, nil
	case config.ScenarioServer:
		return Server, nil
	case config.ScenarioOffline:
		return Offline, nil
	default:
		return 0, fmt.Errorf("unknown scenario %q", s)
	}
}

func modeFromConfig(m config.Mode) (Mode, error) {
	switch m {
	case config.ModeSubmission:
		return Submission, nil
	case config.ModeAccuracyOnly:
		return AccuracyOnly, nil
	case config.ModePerformanceOnly:
		return PerformanceOnly, nil
	case config.ModeFindPeakPerformance:
		return FindPeakPerformance, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", m)
	}
}

// EffectiveSettings is the immutable plan derived from RequestedSettings.
// Every field here is load-bearing for at least one other core component.
type EffectiveSettings struct {
	Scenario Scenario
	Mode     Mode

	SamplesPerQuery uint64
	TargetQPS       float64

	TargetLatencyNs         int64
	TargetLatencyPercentile float64
	MaxAsyncQueries         int64 // -1 means unbounded
	ServerCoalesceQueries   bool

	MinDurationNs int64
	MaxDurationNs int64

	MinQueryCount  uint64
	MaxQueryCount  uint64
	MinSampleCount uint64

	PerformanceSampleCount uint64

	QSLRngSeed         uint64
	SampleIndexRngSeed uint64
	ScheduleRngSeed    uint64
	AccuracyLogRngSeed uint64

	AccuracyLogProbability float64

	PerformanceIssueUnique    bool
	PerformanceIssueSame      bool
	PerformanceIssueSameIndex uint64
}

// DetailSink receives the requested/effective settings log events plus
// configuration-error fallback notices, all asynchronously.
type DetailSink interface {
	Emitf(tag, format string, args ...interface{})
}

// unboundedAsyncQueries is the internal representation of "max_async_queries
// == infinity" for Server and Offline scenarios.
const unboundedAsyncQueries = -1

// offlineSlack pads the Offline sample-count target so the coalesced query
// cannot undershoot min_duration at the expected QPS.
const offlineSlack = 1.1

// Resolve derives EffectiveSettings from rs. performanceSampleCount is the
// sample
// library's own count, used unless rs.PerformanceSampleCountOverride is
// non-zero. Configuration errors are logged to sink and recovered from with
// a documented fallback; invariant violations return a *corerr.FatalError.
func Resolve(rs *config.RequestedSettings, performanceSampleCount uint64, sink DetailSink) (*EffectiveSettings, error) {
	if rs.PerformanceIssueSame && rs.PerformanceIssueUnique {
		return nil, corerr.New(corerr.KindInvariant,
			"performance_issue_same and performance_issue_unique are mutually exclusive")
	}

	scenario, err := scenarioFromConfig(rs.Scenario)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInvariant, err, "invalid scenario")
	}
	mode, err := modeFromConfig(rs.Mode)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInvariant, err, "invalid mode")
	}

	es := &EffectiveSettings{
		Scenario: scenario,
		Mode:     mode,

		MinDurationNs: int64(rs.MinDuration),
		MaxDurationNs: int64(rs.MaxDuration),

		MinQueryCount: rs.MinQueryCount,
		MaxQueryCount: rs.MaxQueryCount,

		QSLRngSeed:         rs.QSLRngSeed,
		SampleIndexRngSeed: rs.SampleIndexRngSeed,
		ScheduleRngSeed:    rs.ScheduleRngSeed,
		AccuracyLogRngSeed: rs.AccuracyLogRngSeed,

		AccuracyLogProbability: rs.AccuracyLogProbability,

		PerformanceIssueUnique:    rs.PerformanceIssueUnique,
		PerformanceIssueSame:      rs.PerformanceIssueSame,
		PerformanceIssueSameIndex: rs.PerformanceIssueSameIndex,
	}

	if rs.PerformanceSampleCountOverride != 0 {
		es.PerformanceSampleCount = rs.PerformanceSampleCountOverride
	} else {
		es.PerformanceSampleCount = performanceSampleCount
	}

	if es.PerformanceIssueSame && es.PerformanceIssueSameIndex >= es.PerformanceSampleCount {
		return nil, corerr.New(corerr.KindInvariant,
			"performance_issue_same_index %d out of range [0, %d)",
			es.PerformanceIssueSameIndex, es.PerformanceSampleCount)
	}

	switch scenario {
	case SingleStream:
		resolveSingleStream(es, rs)
	case MultiStream, MultiStreamFree:
		resolveMultiStream(es, rs)
	case Server:
		resolveServer(es, rs, sink)
	case Offline:
		resolveOffline(es, rs, sink)
	}

	if err := checkInvariants(es); err != nil {
		return nil, err
	}

	logSettings(sink, "Requested Settings:", RequestedFields(rs))
	logSettings(sink, "Effective Settings:", es.SummaryFields())

	return es, nil
}

func resolveSingleStream(es *EffectiveSettings, rs *config.RequestedSettings) {
	latencyNs := rs.SingleStreamExpectedLatencyNs
	if latencyNs <= 0 {
		latencyNs = 1_000_000
	}
	es.TargetQPS = 1e9 / float64(latencyNs)
	es.MaxAsyncQueries = 1
	es.TargetLatencyPercentile = rs.SingleStreamTargetLatencyPercentile
	es.TargetLatencyNs = latencyNs
	es.SamplesPerQuery = 1
	es.MinSampleCount = es.MinQueryCount
}

func resolveMultiStream(es *EffectiveSettings, rs *config.RequestedSettings) {
	es.TargetQPS = rs.MultiStreamTargetQPS
	es.TargetLatencyNs = rs.MultiStreamTargetLatencyNs
	es.MaxAsyncQueries = rs.MultiStreamMaxAsyncQueries
	es.TargetLatencyPercentile = rs.MultiStreamTargetLatencyPercentile
	es.SamplesPerQuery = rs.MultiStreamSamplesPerQuery
	if es.SamplesPerQuery == 0 {
		es.SamplesPerQuery = 1
	}
	es.MinSampleCount = es.MinQueryCount * es.SamplesPerQuery
}

func resolveServer(es *EffectiveSettings, rs *config.RequestedSettings, sink DetailSink) {
	qps := rs.ServerTargetQPS
	if qps < 0 {
		logConfigError(sink, "server_target_qps", qps, 1.0)
		qps = 1.0
	}
	es.TargetQPS = qps
	es.MaxAsyncQueries = unboundedAsyncQueries
	es.TargetLatencyNs = rs.ServerTargetLatencyNs
	es.TargetLatencyPercentile = rs.ServerTargetLatencyPercentile
	es.ServerCoalesceQueries = rs.ServerCoalesceQueries
	es.SamplesPerQuery = 1
	es.MinSampleCount = es.MinQueryCount
}

func resolveOffline(es *EffectiveSettings, rs *config.RequestedSettings, sink DetailSink) {
	qps := rs.OfflineExpectedQPS
	if qps < 0 {
		logConfigError(sink, "offline_expected_qps", qps, 1.0)
		qps = 1.0
	}
	es.TargetQPS = qps
	es.MaxAsyncQueries = unboundedAsyncQueries
	es.TargetLatencyNs = 0

	minQueryCountPre := es.MinQueryCount
	targetDurationS := float64(es.MinDurationNs) / 1e9

	switch {
	case es.PerformanceIssueSame:
		es.SamplesPerQuery = es.PerformanceSampleCount
	case es.PerformanceIssueUnique:
		es.SamplesPerQuery = es.PerformanceSampleCount
	default:
		// min_query_count is compared here as a *sample* count, not a
		// query count, though its name says otherwise. This matches the
		// MLPerf derivation bit for bit; changing it would change results.
		target := uint64(math.Ceil(offlineSlack * targetDurationS * qps))
		es.SamplesPerQuery = maxU64(minQueryCountPre, target)
	}

	// Offline coalesces every sample into a single query.
	es.MinQueryCount = 1
	es.MinSampleCount = es.SamplesPerQuery
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func checkInvariants(es *EffectiveSettings) error {
	if es.PerformanceIssueSame && es.PerformanceIssueUnique {
		return corerr.New(corerr.KindInvariant, "performance_issue_same and performance_issue_unique are mutually exclusive")
	}
	if es.PerformanceIssueSame && es.PerformanceIssueSameIndex >= es.PerformanceSampleCount {
		return corerr.New(corerr.KindInvariant, "performance_issue_same_index %d out of range [0, %d)",
			es.PerformanceIssueSameIndex, es.PerformanceSampleCount)
	}
	return nil
}

func logConfigError(sink DetailSink, field string, requested, fallback interface{}) {
	if sink == nil {
		return
	}
	sink.Emitf("config_error", "Invalid value for %s: requested=%v falling back to %v", field, requested, fallback)
}

func logSettings(sink DetailSink, header string, fields []Field) {
	if sink == nil {
		return
	}
	sink.Emitf("settings", "%s", header)
	for _, f := range fields {
		sink.Emitf("settings", "%s : %v", f.Key, f.Value)
	}
}

// Field is one key:value line of the settings blocks emitted to the
// summary and detail logs.
type Field struct {
	Key   string
	Value interface{}
}

// RequestedFields renders the requested-settings key set the summary and
// detail logs carry.
func RequestedFields(rs *config.RequestedSettings) []Field {
	return []Field{
		{"samples_per_query", requestedSamplesPerQuery(rs)},
		{"target_qps", requestedTargetQPS(rs)},
		{"target_latency (ns)", requestedTargetLatencyNs(rs)},
		{"max_async_queries", requestedMaxAsyncQueries(rs)},
		{"min_duration (ms)", rs.MinDuration.Milliseconds()},
		{"max_duration (ms)", rs.MaxDuration.Milliseconds()},
		{"min_query_count", rs.MinQueryCount},
		{"max_query_count", rs.MaxQueryCount},
		{"qsl_rng_seed", rs.QSLRngSeed},
		{"sample_index_rng_seed", rs.SampleIndexRngSeed},
		{"schedule_rng_seed", rs.ScheduleRngSeed},
		{"accuracy_log_rng_seed", rs.AccuracyLogRngSeed},
		{"accuracy_log_probability", rs.AccuracyLogProbability},
		{"performance_issue_unique", rs.PerformanceIssueUnique},
		{"performance_issue_same", rs.PerformanceIssueSame},
		{"performance_issue_same_index", rs.PerformanceIssueSameIndex},
		{"performance_sample_count", rs.PerformanceSampleCountOverride},
	}
}

func requestedSamplesPerQuery(rs *config.RequestedSettings) uint64 {
	switch rs.Scenario {
	case config.ScenarioMultiStream, config.ScenarioMultiStreamFree:
		return rs.MultiStreamSamplesPerQuery
	default:
		return 1
	}
}

func requestedTargetLatencyNs(rs *config.RequestedSettings) int64 {
	switch rs.Scenario {
	case config.ScenarioSingleStream:
		return rs.SingleStreamExpectedLatencyNs
	case config.ScenarioMultiStream, config.ScenarioMultiStreamFree:
		return rs.MultiStreamTargetLatencyNs
	case config.ScenarioServer:
		return rs.ServerTargetLatencyNs
	default:
		return 0
	}
}

func requestedMaxAsyncQueries(rs *config.RequestedSettings) int64 {
	switch rs.Scenario {
	case config.ScenarioSingleStream:
		return 1
	case config.ScenarioMultiStream, config.ScenarioMultiStreamFree:
		return rs.MultiStreamMaxAsyncQueries
	default:
		return unboundedAsyncQueries
	}
}

func requestedTargetQPS(rs *config.RequestedSettings) float64 {
	switch rs.Scenario {
	case config.ScenarioSingleStream:
		if rs.SingleStreamExpectedLatencyNs > 0 {
			return 1e9 / float64(rs.SingleStreamExpectedLatencyNs)
		}
		return 0
	case config.ScenarioMultiStream, config.ScenarioMultiStreamFree:
		return rs.MultiStreamTargetQPS
	case config.ScenarioServer:
		return rs.ServerTargetQPS
	case config.ScenarioOffline:
		return rs.OfflineExpectedQPS
	default:
		return 0
	}
}

// SummaryFields renders the effective-settings key set the summary and
// detail logs carry.
func (es *EffectiveSettings) SummaryFields() []Field {
	return []Field{
		{"samples_per_query", es.SamplesPerQuery},
		{"target_qps", es.TargetQPS},
		{"target_latency (ns)", es.TargetLatencyNs},
		{"max_async_queries", es.MaxAsyncQueries},
		{"min_duration (ms)", es.MinDurationNs / 1e6},
		{"max_duration (ms)", es.MaxDurationNs / 1e6},
		{"min_query_count", es.MinQueryCount},
		{"max_query_count", es.MaxQueryCount},
		{"qsl_rng_seed", es.QSLRngSeed},
		{"sample_index_rng_seed", es.SampleIndexRngSeed},
		{"schedule_rng_seed", es.ScheduleRngSeed},
		{"accuracy_log_rng_seed", es.AccuracyLogRngSeed},
		{"accuracy_log_probability", es.AccuracyLogProbability},
		{"performance_issue_unique", es.PerformanceIssueUnique},
		{"performance_issue_same", es.PerformanceIssueSame},
		{"performance_issue_same_index", es.PerformanceIssueSameIndex},
		{"performance_sample_count", es.PerformanceSampleCount},
	}
}
