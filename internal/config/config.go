// Package config loads the user-facing RequestedSettings that the settings
// resolver (internal/settings) turns into an immutable EffectiveSettings
// plan. It never computes derived values itself — that is the resolver's
// job — it only gets raw, validated-shape values off disk/env into memory.
package config

import "time"

// Scenario selects the traffic pattern, as a config-friendly string.
type Scenario string

const (
	ScenarioSingleStream    Scenario = "SingleStream"
	ScenarioMultiStream     Scenario = "MultiStream"
	ScenarioMultiStreamFree Scenario = "MultiStreamFree"
	ScenarioServer          Scenario = "Server"
	ScenarioOffline         Scenario = "Offline"
)

// Mode selects what the run is for.
type Mode string

const (
	ModeSubmission          Mode = "Submission"
	ModeAccuracyOnly        Mode = "AccuracyOnly"
	ModePerformanceOnly     Mode = "PerformanceOnly"
	ModeFindPeakPerformance Mode = "FindPeakPerformance"
)

// RequestedSettings is the raw, user-facing configuration consumed by the
// settings resolver. Field names track the MLPerf LoadGen TestSettings
// surface.
type RequestedSettings struct {
	Scenario Scenario `mapstructure:"scenario" yaml:"scenario"`
	Mode     Mode     `mapstructure:"mode" yaml:"mode"`

	// SingleStream
	SingleStreamExpectedLatencyNs       int64   `mapstructure:"single_stream_expected_latency_ns" yaml:"single_stream_expected_latency_ns"`
	SingleStreamTargetLatencyPercentile float64 `mapstructure:"single_stream_target_latency_percentile" yaml:"single_stream_target_latency_percentile"`

	// MultiStream / MultiStreamFree
	MultiStreamTargetQPS               float64 `mapstructure:"multi_stream_target_qps" yaml:"multi_stream_target_qps"`
	MultiStreamTargetLatencyNs         int64   `mapstructure:"multi_stream_target_latency_ns" yaml:"multi_stream_target_latency_ns"`
	MultiStreamMaxAsyncQueries         int64   `mapstructure:"multi_stream_max_async_queries" yaml:"multi_stream_max_async_queries"`
	MultiStreamTargetLatencyPercentile float64 `mapstructure:"multi_stream_target_latency_percentile" yaml:"multi_stream_target_latency_percentile"`
	MultiStreamSamplesPerQuery         uint64  `mapstructure:"multi_stream_samples_per_query" yaml:"multi_stream_samples_per_query"`

	// Server
	ServerTargetQPS               float64 `mapstructure:"server_target_qps" yaml:"server_target_qps"`
	ServerTargetLatencyNs         int64   `mapstructure:"server_target_latency_ns" yaml:"server_target_latency_ns"`
	ServerTargetLatencyPercentile float64 `mapstructure:"server_target_latency_percentile" yaml:"server_target_latency_percentile"`
	ServerCoalesceQueries         bool    `mapstructure:"server_coalesce_queries" yaml:"server_coalesce_queries"`

	// Offline
	OfflineExpectedQPS float64 `mapstructure:"offline_expected_qps" yaml:"offline_expected_qps"`

	// Durations / counts shared across scenarios
	MinDuration    time.Duration `mapstructure:"min_duration" yaml:"min_duration"`
	MaxDuration    time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	MinQueryCount  uint64        `mapstructure:"min_query_count" yaml:"min_query_count"`
	MaxQueryCount  uint64        `mapstructure:"max_query_count" yaml:"max_query_count"`
	MinSampleCount uint64        `mapstructure:"min_sample_count" yaml:"min_sample_count"`

	// PerformanceSampleCountOverride overrides the library's own count when non-zero.
	PerformanceSampleCountOverride uint64 `mapstructure:"performance_sample_count_override" yaml:"performance_sample_count_override"`

	// Seeds
	QSLRngSeed         uint64 `mapstructure:"qsl_rng_seed" yaml:"qsl_rng_seed"`
	SampleIndexRngSeed uint64 `mapstructure:"sample_index_rng_seed" yaml:"sample_index_rng_seed"`
	ScheduleRngSeed    uint64 `mapstructure:"schedule_rng_seed" yaml:"schedule_rng_seed"`
	AccuracyLogRngSeed uint64 `mapstructure:"accuracy_log_rng_seed" yaml:"accuracy_log_rng_seed"`

	AccuracyLogProbability float64 `mapstructure:"accuracy_log_probability" yaml:"accuracy_log_probability"`

	// Performance-issue overrides, mutually exclusive.
	PerformanceIssueUnique    bool   `mapstructure:"performance_issue_unique" yaml:"performance_issue_unique"`
	PerformanceIssueSame      bool   `mapstructure:"performance_issue_same" yaml:"performance_issue_same"`
	PerformanceIssueSameIndex uint64 `mapstructure:"performance_issue_same_index" yaml:"performance_issue_same_index"`

	// Dashboard / ambient knobs that never reach EffectiveSettings.
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	LogLevel  string          `mapstructure:"log_level" yaml:"log_level"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
}

// DashboardConfig configures the optional run dashboard. It is ambient
// observability, never part of EffectiveSettings.
type DashboardConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	ReportInterval time.Duration `mapstructure:"report_interval" yaml:"report_interval"`
}

// TracingConfig configures the stdout span exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// RedisConfig configures the optional distributed QSL coordination backend
// (internal/qsl/redisqsl).
type RedisConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Nodes   []string `mapstructure:"nodes" yaml:"nodes"`
	DB      int      `mapstructure:"db" yaml:"db"`
}
