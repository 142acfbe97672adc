package config

import "github.com/spf13/viper"

// setDefaults installs the MLPerf-style TestSettings defaults. Scenario
// derivation (which of these actually end up in EffectiveSettings) is the
// settings resolver's job (internal/settings); this just seeds plausible
// per-scenario knobs so `loadgen` runs out of the box.
func setDefaults(v *viper.Viper) {
	v.SetDefault("scenario", string(ScenarioOffline))
	v.SetDefault("mode", string(ModePerformanceOnly))
	v.SetDefault("log_level", "info")

	v.SetDefault("single_stream_expected_latency_ns", int64(1_000_000))
	v.SetDefault("single_stream_target_latency_percentile", 0.99)

	v.SetDefault("multi_stream_target_qps", 60.0)
	v.SetDefault("multi_stream_target_latency_ns", int64(50_000_000))
	v.SetDefault("multi_stream_max_async_queries", int64(1))
	v.SetDefault("multi_stream_target_latency_percentile", 0.99)
	v.SetDefault("multi_stream_samples_per_query", uint64(8))

	v.SetDefault("server_target_qps", 1.0)
	v.SetDefault("server_target_latency_ns", int64(10_000_000))
	v.SetDefault("server_target_latency_percentile", 0.99)
	v.SetDefault("server_coalesce_queries", false)

	v.SetDefault("offline_expected_qps", 1.0)

	v.SetDefault("min_duration", "10s")
	v.SetDefault("max_duration", "0s")
	v.SetDefault("min_query_count", uint64(1))
	v.SetDefault("max_query_count", uint64(0))
	v.SetDefault("min_sample_count", uint64(0))

	v.SetDefault("performance_sample_count_override", uint64(0))

	v.SetDefault("qsl_rng_seed", uint64(0x2b7e151628aed2a6))
	v.SetDefault("sample_index_rng_seed", uint64(0x093c467e37db0c7a))
	v.SetDefault("schedule_rng_seed", uint64(0x3243f6a8885a308d))
	v.SetDefault("accuracy_log_rng_seed", uint64(0))
	v.SetDefault("accuracy_log_probability", 0.0)

	v.SetDefault("performance_issue_unique", false)
	v.SetDefault("performance_issue_same", false)
	v.SetDefault("performance_issue_same_index", uint64(0))

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.addr", ":8880")
	v.SetDefault("dashboard.report_interval", "1s")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "loadgen")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.nodes", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
}
