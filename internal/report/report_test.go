package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mlbench/loadgen/internal/config"
	"github.com/mlbench/loadgen/internal/issue"
	"github.com/mlbench/loadgen/internal/latency"
	"github.com/mlbench/loadgen/internal/settings"
)

func testSettings(t *testing.T) (*config.RequestedSettings, *settings.EffectiveSettings) {
	t.Helper()
	rs := &config.RequestedSettings{
		Scenario:                      config.ScenarioServer,
		Mode:                          config.ModePerformanceOnly,
		ServerTargetQPS:               1000,
		ServerTargetLatencyNs:         int64(10 * time.Millisecond),
		ServerTargetLatencyPercentile: 0.99,
		MinDuration:                   time.Minute,
		MinQueryCount:                 100,
		QSLRngSeed:                    1,
		SampleIndexRngSeed:            2,
		ScheduleRngSeed:               3,
	}
	es, err := settings.Resolve(rs, 1024, nil)
	require.NoError(t, err)
	return rs, es
}

func testResult(pass bool) *issue.Result {
	return &issue.Result{
		State: issue.StateDone,
		Verdict: latency.Verdict{
			Pass: pass,
			Stats: latency.Stats{
				Count:                 30000,
				Min:                   4_000_000,
				Max:                   9_000_000,
				Mean:                  5_000_000,
				P50:                   5_000_000,
				P90:                   6_000_000,
				P95:                   6_500_000,
				P99:                   8_000_000,
				TargetPercentileValue: 8_000_000,
				TargetPercentile:      0.99,
				QPS:                   1001.5,
			},
		},
		Issued: 30000,
	}
}

func TestSummaryCarriesParameterBlock(t *testing.T) {
	rs, es := testSettings(t)
	r := New(rs, es, nil)

	var buf bytes.Buffer
	require.NoError(t, r.WriteSummary(&buf, testResult(true)))
	out := buf.String()

	assert.Contains(t, out, "Scenario : Server")
	assert.Contains(t, out, "Mode : Performance")
	assert.Contains(t, out, "Result is : VALID")

	for _, key := range []string{
		"samples_per_query", "target_qps", "target_latency (ns)",
		"max_async_queries", "min_duration (ms)", "max_duration (ms)",
		"min_query_count", "max_query_count", "qsl_rng_seed",
		"sample_index_rng_seed", "schedule_rng_seed", "accuracy_log_rng_seed",
		"accuracy_log_probability", "performance_issue_unique",
		"performance_issue_same", "performance_issue_same_index",
		"performance_sample_count",
	} {
		assert.Contains(t, out, key+" : ", "missing summary key %q", key)
	}

	assert.Contains(t, out, "99.00 percentile latency (ns) : 8000000")
	assert.Contains(t, out, "run_id : "+r.RunID())
}

func TestSummaryMarksFailureInvalid(t *testing.T) {
	rs, es := testSettings(t)
	r := New(rs, es, nil)

	var buf bytes.Buffer
	require.NoError(t, r.WriteSummary(&buf, testResult(false)))
	assert.Contains(t, buf.String(), "Result is : INVALID")
	assert.NotContains(t, buf.String(), "Result is : VALID")
}

func TestYAMLRoundTrip(t *testing.T) {
	rs, es := testSettings(t)
	r := New(rs, es, nil)

	var buf bytes.Buffer
	require.NoError(t, r.WriteYAML(&buf))

	var doc struct {
		RunID     string                 `yaml:"run_id"`
		Requested map[string]interface{} `yaml:"requested_settings"`
		Effective map[string]interface{} `yaml:"effective_settings"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))

	assert.Equal(t, r.RunID(), doc.RunID)
	assert.Contains(t, doc.Effective, "target_qps")
	assert.Contains(t, doc.Effective, "performance_sample_count")
	assert.Contains(t, doc.Requested, "qsl_rng_seed")

	// Key order in the rendered YAML matches the summary block order.
	idxQPS := strings.Index(buf.String(), "target_qps")
	idxSeed := strings.Index(buf.String(), "qsl_rng_seed")
	assert.Greater(t, idxSeed, idxQPS)
}

func TestRunIDsAreUnique(t *testing.T) {
	rs, es := testSettings(t)
	a := New(rs, es, nil)
	b := New(rs, es, nil)
	assert.NotEqual(t, a.RunID(), b.RunID())
}
