package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlbench/loadgen/internal/config"
	"github.com/mlbench/loadgen/internal/issue"
	"github.com/mlbench/loadgen/internal/latency"
	"github.com/mlbench/loadgen/pkg/logger"
)

type staticSource struct {
	snap issue.Snapshot
}

func (s *staticSource) Snapshot() issue.Snapshot { return s.snap }

func testServer() *Server {
	src := &staticSource{snap: issue.Snapshot{
		State:       "MEASURING",
		Issued:      1234,
		Outstanding: 7,
		Stats:       latency.Stats{Count: 1200, P99: 9_000_000, QPS: 998.5},
	}}
	return New(
		config.DashboardConfig{Addr: ":0", ReportInterval: 10 * time.Millisecond},
		src,
		Meta{RunID: "run-1", Scenario: "Server", Mode: "Performance"},
		logger.New("error"),
	)
}

func TestStatusEndpoint(t *testing.T) {
	srv := httptest.NewServer(testServer().Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "MEASURING", body.State)
	assert.EqualValues(t, 1234, body.Issued)
	assert.EqualValues(t, 7, body.Outstanding)
	assert.Equal(t, "run-1", body.Meta.RunID)
}

func TestSummaryEndpoint(t *testing.T) {
	srv := httptest.NewServer(testServer().Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body summaryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1200, body.Snapshot.Stats.Count)
	assert.Equal(t, "Server", body.Meta.Scenario)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(testServer().Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReportIntervalHotReload(t *testing.T) {
	s := testServer()
	s.SetReportInterval(250 * time.Millisecond)
	assert.EqualValues(t, 250*time.Millisecond, s.reportIntervalNs.Load())

	// Non-positive updates are ignored.
	s.SetReportInterval(0)
	assert.EqualValues(t, 250*time.Millisecond, s.reportIntervalNs.Load())
}
