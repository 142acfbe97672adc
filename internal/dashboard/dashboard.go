// Package dashboard is a small read-only HTTP surface a human or CI job
// can poll while a long benchmark runs: current engine state and counters,
// the live latency statistics, Prometheus metrics, and a websocket stream
// of snapshots. It only reads already-published snapshots and never sits
// on the issue or completion hot path.
package dashboard

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mlbench/loadgen/internal/config"
	"github.com/mlbench/loadgen/internal/issue"
	"github.com/mlbench/loadgen/internal/metrics"
	"github.com/mlbench/loadgen/pkg/logger"
)

// Source publishes point-in-time run snapshots.
type Source interface {
	Snapshot() issue.Snapshot
}

// Meta is the immutable run identity shown alongside every snapshot.
type Meta struct {
	RunID    string `json:"run_id"`
	Scenario string `json:"scenario"`
	Mode     string `json:"mode"`
}

// Server serves the dashboard endpoints.
type Server struct {
	cfg  config.DashboardConfig
	src  Source
	meta Meta
	log  logger.Logger

	reportIntervalNs atomic.Int64

	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// New constructs a dashboard Server.
func New(cfg config.DashboardConfig, src Source, meta Meta, log logger.Logger) *Server {
	s := &Server{
		cfg:  cfg,
		src:  src,
		meta: meta,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The dashboard is read-only and unauthenticated by design;
			// it binds to an operator-chosen address.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	interval := cfg.ReportInterval
	if interval <= 0 {
		interval = time.Second
	}
	s.reportIntervalNs.Store(int64(interval))
	return s
}

// SetReportInterval updates the websocket snapshot cadence. Wired to the
// config hot-reload watcher; takes effect on each stream's next tick.
func (s *Server) SetReportInterval(d time.Duration) {
	if d > 0 {
		s.reportIntervalNs.Store(int64(d))
	}
}

// Router builds the gin handler. Exposed separately from Start for tests.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/v1/status", s.handleStatus)
	r.GET("/api/v1/summary", s.handleSummary)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/live", s.handleLive)

	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket streams stay open
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

type statusResponse struct {
	Meta        Meta   `json:"meta"`
	State       string `json:"state"`
	Issued      uint64 `json:"queries_issued"`
	Outstanding int64  `json:"queries_outstanding"`
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.src.Snapshot()
	c.JSON(http.StatusOK, statusResponse{
		Meta:        s.meta,
		State:       snap.State,
		Issued:      snap.Issued,
		Outstanding: snap.Outstanding,
	})
}

type summaryResponse struct {
	Meta     Meta           `json:"meta"`
	Snapshot issue.Snapshot `json:"snapshot"`
}

func (s *Server) handleSummary(c *gin.Context) {
	c.JSON(http.StatusOK, summaryResponse{Meta: s.meta, Snapshot: s.src.Snapshot()})
}

func (s *Server) handleLive(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.ActiveWebSocketConnections.Inc()
	defer metrics.ActiveWebSocketConnections.Dec()

	for {
		if err := conn.WriteJSON(summaryResponse{Meta: s.meta, Snapshot: s.src.Snapshot()}); err != nil {
			return
		}
		time.Sleep(time.Duration(s.reportIntervalNs.Load()))
	}
}
