package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mlbench/loadgen/internal/accuracy"
	"github.com/mlbench/loadgen/internal/collector"
	"github.com/mlbench/loadgen/internal/config"
	"github.com/mlbench/loadgen/internal/dashboard"
	"github.com/mlbench/loadgen/internal/issue"
	"github.com/mlbench/loadgen/internal/latency"
	"github.com/mlbench/loadgen/internal/logsink"
	"github.com/mlbench/loadgen/internal/qsl"
	"github.com/mlbench/loadgen/internal/qsl/redisqsl"
	"github.com/mlbench/loadgen/internal/report"
	"github.com/mlbench/loadgen/internal/schedule"
	"github.com/mlbench/loadgen/internal/settings"
	"github.com/mlbench/loadgen/internal/sut"
	"github.com/mlbench/loadgen/internal/tracing"
	"github.com/mlbench/loadgen/internal/utils/loadtest"
	"github.com/mlbench/loadgen/pkg/logger"
)

var (
	flagDetailPath   = flag.String("detail", "loadgen_detail.txt", "detail log output path")
	flagSummaryPath  = flag.String("summary", "", "summary output path (default stdout)")
	flagYAMLPath     = flag.String("yaml", "", "optional YAML settings dump path")
	flagConfigFile   = flag.String("config-file", "./configs/config.yaml", "config file watched for dashboard hot-reload")
	flagTrace        = flag.Bool("trace", false, "emit a per-query span dump to stderr")
	flagSUTLatency   = flag.Duration("sut-latency", 500*time.Microsecond, "in-process SUT base latency")
	flagSUTJitter    = flag.Duration("sut-jitter", 0, "in-process SUT latency jitter")
	flagTotalSamples = flag.Uint64("total-samples", 4096, "in-process library total sample count")
	flagPerfSamples  = flag.Uint64("perf-samples", 1024, "in-process library performance sample count")
)

func main() {
	flag.Parse()

	rs, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := config.ValidatePerformanceIssueFlags(rs); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := config.ValidateDashboardAddr(rs.Dashboard); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	lg := logger.New(rs.LogLevel)
	lg.Info("loadgen starting", "scenario", rs.Scenario, "mode", rs.Mode)

	detailFile, err := os.Create(*flagDetailPath)
	if err != nil {
		log.Fatalf("Failed to open detail log: %v", err)
	}
	defer detailFile.Close()

	sink := logsink.New(detailFile, lg, 8192)
	defer sink.Close()

	lib := qsl.NewInProcessLibrary(*flagTotalSamples, *flagPerfSamples)

	es, err := settings.Resolve(rs, lib.PerformanceSampleCount(), sink)
	if err != nil {
		lg.Fatal("settings resolution failed", "error", err)
	}

	rep := report.New(rs, es, lg)

	var library qsl.SampleLibrary = lib
	if rs.Redis.Enabled && len(rs.Redis.Nodes) > 0 {
		dec, err := redisqsl.New(lib, rs.Redis.Nodes[0], rs.Redis.DB, rep.RunID(), lg)
		if err != nil {
			lg.Fatal("redis qsl decorator failed", "error", err)
		}
		defer dec.Close()
		library = dec
		lg.Info("redis working-set mirroring enabled", "addr", rs.Redis.Nodes[0])
	}

	var tracer *tracing.QueryTracer
	if *flagTrace || rs.Tracing.Enabled {
		tp, err := tracing.NewTracerProvider(rs.Tracing.ServiceName, "dev")
		if err != nil {
			lg.Fatal("tracer init failed", "error", err)
		}
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shCtx)
		}()
		tracer = tracing.NewQueryTracer(es.Scenario.String(), rep.RunID())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if es.Mode == settings.FindPeakPerformance {
		runPeakSearch(ctx, rs, library, sink, tracer, rep.RunID(), lg)
		return
	}

	engine, _ := buildEngine(es, library, sink, tracer, lg)

	if rs.Dashboard.Enabled {
		srv := dashboard.New(rs.Dashboard, engine, dashboard.Meta{
			RunID:    rep.RunID(),
			Scenario: es.Scenario.String(),
			Mode:     es.Mode.String(),
		}, lg)
		go func() {
			if err := srv.Start(ctx); err != nil {
				lg.Error("dashboard stopped", "error", err)
			}
		}()

		watcher := config.NewDashboardWatcher(*flagConfigFile, rs.Dashboard, lg)
		watcher.RegisterWatcher(func(d config.DashboardConfig) {
			srv.SetReportInterval(d.ReportInterval)
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				lg.Warn("dashboard config watcher stopped", "error", err)
			}
		}()
	}

	res, err := engine.Run(ctx)
	if err != nil {
		lg.Fatal("engine run failed", "error", err)
	}

	writeArtifacts(rep, res, lg)

	if res.State == issue.StateAborted {
		os.Exit(1)
	}
}

// buildEngine wires one complete run: schedule generator, cache controller
// (with its own generator so the engine's cursor stays private), recorder,
// collector, in-process SUT, and the issue engine.
func buildEngine(es *settings.EffectiveSettings, library qsl.SampleLibrary, sink *logsink.Sink, tracer *tracing.QueryTracer, lg logger.Logger) (*issue.Engine, *sut.Stub) {
	gen := schedule.New(es)
	ctl := qsl.New(library, es, schedule.New(es))
	rec := latency.New(recorderCapacity(es))

	coll := collector.New(rec, collector.RingCapacity(es.MaxAsyncQueries), func(err error) {
		lg.Error("completion pipeline fatal", "error", err)
	})
	if es.AccuracyLogProbability > 0 {
		coll.SetAccuracyLog(accuracy.NewSampler(es.AccuracyLogRngSeed, es.AccuracyLogProbability), sink)
	}
	if tracer != nil {
		coll.SetReleaseHook(func(rec *collector.Record, tCompleteNs int64) {
			tracer.RecordQuerySpan(rec.QueryID, rec.SampleCount, rec.IssueTimeNs, tCompleteNs)
		})
	}

	opts := []sut.Option{sut.WithLatency(*flagSUTLatency)}
	if *flagSUTJitter > 0 {
		opts = append(opts, sut.WithJitter(*flagSUTJitter, int64(es.ScheduleRngSeed)))
	}
	stub := sut.New(coll, lg, opts...)

	return issue.New(es, gen, ctl, coll, rec, stub, sink), stub
}

// recorderCapacity sizes the pre-allocated latency vector. With an
// unbounded max_query_count the estimate covers the minimum-duration
// window at the target rate with headroom.
func recorderCapacity(es *settings.EffectiveSettings) uint64 {
	spq := es.SamplesPerQuery
	if spq == 0 {
		spq = 1
	}
	if es.MaxQueryCount > 0 {
		return es.MaxQueryCount * spq
	}
	minDurS := float64(es.MinDurationNs) / 1e9
	estimated := uint64(1.2*es.TargetQPS*minDurS) + 1024
	if estimated < es.MinQueryCount {
		estimated = es.MinQueryCount
	}
	return estimated * spq
}

// runPeakSearch drives the FindPeakPerformance sweep: a fresh engine per
// step, each at the next candidate rate.
func runPeakSearch(ctx context.Context, rs *config.RequestedSettings, library qsl.SampleLibrary, sink *logsink.Sink, tracer *tracing.QueryTracer, runID string, lg logger.Logger) {
	runOnce := func(ctx context.Context, qps float64) (loadtest.StepOutcome, error) {
		stepRS := *rs
		stepRS.Mode = config.ModePerformanceOnly
		switch stepRS.Scenario {
		case config.ScenarioServer:
			stepRS.ServerTargetQPS = qps
		case config.ScenarioMultiStream, config.ScenarioMultiStreamFree:
			stepRS.MultiStreamTargetQPS = qps
		case config.ScenarioOffline:
			stepRS.OfflineExpectedQPS = qps
		default:
			stepRS.SingleStreamExpectedLatencyNs = int64(1e9 / qps)
		}

		es, err := settings.Resolve(&stepRS, library.PerformanceSampleCount(), sink)
		if err != nil {
			return loadtest.StepOutcome{}, err
		}
		engine, _ := buildEngine(es, library, sink, tracer, lg)
		res, err := engine.Run(ctx)
		if err != nil {
			return loadtest.StepOutcome{}, err
		}
		return loadtest.StepOutcome{
			Pass:               res.Verdict.Pass,
			AchievedQPS:        res.Verdict.Stats.QPS,
			TargetPercentileNs: res.Verdict.Stats.TargetPercentileValue,
		}, nil
	}

	startQPS := rs.ServerTargetQPS
	if startQPS <= 0 {
		startQPS = 1
	}
	tester, err := loadtest.NewTester(&loadtest.Config{
		StartQPS:     startQPS,
		GrowthFactor: 1.5,
		RefineSteps:  4,
	}, runOnce, lg)
	if err != nil {
		lg.Fatal("peak search setup failed", "error", err)
	}

	result, err := tester.FindPeak(ctx)
	if err != nil {
		lg.Fatal("peak search failed", "error", err)
	}
	lg.Info("peak performance found",
		"run_id", runID,
		"peak_qps", result.PeakQPS,
		"achieved_qps", result.PeakOutcome.AchievedQPS,
		"steps", len(result.Steps))
}

func writeArtifacts(rep *report.Reporter, res *issue.Result, lg logger.Logger) {
	out := os.Stdout
	if *flagSummaryPath != "" {
		f, err := os.Create(*flagSummaryPath)
		if err != nil {
			lg.Fatal("failed to open summary output", "error", err)
		}
		defer f.Close()
		out = f
	}
	if err := rep.WriteSummary(out, res); err != nil {
		lg.Error("summary write failed", "error", err)
	}

	if *flagYAMLPath != "" {
		f, err := os.Create(*flagYAMLPath)
		if err != nil {
			lg.Fatal("failed to open yaml output", "error", err)
		}
		defer f.Close()
		if err := rep.WriteYAML(f); err != nil {
			lg.Error("yaml write failed", "error", err)
		}
	}
}
