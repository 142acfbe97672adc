// sutstub runs a quick self-contained benchmark against the in-process
// reference SUT and prints the summary. It exists to demonstrate the SUT
// and sample-library contracts end to end without any configuration.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/mlbench/loadgen/internal/collector"
	"github.com/mlbench/loadgen/internal/config"
	"github.com/mlbench/loadgen/internal/issue"
	"github.com/mlbench/loadgen/internal/latency"
	"github.com/mlbench/loadgen/internal/logsink"
	"github.com/mlbench/loadgen/internal/qsl"
	"github.com/mlbench/loadgen/internal/report"
	"github.com/mlbench/loadgen/internal/schedule"
	"github.com/mlbench/loadgen/internal/settings"
	"github.com/mlbench/loadgen/internal/sut"
	"github.com/mlbench/loadgen/pkg/logger"
)

var (
	flagLatency = flag.Duration("latency", 500*time.Microsecond, "stub service latency")
	flagJitter  = flag.Duration("jitter", 100*time.Microsecond, "stub latency jitter")
	flagQueries = flag.Uint64("queries", 1000, "minimum query count")
)

func main() {
	flag.Parse()

	lg := logger.New("info")
	sink := logsink.New(os.Stderr, lg, 4096)
	defer sink.Close()

	rs := &config.RequestedSettings{
		Scenario:                            config.ScenarioSingleStream,
		Mode:                                config.ModePerformanceOnly,
		SingleStreamExpectedLatencyNs:       int64(*flagLatency + *flagJitter),
		SingleStreamTargetLatencyPercentile: 0.99,
		MinDuration:                         time.Second,
		MinQueryCount:                       *flagQueries,
		QSLRngSeed:                          0x2b7e151628aed2a6,
		SampleIndexRngSeed:                  0x093c467e37db0c7a,
		ScheduleRngSeed:                     0x3243f6a8885a308d,
	}

	lib := qsl.NewInProcessLibrary(1024, 1024)
	es, err := settings.Resolve(rs, lib.PerformanceSampleCount(), sink)
	if err != nil {
		log.Fatalf("settings resolution failed: %v", err)
	}

	rec := latency.New(es.MinQueryCount * 2)
	coll := collector.New(rec, collector.RingCapacity(es.MaxAsyncQueries), func(err error) {
		lg.Error("completion pipeline fatal", "error", err)
	})
	stub := sut.New(coll, lg,
		sut.WithLatency(*flagLatency),
		sut.WithJitter(*flagJitter, int64(es.ScheduleRngSeed)),
	)

	engine := issue.New(es, schedule.New(es), qsl.New(lib, es, schedule.New(es)), coll, rec, stub, sink)
	res, err := engine.Run(context.Background())
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}

	rep := report.New(rs, es, lg)
	if err := rep.WriteSummary(os.Stdout, res); err != nil {
		log.Fatalf("summary write failed: %v", err)
	}
}
