package latency

import "github.com/mlbench/loadgen/internal/settings"

// RunFacts are the non-latency facts the pass/fail decision also depends
// on: whether the minimum-duration bound was met, and whether the run
// aborted.
type RunFacts struct {
	DurationsMet bool
	Aborted      bool
}

// Verdict is the pass/fail decision plus the numbers that produced it, for
// the summary log.
type Verdict struct {
	Pass  bool
	Stats Stats
}

// Decide implements the per-scenario pass/fail rule:
//   - SingleStream/MultiStream/Server: observed percentile latency <=
//     target_latency (or <= 1/target_qps for SingleStream), AND durations met.
//   - MultiStreamFree/Offline: QPS >= target_qps, AND durations met.
func Decide(es *settings.EffectiveSettings, st Stats, facts RunFacts) Verdict {
	if facts.Aborted || !facts.DurationsMet {
		return Verdict{Pass: false, Stats: st}
	}

	var pass bool
	switch es.Scenario {
	case settings.SingleStream:
		targetNs := es.TargetLatencyNs
		if targetNs == 0 && es.TargetQPS > 0 {
			targetNs = int64(1e9 / es.TargetQPS)
		}
		pass = st.TargetPercentileValue <= targetNs
	case settings.MultiStream, settings.Server:
		pass = st.TargetPercentileValue <= es.TargetLatencyNs
	case settings.MultiStreamFree, settings.Offline:
		pass = st.QPS >= es.TargetQPS
	}

	return Verdict{Pass: pass, Stats: st}
}
