// Package report emits the end-of-run artifacts: the key:value summary and
// the YAML rendering of the requested/effective settings blocks. It runs
// only once the engine has reached DONE
// (or ABORTED), decoupled from every timing path.
package report

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mlbench/loadgen/internal/config"
	"github.com/mlbench/loadgen/internal/issue"
	"github.com/mlbench/loadgen/internal/settings"
	"github.com/mlbench/loadgen/pkg/logger"
)

// Reporter renders one run's artifacts. The run id correlates the summary,
// detail log, spans, and any Redis-advertised working-set state when
// multiple coordinator processes run concurrently.
type Reporter struct {
	runID string
	rs    *config.RequestedSettings
	es    *settings.EffectiveSettings
	log   logger.Logger
}

// New constructs a Reporter with a fresh run id.
func New(rs *config.RequestedSettings, es *settings.EffectiveSettings, log logger.Logger) *Reporter {
	return &Reporter{runID: uuid.New().String(), rs: rs, es: es, log: log}
}

// RunID returns the run's correlation id.
func (r *Reporter) RunID() string { return r.runID }

const rule = "================================================"

// WriteSummary writes the text summary: result header, latency statistics,
// and the full effective-settings parameter block, one key:value per line.
func (r *Reporter) WriteSummary(w io.Writer, res *issue.Result) error {
	line := func(key string, val interface{}) {
		fmt.Fprintf(w, "%s : %v\n", key, val)
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Benchmark Results Summary")
	fmt.Fprintln(w, rule)
	line("run_id", r.runID)
	line("Scenario", r.es.Scenario)
	line("Mode", r.es.Mode)
	if res.Verdict.Pass {
		line("Result is", "VALID")
	} else {
		line("Result is", "INVALID")
	}
	line("Final state", res.State)
	line("queries_issued", res.Issued)

	st := res.Verdict.Stats
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Additional Stats")
	fmt.Fprintln(w, rule)
	line("completed_samples", st.Count)
	line("qps", st.QPS)
	line("min latency (ns)", st.Min)
	line("max latency (ns)", st.Max)
	line("mean latency (ns)", st.Mean)
	line("50.00 percentile latency (ns)", st.P50)
	line("90.00 percentile latency (ns)", st.P90)
	line("95.00 percentile latency (ns)", st.P95)
	line("99.00 percentile latency (ns)", st.P99)
	line(fmt.Sprintf("%.2f percentile latency (ns)", st.TargetPercentile*100), st.TargetPercentileValue)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Test Parameters Used")
	fmt.Fprintln(w, rule)
	for _, f := range r.es.SummaryFields() {
		line(f.Key, f.Value)
	}

	if r.log != nil {
		r.log.Info("summary written",
			"run_id", r.runID,
			"scenario", r.es.Scenario.String(),
			"pass", res.Verdict.Pass,
			"samples", st.Count,
		)
	}
	return nil
}

// WriteYAML renders the requested and effective settings blocks as a YAML
// document, key order preserved, for operators piping the detail log into
// YAML-aware tooling. The key:value line format written by the detail sink
// remains the canonical artifact.
func (r *Reporter) WriteYAML(w io.Writer) error {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	appendKey(doc, "run_id", r.runID)
	requested, err := fieldsNode(settings.RequestedFields(r.rs))
	if err != nil {
		return err
	}
	effective, err := fieldsNode(r.es.SummaryFields())
	if err != nil {
		return err
	}
	doc.Content = append(doc.Content,
		scalarNode("requested_settings"), requested,
		scalarNode("effective_settings"), effective,
	)

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(doc)
}

func scalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

func appendKey(m *yaml.Node, key string, value interface{}) {
	var v yaml.Node
	_ = v.Encode(value)
	m.Content = append(m.Content, scalarNode(key), &v)
}

func fieldsNode(fields []settings.Field) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range fields {
		var v yaml.Node
		if err := v.Encode(f.Value); err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Key, err)
		}
		n.Content = append(n.Content, scalarNode(f.Key), &v)
	}
	return n, nil
}
