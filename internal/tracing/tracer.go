// Package tracing wraps each issued query and its completion in an
// OpenTelemetry span, so a run can be replayed as a span tree showing
// issue-to-completion latency per query. Spans are created retroactively
// at query release, with explicit timestamps, so nothing here sits on the
// issue or completion hot path.
package tracing

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider manages the lifecycle of the OpenTelemetry tracer.
type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

// NewTracerProvider creates a tracer provider exporting spans through the
// otel stdout exporter, writing to stderr. The stdout exporter keeps the benchmark binary free of any collector
// dependency; the span dump is meant for offline inspection of a run.
func NewTracerProvider(serviceName, serviceVersion string) (*TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes buffered spans and shuts the provider down.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.tp.Shutdown(ctx)
}

// QueryTracer records per-query spans for a run.
type QueryTracer struct {
	tracer   trace.Tracer
	scenario string
	runID    string
}

// NewQueryTracer creates a query tracer for one run.
func NewQueryTracer(scenario, runID string) *QueryTracer {
	return &QueryTracer{
		tracer:   otel.Tracer("loadgen"),
		scenario: scenario,
		runID:    runID,
	}
}

// RecordQuerySpan emits a loadgen.query span covering [issueNs, completeNs].
// Called from the collector's release hook, once per fully-completed query.
func (qt *QueryTracer) RecordQuerySpan(queryID uint64, sampleCount int, issueNs, completeNs int64) {
	start := time.Unix(0, issueNs)
	end := time.Unix(0, completeNs)

	_, span := qt.tracer.Start(context.Background(), "loadgen.query",
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.Int64("query.id", int64(queryID)),
			attribute.Int("query.sample_count", sampleCount),
			attribute.String("query.scenario", qt.scenario),
			attribute.String("run.id", qt.runID),
			attribute.Int64("query.latency_ns", completeNs-issueNs),
		),
	)
	span.End(trace.WithTimestamp(end))
}
