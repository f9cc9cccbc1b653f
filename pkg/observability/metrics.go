package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records runtime measurements. Implementations must be nil-safe so
// call sites never guard on whether metrics are enabled.
type Metrics interface {
	RecordAgentRun(ctx context.Context, duration time.Duration, iterations int, err error)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
	RecordLLMRequest(ctx context.Context, model string, firstToken, total time.Duration, err error)
	RecordIngestion(ctx context.Context, duration time.Duration, files, chunks int, err error)
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}

// PrometheusMetrics implements Metrics over OpenTelemetry instruments backed
// by a Prometheus registry.
type PrometheusMetrics struct {
	agentDuration   metric.Float64Histogram
	agentRunsTotal  metric.Int64Counter
	agentIterations metric.Int64Counter

	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	llmFirstToken metric.Float64Histogram
	llmDuration   metric.Float64Histogram
	llmErrors     metric.Int64Counter

	ingestDuration metric.Float64Histogram
	ingestFiles    metric.Int64Counter
	ingestChunks   metric.Int64Counter
	ingestErrors   metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

// InitMetrics wires OpenTelemetry instruments to a dedicated Prometheus
// registry and returns the metrics recorder plus the registry for the
// /metrics handler. Disabled metrics yield an empty recorder whose methods
// are no-ops.
func InitMetrics(_ context.Context, cfg MetricsConfig) (*PrometheusMetrics, *prometheus.Registry, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil, nil
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)).Meter("helicon")

	m := &PrometheusMetrics{}

	if m.agentDuration, err = meter.Float64Histogram(
		"agent_run_duration_seconds",
		metric.WithDescription("Agent run duration in seconds"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create agent duration histogram: %w", err)
	}

	if m.agentRunsTotal, err = meter.Int64Counter(
		"agent_runs_total",
		metric.WithDescription("Total agent runs"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create agent runs counter: %w", err)
	}

	if m.agentIterations, err = meter.Int64Counter(
		"agent_iterations_total",
		metric.WithDescription("Total LLM rounds across agent runs"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create agent iterations counter: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"tool_call_duration_seconds",
		metric.WithDescription("Tool call duration in seconds"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	if m.toolCallsTotal, err = meter.Int64Counter(
		"tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	if m.toolErrorsTotal, err = meter.Int64Counter(
		"tool_errors_total",
		metric.WithDescription("Total tool call errors"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	if m.llmFirstToken, err = meter.Float64Histogram(
		"llm_first_token_seconds",
		metric.WithDescription("Time to first streamed token in seconds"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create llm first token histogram: %w", err)
	}

	if m.llmDuration, err = meter.Float64Histogram(
		"llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	if m.llmErrors, err = meter.Int64Counter(
		"llm_errors_total",
		metric.WithDescription("Total LLM request errors"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	if m.ingestDuration, err = meter.Float64Histogram(
		"ingest_run_duration_seconds",
		metric.WithDescription("Ingestion run duration in seconds"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create ingest duration histogram: %w", err)
	}

	if m.ingestFiles, err = meter.Int64Counter(
		"ingest_files_total",
		metric.WithDescription("Total ingested files"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create ingest files counter: %w", err)
	}

	if m.ingestChunks, err = meter.Int64Counter(
		"ingest_chunks_total",
		metric.WithDescription("Total produced chunks"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create ingest chunks counter: %w", err)
	}

	if m.ingestErrors, err = meter.Int64Counter(
		"ingest_errors_total",
		metric.WithDescription("Total ingestion run errors"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create ingest errors counter: %w", err)
	}

	if m.httpDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	if m.httpRequests, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return m, registry, nil
}

// MetricsHandler serves a registry in Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	if registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) RecordAgentRun(ctx context.Context, duration time.Duration, iterations int, err error) {
	if m == nil || m.agentDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("error", err != nil))

	m.agentDuration.Record(ctx, duration.Seconds(), attrs)
	m.agentRunsTotal.Add(ctx, 1, attrs)
	if iterations > 0 {
		m.agentIterations.Add(ctx, int64(iterations))
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("tool", tool))

	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCallsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordLLMRequest(ctx context.Context, model string, firstToken, total time.Duration, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("model", model))

	if firstToken > 0 {
		m.llmFirstToken.Record(ctx, firstToken.Seconds(), attrs)
	}
	m.llmDuration.Record(ctx, total.Seconds(), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordIngestion(ctx context.Context, duration time.Duration, files, chunks int, err error) {
	if m == nil || m.ingestDuration == nil {
		return
	}

	m.ingestDuration.Record(ctx, duration.Seconds())
	m.ingestFiles.Add(ctx, int64(files))
	m.ingestChunks.Add(ctx, int64(chunks))
	if err != nil {
		m.ingestErrors.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.httpDuration.Record(context.Background(), duration.Seconds(), attrs)
	m.httpRequests.Add(context.Background(), 1, attrs)
}
