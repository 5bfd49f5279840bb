package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/assistd/internal/mcp"

var durationBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics records tool call counts, latency and failures.
// Instruments that fail to register are left nil and skipped.
type Metrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// NewMetrics registers instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &Metrics{}
	var err error
	m.calls, err = meter.Int64Counter("assistd.mcp.tool.calls_total",
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{call}"))
	warn("calls", err)

	m.failures, err = meter.Int64Counter("assistd.mcp.tool.failures_total",
		metric.WithDescription("Failed MCP tool calls by tool and reason"),
		metric.WithUnit("{call}"))
	warn("failures", err)

	m.duration, err = meter.Float64Histogram("assistd.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	warn("duration", err)

	m.inflight, err = meter.Int64UpDownCounter("assistd.mcp.tool.inflight",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{call}"))
	warn("inflight", err)

	return m
}

// Track marks a call to tool as started. The returned func must be called
// exactly once with the call's error.
func (m *Metrics) Track(ctx context.Context, tool string) func(error) {
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	start := time.Now()
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, toolAttr)
	}

	return func(err error) {
		if m.inflight != nil {
			m.inflight.Add(ctx, -1, toolAttr)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), toolAttr)
		}

		outcome := "ok"
		if err != nil {
			outcome = "error"
			if m.failures != nil {
				m.failures.Add(ctx, 1, metric.WithAttributes(
					attribute.String("tool", tool),
					attribute.String("reason", categorizeError(err))))
			}
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("outcome", outcome)))
		}
	}
}

// categorizeError maps err to a low-cardinality reason label.
func categorizeError(err error) string {
	if err == nil {
		return ""
	}
	switch publicError(err) {
	case errInvalidInput:
		return "validation_error"
	case errNoContent:
		return "no_content"
	case errTimeout:
		return "timeout"
	case errStorage:
		return "storage_error"
	case errUpstream:
		return "upstream_error"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "internal_error"
}
