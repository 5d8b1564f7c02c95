package worker

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the worker's OpenTelemetry instruments. The instruments
// are created against the global meter provider; with no SDK installed
// they are no-ops, so recording is always safe.
type metrics struct {
	attributions metric.Int64Counter
	fileOps      metric.Int64Counter
	toolEvents   metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/hookmill/hookmill/internal/worker")

	m := &metrics{}
	var err error

	m.attributions, err = meter.Int64Counter("hookmill.attributions.recorded",
		metric.WithDescription("Subagent attribution records persisted"))
	if err != nil {
		log.Warn().Err(err).Msg("create attributions counter")
	}
	m.fileOps, err = meter.Int64Counter("hookmill.attributions.file_operations",
		metric.WithDescription("File operations attributed to subagents"))
	if err != nil {
		log.Warn().Err(err).Msg("create file operations counter")
	}
	m.toolEvents, err = meter.Int64Counter("hookmill.tool_events.recorded",
		metric.WithDescription("Raw tool events recorded"))
	if err != nil {
		log.Warn().Err(err).Msg("create tool events counter")
	}

	return m
}

func (m *metrics) attributionRecorded(ctx context.Context, subagentType string, fileOps int) {
	attrs := metric.WithAttributes(attribute.String("subagent_type", subagentType))
	if m.attributions != nil {
		m.attributions.Add(ctx, 1, attrs)
	}
	if m.fileOps != nil {
		m.fileOps.Add(ctx, int64(fileOps), attrs)
	}
}

func (m *metrics) toolEventRecorded(ctx context.Context, toolName string) {
	if m.toolEvents != nil {
		m.toolEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_name", toolName)))
	}
}
