package controller

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/k3nnethfrancis/helm/internal/herr"
)

// setupTelemetry builds the controller's exporter, defaulting to a no-op
// tracer provider unless telemetry.otlp_endpoint is configured, mirroring
// cmd/agent/runtime.go's setupTelemetry.
func (c *Controller) setupTelemetry() error {
	if c.cfg.Telemetry.OTLPEndpoint == "" {
		c.telem = telemetry.NewNoopExporter()
		return nil
	}
	exporter, err := telemetry.NewExporter(c.cfg.Telemetry.Protocol, c.cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return herr.Wrap(herr.ConfigInvalid, "setup telemetry exporter", err)
	}
	c.telem = exporter
	return nil
}

// startPhaseSpan starts a helm.controller.<phase> span tagged with the
// experiment id.
func (c *Controller) startPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "helm.controller."+phase)
	span.SetAttributes(attribute.String("experiment.id", c.experimentID))
	return ctx, span
}

// startAgentSpan starts a helm.controller.<phase> span additionally tagged
// with the agent id, for per-agent session-create and dispatch calls.
func (c *Controller) startAgentSpan(ctx context.Context, phase, agentID string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "helm.controller."+phase)
	span.SetAttributes(
		attribute.String("experiment.id", c.experimentID),
		attribute.String("agent.id", agentID),
	)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
