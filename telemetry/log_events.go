package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordRunStartedEvent emits a span event when a remediation run fans out
func RecordRunStartedEvent(span trace.Span, runID, guildID, kind string, total int) {
	if span == nil {
		return
	}

	span.AddEvent("remediation.run.started", trace.WithAttributes(
		attribute.String("event.type", "remediation.run.started"),
		attribute.String("run.id", runID),
		attribute.String("guild.id", guildID),
		attribute.String("run.kind", kind),
		attribute.Int("run.total", total),
	))
}

// RecordRunAbortedEvent emits a span event for the first recoverable failure
func RecordRunAbortedEvent(span trace.Span, runID, roleID, message string) {
	if span == nil {
		return
	}

	span.AddEvent("remediation.run.aborted", trace.WithAttributes(
		attribute.String("event.type", "remediation.run.aborted"),
		attribute.String("run.id", runID),
		attribute.String("role.id", roleID),
		attribute.String("message", message),
	))
}

// RecordRunFinishedEvent emits a span event with final counts
func RecordRunFinishedEvent(span trace.Span, runID, outcome string, succeeded, total int) {
	if span == nil {
		return
	}

	span.AddEvent("remediation.run.finished", trace.WithAttributes(
		attribute.String("event.type", "remediation.run.finished"),
		attribute.String("run.id", runID),
		attribute.String("run.outcome", outcome),
		attribute.Int("run.succeeded", succeeded),
		attribute.Int("run.total", total),
	))
}
