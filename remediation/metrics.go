package remediation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds remediation instruments. A nil *Metrics records nothing.
type Metrics struct {
	runs          metric.Int64Counter
	runDuration   metric.Float64Histogram
	deletions     metric.Int64Counter
	notifications metric.Int64Counter
	statusUpdates metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider
func NewMetrics() (*Metrics, error) {
	return newMetricsWithProvider(otel.GetMeterProvider())
}

func newMetricsWithProvider(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("colorbot.remediation")

	runs, err := meter.Int64Counter(
		"colorbot.remediation.runs",
		metric.WithDescription("Number of finished remediation runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"colorbot.remediation.run.duration",
		metric.WithDescription("Time from fan-out to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	deletions, err := meter.Int64Counter(
		"colorbot.remediation.deletions",
		metric.WithDescription("Role deletions by classified result"),
		metric.WithUnit("{role}"),
	)
	if err != nil {
		return nil, err
	}

	notifications, err := meter.Int64Counter(
		"colorbot.remediation.notifications",
		metric.WithDescription("Out-of-band notifications by delivery decision"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	statusUpdates, err := meter.Int64Counter(
		"colorbot.remediation.status_updates",
		metric.WithDescription("Progress message writes by result"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runs:          runs,
		runDuration:   runDuration,
		deletions:     deletions,
		notifications: notifications,
		statusUpdates: statusUpdates,
	}, nil
}

// RecordRun records a run reaching its terminal state
func (m *Metrics) RecordRun(ctx context.Context, kind string, outcome Outcome, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("run.kind", kind),
		attribute.String("run.outcome", string(outcome)),
	)
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDeletion records one deletion task result ("deleted" or a Class name)
func (m *Metrics) RecordDeletion(ctx context.Context, kind string, result string) {
	if m == nil {
		return
	}
	m.deletions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("run.kind", kind),
		attribute.String("result", result),
	))
}

// RecordNotification records whether a notification was sent or suppressed
func (m *Metrics) RecordNotification(ctx context.Context, sent bool) {
	if m == nil {
		return
	}
	decision := "suppressed"
	if sent {
		decision = "sent"
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", decision),
	))
}

// RecordStatusUpdate records a progress message write
func (m *Metrics) RecordStatusUpdate(ctx context.Context, final bool, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.statusUpdates.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("final", final),
		attribute.String("result", result),
	))
}
