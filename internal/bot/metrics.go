package bot

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds interaction instruments. A nil *Metrics records nothing.
type Metrics struct {
	interactions        metric.Int64Counter
	interactionDuration metric.Float64Histogram
}

// NewMetrics creates instruments on the global meter provider
func NewMetrics() (*Metrics, error) {
	return newMetricsWithProvider(otel.GetMeterProvider())
}

func newMetricsWithProvider(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("colorbot.bot")

	interactions, err := meter.Int64Counter(
		"colorbot.bot.interactions",
		metric.WithDescription("Number of handled interactions"),
		metric.WithUnit("{interaction}"),
	)
	if err != nil {
		return nil, err
	}

	interactionDuration, err := meter.Float64Histogram(
		"colorbot.bot.interaction.duration",
		metric.WithDescription("Time spent answering an interaction"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		interactions:        interactions,
		interactionDuration: interactionDuration,
	}, nil
}

// RecordInteraction records one answered interaction
func (m *Metrics) RecordInteraction(ctx context.Context, name string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("interaction", name),
		attribute.String("status", status),
	)
	m.interactions.Add(ctx, 1, attrs)
	m.interactionDuration.Record(ctx, duration.Seconds(), attrs)
}
