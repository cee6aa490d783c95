package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds lifecycle metrics. A nil *DaemonMetrics records nothing.
type DaemonMetrics struct {
	gatewayConnects metric.Int64Counter
	prunes          metric.Int64Counter
	prunedRuns      metric.Int64Counter
}

// NewDaemonMetrics creates daemon metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetrics(otel.GetMeterProvider())
}

func newDaemonMetrics(provider metric.MeterProvider) (*DaemonMetrics, error) {
	meter := provider.Meter("colorbot.daemon")

	gatewayConnects, err := meter.Int64Counter(
		"colorbot.daemon.gateway.connects",
		metric.WithDescription("Gateway connection attempts"),
		metric.WithUnit("{connect}"),
	)
	if err != nil {
		return nil, err
	}

	prunes, err := meter.Int64Counter(
		"colorbot.daemon.prunes",
		metric.WithDescription("Run history prune passes"),
		metric.WithUnit("{prune}"),
	)
	if err != nil {
		return nil, err
	}

	prunedRuns, err := meter.Int64Counter(
		"colorbot.daemon.pruned_runs",
		metric.WithDescription("Runs removed from history"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		gatewayConnects: gatewayConnects,
		prunes:          prunes,
		prunedRuns:      prunedRuns,
	}, nil
}

// RecordGatewayConnect records a gateway connection attempt
func (m *DaemonMetrics) RecordGatewayConnect(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.gatewayConnects.Add(ctx, 1, metric.WithAttributes(status(err)))
}

// RecordPrune records a prune pass and the runs it removed
func (m *DaemonMetrics) RecordPrune(ctx context.Context, removed int, err error) {
	if m == nil {
		return
	}
	m.prunes.Add(ctx, 1, metric.WithAttributes(status(err)))
	if removed > 0 {
		m.prunedRuns.Add(ctx, int64(removed))
	}
}

func status(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}
