package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/yairfalse/colorbot/telemetry"
)

// DefaultPruneInterval is how often run history is trimmed
const DefaultPruneInterval = time.Hour

// Gateway is the chat connection the daemon keeps open
type Gateway interface {
	Open(ctx context.Context) error
	Close() error
}

// Pruner trims run history
type Pruner interface {
	Prune(keep int) (int, error)
	Recorded() int64
}

// Config holds daemon configuration
type Config struct {
	Gateway Gateway
	// Journal is optional; nil disables history retention
	Journal Pruner
	// Keep is the number of runs retained; zero keeps everything
	Keep          int
	PruneInterval time.Duration
	Metrics       *DaemonMetrics
	Logger        *telemetry.Logger
}

// Daemon keeps the bot connected and its run history bounded
type Daemon struct {
	gateway       Gateway
	journal       Pruner
	keep          int
	pruneInterval time.Duration
	metrics       *DaemonMetrics
	logger        *telemetry.Logger
	startTime     time.Time
	connected     atomic.Bool
	pruneCount    atomic.Int64
}

// NewDaemon creates a new daemon instance
func NewDaemon(config Config) (*Daemon, error) {
	if config.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if config.PruneInterval <= 0 {
		config.PruneInterval = DefaultPruneInterval
	}
	if config.Logger == nil {
		config.Logger = telemetry.NopLogger()
	}

	return &Daemon{
		gateway:       config.Gateway,
		journal:       config.Journal,
		keep:          config.Keep,
		pruneInterval: config.PruneInterval,
		metrics:       config.Metrics,
		logger:        config.Logger.Component("daemon"),
		startTime:     time.Now(),
	}, nil
}

// Start opens the gateway and prunes history until ctx is cancelled
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.gateway.Open(ctx); err != nil {
		d.metrics.RecordGatewayConnect(ctx, err)
		return err
	}
	d.metrics.RecordGatewayConnect(ctx, nil)
	d.connected.Store(true)

	defer func() {
		d.connected.Store(false)
		if err := d.gateway.Close(); err != nil {
			d.logger.WithContext(ctx).Warn().Err(err).Msg("failed to close gateway")
		}
	}()

	d.prune(ctx)

	ticker := time.NewTicker(d.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.prune(ctx)
		}
	}
}

func (d *Daemon) prune(ctx context.Context) {
	if d.journal == nil || d.keep <= 0 {
		return
	}

	d.pruneCount.Add(1)
	removed, err := d.journal.Prune(d.keep)
	d.metrics.RecordPrune(ctx, removed, err)
	if err != nil {
		d.logger.LogStorageError(ctx, "prune", err)
		return
	}
	if removed > 0 {
		d.logger.WithContext(ctx).Info().
			Int("removed", removed).
			Int("keep", d.keep).
			Msg("pruned run history")
	}
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	status := HealthStatus{
		Status:    "healthy",
		Uptime:    int64(time.Since(d.startTime).Seconds()),
		Connected: d.connected.Load(),
	}
	if !status.Connected {
		status.Status = "disconnected"
	}
	if d.journal != nil {
		status.RunsRecorded = d.journal.Recorded()
	}
	return status
}

// ServeHTTP writes Health as JSON; disconnected reports 503
func (d *Daemon) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	health := d.Health()

	w.Header().Set("Content-Type", "application/json")
	if !health.Connected {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status       string `json:"status"`
	Uptime       int64  `json:"uptime_seconds"`
	Connected    bool   `json:"connected"`
	RunsRecorded int64  `json:"runs_recorded"`
}

// PruneCount returns total prune passes run
func (d *Daemon) PruneCount() int64 {
	return d.pruneCount.Load()
}
