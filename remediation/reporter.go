package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/telemetry"
)

// Reporter defaults
const (
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultInterval     = time.Second
)

// Clock abstracts time for the reporter loop
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the wall clock
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ReporterState is the lifecycle of a Reporter
type ReporterState int32

const (
	ReporterIdle ReporterState = iota
	ReporterReporting
	ReporterDone
)

func (s ReporterState) String() string {
	switch s {
	case ReporterReporting:
		return "reporting"
	case ReporterDone:
		return "done"
	default:
		return "idle"
	}
}

// ReporterConfig configures a Reporter
type ReporterConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	Clock        Clock
	Logger       *telemetry.Logger
	Metrics      *Metrics
}

func (c *ReporterConfig) defaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Clock == nil {
		c.Clock = RealClock{}
	}
	if c.Logger == nil {
		c.Logger = telemetry.NopLogger()
	}
}

// Reporter mirrors one run's progress into a status channel. It only reads
// run snapshots and never affects the run itself.
type Reporter struct {
	cfg    ReporterConfig
	run    *Run
	status platform.StatusChannel
	logger *telemetry.Logger

	state    atomic.Int32
	degraded bool
}

// NewReporter creates a reporter for run. status may be nil, in which case
// progress is only logged.
func NewReporter(cfg ReporterConfig, run *Run, status platform.StatusChannel) *Reporter {
	cfg.defaults()
	return &Reporter{
		cfg:      cfg,
		run:      run,
		status:   status,
		logger:   cfg.Logger.Component("reporter"),
		degraded: status == nil,
	}
}

// State returns the current lifecycle state
func (r *Reporter) State() ReporterState {
	return ReporterState(r.state.Load())
}

// Run ticks until the run is terminal, then writes exactly one final message.
// A run that finishes before the first tick gets no progress message at all.
// Cancelling ctx stops reporting only.
func (r *Reporter) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(ReporterIdle), int32(ReporterReporting)) {
		return fmt.Errorf("reporter for run %s already started", r.run.ID)
	}
	defer r.state.Store(int32(ReporterDone))

	wait := r.cfg.InitialDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.run.Done():
			return r.final(ctx)
		case <-r.cfg.Clock.After(wait):
		}

		snap := r.run.Snapshot()
		if snap.Terminal() {
			return r.final(ctx)
		}

		r.write(ctx, ProgressMessage(snap), false)
		wait = r.cfg.Interval
	}
}

func (r *Reporter) final(ctx context.Context) error {
	snap := r.run.Snapshot()
	text := FinalMessage(snap)

	if err := r.write(ctx, text, true); err != nil && !errors.Is(err, platform.ErrChannelGone) {
		return fmt.Errorf("final status for run %s: %w", r.run.ID, err)
	}
	return nil
}

// write upserts text unless the channel is known gone
func (r *Reporter) write(ctx context.Context, text string, final bool) error {
	log := r.logger.WithContext(ctx)

	if r.degraded {
		log.Info().
			Str("run_id", r.run.ID).
			Bool("final", final).
			Msg(text)
		return nil
	}

	err := r.status.Upsert(ctx, text)
	r.cfg.Metrics.RecordStatusUpdate(ctx, final, err)
	if err == nil {
		return nil
	}

	if errors.Is(err, platform.ErrChannelGone) {
		r.degraded = true
		r.logger.LogStatusUnavailable(ctx, r.run.ID, err)
		log.Info().
			Str("run_id", r.run.ID).
			Bool("final", final).
			Msg(text)
		return err
	}

	log.Warn().
		Err(err).
		Str("run_id", r.run.ID).
		Bool("final", final).
		Msg("status update failed")
	return err
}
