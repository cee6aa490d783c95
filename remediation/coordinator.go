package remediation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/telemetry"
)

// CoordinatorConfig configures a Coordinator
type CoordinatorConfig struct {
	Deleter    platform.RoleDeleter
	Classifier *Classifier
	// Notifier is optional. When set, the first recoverable failure of a run
	// is also sent to the request's OwnerID.
	Notifier *Deduplicator
	Journal  Journal
	Metrics  *Metrics
	Logger   *telemetry.Logger
	Now      func() time.Time
}

func (c *CoordinatorConfig) defaults() error {
	if c.Deleter == nil {
		return fmt.Errorf("deleter is required")
	}
	if c.Classifier == nil {
		return fmt.Errorf("classifier is required")
	}
	if c.Logger == nil {
		c.Logger = telemetry.NopLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Coordinator fans out role deletions and owns their aggregate state. At most
// one run per guild is in flight at a time.
type Coordinator struct {
	deleter    platform.RoleDeleter
	classifier *Classifier
	notifier   *Deduplicator
	journal    Journal
	metrics    *Metrics
	logger     *telemetry.Logger
	now        func() time.Time

	mu     sync.Mutex
	active map[string]*Run
}

// NewCoordinator creates a coordinator
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Coordinator{
		deleter:    cfg.Deleter,
		classifier: cfg.Classifier,
		notifier:   cfg.Notifier,
		journal:    cfg.Journal,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.Component("coordinator"),
		now:        cfg.Now,
		active:     make(map[string]*Run),
	}, nil
}

// outcome is what a deletion task reports back to the aggregator
type outcome struct {
	target Target
	class  Classification
	ok     bool
}

// Start launches one deletion task per target and returns immediately.
//
// Deletions are detached from ctx cancellation: once started they run to
// completion or fatal abort. ctx only carries values (trace, logger fields).
func (c *Coordinator) Start(ctx context.Context, req Request) (*Run, error) {
	if len(req.Targets) == 0 {
		return nil, ErrNoTargets
	}
	if req.Kind == "" {
		req.Kind = KindPurge
	}

	run := newRun(req, c.now())

	c.mu.Lock()
	if _, busy := c.active[req.GuildID]; busy {
		c.mu.Unlock()
		return nil, ErrRunInProgress
	}
	c.active[req.GuildID] = run
	c.mu.Unlock()

	runCtx, span := telemetry.Tracer.Start(context.WithoutCancel(ctx), "remediation.run",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("guild.id", req.GuildID),
			attribute.String("run.kind", req.Kind),
		))
	telemetry.RecordRunStartedEvent(span, run.ID, req.GuildID, req.Kind, len(req.Targets))
	c.logger.LogRunStarted(runCtx, run.ID, req.GuildID, len(req.Targets))

	// Buffered to the number of tasks so no task ever blocks on send, even
	// after the aggregator has observed a terminal state.
	outcomes := make(chan outcome, len(req.Targets))

	go c.aggregate(runCtx, span, run, outcomes)

	for _, target := range req.Targets {
		go c.deleteTarget(runCtx, run, target, outcomes)
	}

	return run, nil
}

// Drain blocks until no run is in flight or ctx is done. Runs started while
// draining are waited for too.
func (c *Coordinator) Drain(ctx context.Context) error {
	for {
		var run *Run
		c.mu.Lock()
		for _, r := range c.active {
			run = r
			break
		}
		c.mu.Unlock()

		if run == nil {
			return nil
		}
		select {
		case <-run.Drained():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Active returns the in-flight run for a guild, if any
func (c *Coordinator) Active(guildID string) (*Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.active[guildID]
	return run, ok
}

func (c *Coordinator) deleteTarget(ctx context.Context, run *Run, target Target, outcomes chan<- outcome) {
	err := c.deleter.DeleteRole(ctx, run.GuildID, target.ID, run.reason)
	if err == nil {
		c.metrics.RecordDeletion(ctx, run.Kind, "deleted")
		outcomes <- outcome{target: target, ok: true}
		return
	}

	class := c.classifier.Classify(ctx, run.GuildID, err, &target)
	c.metrics.RecordDeletion(ctx, run.Kind, class.Class.String())

	switch class.Class {
	case ClassAlreadyAbsent:
		c.logger.WithContext(ctx).Debug().
			Str("run_id", run.ID).
			Str("role_id", target.ID).
			Msg("role already absent")
	case ClassRecoverable:
		c.logger.LogDeletionFailed(ctx, run.ID, target.ID, class.Class.String(), err)
		if c.notifier != nil && run.ownerID != "" {
			c.notifier.NotifyOnce(ctx, run.Key, run.ownerID, class.Report.Message)
		}
	default:
		c.logger.LogDeletionFailed(ctx, run.ID, target.ID, class.Class.String(), err)
	}

	outcomes <- outcome{target: target, class: class}
}

// aggregate is the single owner of the run's state. It consumes exactly one
// outcome per target.
func (c *Coordinator) aggregate(ctx context.Context, span trace.Span, run *Run, outcomes <-chan outcome) {
	defer span.End()

	finished := false
	for i := 0; i < run.total; i++ {
		o := <-outcomes

		snap, becameTerminal := run.apply(o, c.now())
		if becameTerminal && !finished {
			finished = true
			c.finish(ctx, span, run, snap)
		}
	}

	if c.notifier != nil {
		c.notifier.Forget(run.Key)
	}

	c.mu.Lock()
	if c.active[run.GuildID] == run {
		delete(c.active, run.GuildID)
	}
	c.mu.Unlock()

	close(run.drained)
}

func (c *Coordinator) finish(ctx context.Context, span trace.Span, run *Run, snap Snapshot) {
	outcome := snap.Outcome()
	duration := snap.TakenAt.Sub(run.StartedAt)

	if snap.TerminalError != nil {
		var roleID string
		if snap.TerminalError.Target != nil {
			roleID = snap.TerminalError.Target.ID
		}
		telemetry.RecordRunAbortedEvent(span, run.ID, roleID, snap.TerminalError.Message)
	}
	telemetry.RecordRunFinishedEvent(span, run.ID, string(outcome), snap.Succeeded, snap.Total)
	c.logger.LogRunFinished(ctx, run.ID, snap.Succeeded, snap.Total, string(outcome), duration)
	c.metrics.RecordRun(ctx, run.Kind, outcome, duration)

	if c.journal == nil {
		return
	}

	summary := RunSummary{
		ID:         run.ID,
		GuildID:    run.GuildID,
		Kind:       run.Kind,
		Total:      snap.Total,
		Succeeded:  snap.Succeeded,
		Failed:     snap.Failed,
		Outcome:    outcome,
		StartedAt:  run.StartedAt,
		FinishedAt: snap.TakenAt,
	}
	switch {
	case snap.TerminalError != nil:
		summary.Message = snap.TerminalError.Message
	case snap.Err != nil:
		summary.Message = snap.Err.Error()
	}

	if err := c.journal.Record(summary); err != nil {
		c.logger.LogStorageError(ctx, "record_run", err)
	}
}

// Run is the handle for one remediation run
type Run struct {
	ID        string
	Key       AntiSpamKey
	GuildID   string
	Kind      string
	StartedAt time.Time

	ownerID string
	reason  string
	total   int

	mu    sync.RWMutex
	state RunState

	done    chan struct{}
	drained chan struct{}
}

func newRun(req Request, now time.Time) *Run {
	return &Run{
		ID:        ulid.Make().String(),
		Key:       NewAntiSpamKey(),
		GuildID:   req.GuildID,
		Kind:      req.Kind,
		StartedAt: now,
		ownerID:   req.OwnerID,
		reason:    req.Reason,
		total:     len(req.Targets),
		state:     RunState{Total: len(req.Targets)},
		done:      make(chan struct{}),
		drained:   make(chan struct{}),
	}
}

// apply folds one outcome into the state and reports whether this outcome
// moved the run into a terminal state.
func (r *Run) apply(o outcome, now time.Time) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasTerminal := r.state.Terminal()

	switch {
	case o.ok || o.class.Class == ClassAlreadyAbsent:
		r.state.Succeeded++
	case wasTerminal:
		// Stragglers only move counters; the outcome is fixed once terminal.
		if o.class.Class != ClassRecoverable {
			r.state.Failed++
		}
	case o.class.Class == ClassRecoverable:
		// First writer wins; the target is not counted either way.
		if r.state.TerminalError == nil {
			r.state.TerminalError = o.class.Report
		}
	default:
		r.state.Failed++
		if r.state.Err == nil {
			r.state.Err = o.class.Err
		}
	}

	snap := Snapshot{RunState: r.state, TakenAt: now}
	if !wasTerminal && r.state.Terminal() {
		close(r.done)
		return snap, true
	}
	return snap, false
}

// Snapshot returns the current aggregate without blocking on deletions
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{RunState: r.state, TakenAt: time.Now()}
}

// Done is closed once the run is terminal
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Drained is closed once every deletion task has reported back
func (r *Run) Drained() <-chan struct{} {
	return r.drained
}

// Wait blocks until the run is terminal. A fatal failure is returned as the
// error even if other deletions are still in flight.
func (r *Run) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}

	snap := r.Snapshot()
	if snap.Err != nil {
		return snap, fmt.Errorf("remediation run %s failed: %w", r.ID, snap.Err)
	}
	return snap, nil
}
