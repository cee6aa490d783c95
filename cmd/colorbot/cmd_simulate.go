package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/colorbot/config"
	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/platform/memory"
	"github.com/yairfalse/colorbot/policy"
	"github.com/yairfalse/colorbot/purge"
	"github.com/yairfalse/colorbot/remediation"
	"github.com/yairfalse/colorbot/storage"
	"github.com/yairfalse/colorbot/telemetry"
	"github.com/yairfalse/colorbot/types"
)

const (
	simulatedGuild    = "simulated"
	simulatedOwner    = "owner"
	simulatedOperator = "operator"
)

// simulation describes a rehearsal purge against an in-memory guild
type simulation struct {
	Roles    int
	Latency  time.Duration
	Jitter   time.Duration
	FailRate float64
	FailCode int
	Seed     uint64
	Record   bool
	// Sweep rehearses the startup sweep instead of a purge
	Sweep bool
	// Held is the fraction of roles that some member still holds
	Held float64
}

var sim simulation

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Rehearse a color role purge without Discord",
	Long: `Run /colorbot purge against an in-memory server with synthetic latency
and failures. Progress is printed exactly as the bot would post it.

Failure codes:
- 50001 missing access (aborts the run, owner is notified once)
- 50013 missing permissions (aborts when the bot ranks below a role)
- 10011 unknown role (counted as deleted)
- anything else fails the run`,
	Example: `  colorbot simulate                              # 100 roles, 50ms each
  colorbot simulate --roles 500 --latency 200ms  # A slow, large server
  colorbot simulate --fail-rate 0.01             # Occasional missing access
  colorbot simulate --fail-code 500 --record     # Fail and keep history
  colorbot simulate --sweep --held 0.9           # Sweep the 10% nobody holds`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntVar(&sim.Roles, "roles", 100, "Number of color roles in the server")
	simulateCmd.Flags().DurationVar(&sim.Latency, "latency", 50*time.Millisecond, "Base latency per deletion")
	simulateCmd.Flags().DurationVar(&sim.Jitter, "jitter", 2*time.Second, "Maximum extra random latency per deletion")
	simulateCmd.Flags().Float64Var(&sim.FailRate, "fail-rate", 0, "Fraction of deletions that fail (0-1)")
	simulateCmd.Flags().IntVar(&sim.FailCode, "fail-code", int(platform.CodeMissingAccess), "Platform error code for failed deletions")
	simulateCmd.Flags().Uint64Var(&sim.Seed, "seed", 0, "Random seed (0 picks one)")
	simulateCmd.Flags().BoolVar(&sim.Record, "record", false, "Record the run in the history journal")
	simulateCmd.Flags().BoolVar(&sim.Sweep, "sweep", false, "Rehearse the unused role sweep instead of a purge")
	simulateCmd.Flags().Float64Var(&sim.Held, "held", 0.5, "Fraction of roles held by a member (0-1)")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sim.Seed == 0 {
		sim.Seed = uint64(time.Now().UnixNano())
	}

	logger := consoleLogger(cfg)

	var journal remediation.Journal
	if sim.Record {
		j, err := storage.OpenRunJournal(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open run journal: %w", err)
		}
		defer func() { _ = j.Close() }()
		journal = j
	}

	engine, err := loadPolicy(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	_, err = simulate(cmd.Context(), sim, simulationDeps{
		cfg:     cfg,
		journal: journal,
		policy:  engine,
		logger:  logger,
	}, cmd.OutOrStdout())
	return err
}

type simulationDeps struct {
	cfg      *config.Config
	journal  remediation.Journal
	policy   *policy.Engine
	logger   *telemetry.Logger
	reporter *remediation.ReporterConfig
}

// simulate builds the in-memory guild, confirms a purge and waits for every
// deletion and status message
func simulate(ctx context.Context, s simulation, deps simulationDeps, out io.Writer) (remediation.Snapshot, error) {
	if s.Roles <= 0 {
		return remediation.Snapshot{}, fmt.Errorf("roles must be positive")
	}
	if s.FailRate < 0 || s.FailRate > 1 {
		return remediation.Snapshot{}, fmt.Errorf("fail-rate must be between 0 and 1")
	}
	if s.Held < 0 || s.Held > 1 {
		return remediation.Snapshot{}, fmt.Errorf("held must be between 0 and 1")
	}

	p, err := simulatedGuildPlatform(s)
	if err != nil {
		return remediation.Snapshot{}, err
	}

	svc, err := wire(wiring{
		platform: p,
		journal:  deps.journal,
		policy:   deps.policy,
		cfg:      deps.cfg,
		logger:   deps.logger,
		reporter: deps.reporter,
	})
	if err != nil {
		return remediation.Snapshot{}, err
	}

	status := &writerStatus{out: out}
	if s.Sweep {
		return simulateSweep(ctx, svc, p, status)
	}

	prompt, err := svc.purge.Prompt(ctx, simulatedGuild)
	if err != nil {
		fmt.Fprintln(out, purge.Message(err))
		return remediation.Snapshot{}, err
	}
	fmt.Fprintln(out, prompt)

	run, err := svc.purge.Confirm(ctx, purge.ConfirmRequest{
		GuildID:    simulatedGuild,
		OperatorID: simulatedOperator,
		OwnerID:    simulatedOwner,
		Status:     status,
	})
	if err != nil {
		fmt.Fprintln(out, purge.Message(err))
		return remediation.Snapshot{}, err
	}

	snap, runErr := run.Wait(ctx)
	svc.purge.Wait()

	if err := summarize(ctx, run, snap, p, status); err != nil {
		return snap, err
	}
	return snap, runErr
}

// simulateSweep runs the startup sweep over the simulated guild. Sweeps have
// no status channel, so the final message is printed once the run is done.
func simulateSweep(ctx context.Context, svc *services, p *memory.Platform, status *writerStatus) (remediation.Snapshot, error) {
	runs, err := svc.sweeper.All(ctx)
	if err != nil {
		return remediation.Snapshot{}, err
	}
	if len(runs) == 0 {
		status.printf("No unused color roles.")
		return remediation.Snapshot{}, nil
	}

	run := runs[0]
	snap, runErr := run.Wait(ctx)
	status.printf("%s", remediation.FinalMessage(snap))

	if err := summarize(ctx, run, snap, p, status); err != nil {
		return snap, err
	}
	return snap, runErr
}

// summarize waits for in-flight deletions, then prints direct messages and a
// one-line run summary
func summarize(ctx context.Context, run *remediation.Run, snap remediation.Snapshot, p *memory.Platform, status *writerStatus) error {
	select {
	case <-run.Drained():
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, dm := range p.DirectMessages() {
		status.printf("[dm %s] %s", dm.UserID, dm.Content)
	}
	status.printf("run %s: %s %s, %d of %d deleted in %s",
		run.ID, run.Kind, snap.Outcome(), snap.Succeeded, snap.Total, snap.TakenAt.Sub(run.StartedAt).Round(time.Millisecond))
	return nil
}

// simulatedGuildPlatform seeds an in-memory guild with distinct color roles
// and schedules per-role latency and failures
func simulatedGuildPlatform(s simulation) (*memory.Platform, error) {
	rnd := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))

	p := memory.New()
	p.AddGuild(types.Guild{ID: simulatedGuild, Name: "Simulated", OwnerID: simulatedOwner}, s.Roles+10)

	delays := make(map[string]time.Duration, s.Roles)
	seen := make(map[int]bool, s.Roles)
	for i := 1; i <= s.Roles; i++ {
		color := rnd.IntN(0x1000000)
		for seen[color] {
			color = rnd.IntN(0x1000000)
		}
		seen[color] = true

		id := fmt.Sprintf("role-%d", i)
		if err := p.AddRole(types.Role{
			ID:       id,
			GuildID:  simulatedGuild,
			Name:     types.FormatColor(color),
			Color:    color,
			Position: i,
		}); err != nil {
			return nil, err
		}

		delay := s.Latency
		if s.Jitter > 0 {
			delay += time.Duration(rnd.Int64N(int64(s.Jitter)))
		}
		delays[id] = delay

		if rnd.Float64() < s.FailRate {
			p.FailDelete(id, platform.NewFailure(s.FailCode, "simulated failure"))
		}
		if s.Held > 0 && rnd.Float64() < s.Held {
			if err := p.AddMember(simulatedGuild, fmt.Sprintf("member-%d", i), id); err != nil {
				return nil, err
			}
		}
	}

	p.SetDeleteHook(func(ctx context.Context, _, roleID string) error {
		select {
		case <-time.After(delays[roleID]):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return p, nil
}

// writerStatus prints every status update as a new line
type writerStatus struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *writerStatus) Upsert(_ context.Context, text string) error {
	w.printf("%s", text)
	return nil
}

func (w *writerStatus) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format+"\n", args...)
}
