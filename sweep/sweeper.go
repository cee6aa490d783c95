// Package sweep removes color roles nobody holds anymore.
package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/policy"
	"github.com/yairfalse/colorbot/remediation"
	"github.com/yairfalse/colorbot/telemetry"
	"github.com/yairfalse/colorbot/types"
)

// Reason is written to the audit log for every swept role
const Reason = "This role is now unused."

// Config configures a Sweeper
type Config struct {
	Roles       platform.RoleReader
	Coordinator *remediation.Coordinator
	Policy      *policy.Engine
	Logger      *telemetry.Logger
}

// Sweeper deletes unused color roles in the background. Each guild gets its
// own run, so recoverable failures reach each owner at most once.
type Sweeper struct {
	roles       platform.RoleReader
	coordinator *remediation.Coordinator
	policy      *policy.Engine
	logger      *telemetry.Logger
}

// New creates a sweeper
func New(cfg Config) (*Sweeper, error) {
	if cfg.Roles == nil {
		return nil, fmt.Errorf("role reader is required")
	}
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	return &Sweeper{
		roles:       cfg.Roles,
		coordinator: cfg.Coordinator,
		policy:      cfg.Policy,
		logger:      cfg.Logger.Component("sweep"),
	}, nil
}

// Guild starts a sweep of one guild without waiting for it. It returns a nil
// run when there is nothing to delete.
func (s *Sweeper) Guild(ctx context.Context, guild types.Guild) (*remediation.Run, error) {
	roles, err := s.roles.Roles(ctx, guild.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles for guild %s: %w", guild.ID, err)
	}

	var unused []types.Role
	for _, role := range types.ColorRoles(roles) {
		if role.IsUnused() {
			unused = append(unused, role)
		}
	}

	unused, _, err = s.policy.Filter(ctx, remediation.KindSweep, guild, unused)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate protection policy: %w", err)
	}

	run, err := s.coordinator.Start(ctx, remediation.Request{
		GuildID: guild.ID,
		OwnerID: guild.OwnerID,
		Kind:    remediation.KindSweep,
		Reason:  Reason,
		Targets: remediation.TargetsFromRoles(unused),
	})
	if errors.Is(err, remediation.ErrNoTargets) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info().
		Str("guild_id", guild.ID).
		Str("run_id", run.ID).
		Int("roles", len(unused)).
		Msg("sweeping unused color roles")

	return run, nil
}

// All sweeps every guild the bot is in. A failing guild does not stop the
// others; all errors are returned joined.
func (s *Sweeper) All(ctx context.Context) ([]*remediation.Run, error) {
	guilds, err := s.roles.Guilds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list guilds: %w", err)
	}

	var runs []*remediation.Run
	var errs []error
	for _, guild := range guilds {
		run, err := s.Guild(ctx, guild)
		if err != nil {
			s.logger.WithContext(ctx).Warn().
				Err(err).
				Str("guild_id", guild.ID).
				Msg("sweep skipped guild")
			errs = append(errs, err)
			continue
		}
		if run != nil {
			runs = append(runs, run)
		}
	}

	return runs, errors.Join(errs...)
}
