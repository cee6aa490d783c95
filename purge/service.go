// Package purge deletes every color role in a guild on operator request.
package purge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/policy"
	"github.com/yairfalse/colorbot/remediation"
	"github.com/yairfalse/colorbot/telemetry"
	"github.com/yairfalse/colorbot/types"
)

// Operator-facing texts
const (
	NothingToDeleteMessage = "**Error:** This server has no color roles."
	InProgressMessage      = "**Error:** A color role purge is already running in this server."
	CancelledMessage       = "Color role purge cancelled."
)

// ErrNothingToDelete is returned when the guild has no deletable color roles
var ErrNothingToDelete = errors.New("this server has no color roles")

// Config configures a Service
type Config struct {
	Roles       platform.RoleReader
	Coordinator *remediation.Coordinator
	// Policy is optional; protected roles are left in place
	Policy   *policy.Engine
	Reporter remediation.ReporterConfig
	Logger   *telemetry.Logger
}

// Service runs guild-wide color role purges
type Service struct {
	roles       platform.RoleReader
	coordinator *remediation.Coordinator
	policy      *policy.Engine
	reporter    remediation.ReporterConfig
	logger      *telemetry.Logger

	reporters sync.WaitGroup
}

// ConfirmRequest is an operator's confirmation of a purge
type ConfirmRequest struct {
	GuildID string
	// OperatorID is rendered into the audit log reason
	OperatorID string
	// OwnerID, when set, is sent the remediation text out of band
	OwnerID string
	// Status receives progress; nil means log only
	Status platform.StatusChannel
}

// NewService creates a purge service
func NewService(cfg Config) (*Service, error) {
	if cfg.Roles == nil {
		return nil, fmt.Errorf("role reader is required")
	}
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.Reporter.Logger == nil {
		cfg.Reporter.Logger = cfg.Logger
	}

	return &Service{
		roles:       cfg.Roles,
		coordinator: cfg.Coordinator,
		policy:      cfg.Policy,
		reporter:    cfg.Reporter,
		logger:      cfg.Logger.Component("purge"),
	}, nil
}

// Prompt returns the confirmation question for a guild
func (s *Service) Prompt(ctx context.Context, guildID string) (string, error) {
	targets, err := s.targets(ctx, guildID)
	if err != nil {
		return "", err
	}
	return PromptMessage(len(targets)), nil
}

// PromptMessage is the confirmation question for n roles
func PromptMessage(n int) string {
	return fmt.Sprintf("Are you sure you want to delete all %d of this server's color roles?\nThis cannot be undone.", n)
}

// Confirm starts deleting every color role in the guild and mirrors progress
// into req.Status. It returns as soon as the deletions are dispatched.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*remediation.Run, error) {
	targets, err := s.targets(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}

	run, err := s.coordinator.Start(ctx, remediation.Request{
		GuildID: req.GuildID,
		OwnerID: req.OwnerID,
		Kind:    remediation.KindPurge,
		Reason:  fmt.Sprintf("<@%s> used /colorbot purge.", req.OperatorID),
		Targets: targets,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info().
		Str("guild_id", req.GuildID).
		Str("operator_id", req.OperatorID).
		Str("run_id", run.ID).
		Int("roles", len(targets)).
		Msg("purge confirmed")

	reporter := remediation.NewReporter(s.reporter, run, req.Status)
	reportCtx := context.WithoutCancel(ctx)

	s.reporters.Add(1)
	go func() {
		defer s.reporters.Done()
		if err := reporter.Run(reportCtx); err != nil {
			s.logger.WithContext(reportCtx).Warn().
				Err(err).
				Str("run_id", run.ID).
				Msg("purge status reporting failed")
		}
	}()

	return run, nil
}

// Wait blocks until every started reporter has written its final message
func (s *Service) Wait() {
	s.reporters.Wait()
}

func (s *Service) targets(ctx context.Context, guildID string) ([]remediation.Target, error) {
	guild, err := s.roles.Guild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get guild %s: %w", guildID, err)
	}

	roles, err := s.roles.Roles(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles for guild %s: %w", guildID, err)
	}

	candidates := types.ColorRoles(roles)
	candidates, _, err = s.policy.Filter(ctx, remediation.KindPurge, *guild, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate protection policy: %w", err)
	}

	if len(candidates) == 0 {
		return nil, ErrNothingToDelete
	}
	return remediation.TargetsFromRoles(candidates), nil
}

// Message maps a Prompt or Confirm error onto the text shown to the operator
func Message(err error) string {
	var report *remediation.ErrorReport
	switch {
	case errors.Is(err, ErrNothingToDelete):
		return NothingToDeleteMessage
	case errors.Is(err, remediation.ErrRunInProgress):
		return InProgressMessage
	case errors.As(err, &report):
		return report.Message
	default:
		return remediation.GenericFailureMessage
	}
}
