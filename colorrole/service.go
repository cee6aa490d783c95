// Package colorrole assigns and removes per-member color roles.
package colorrole

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/remediation"
	"github.com/yairfalse/colorbot/telemetry"
	"github.com/yairfalse/colorbot/types"
)

// MaxSuggestions bounds the nearest colors offered when the role limit is hit
const MaxSuggestions = 20

var (
	// ErrInvalidColor is returned for input that is not a hex color
	ErrInvalidColor = types.ErrInvalidColor

	// ErrNoColorRole is returned by Reset when the member has no color role
	ErrNoColorRole = errors.New("member has no color role")
)

// MaxRolesError is returned when the guild cannot hold another role.
// Nearest lists existing color roles closest to the requested color.
type MaxRolesError struct {
	Color   string
	Nearest []types.Role
}

func (e *MaxRolesError) Error() string {
	return fmt.Sprintf("maximum number of guild roles reached creating %s", e.Color)
}

// Config configures a Service
type Config struct {
	Platform   RolePlatform
	Classifier *remediation.Classifier
	Logger     *telemetry.Logger
}

// RolePlatform is what the service needs from the chat platform
type RolePlatform interface {
	platform.RoleReader
	platform.RoleWriter
}

// Service manages member color roles
type Service struct {
	platform   RolePlatform
	classifier *remediation.Classifier
	logger     *telemetry.Logger
}

// NewService creates a color role service
func NewService(cfg Config) (*Service, error) {
	if cfg.Platform == nil {
		return nil, fmt.Errorf("platform is required")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	return &Service{
		platform:   cfg.Platform,
		classifier: cfg.Classifier,
		logger:     cfg.Logger.Component("colorrole"),
	}, nil
}

// Set gives the member a color role for input, creating the role if needed.
// The previous color role is removed first so it can make room for the new
// one; if the new role cannot be assigned the old color is restored.
func (s *Service) Set(ctx context.Context, guildID, memberID, input string) (*types.Role, error) {
	hex, value, err := types.ParseColor(input)
	if err != nil {
		return nil, err
	}

	old, err := s.platform.MemberColorRole(ctx, guildID, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to read member roles: %w", err)
	}
	if old != nil && old.Name == hex {
		return old, nil
	}

	if old != nil {
		if err := s.remove(ctx, guildID, memberID, *old); err != nil {
			return nil, err
		}
	}

	role, err := s.add(ctx, guildID, memberID, hex, value)
	if err == nil {
		s.logger.WithContext(ctx).Debug().
			Str("guild_id", guildID).
			Str("member_id", memberID).
			Str("color", hex).
			Msg("color set")
		return role, nil
	}

	if old != nil {
		if _, restoreErr := s.add(ctx, guildID, memberID, old.HexColor(), old.Color); restoreErr != nil {
			s.logger.WithContext(ctx).Warn().
				Err(restoreErr).
				Str("guild_id", guildID).
				Str("member_id", memberID).
				Str("color", old.HexColor()).
				Msg("failed to restore previous color")
		}
	}

	if code, ok := platform.FailureCode(err); ok && code == platform.CodeMaxRoles {
		return nil, s.maxRoles(ctx, guildID, hex, value)
	}
	return nil, err
}

// Reset removes the member's color role, deleting it if nobody else has it
func (s *Service) Reset(ctx context.Context, guildID, memberID string) (*types.Role, error) {
	old, err := s.platform.MemberColorRole(ctx, guildID, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to read member roles: %w", err)
	}
	if old == nil {
		return nil, ErrNoColorRole
	}

	if err := s.remove(ctx, guildID, memberID, *old); err != nil {
		return nil, err
	}
	return old, nil
}

func (s *Service) add(ctx context.Context, guildID, memberID, hex string, value int) (*types.Role, error) {
	roles, err := s.platform.Roles(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	var role *types.Role
	for i := range roles {
		if types.IsColorRole(roles[i]) && roles[i].Name == hex {
			role = &roles[i]
			break
		}
	}

	if role == nil {
		created, err := s.platform.CreateRole(ctx, guildID, types.RoleSpec{Name: hex, Color: value})
		if err != nil {
			return nil, s.classifyStrict(ctx, guildID, err, nil)
		}
		role = created
	}

	if err := s.platform.AddMemberRole(ctx, guildID, memberID, role.ID); err != nil {
		target := remediation.TargetFromRole(*role)
		return nil, s.classifyStrict(ctx, guildID, err, &target)
	}
	return role, nil
}

func (s *Service) remove(ctx context.Context, guildID, memberID string, role types.Role) error {
	target := remediation.TargetFromRole(role)

	if err := s.platform.RemoveMemberRole(ctx, guildID, memberID, role.ID); err != nil {
		return s.classify(ctx, guildID, err, &target)
	}

	// The member held the role, so MemberCount counted them.
	if role.MemberCount > 1 {
		return nil
	}

	if err := s.platform.DeleteRole(ctx, guildID, role.ID, "This role is now unused."); err != nil {
		return s.classify(ctx, guildID, err, &target)
	}
	return nil
}

// classify turns recoverable failures into operator-facing reports. A role
// that is already gone is not an error here.
func (s *Service) classify(ctx context.Context, guildID string, err error, target *remediation.Target) error {
	result := s.classifier.Classify(ctx, guildID, err, target)
	switch result.Class {
	case remediation.ClassAlreadyAbsent:
		return nil
	case remediation.ClassRecoverable:
		return result.Report
	default:
		return err
	}
}

// classifyStrict is classify for calls whose success matters: a vanished
// role is still a failure.
func (s *Service) classifyStrict(ctx context.Context, guildID string, err error, target *remediation.Target) error {
	if classified := s.classify(ctx, guildID, err, target); classified != nil {
		return classified
	}
	return err
}

func (s *Service) maxRoles(ctx context.Context, guildID, hex string, value int) error {
	maxErr := &MaxRolesError{Color: hex}

	roles, err := s.platform.Roles(ctx, guildID)
	if err != nil {
		s.logger.WithContext(ctx).Warn().
			Err(err).
			Str("guild_id", guildID).
			Msg("failed to list roles for suggestions")
		return maxErr
	}

	maxErr.Nearest = types.NearestColorRoles(types.ColorRoles(roles), value, MaxSuggestions)
	return maxErr
}
