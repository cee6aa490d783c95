package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/colorbot/types"
)

// Code is a known platform error code. Only the codes the bot reacts to are
// enumerated; everything else arrives as CodeUnknown.
type Code int

const (
	CodeUnknown            Code = 0
	CodeUnknownRole        Code = 10011
	CodeMaxRoles           Code = 30005
	CodeMissingAccess      Code = 50001
	CodeMissingPermissions Code = 50013
)

// KnownCode maps a raw numeric code onto the closed Code set
func KnownCode(raw int) Code {
	switch Code(raw) {
	case CodeUnknownRole, CodeMaxRoles, CodeMissingAccess, CodeMissingPermissions:
		return Code(raw)
	default:
		return CodeUnknown
	}
}

func (c Code) String() string {
	switch c {
	case CodeUnknownRole:
		return "unknown_role"
	case CodeMaxRoles:
		return "max_roles"
	case CodeMissingAccess:
		return "missing_access"
	case CodeMissingPermissions:
		return "missing_permissions"
	default:
		return "unknown"
	}
}

// Failure is an error reported by the platform API
type Failure struct {
	Code    Code
	Raw     int
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("platform failure %d: %s", f.Raw, f.Message)
}

// NewFailure builds a Failure from a raw platform code
func NewFailure(raw int, message string) *Failure {
	return &Failure{Code: KnownCode(raw), Raw: raw, Message: message}
}

// FailureCode extracts the platform code from err, if any
func FailureCode(err error) (Code, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code, true
	}
	return CodeUnknown, false
}

// ErrChannelGone is returned by a StatusChannel that can never be written again
// (interaction token expired, message deleted, session ended).
var ErrChannelGone = errors.New("status channel is gone")

// RoleDeleter deletes a single role. Must be safe for concurrent use with
// distinct role ids.
type RoleDeleter interface {
	DeleteRole(ctx context.Context, guildID, roleID, reason string) error
}

// RankLookup resolves the bot's highest role position in a guild
type RankLookup interface {
	HighestRolePosition(ctx context.Context, guildID string) (int, error)
}

// StatusChannel is a single outbound message that is created on the first
// Upsert and edited on every following one.
type StatusChannel interface {
	Upsert(ctx context.Context, text string) error
}

// DirectMessenger sends best-effort direct messages
type DirectMessenger interface {
	SendDirectMessage(ctx context.Context, userID, content string) error
}

// RoleReader lists guild state
type RoleReader interface {
	Roles(ctx context.Context, guildID string) ([]types.Role, error)
	Guild(ctx context.Context, guildID string) (*types.Guild, error)
	Guilds(ctx context.Context) ([]types.Guild, error)
	MemberColorRole(ctx context.Context, guildID, userID string) (*types.Role, error)
}

// RoleWriter mutates roles and memberships
type RoleWriter interface {
	RoleDeleter
	CreateRole(ctx context.Context, guildID string, spec types.RoleSpec) (*types.Role, error)
	AddMemberRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error
}

// Platform is everything the bot needs from the chat platform
type Platform interface {
	RoleReader
	RoleWriter
	RankLookup
	DirectMessenger
}
