// Package discord implements the platform interfaces on top of discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/telemetry"
	"github.com/yairfalse/colorbot/types"
)

// membersPageSize is the largest page the members endpoint returns
const membersPageSize = 1000

// Platform talks to Discord through a discordgo session
type Platform struct {
	session *discordgo.Session
	logger  *telemetry.Logger
}

var _ platform.Platform = (*Platform)(nil)

// New wraps an opened session
func New(session *discordgo.Session, logger *telemetry.Logger) *Platform {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Platform{session: session, logger: logger.Component("discord")}
}

// Roles lists guild roles with member counts
func (p *Platform) Roles(ctx context.Context, guildID string) ([]types.Role, error) {
	roles, err := p.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}

	counts, err := p.memberCounts(ctx, guildID)
	if err != nil {
		return nil, err
	}

	out := make([]types.Role, 0, len(roles))
	for _, r := range roles {
		role := convertRole(guildID, r)
		role.MemberCount = counts[r.ID]
		out = append(out, role)
	}
	return out, nil
}

// Guild returns guild metadata, preferring the gateway state cache
func (p *Platform) Guild(ctx context.Context, guildID string) (*types.Guild, error) {
	if g, err := p.session.State.Guild(guildID); err == nil {
		return &types.Guild{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID}, nil
	}

	g, err := p.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	return &types.Guild{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID}, nil
}

// Guilds returns every guild in the gateway state
func (p *Platform) Guilds(_ context.Context) ([]types.Guild, error) {
	p.session.State.RLock()
	defer p.session.State.RUnlock()

	guilds := make([]types.Guild, 0, len(p.session.State.Guilds))
	for _, g := range p.session.State.Guilds {
		guilds = append(guilds, types.Guild{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID})
	}
	return guilds, nil
}

// MemberColorRole returns the member's color role, or nil
func (p *Platform) MemberColorRole(ctx context.Context, guildID, userID string) (*types.Role, error) {
	member, err := p.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}

	held := make(map[string]bool, len(member.Roles))
	for _, id := range member.Roles {
		held[id] = true
	}

	roles, err := p.Roles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if held[role.ID] && types.IsColorRole(role) {
			role := role
			return &role, nil
		}
	}
	return nil, nil
}

// DeleteRole deletes a role, recording reason in the audit log
func (p *Platform) DeleteRole(ctx context.Context, guildID, roleID, reason string) error {
	err := p.session.GuildRoleDelete(guildID, roleID,
		discordgo.WithContext(ctx),
		discordgo.WithAuditLogReason(reason),
	)
	return mapError(err)
}

// CreateRole creates a role without permissions
func (p *Platform) CreateRole(ctx context.Context, guildID string, spec types.RoleSpec) (*types.Role, error) {
	color := spec.Color
	var perms int64
	r, err := p.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        spec.Name,
		Color:       &color,
		Permissions: &perms,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	role := convertRole(guildID, r)
	return &role, nil
}

// AddMemberRole gives a member a role
func (p *Platform) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	return mapError(p.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// RemoveMemberRole takes a role from a member
func (p *Platform) RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	return mapError(p.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// HighestRolePosition returns the position of the bot's highest role
func (p *Platform) HighestRolePosition(ctx context.Context, guildID string) (int, error) {
	if p.session.State.User == nil {
		return 0, fmt.Errorf("session has no user; is the gateway connected?")
	}

	member, err := p.session.GuildMember(guildID, p.session.State.User.ID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, mapError(err)
	}
	roles, err := p.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, mapError(err)
	}
	return highestPosition(member.Roles, roles), nil
}

// SendDirectMessage opens a DM channel and posts content
func (p *Platform) SendDirectMessage(ctx context.Context, userID, content string) error {
	channel, err := p.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	_, err = p.session.ChannelMessageSend(channel.ID, content, discordgo.WithContext(ctx))
	return mapError(err)
}

func (p *Platform) memberCounts(ctx context.Context, guildID string) (map[string]int, error) {
	counts := make(map[string]int)
	after := ""
	for {
		members, err := p.session.GuildMembers(guildID, after, membersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError(err)
		}
		for _, m := range members {
			for _, id := range m.Roles {
				counts[id]++
			}
		}
		if len(members) < membersPageSize {
			p.logger.Debug().
				Str("guild_id", guildID).
				Int("roles_held", len(counts)).
				Msg("counted role members")
			return counts, nil
		}
		after = members[len(members)-1].User.ID
	}
}

func convertRole(guildID string, r *discordgo.Role) types.Role {
	return types.Role{
		ID:       r.ID,
		GuildID:  guildID,
		Name:     r.Name,
		Color:    r.Color,
		Position: r.Position,
		Managed:  r.Managed,
	}
}

// highestPosition is 0 (the default role) when the member holds no roles
func highestPosition(memberRoles []string, roles []*discordgo.Role) int {
	held := make(map[string]bool, len(memberRoles))
	for _, id := range memberRoles {
		held[id] = true
	}

	highest := 0
	for _, r := range roles {
		if held[r.ID] && r.Position > highest {
			highest = r.Position
		}
	}
	return highest
}

// mapError converts discordgo REST errors to platform failures
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil && rest.Message.Code != 0 {
		return platform.NewFailure(rest.Message.Code, rest.Message.Message)
	}
	return err
}
