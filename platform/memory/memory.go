// Package memory is an in-process platform used by tests and the simulate
// command. Roles are kept ordered by position the same way the real role list
// is rendered.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/btree"

	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/types"
)

// DefaultMaxRoles mirrors the platform's per-guild role limit
const DefaultMaxRoles = 250

// DeleteHook runs before a deletion is applied. A non-nil error is returned
// to the caller instead of deleting.
type DeleteHook func(ctx context.Context, guildID, roleID string) error

// DirectMessage is a recorded outbound direct message
type DirectMessage struct {
	UserID  string
	Content string
}

type guildState struct {
	guild       types.Guild
	botPosition int
	manageRoles bool
	maxRoles    int
	roles       *btree.BTreeG[types.Role]
	byID        map[string]types.Role
	members     map[string]map[string]bool // user -> role ids
}

func lessRole(a, b types.Role) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.ID < b.ID
}

// Platform implements platform.Platform in memory
type Platform struct {
	mu       sync.Mutex
	guilds   map[string]*guildState
	nextID   int
	deleted  []string
	dms      []DirectMessage
	failures map[string]error
	hook     DeleteHook
	rankErr  error
	dmErr    error
}

var _ platform.Platform = (*Platform)(nil)

// New creates an empty platform
func New() *Platform {
	return &Platform{
		guilds:   make(map[string]*guildState),
		failures: make(map[string]error),
		nextID:   1000,
	}
}

// AddGuild registers a guild where the bot's highest role sits at botPosition
func (p *Platform) AddGuild(guild types.Guild, botPosition int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.guilds[guild.ID] = &guildState{
		guild:       guild,
		botPosition: botPosition,
		manageRoles: true,
		maxRoles:    DefaultMaxRoles,
		roles:       btree.NewG[types.Role](8, lessRole),
		byID:        make(map[string]types.Role),
		members:     make(map[string]map[string]bool),
	}
}

// AddRole seeds a role. The guild must exist.
func (p *Platform) AddRole(role types.Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.guilds[role.GuildID]
	if !ok {
		return fmt.Errorf("guild %s not registered", role.GuildID)
	}
	if role.ID == "" {
		role.ID = p.newID()
	}
	g.put(role)
	return nil
}

// AddMember gives userID the role roleID without going through the writer API
func (p *Platform) AddMember(guildID, userID, roleID string) error {
	return p.AddMemberRole(context.Background(), guildID, userID, roleID)
}

// SetBotPosition moves the bot's highest role
func (p *Platform) SetBotPosition(guildID string, position int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.guilds[guildID]; ok {
		g.botPosition = position
	}
}

// SetManageRoles toggles the Manage Roles permission
func (p *Platform) SetManageRoles(guildID string, allowed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.guilds[guildID]; ok {
		g.manageRoles = allowed
	}
}

// SetMaxRoles overrides the role limit for a guild
func (p *Platform) SetMaxRoles(guildID string, limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.guilds[guildID]; ok {
		g.maxRoles = limit
	}
}

// FailDelete makes every deletion of roleID return err
func (p *Platform) FailDelete(roleID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[roleID] = err
}

// SetDeleteHook installs a hook run before every deletion
func (p *Platform) SetDeleteHook(hook DeleteHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = hook
}

// SetRankError makes HighestRolePosition fail
func (p *Platform) SetRankError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rankErr = err
}

// SetDirectMessageError makes SendDirectMessage fail
func (p *Platform) SetDirectMessageError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dmErr = err
}

// Deleted returns the ids of deleted roles in deletion order
func (p *Platform) Deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

// DirectMessages returns every direct message sent
func (p *Platform) DirectMessages() []DirectMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]DirectMessage(nil), p.dms...)
}

// Roles lists a guild's roles, lowest position first
func (p *Platform) Roles(_ context.Context, guildID string) ([]types.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, err := p.guild(guildID)
	if err != nil {
		return nil, err
	}

	roles := make([]types.Role, 0, g.roles.Len())
	g.roles.Ascend(func(r types.Role) bool {
		roles = append(roles, r)
		return true
	})
	return roles, nil
}

// Guild returns one guild
func (p *Platform) Guild(_ context.Context, guildID string) (*types.Guild, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, err := p.guild(guildID)
	if err != nil {
		return nil, err
	}
	guild := g.guild
	return &guild, nil
}

// Guilds returns every registered guild
func (p *Platform) Guilds(_ context.Context) ([]types.Guild, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	guilds := make([]types.Guild, 0, len(p.guilds))
	for _, g := range p.guilds {
		guilds = append(guilds, g.guild)
	}
	return guilds, nil
}

// MemberColorRole returns the member's color role, or nil
func (p *Platform) MemberColorRole(_ context.Context, guildID, userID string) (*types.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, err := p.guild(guildID)
	if err != nil {
		return nil, err
	}

	for roleID := range g.members[userID] {
		role, ok := g.byID[roleID]
		if ok && types.IsColorRole(role) {
			return &role, nil
		}
	}
	return nil, nil
}

// DeleteRole removes a role
func (p *Platform) DeleteRole(ctx context.Context, guildID, roleID, _ string) error {
	p.mu.Lock()
	hook := p.hook
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, guildID, roleID); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.failures[roleID]; ok {
		return err
	}

	g, err := p.guild(guildID)
	if err != nil {
		return err
	}
	if !g.manageRoles {
		return platform.NewFailure(int(platform.CodeMissingAccess), "Missing Access")
	}

	role, ok := g.byID[roleID]
	if !ok {
		return platform.NewFailure(int(platform.CodeUnknownRole), "Unknown Role")
	}
	if role.Position >= g.botPosition {
		return platform.NewFailure(int(platform.CodeMissingPermissions), "Missing Permissions")
	}

	g.roles.Delete(role)
	delete(g.byID, roleID)
	for _, held := range g.members {
		delete(held, roleID)
	}
	p.deleted = append(p.deleted, roleID)
	return nil
}

// CreateRole creates a role directly above the default role
func (p *Platform) CreateRole(_ context.Context, guildID string, spec types.RoleSpec) (*types.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, err := p.guild(guildID)
	if err != nil {
		return nil, err
	}
	if !g.manageRoles {
		return nil, platform.NewFailure(int(platform.CodeMissingAccess), "Missing Access")
	}
	if g.roles.Len() >= g.maxRoles {
		return nil, platform.NewFailure(int(platform.CodeMaxRoles), "Maximum number of guild roles reached")
	}

	role := types.Role{
		ID:       p.newID(),
		GuildID:  guildID,
		Name:     spec.Name,
		Color:    spec.Color,
		Position: 1,
	}
	g.put(role)
	return &role, nil
}

// AddMemberRole gives a member a role
func (p *Platform) AddMemberRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, err := p.guild(guildID)
	if err != nil {
		return err
	}
	role, ok := g.byID[roleID]
	if !ok {
		return platform.NewFailure(int(platform.CodeUnknownRole), "Unknown Role")
	}
	if role.Position >= g.botPosition {
		return platform.NewFailure(int(platform.CodeMissingPermissions), "Missing Permissions")
	}

	held := g.members[userID]
	if held == nil {
		held = make(map[string]bool)
		g.members[userID] = held
	}
	if held[roleID] {
		return nil
	}
	held[roleID] = true
	role.MemberCount++
	g.put(role)
	return nil
}

// RemoveMemberRole takes a role from a member
func (p *Platform) RemoveMemberRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, err := p.guild(guildID)
	if err != nil {
		return err
	}
	role, ok := g.byID[roleID]
	if !ok {
		return platform.NewFailure(int(platform.CodeUnknownRole), "Unknown Role")
	}
	if !g.members[userID][roleID] {
		return nil
	}
	delete(g.members[userID], roleID)
	role.MemberCount--
	g.put(role)
	return nil
}

// HighestRolePosition returns the bot's highest role position
func (p *Platform) HighestRolePosition(_ context.Context, guildID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rankErr != nil {
		return 0, p.rankErr
	}
	g, err := p.guild(guildID)
	if err != nil {
		return 0, err
	}
	return g.botPosition, nil
}

// SendDirectMessage records a direct message
func (p *Platform) SendDirectMessage(_ context.Context, userID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dmErr != nil {
		return p.dmErr
	}
	p.dms = append(p.dms, DirectMessage{UserID: userID, Content: content})
	return nil
}

func (p *Platform) guild(guildID string) (*guildState, error) {
	g, ok := p.guilds[guildID]
	if !ok {
		return nil, platform.NewFailure(10004, "Unknown Guild")
	}
	return g, nil
}

func (p *Platform) newID() string {
	p.nextID++
	return strconv.Itoa(p.nextID)
}

// put inserts or replaces a role, keeping the position index in sync
func (g *guildState) put(role types.Role) {
	if old, ok := g.byID[role.ID]; ok {
		g.roles.Delete(old)
	}
	g.byID[role.ID] = role
	g.roles.ReplaceOrInsert(role)
}
