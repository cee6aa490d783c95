package types

// Role is a guild role as seen by the bot
type Role struct {
	ID          string `json:"id"`
	GuildID     string `json:"guild_id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Position    int    `json:"position"`
	MemberCount int    `json:"member_count"`
	Managed     bool   `json:"managed,omitempty"`
}

// RoleSpec describes a role to create
type RoleSpec struct {
	Name  string `json:"name"`
	Color int    `json:"color"`
}

// Guild is the subset of guild metadata the bot cares about
type Guild struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// HexColor returns the role color formatted as #rrggbb
func (r Role) HexColor() string {
	return FormatColor(r.Color)
}

// IsColorRole reports whether the role is one the bot manages: its name is
// exactly the lowercase hex code of its own color.
func IsColorRole(r Role) bool {
	return !r.Managed && r.Name == r.HexColor()
}

// IsUnused reports whether nobody holds the role anymore
func (r Role) IsUnused() bool {
	return r.MemberCount == 0
}

// ColorRoles filters roles down to color roles
func ColorRoles(roles []Role) []Role {
	var out []Role
	for _, r := range roles {
		if IsColorRole(r) {
			out = append(out, r)
		}
	}
	return out
}
