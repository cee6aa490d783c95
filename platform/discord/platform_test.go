package discord

import (
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/colorbot/platform"
)

func restError(code int, message string) error {
	return &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: code, Message: message}}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code platform.Code
		raw  int
	}{
		{name: "missing access", err: restError(50001, "Missing Access"), code: platform.CodeMissingAccess, raw: 50001},
		{name: "missing permissions", err: restError(50013, "Missing Permissions"), code: platform.CodeMissingPermissions, raw: 50013},
		{name: "unknown role", err: restError(10011, "Unknown Role"), code: platform.CodeUnknownRole, raw: 10011},
		{name: "max roles", err: restError(30005, "Maximum number of guild roles reached (250)"), code: platform.CodeMaxRoles, raw: 30005},
		{name: "other code", err: restError(40001, "Unauthorized"), code: platform.CodeUnknown, raw: 40001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(tt.err)
			var f *platform.Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, tt.code, f.Code)
			assert.Equal(t, tt.raw, f.Raw)
		})
	}
}

func TestMapError_PassThrough(t *testing.T) {
	assert.NoError(t, mapError(nil))

	plain := errors.New("connection reset")
	assert.Same(t, plain, mapError(plain))

	noBody := &discordgo.RESTError{}
	_, ok := platform.FailureCode(mapError(noBody))
	assert.False(t, ok)
}

func TestStatusError(t *testing.T) {
	assert.NoError(t, statusError(nil))

	for _, code := range []int{codeUnknownMessage, codeUnknownWebhook, codeInvalidWebhookToken} {
		assert.ErrorIs(t, statusError(restError(code, "gone")), platform.ErrChannelGone)
	}

	err := statusError(restError(50001, "Missing Access"))
	assert.NotErrorIs(t, err, platform.ErrChannelGone)
	code, ok := platform.FailureCode(err)
	assert.True(t, ok)
	assert.Equal(t, platform.CodeMissingAccess, code)
}

func TestHighestPosition(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "everyone", Position: 0},
		{ID: "bot", Position: 12},
		{ID: "mods", Position: 30},
		{ID: "color", Position: 5},
	}

	assert.Equal(t, 12, highestPosition([]string{"color", "bot"}, roles))
	assert.Equal(t, 30, highestPosition([]string{"mods", "bot"}, roles))
	assert.Equal(t, 0, highestPosition(nil, roles))
}

func TestConvertRole(t *testing.T) {
	role := convertRole("g1", &discordgo.Role{ID: "r1", Name: "#ff0000", Color: 0xff0000, Position: 4, Managed: true})
	assert.Equal(t, "g1", role.GuildID)
	assert.Equal(t, "r1", role.ID)
	assert.Equal(t, 0xff0000, role.Color)
	assert.Equal(t, 4, role.Position)
	assert.True(t, role.Managed)
}
