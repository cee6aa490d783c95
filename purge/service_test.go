package purge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/colorbot/platform/memory"
	"github.com/yairfalse/colorbot/policy"
	"github.com/yairfalse/colorbot/remediation"
	"github.com/yairfalse/colorbot/types"
)

const guildID = "g1"

func newPlatform(t *testing.T, colorRoles int) *memory.Platform {
	t.Helper()

	p := memory.New()
	p.AddGuild(types.Guild{ID: guildID, Name: "guild", OwnerID: "owner"}, 100)
	require.NoError(t, p.AddRole(types.Role{ID: "mods", GuildID: guildID, Name: "Moderators", Position: 90}))
	for i := 1; i <= colorRoles; i++ {
		color := 0x100000 * i
		require.NoError(t, p.AddRole(types.Role{
			ID:       fmt.Sprintf("c%d", i),
			GuildID:  guildID,
			Name:     types.FormatColor(color),
			Color:    color,
			Position: i,
		}))
	}
	return p
}

func newService(t *testing.T, p *memory.Platform, engine *policy.Engine) *Service {
	t.Helper()

	coord, err := remediation.NewCoordinator(remediation.CoordinatorConfig{
		Deleter:    p,
		Classifier: remediation.NewClassifier(p),
		Notifier:   remediation.NewDeduplicator(remediation.DeduplicatorConfig{Messenger: p}),
	})
	require.NoError(t, err)

	s, err := NewService(Config{Roles: p, Coordinator: coord, Policy: engine})
	require.NoError(t, err)
	return s
}

func TestPrompt(t *testing.T) {
	p := newPlatform(t, 3)
	s := newService(t, p, nil)

	text, err := s.Prompt(context.Background(), guildID)
	require.NoError(t, err)
	assert.Equal(t, "Are you sure you want to delete all 3 of this server's color roles?\nThis cannot be undone.", text)
}

func TestPrompt_NoColorRoles(t *testing.T) {
	p := newPlatform(t, 0)
	s := newService(t, p, nil)

	_, err := s.Prompt(context.Background(), guildID)
	assert.ErrorIs(t, err, ErrNothingToDelete)
	assert.Equal(t, NothingToDeleteMessage, Message(err))
}

func TestConfirm_DeletesOnlyColorRoles(t *testing.T) {
	p := newPlatform(t, 4)
	s := newService(t, p, nil)
	status := memory.NewStatusLog()

	run, err := s.Confirm(context.Background(), ConfirmRequest{
		GuildID:    guildID,
		OperatorID: "op",
		Status:     status,
	})
	require.NoError(t, err)

	snap, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Succeeded)

	s.Wait()
	assert.Equal(t, "Deleted all 4 color roles.", status.Last())
	assert.ElementsMatch(t, []string{"c1", "c2", "c3", "c4"}, p.Deleted())
}

func TestConfirm_NoColorRoles(t *testing.T) {
	p := newPlatform(t, 0)
	s := newService(t, p, nil)

	run, err := s.Confirm(context.Background(), ConfirmRequest{GuildID: guildID, OperatorID: "op"})
	assert.ErrorIs(t, err, ErrNothingToDelete)
	assert.Nil(t, run)
}

func TestConfirm_MissingAccess(t *testing.T) {
	p := newPlatform(t, 3)
	p.SetManageRoles(guildID, false)
	s := newService(t, p, nil)
	status := memory.NewStatusLog()

	run, err := s.Confirm(context.Background(), ConfirmRequest{
		GuildID:    guildID,
		OperatorID: "op",
		OwnerID:    "owner",
		Status:     status,
	})
	require.NoError(t, err)

	s.Wait()
	assert.Equal(t, []string{remediation.MissingAccessMessage}, status.Messages())

	select {
	case <-run.Drained():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not drain")
	}
	assert.Len(t, p.DirectMessages(), 1)
}

func TestConfirm_InProgress(t *testing.T) {
	p := newPlatform(t, 2)
	release := make(chan struct{})
	p.SetDeleteHook(func(ctx context.Context, _, _ string) error {
		<-release
		return nil
	})
	s := newService(t, p, nil)

	run, err := s.Confirm(context.Background(), ConfirmRequest{GuildID: guildID, OperatorID: "op"})
	require.NoError(t, err)

	_, err = s.Confirm(context.Background(), ConfirmRequest{GuildID: guildID, OperatorID: "op"})
	assert.ErrorIs(t, err, remediation.ErrRunInProgress)
	assert.Equal(t, InProgressMessage, Message(err))

	close(release)
	_, err = run.Wait(context.Background())
	require.NoError(t, err)
	s.Wait()
}

func TestConfirm_RespectsPolicy(t *testing.T) {
	engine := policy.NewEngine(nil)
	require.NoError(t, engine.LoadPolicy(context.Background(), "keep-first", `package colorbot

import rego.v1

protected if {
	input.kind == "purge"
	input.role.position == 1
}`))

	p := newPlatform(t, 3)
	s := newService(t, p, engine)

	text, err := s.Prompt(context.Background(), guildID)
	require.NoError(t, err)
	assert.Contains(t, text, "all 2 of")

	run, err := s.Confirm(context.Background(), ConfirmRequest{GuildID: guildID, OperatorID: "op"})
	require.NoError(t, err)
	_, err = run.Wait(context.Background())
	require.NoError(t, err)
	s.Wait()

	assert.ElementsMatch(t, []string{"c2", "c3"}, p.Deleted())
}

func TestConfirm_UnknownGuild(t *testing.T) {
	p := newPlatform(t, 1)
	s := newService(t, p, nil)

	_, err := s.Confirm(context.Background(), ConfirmRequest{GuildID: "nope", OperatorID: "op"})
	require.Error(t, err)
	assert.Equal(t, remediation.GenericFailureMessage, Message(err))
}

func TestMessage(t *testing.T) {
	report := &remediation.ErrorReport{Message: remediation.RolePositionMessage}
	assert.Equal(t, remediation.RolePositionMessage, Message(fmt.Errorf("wrapped: %w", report)))
	assert.Equal(t, remediation.GenericFailureMessage, Message(errors.New("boom")))
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}
