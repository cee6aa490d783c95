package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/colorbot/colorrole"
	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/platform/memory"
	"github.com/yairfalse/colorbot/purge"
	"github.com/yairfalse/colorbot/remediation"
	"github.com/yairfalse/colorbot/sweep"
	"github.com/yairfalse/colorbot/types"
)

const (
	guildID  = "g1"
	memberID = "u1"
	ownerID  = "owner"
)

type recorder struct {
	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
}

func (r *recorder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
	return nil
}

func (r *recorder) last(t *testing.T) *discordgo.InteractionResponse {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.responses)
	return r.responses[len(r.responses)-1]
}

type fixture struct {
	bot      *Bot
	platform *memory.Platform
	purge    *purge.Service
	sweeper  *sweep.Sweeper
	replies  *recorder
	status   *memory.StatusLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := memory.New()
	p.AddGuild(types.Guild{ID: guildID, Name: "guild", OwnerID: ownerID}, 100)

	classifier := remediation.NewClassifier(p)
	coord, err := remediation.NewCoordinator(remediation.CoordinatorConfig{
		Deleter:    p,
		Classifier: classifier,
		Notifier:   remediation.NewDeduplicator(remediation.DeduplicatorConfig{Messenger: p}),
	})
	require.NoError(t, err)

	colors, err := colorrole.NewService(colorrole.Config{Platform: p, Classifier: classifier})
	require.NoError(t, err)
	purges, err := purge.NewService(purge.Config{Roles: p, Coordinator: coord})
	require.NoError(t, err)
	sweeper, err := sweep.New(sweep.Config{Roles: p, Coordinator: coord})
	require.NoError(t, err)

	f := &fixture{
		platform: p,
		purge:    purges,
		sweeper:  sweeper,
		replies:  &recorder{},
		status:   memory.NewStatusLog(),
	}
	f.bot, err = New(Config{
		Guilds:    p,
		Colors:    colors,
		Purge:     purges,
		Sweeper:   sweeper,
		Responder: f.replies,
		Status: func(*discordgo.Interaction) platform.StatusChannel {
			return f.status
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) addColorRole(t *testing.T, id string, color int) {
	t.Helper()
	require.NoError(t, f.platform.AddRole(types.Role{
		ID:       id,
		GuildID:  guildID,
		Name:     types.FormatColor(color),
		Color:    color,
		Position: 1,
	}))
}

func member() *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: memberID}}
}

func colorCommand(value string) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: guildID,
		Member:  member(),
		Data: discordgo.ApplicationCommandInteractionData{
			Name: CommandColor,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name:  OptionValue,
				Type:  discordgo.ApplicationCommandOptionString,
				Value: value,
			}},
		},
	}
}

func purgeCommand() *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: guildID,
		Member:  member(),
		Data: discordgo.ApplicationCommandInteractionData{
			Name: CommandColorbot,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name: SubcommandPurge,
				Type: discordgo.ApplicationCommandOptionSubCommand,
			}},
		},
	}
}

func button(id string) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:    discordgo.InteractionMessageComponent,
		GuildID: guildID,
		Member:  member(),
		Data:    discordgo.MessageComponentInteractionData{CustomID: id},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestColor_Set(t *testing.T) {
	f := newFixture(t)

	f.bot.Handle(context.Background(), colorCommand("F00"))

	resp := f.replies.last(t)
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	assert.Equal(t, ColorSetText, resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	require.Len(t, resp.Data.Embeds, 1)
	assert.Equal(t, "#ff0000", resp.Data.Embeds[0].Title)
	assert.Equal(t, 0xff0000, resp.Data.Embeds[0].Color)

	role, err := f.platform.MemberColorRole(context.Background(), guildID, memberID)
	require.NoError(t, err)
	require.NotNil(t, role)
	assert.Equal(t, "#ff0000", role.Name)
}

func TestColor_InvalidAndHelp(t *testing.T) {
	f := newFixture(t)

	f.bot.Handle(context.Background(), colorCommand("not*a*color"))
	assert.Equal(t, `**not\*a\*color** is not a valid hex color code! `+HelpText, f.replies.last(t).Data.Content)

	f.bot.Handle(context.Background(), colorCommand(colorrole.KeywordHelp))
	assert.Equal(t, HelpText, f.replies.last(t).Data.Content)
}

func TestColor_Reset(t *testing.T) {
	f := newFixture(t)

	f.bot.Handle(context.Background(), colorCommand(colorrole.KeywordReset))
	assert.Equal(t, NoColorRoleText, f.replies.last(t).Data.Content)

	f.addColorRole(t, "red", 0xff0000)
	require.NoError(t, f.platform.AddMember(guildID, memberID, "red"))

	f.bot.Handle(context.Background(), colorCommand(colorrole.KeywordReset))
	assert.Equal(t, "Your **#ff0000** color role has been removed.", f.replies.last(t).Data.Content)
	assert.Equal(t, []string{"red"}, f.platform.Deleted())
}

func TestColor_MissingAccess(t *testing.T) {
	f := newFixture(t)
	f.platform.SetManageRoles(guildID, false)

	f.bot.Handle(context.Background(), colorCommand("#00ff00"))
	assert.Equal(t, remediation.MissingAccessMessage, f.replies.last(t).Data.Content)
}

func TestColor_OutsideGuild(t *testing.T) {
	f := newFixture(t)
	i := colorCommand("#00ff00")
	i.GuildID = ""
	i.Member = nil
	i.User = &discordgo.User{ID: memberID}

	f.bot.Handle(context.Background(), i)
	assert.Equal(t, GuildOnlyText, f.replies.last(t).Data.Content)
}

func TestAutocomplete(t *testing.T) {
	f := newFixture(t)

	f.bot.Handle(context.Background(), &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommandAutocomplete,
		GuildID: guildID,
		Member:  member(),
		Data: discordgo.ApplicationCommandInteractionData{
			Name: CommandColor,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name:    OptionValue,
				Type:    discordgo.ApplicationCommandOptionString,
				Value:   "#abc",
				Focused: true,
			}},
		},
	})

	resp := f.replies.last(t)
	assert.Equal(t, discordgo.InteractionApplicationCommandAutocompleteResult, resp.Type)
	require.Len(t, resp.Data.Choices, 4)
	assert.Equal(t, "#abc", resp.Data.Choices[0].Name)
	assert.Equal(t, "#abc", resp.Data.Choices[0].Value)
	assert.Equal(t, "reset", resp.Data.Choices[2].Name)
	assert.Equal(t, "help", resp.Data.Choices[3].Name)
}

func TestPurge_PromptAndConfirm(t *testing.T) {
	f := newFixture(t)
	f.addColorRole(t, "red", 0xff0000)
	f.addColorRole(t, "blue", 0x0000ff)

	f.bot.Handle(context.Background(), purgeCommand())
	prompt := f.replies.last(t)
	assert.Equal(t, purge.PromptMessage(2), prompt.Data.Content)
	require.Len(t, prompt.Data.Components, 1)
	row, ok := prompt.Data.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 2)
	assert.Equal(t, ButtonPurgeConfirm, row.Components[0].(discordgo.Button).CustomID)
	assert.Equal(t, ButtonPurgeCancel, row.Components[1].(discordgo.Button).CustomID)

	f.bot.Handle(context.Background(), button(ButtonPurgeConfirm))
	update := f.replies.last(t)
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, update.Type)
	assert.Empty(t, update.Data.Components)

	f.purge.Wait()
	assert.Equal(t, "Deleted all 2 color roles.", f.status.Last())
	assert.ElementsMatch(t, []string{"red", "blue"}, f.platform.Deleted())
}

func TestPurge_NothingToDelete(t *testing.T) {
	f := newFixture(t)

	f.bot.Handle(context.Background(), purgeCommand())
	assert.Equal(t, purge.NothingToDeleteMessage, f.replies.last(t).Data.Content)

	f.bot.Handle(context.Background(), button(ButtonPurgeConfirm))
	assert.Equal(t, []string{purge.NothingToDeleteMessage}, f.status.Messages())
}

func TestPurge_Cancel(t *testing.T) {
	f := newFixture(t)
	f.addColorRole(t, "red", 0xff0000)

	f.bot.Handle(context.Background(), button(ButtonPurgeCancel))

	resp := f.replies.last(t)
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, resp.Type)
	assert.Equal(t, purge.CancelledMessage, resp.Data.Content)
	assert.Empty(t, f.platform.Deleted())
}

func TestPurge_MissingAccessNotifiesOwner(t *testing.T) {
	f := newFixture(t)
	f.addColorRole(t, "red", 0xff0000)
	f.platform.SetManageRoles(guildID, false)

	f.bot.Handle(context.Background(), button(ButtonPurgeConfirm))
	f.purge.Wait()
	assert.Equal(t, []string{remediation.MissingAccessMessage}, f.status.Messages())

	require.Eventually(t, func() bool {
		return len(f.platform.DirectMessages()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, ownerID, f.platform.DirectMessages()[0].UserID)
}

func TestGuildCreate_SweepsUnusedRoles(t *testing.T) {
	f := newFixture(t)
	f.addColorRole(t, "used", 0x111111)
	f.addColorRole(t, "unused", 0x222222)
	require.NoError(t, f.platform.AddMember(guildID, memberID, "used"))

	f.bot.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: guildID, OwnerID: ownerID}})

	require.Eventually(t, func() bool {
		return len(f.platform.Deleted()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"unused"}, f.platform.Deleted())
}

func TestGuildCreate_UnavailableIgnored(t *testing.T) {
	f := newFixture(t)
	f.addColorRole(t, "unused", 0x222222)

	f.bot.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: guildID, Unavailable: true}})
	assert.Empty(t, f.platform.Deleted())
}

func TestHandle_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	metrics, err := newMetricsWithProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	f := newFixture(t)
	f.bot.metrics = metrics

	f.bot.Handle(context.Background(), colorCommand("#123456"))
	f.bot.Handle(context.Background(), button("mystery"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	statuses := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "colorbot.bot.interactions" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value("status")
				statuses[status.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"ok": 1, "error": 1}, statuses)
}

func TestExpected(t *testing.T) {
	assert.True(t, expected(colorrole.ErrInvalidColor))
	assert.True(t, expected(&colorrole.MaxRolesError{Color: "#ffffff"}))
	assert.True(t, expected(&remediation.ErrorReport{Message: "x"}))
	assert.True(t, expected(remediation.ErrRunInProgress))
	assert.False(t, expected(errors.New("boom")))
}
