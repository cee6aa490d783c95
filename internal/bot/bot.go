// Package bot routes Discord gateway events to the color role services.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yairfalse/colorbot/colorrole"
	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/platform/discord"
	"github.com/yairfalse/colorbot/purge"
	"github.com/yairfalse/colorbot/sweep"
	"github.com/yairfalse/colorbot/telemetry"
	"github.com/yairfalse/colorbot/types"
)

// interactionTimeout bounds the platform calls made while answering one
// interaction. Deletion runs started by an interaction are not bound by it.
const interactionTimeout = 30 * time.Second

// Responder answers interactions; *discordgo.Session implements it
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// StatusFactory creates the progress channel for a confirmed purge
type StatusFactory func(interaction *discordgo.Interaction) platform.StatusChannel

// Config configures a Bot
type Config struct {
	Session *discordgo.Session
	// ApplicationID defaults to the bot user id once connected
	ApplicationID string
	// GuildID registers commands in a single guild instead of globally
	GuildID string

	Guilds  platform.RoleReader
	Colors  *colorrole.Service
	Purge   *purge.Service
	Sweeper *sweep.Sweeper // nil disables the unused role sweep

	// Responder and Status default to the session; tests replace them
	Responder Responder
	Status    StatusFactory

	Metrics *Metrics
	Logger  *telemetry.Logger
}

// Bot handles slash commands, autocomplete and purge buttons
type Bot struct {
	session   *discordgo.Session
	appID     string
	guildID   string
	guilds    platform.RoleReader
	colors    *colorrole.Service
	purge     *purge.Service
	sweeper   *sweep.Sweeper
	responder Responder
	status    StatusFactory
	metrics   *Metrics
	logger    *telemetry.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand

	removeHandlers []func()
}

// New creates a bot
func New(cfg Config) (*Bot, error) {
	if cfg.Guilds == nil {
		return nil, fmt.Errorf("guild reader is required")
	}
	if cfg.Colors == nil {
		return nil, fmt.Errorf("color role service is required")
	}
	if cfg.Purge == nil {
		return nil, fmt.Errorf("purge service is required")
	}
	if cfg.Responder == nil {
		if cfg.Session == nil {
			return nil, fmt.Errorf("session or responder is required")
		}
		cfg.Responder = cfg.Session
	}
	if cfg.Status == nil {
		if cfg.Session == nil {
			return nil, fmt.Errorf("session or status factory is required")
		}
		session := cfg.Session
		cfg.Status = func(i *discordgo.Interaction) platform.StatusChannel {
			return discord.NewInteractionStatus(session, i)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}

	now := uint64(time.Now().UnixNano())
	return &Bot{
		session:   cfg.Session,
		appID:     cfg.ApplicationID,
		guildID:   cfg.GuildID,
		guilds:    cfg.Guilds,
		colors:    cfg.Colors,
		purge:     cfg.Purge,
		sweeper:   cfg.Sweeper,
		responder: cfg.Responder,
		status:    cfg.Status,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.Component("bot"),
		rnd:       rand.New(rand.NewPCG(now, now>>1)),
	}, nil
}

// Open connects to the gateway and registers the application commands
func (b *Bot) Open(ctx context.Context) error {
	if b.session == nil {
		return fmt.Errorf("bot has no session")
	}

	b.session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	b.removeHandlers = append(b.removeHandlers,
		b.session.AddHandler(b.onInteraction),
		b.session.AddHandler(b.onGuildCreate),
	)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	appID := b.appID
	if appID == "" && b.session.State.User != nil {
		appID = b.session.State.User.ID
	}
	registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, Commands(), discordgo.WithContext(ctx))
	if err != nil {
		return errors.Join(fmt.Errorf("failed to register commands: %w", err), b.Close())
	}

	b.logger.WithContext(ctx).Info().
		Str("application_id", appID).
		Str("guild_id", b.guildID).
		Int("commands", len(registered)).
		Msg("connected to gateway")
	return nil
}

// Close detaches handlers and closes the gateway connection
func (b *Bot) Close() error {
	for _, remove := range b.removeHandlers {
		remove()
	}
	b.removeHandlers = nil

	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

func (b *Bot) onInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	b.Handle(ctx, i.Interaction)
}

// onGuildCreate sweeps unused color roles whenever a guild becomes available
func (b *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if b.sweeper == nil || g.Guild == nil || g.Unavailable {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	guild := types.Guild{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID}
	if _, err := b.sweeper.Guild(ctx, guild); err != nil {
		b.logger.WithContext(ctx).Warn().
			Err(err).
			Str("guild_id", g.ID).
			Msg("unused role sweep failed")
	}
}

// Handle answers one interaction
func (b *Bot) Handle(ctx context.Context, i *discordgo.Interaction) {
	start := time.Now()
	name, err := b.dispatch(ctx, i)
	b.metrics.RecordInteraction(ctx, name, err, time.Since(start))

	if err != nil {
		b.logger.WithContext(ctx).Error().
			Err(err).
			Str("interaction", name).
			Str("guild_id", i.GuildID).
			Msg("interaction failed")
	}
}

func (b *Bot) dispatch(ctx context.Context, i *discordgo.Interaction) (string, error) {
	switch i.Type {
	case discordgo.InteractionApplicationCommandAutocomplete:
		return "autocomplete", b.autocomplete(i)

	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		if i.GuildID == "" || i.Member == nil {
			return data.Name, b.reply(i, ephemeral(GuildOnlyText))
		}
		switch data.Name {
		case CommandColor:
			return data.Name, b.color(ctx, i, stringOption(data.Options, OptionValue))
		case CommandColorbot:
			if len(data.Options) == 1 && data.Options[0].Name == SubcommandPurge {
				return "colorbot purge", b.purgePrompt(ctx, i)
			}
		}
		return data.Name, fmt.Errorf("unknown command %q", data.Name)

	case discordgo.InteractionMessageComponent:
		id := i.MessageComponentData().CustomID
		switch id {
		case ButtonPurgeConfirm:
			return id, b.purgeConfirm(ctx, i)
		case ButtonPurgeCancel:
			return id, b.update(i, &discordgo.InteractionResponseData{
				Content:    purge.CancelledMessage,
				Components: []discordgo.MessageComponent{},
			})
		}
		return id, fmt.Errorf("unknown component %q", id)
	}

	return "unknown", fmt.Errorf("unhandled interaction type %v", i.Type)
}

func (b *Bot) color(ctx context.Context, i *discordgo.Interaction, value string) error {
	memberID := i.Member.User.ID

	if value == colorrole.KeywordReset {
		role, err := b.colors.Reset(ctx, i.GuildID, memberID)
		if err != nil {
			return b.replyError(i, value, err)
		}
		return b.reply(i, resetReply(role))
	}

	if value == colorrole.KeywordHelp {
		return b.reply(i, helpReply(value))
	}

	role, err := b.colors.Set(ctx, i.GuildID, memberID, value)
	if err != nil {
		return b.replyError(i, value, err)
	}
	return b.reply(i, colorSetReply(role))
}

// replyError answers with the mapped text. Only unexpected errors are
// returned to the caller for logging.
func (b *Bot) replyError(i *discordgo.Interaction, value string, err error) error {
	replyErr := b.reply(i, colorErrorReply(value, err))
	if expected(err) {
		return replyErr
	}
	return errors.Join(err, replyErr)
}

func (b *Bot) autocomplete(i *discordgo.Interaction) error {
	focused := ""
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Focused {
			focused = opt.StringValue()
		}
	}

	b.rndMu.Lock()
	suggestions := colorrole.Suggest(focused, b.rnd)
	b.rndMu.Unlock()

	return b.responder.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices(suggestions)},
	})
}

func (b *Bot) purgePrompt(ctx context.Context, i *discordgo.Interaction) error {
	prompt, err := b.purge.Prompt(ctx, i.GuildID)
	if err != nil {
		replyErr := b.reply(i, ephemeral(purge.Message(err)))
		if errors.Is(err, purge.ErrNothingToDelete) {
			return replyErr
		}
		return errors.Join(err, replyErr)
	}
	return b.reply(i, purgePromptReply(prompt))
}

func (b *Bot) purgeConfirm(ctx context.Context, i *discordgo.Interaction) error {
	if err := b.update(i, &discordgo.InteractionResponseData{Components: []discordgo.MessageComponent{}}); err != nil {
		return err
	}

	operatorID := ""
	if i.Member != nil && i.Member.User != nil {
		operatorID = i.Member.User.ID
	}

	req := purge.ConfirmRequest{
		GuildID:    i.GuildID,
		OperatorID: operatorID,
		Status:     b.status(i),
	}
	if guild, err := b.guilds.Guild(ctx, i.GuildID); err == nil && guild.OwnerID != operatorID {
		req.OwnerID = guild.OwnerID
	}

	run, err := b.purge.Confirm(ctx, req)
	if err != nil {
		statusErr := req.Status.Upsert(ctx, purge.Message(err))
		if expected(err) {
			return statusErr
		}
		return errors.Join(err, statusErr)
	}

	b.logger.WithContext(ctx).Info().
		Str("guild_id", i.GuildID).
		Str("run_id", run.ID).
		Msg("purge started")
	return nil
}

func (b *Bot) reply(i *discordgo.Interaction, data *discordgo.InteractionResponseData) error {
	return b.responder.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

func (b *Bot) update(i *discordgo.Interaction, data *discordgo.InteractionResponseData) error {
	return b.responder.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: data,
	})
}

func stringOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}
