package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/yairfalse/colorbot/platform"
)

// Codes returned once an interaction's follow-up webhook can no longer be used
const (
	codeUnknownMessage      = 10008
	codeUnknownWebhook      = 10015
	codeInvalidWebhookToken = 50027
)

// InteractionStatus is an ephemeral follow-up message on an interaction.
// The first Upsert creates it, later ones edit it in place.
type InteractionStatus struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction

	mu        sync.Mutex
	messageID string
}

var _ platform.StatusChannel = (*InteractionStatus)(nil)

// NewInteractionStatus creates a status channel bound to an interaction
func NewInteractionStatus(session *discordgo.Session, interaction *discordgo.Interaction) *InteractionStatus {
	return &InteractionStatus{session: session, interaction: interaction}
}

// Upsert writes text to the follow-up message
func (s *InteractionStatus) Upsert(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.messageID == "" {
		msg, err := s.session.FollowupMessageCreate(s.interaction, true, &discordgo.WebhookParams{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return statusError(err)
		}
		s.messageID = msg.ID
		return nil
	}

	_, err := s.session.FollowupMessageEdit(s.interaction, s.messageID, &discordgo.WebhookEdit{
		Content: &text,
	}, discordgo.WithContext(ctx))
	return statusError(err)
}

// statusError maps errors that mean the follow-up is unreachable for good
// onto platform.ErrChannelGone
func statusError(err error) error {
	err = mapError(err)
	if err == nil {
		return nil
	}

	if f, ok := err.(*platform.Failure); ok && channelGone(f.Raw) {
		return fmt.Errorf("%w: %s", platform.ErrChannelGone, f.Message)
	}
	return err
}

func channelGone(raw int) bool {
	switch raw {
	case codeUnknownMessage, codeUnknownWebhook, codeInvalidWebhookToken:
		return true
	default:
		return false
	}
}
