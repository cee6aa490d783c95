package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/yairfalse/colorbot/colorrole"
	"github.com/yairfalse/colorbot/purge"
	"github.com/yairfalse/colorbot/remediation"
	"github.com/yairfalse/colorbot/types"
)

// Reply texts for the color command
const (
	ColorSetText     = "Your color has been set:"
	NoColorRoleText  = "You don't have a color role to reset.\n\n_Color roles are always named starting with a `#` followed by six characters, each `0` to `9` or lowercase `a` to `f`._"
	HelpText         = "If you don't know how hex color codes work, you can generate one using a [color picker](https://www.google.com/search?q=color+picker)."
	MaxRolesText     = "The maximum role limit has been reached and no more color roles can be created. If you want, you can choose a color someone else is already using. Below are some similar colors I found to the one you entered."
	MaxRolesNoneText = "**Error:** The maximum role limit has been reached and no color roles can be created."
	GenericErrorText = "**Error:** Something went wrong. Please try again later."
	GuildOnlyText    = "**Error:** This command can only be used in a server."
)

// backgroundColor is the chat background; a color role matching it is invisible
const backgroundColor = "#36393e"

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	`~`, `\~`,
	"`", "\\`",
	`|`, `\|`,
	`>`, `\>`,
)

// escapeMarkdown neutralizes markdown in user input echoed back to them
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func ephemeral(content string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}
}

// colorSetReply shows the newly assigned color as an embed
func colorSetReply(role *types.Role) *discordgo.InteractionResponseData {
	embed := &discordgo.MessageEmbed{
		Title: role.Name,
		Color: role.Color,
	}
	if role.Name == backgroundColor {
		embed.Description = "Why?"
	}

	data := ephemeral(ColorSetText)
	data.Embeds = []*discordgo.MessageEmbed{embed}
	return data
}

func resetReply(role *types.Role) *discordgo.InteractionResponseData {
	return ephemeral(fmt.Sprintf("Your **%s** color role has been removed.", role.Name))
}

// helpReply explains hex codes; value is quoted back unless it was "help"
func helpReply(value string) *discordgo.InteractionResponseData {
	if value == colorrole.KeywordHelp {
		return ephemeral(HelpText)
	}
	return ephemeral(fmt.Sprintf("**%s** is not a valid hex color code! %s", escapeMarkdown(value), HelpText))
}

// maxRolesReply lists the nearest existing color roles as mentions
func maxRolesReply(err *colorrole.MaxRolesError) *discordgo.InteractionResponseData {
	if len(err.Nearest) == 0 {
		return ephemeral(MaxRolesNoneText)
	}

	mentions := make([]string, 0, len(err.Nearest))
	for _, role := range err.Nearest {
		mentions = append(mentions, "<@&"+role.ID+">")
	}

	_, color, parseErr := types.ParseColor(err.Color)
	if parseErr != nil {
		color = 0
	}

	data := ephemeral(MaxRolesText)
	data.Embeds = []*discordgo.MessageEmbed{{
		Description: strings.Join(mentions, " "),
		Color:       color,
	}}
	return data
}

// colorErrorReply maps a colorrole error onto the reply shown to the member
func colorErrorReply(value string, err error) *discordgo.InteractionResponseData {
	var maxErr *colorrole.MaxRolesError
	var report *remediation.ErrorReport

	switch {
	case errors.Is(err, colorrole.ErrInvalidColor):
		return helpReply(value)
	case errors.Is(err, colorrole.ErrNoColorRole):
		return ephemeral(NoColorRoleText)
	case errors.As(err, &maxErr):
		return maxRolesReply(maxErr)
	case errors.As(err, &report):
		return ephemeral(report.Message)
	default:
		return ephemeral(GenericErrorText)
	}
}

// purgePromptReply asks for confirmation with confirm/cancel buttons
func purgePromptReply(prompt string) *discordgo.InteractionResponseData {
	data := ephemeral(prompt)
	data.Components = purgeButtons()
	return data
}

// choices turns autocomplete suggestions into option choices
func choices(suggestions []string) []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: s, Value: s})
	}
	return out
}

// expected reports whether err is an outcome the user is told about rather
// than a fault worth logging
func expected(err error) bool {
	var maxErr *colorrole.MaxRolesError
	var report *remediation.ErrorReport

	return errors.Is(err, colorrole.ErrInvalidColor) ||
		errors.Is(err, colorrole.ErrNoColorRole) ||
		errors.Is(err, purge.ErrNothingToDelete) ||
		errors.Is(err, remediation.ErrRunInProgress) ||
		errors.As(err, &maxErr) ||
		errors.As(err, &report)
}
