package bot

import (
	"github.com/bwmarrin/discordgo"
)

// Command, option and component names
const (
	CommandColor    = "color"
	CommandColorbot = "colorbot"
	SubcommandPurge = "purge"
	OptionValue     = "value"

	ButtonPurgeConfirm = "purge-confirm"
	ButtonPurgeCancel  = "purge-cancel"
)

// Commands returns the application commands the bot registers
func Commands() []*discordgo.ApplicationCommand {
	dm := false
	manageRoles := int64(discordgo.PermissionManageRoles)

	return []*discordgo.ApplicationCommand{
		{
			Name:         CommandColor,
			Description:  "Set your username color.",
			DMPermission: &dm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         OptionValue,
					Description:  `A hex code to set as your color, "reset" to remove your color role, or "help" for info on hex codes.`,
					Required:     true,
					Autocomplete: true,
				},
			},
		},
		{
			Name:                     CommandColorbot,
			Description:              "Manage the server's color roles.",
			DMPermission:             &dm,
			DefaultMemberPermissions: &manageRoles,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        SubcommandPurge,
					Description: "Delete all of the server's color roles.",
				},
			},
		},
	}
}

// purgeButtons is the confirm/cancel row shown under a purge prompt
func purgeButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Yes, delete all color roles.",
					Style:    discordgo.DangerButton,
					CustomID: ButtonPurgeConfirm,
				},
				discordgo.Button{
					Label:    "No, never mind.",
					Style:    discordgo.SecondaryButton,
					CustomID: ButtonPurgeCancel,
				},
			},
		},
	}
}
