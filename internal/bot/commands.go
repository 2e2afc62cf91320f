package bot

import (
	"github.com/bwmarrin/discordgo"

	"noctis-guard/internal/commandsync"
)

const (
	PluginCore       = "core"
	PluginAdmin      = "admin"
	PluginGiveaways  = "giveaways"
	PluginModeration = "moderation"
	PluginLeveling   = "leveling"
	PluginWelcome    = "welcome"
	PluginAutomod    = "automod"
)

// Toggleable lists the plugins a guild may switch off. Core and admin
// commands are always registered.
var Toggleable = []string{PluginGiveaways, PluginModeration, PluginLeveling, PluginWelcome, PluginAutomod}

var (
	manageGuild   = int64(discordgo.PermissionManageGuild)
	banMembers    = int64(discordgo.PermissionBanMembers)
	manageMessage = int64(discordgo.PermissionManageMessages)
	minWinners    = float64(1)
	minLevel      = float64(0)
	minRate       = float64(0.1)
)

func userOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func channelOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         name,
		Description:  description,
		Required:     required,
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
	}
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func pluginChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(Toggleable))
	for _, name := range Toggleable {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}
	return choices
}

// Definitions is the full command registry, grouped by owning plugin.
func Definitions() []commandsync.Definition {
	return []commandsync.Definition{
		{Plugin: PluginCore, Command: &discordgo.ApplicationCommand{
			Name:        "ping",
			Description: "Check that the bot is responsive",
		}},
		{Plugin: PluginAdmin, Command: &discordgo.ApplicationCommand{
			Name:                     "plugins",
			Description:              "Show or toggle plugins for this server",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "plugin",
					Description: "Plugin to toggle",
					Choices:     pluginChoices(),
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Enable or disable the plugin",
				},
			},
		}},
		{Plugin: PluginAdmin, Command: &discordgo.ApplicationCommand{
			Name:                     "setlogchannel",
			Description:              "Set the channel that receives moderation cases",
			DefaultMemberPermissions: &manageGuild,
			Options:                  []*discordgo.ApplicationCommandOption{channelOption("channel", "Log channel", true)},
		}},
		{Plugin: PluginGiveaways, Command: &discordgo.ApplicationCommand{
			Name:                     "giveaway",
			Description:              "Run giveaways",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("start", "Start a giveaway",
					stringOption("prize", "What is being given away", true),
					stringOption("duration", "How long it runs, e.g. 30m, 2h, 1d", false),
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "winners",
						Description: "Number of winners",
						MinValue:    &minWinners,
					},
					channelOption("channel", "Channel to announce in", false),
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionRole,
						Name:        "role",
						Description: "Role entrants must hold",
					},
				),
				subcommand("end", "End a giveaway now", stringOption("id", "Giveaway id", true)),
				subcommand("reroll", "Draw new winners for an ended giveaway", stringOption("id", "Giveaway id", true)),
				subcommand("list", "List giveaways in this server"),
			},
		}},
		{Plugin: PluginModeration, Command: &discordgo.ApplicationCommand{
			Name:                     "moderation",
			Description:              "Moderation actions",
			DefaultMemberPermissions: &banMembers,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("tempban", "Ban a member for a limited time",
					userOption("user", "Member to ban", true),
					stringOption("duration", "Ban length, e.g. 1h, 7d, 2w", true),
					stringOption("reason", "Reason", false),
				),
				subcommand("unban", "Lift a temporary ban early", stringOption("id", "Tempban id", true)),
				subcommand("tempbans", "List active temporary bans"),
				subcommand("warn", "Warn a member",
					userOption("user", "Member to warn", true),
					stringOption("reason", "Reason", true),
				),
				subcommand("warnings", "Show a member's warnings", userOption("user", "Member", true)),
				subcommand("clearwarnings", "Remove a member's warnings", userOption("user", "Member", true)),
			},
		}},
		{Plugin: PluginModeration, Command: &discordgo.ApplicationCommand{
			Name:                     "logs",
			Description:              "Show recent moderation cases",
			DefaultMemberPermissions: &manageMessage,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("user", "Only cases for this member", false)},
		}},
		{Plugin: PluginLeveling, Command: &discordgo.ApplicationCommand{
			Name:        "level",
			Description: "Show a rank card",
			Options:     []*discordgo.ApplicationCommandOption{userOption("user", "Member to show", false)},
		}},
		{Plugin: PluginLeveling, Command: &discordgo.ApplicationCommand{
			Name:        "leaderboard",
			Description: "Show the top members by XP",
		}},
		{Plugin: PluginLeveling, Command: &discordgo.ApplicationCommand{
			Name:                     "xprate",
			Description:              "Set the XP multiplier",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "rate",
					Description: "Multiplier, 1 is normal",
					Required:    true,
					MinValue:    &minRate,
				},
				stringOption("duration", "How long the rate lasts, e.g. 2h", false),
			},
		}},
		{Plugin: PluginLeveling, Command: &discordgo.ApplicationCommand{
			Name:                     "setlevelchannel",
			Description:              "Set the channel for level-up announcements",
			DefaultMemberPermissions: &manageGuild,
			Options:                  []*discordgo.ApplicationCommandOption{channelOption("channel", "Announcement channel", true)},
		}},
		{Plugin: PluginLeveling, Command: &discordgo.ApplicationCommand{
			Name:                     "setlevel",
			Description:              "Set a member's level",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user", "Member", true),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "level",
					Description: "New level",
					Required:    true,
					MinValue:    &minLevel,
				},
			},
		}},
		{Plugin: PluginWelcome, Command: &discordgo.ApplicationCommand{
			Name:                     "setwelcomechannel",
			Description:              "Set where new members are greeted",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				channelOption("channel", "Welcome channel", true),
				stringOption("message", "Template; {user}, {username} and {server} are replaced", false),
			},
		}},
		{Plugin: PluginWelcome, Command: &discordgo.ApplicationCommand{
			Name:                     "setbyechannel",
			Description:              "Set where departures are announced",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				channelOption("channel", "Goodbye channel", true),
				stringOption("message", "Template; {user}, {username} and {server} are replaced", false),
			},
		}},
	}
}

func definitionFor(name string) (commandsync.Definition, bool) {
	for _, def := range Definitions() {
		if def.Command.Name == name {
			return def, true
		}
	}
	return commandsync.Definition{}, false
}
