package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"noctis-guard/internal/audit"
	"noctis-guard/internal/giveaway"
	"noctis-guard/internal/leveling"
	"noctis-guard/internal/moderation"
	"noctis-guard/internal/render"
	"noctis-guard/internal/settings"
	"noctis-guard/internal/utils"
)

type optionMap map[string]*discordgo.ApplicationCommandInteractionDataOption

func toOptionMap(options []*discordgo.ApplicationCommandInteractionDataOption) optionMap {
	out := make(optionMap, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}

func (o optionMap) str(name string) string {
	if opt, ok := o[name]; ok {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

func (o optionMap) integer(name string) int {
	if opt, ok := o[name]; ok {
		return int(opt.IntValue())
	}
	return 0
}

func (o optionMap) user(name string) string {
	if opt, ok := o[name]; ok {
		if u := opt.UserValue(nil); u != nil {
			return u.ID
		}
	}
	return ""
}

func (o optionMap) channel(name string) string {
	if opt, ok := o[name]; ok {
		if c := opt.ChannelValue(nil); c != nil {
			return c.ID
		}
	}
	return ""
}

// commandDisabled refuses commands whose plugin or name a guild turned
// off, even if a stale registration still exposes them.
func commandDisabled(guild settings.Guild, name string) bool {
	def, ok := definitionFor(name)
	if !ok {
		return true
	}
	if !guild.PluginEnabled(def.Plugin) {
		return true
	}
	for _, disabled := range guild.Disabled {
		if disabled == name || disabled == def.Plugin {
			return true
		}
	}
	return false
}

func invoker(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := interaction.ApplicationCommandData()
	if interaction.GuildID == "" {
		b.respond(session, interaction, "Commands only work inside a server.", true)
		return
	}
	guild := b.settings.Get(interaction.GuildID)
	if commandDisabled(guild, data.Name) {
		b.respond(session, interaction, "This command is disabled on this server.", true)
		return
	}

	ctx := context.Background()
	opts := toOptionMap(data.Options)
	switch data.Name {
	case "ping":
		b.respond(session, interaction, fmt.Sprintf("Pong! %dms", session.HeartbeatLatency().Milliseconds()), true)
	case "plugins":
		b.handlePlugins(ctx, session, interaction, opts)
	case "setlogchannel":
		b.handleSetChannel(ctx, session, interaction, "Log channel", func(g *settings.Guild, id string) { g.LogChannelID = id }, opts)
	case "giveaway":
		b.handleGiveaway(ctx, session, interaction, data.Options)
	case "moderation":
		b.handleModeration(ctx, session, interaction, data.Options)
	case "logs":
		b.handleLogs(session, interaction, opts)
	case "level":
		b.handleLevel(session, interaction, opts)
	case "leaderboard":
		b.handleLeaderboard(session, interaction)
	case "xprate":
		b.handleXPRate(ctx, session, interaction, opts)
	case "setlevelchannel":
		b.handleSetChannel(ctx, session, interaction, "Level-up channel", func(g *settings.Guild, id string) { g.LevelChannelID = id }, opts)
	case "setlevel":
		b.handleSetLevel(ctx, session, interaction, opts)
	case "setwelcomechannel":
		b.handleGreeting(ctx, session, interaction, true, opts)
	case "setbyechannel":
		b.handleGreeting(ctx, session, interaction, false, opts)
	default:
		b.respond(session, interaction, "Unknown command.", true)
	}
}

func (b *Bot) handlePlugins(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts optionMap) {
	name := opts.str("plugin")
	enabledOpt, hasEnabled := opts["enabled"]
	if name == "" || !hasEnabled {
		guild := b.settings.Get(interaction.GuildID)
		fields := make([]*discordgo.MessageEmbedField, 0, len(Toggleable))
		for _, plugin := range Toggleable {
			state := "on"
			if !guild.PluginEnabled(plugin) {
				state = "off"
			}
			fields = append(fields, &discordgo.MessageEmbedField{Name: plugin, Value: state, Inline: true})
		}
		b.respondEmbed(session, interaction, commandEmbed("Plugins", "", colorInfo, fields), true)
		return
	}

	enabled := enabledOpt.BoolValue()
	guild, err := b.settings.SetPlugin(ctx, interaction.GuildID, name, enabled)
	if err != nil {
		b.logger.Error("persist plugin toggle", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, "Could not save the plugin state.", true)
		return
	}
	if err := b.commands.QueueUpdate(ctx, interaction.GuildID, guild.Disabled); err != nil {
		b.logger.Warn("queue guild commands", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	} else {
		b.commands.Trigger()
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, "", invoker(interaction), "plugin_toggle", fmt.Sprintf("%s=%t", name, enabled))
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	b.respond(session, interaction, fmt.Sprintf("Plugin **%s** %s. Slash commands will update shortly.", name, state), true)
}

func (b *Bot) handleSetChannel(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, label string, set func(*settings.Guild, string), opts optionMap) {
	channelID := opts.channel("channel")
	if _, err := b.settings.Update(ctx, interaction.GuildID, func(g *settings.Guild) { set(g, channelID) }); err != nil {
		b.logger.Error("persist channel setting", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, "Could not save the setting.", true)
		return
	}
	b.respond(session, interaction, fmt.Sprintf("%s set to <#%s>.", label, channelID), true)
}

func (b *Bot) handleGreeting(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, welcome bool, opts optionMap) {
	greeting := settings.Greeting{ChannelID: opts.channel("channel"), Message: opts.str("message")}
	_, err := b.settings.Update(ctx, interaction.GuildID, func(g *settings.Guild) {
		if welcome {
			g.Welcome = greeting
		} else {
			g.Bye = greeting
		}
	})
	if err != nil {
		b.logger.Error("persist greeting", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, "Could not save the setting.", true)
		return
	}
	label := "Goodbye"
	if welcome {
		label = "Welcome"
	}
	b.respond(session, interaction, fmt.Sprintf("%s messages will be posted in <#%s>.", label, greeting.ChannelID), true)
}

func (b *Bot) handleGiveaway(ctx context.Context, session responder, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respond(session, interaction, "Choose a giveaway action.", true)
		return
	}
	sub := options[0]
	opts := toOptionMap(sub.Options)
	r := b.newReply(session, interaction, true)
	r.deferResponse()
	switch sub.Name {
	case "start":
		params := giveaway.Params{
			GuildID:     interaction.GuildID,
			ChannelID:   opts.channel("channel"),
			Prize:       opts.str("prize"),
			WinnerCount: opts.integer("winners"),
			HostID:      invoker(interaction),
		}
		if opt, ok := opts["role"]; ok {
			if role := opt.RoleValue(nil, interaction.GuildID); role != nil {
				params.RequireRole = role.ID
			}
		}
		if raw := opts.str("duration"); raw != "" {
			d, err := utils.ParseDuration(raw)
			if err != nil {
				r.text("Invalid duration: "+err.Error())
				return
			}
			params.Duration = d
		}
		params = b.giveaways.Defaults(interaction.GuildID).Apply(params)
		if params.ChannelID == "" {
			params.ChannelID = interaction.ChannelID
		}
		if params.WinnerCount == 0 {
			params.WinnerCount = 1
		}
		g, err := b.giveaways.Create(ctx, params)
		if err != nil {
			r.text(giveawayErrorText(err))
			return
		}
		r.text(fmt.Sprintf("Giveaway `%s` for **%s** started in <#%s>, ends <t:%d:R>.", g.ID, g.Prize, g.ChannelID, g.EndsAt().Unix()))
	case "end":
		g, ok := b.giveaways.Get(opts.str("id"))
		if !ok || g.GuildID != interaction.GuildID {
			r.text("Giveaway not found.")
			return
		}
		g, err := b.giveaways.End(ctx, g.ID)
		if err != nil {
			r.text(giveawayErrorText(err))
			return
		}
		r.text(fmt.Sprintf("Giveaway `%s` ended with %d winner(s).", g.ID, len(g.Winners)))
	case "reroll":
		g, ok := b.giveaways.Get(opts.str("id"))
		if !ok || g.GuildID != interaction.GuildID {
			r.text("Giveaway not found.")
			return
		}
		winners, err := b.giveaways.Reroll(ctx, g.ID)
		if err != nil {
			r.text(giveawayErrorText(err))
			return
		}
		r.text(fmt.Sprintf("Rerolled `%s`: %d new winner(s).", g.ID, len(winners)))
	case "list":
		list := b.giveaways.ListForGuild(interaction.GuildID)
		if len(list) == 0 {
			r.text("No giveaways yet.")
			return
		}
		lines := make([]string, 0, len(list))
		for _, g := range list {
			status := fmt.Sprintf("ends <t:%d:R>", g.EndsAt().Unix())
			if g.Ended {
				status = fmt.Sprintf("ended, %d winner(s)", len(g.Winners))
			}
			lines = append(lines, fmt.Sprintf("`%s` **%s** (%s)", g.ID, g.Prize, status))
		}
		r.embed(commandEmbed("Giveaways", strings.Join(lines, "\n"), colorInfo, nil))
	default:
		r.text("Unknown giveaway action.")
	}
}

func giveawayErrorText(err error) string {
	switch {
	case errors.Is(err, giveaway.ErrInvalid):
		parts := strings.SplitN(err.Error(), "\n", 2)
		return "Invalid giveaway: " + parts[len(parts)-1]
	case errors.Is(err, giveaway.ErrNotFound):
		return "Giveaway not found."
	case errors.Is(err, giveaway.ErrNotPosted):
		return "That giveaway was never posted, so there is nothing to reroll."
	default:
		return "The giveaway could not be updated. Check that its message still exists."
	}
}

func (b *Bot) handleModeration(ctx context.Context, session responder, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respond(session, interaction, "Choose a moderation action.", true)
		return
	}
	sub := options[0]
	opts := toOptionMap(sub.Options)
	r := b.newReply(session, interaction, true)
	r.deferResponse()
	moderatorID := invoker(interaction)
	switch sub.Name {
	case "tempban":
		userID := opts.user("user")
		if userID == moderatorID {
			r.text("You cannot ban yourself.")
			return
		}
		d, err := utils.ParseDuration(opts.str("duration"))
		if err != nil {
			r.text("Invalid duration: "+err.Error())
			return
		}
		ban, err := b.tempbans.Create(ctx, moderation.TempbanParams{
			GuildID:     interaction.GuildID,
			UserID:      userID,
			Duration:    d,
			ModeratorID: moderatorID,
			Reason:      opts.str("reason"),
		})
		switch {
		case errors.Is(err, moderation.ErrBanFailed):
			r.text("The ban failed. Check my permissions and role position.")
			return
		case errors.Is(err, moderation.ErrInvalid):
			r.text("Invalid tempban request.")
			return
		case err != nil:
			r.text(fmt.Sprintf("%s was banned, but the unban could not be saved and will be lost on restart.", mention(userID)))
			return
		}
		r.text(fmt.Sprintf("%s banned until <t:%d:f>. Case `%s`.", mention(userID), ban.EndsAt().Unix(), ban.ID))
	case "unban":
		ban, ok := b.tempbans.Get(opts.str("id"))
		if !ok || ban.GuildID != interaction.GuildID {
			r.text("Tempban not found.")
			return
		}
		if err := b.tempbans.Revoke(ctx, ban.ID); err != nil {
			r.text("Tempban not found.")
			return
		}
		r.text(fmt.Sprintf("Lifted the ban on %s.", mention(ban.UserID)))
	case "tempbans":
		bans := b.tempbans.List(interaction.GuildID)
		if len(bans) == 0 {
			r.text("No active temporary bans.")
			return
		}
		lines := make([]string, 0, len(bans))
		for _, ban := range bans {
			lines = append(lines, fmt.Sprintf("`%s` %s until <t:%d:f>", ban.ID, mention(ban.UserID), ban.EndsAt().Unix()))
		}
		r.embed(commandEmbed("Temporary bans", strings.Join(lines, "\n"), colorInfo, nil))
	case "warn":
		userID := opts.user("user")
		count, err := b.warnings.Add(ctx, interaction.GuildID, userID, moderatorID, opts.str("reason"))
		if err != nil {
			b.logger.Error("add warning", zap.String("guild_id", interaction.GuildID), zap.Error(err))
			r.text("Could not save the warning.")
			return
		}
		r.text(fmt.Sprintf("Warned %s. They now have %d warning(s).", mention(userID), count))
	case "warnings":
		userID := opts.user("user")
		list := b.warnings.List(interaction.GuildID, userID)
		if len(list) == 0 {
			r.text(fmt.Sprintf("%s has no warnings.", mention(userID)))
			return
		}
		lines := make([]string, 0, len(list))
		for _, w := range list {
			lines = append(lines, fmt.Sprintf("<t:%d:d> by %s: %s", w.CreatedAt.Unix(), mention(w.ModeratorID), w.Reason))
		}
		r.embed(commandEmbed("Warnings", strings.Join(lines, "\n"), colorWarn, nil))
	case "clearwarnings":
		userID := opts.user("user")
		removed, err := b.warnings.Clear(ctx, interaction.GuildID, userID, moderatorID)
		if err != nil {
			b.logger.Error("clear warnings", zap.String("guild_id", interaction.GuildID), zap.Error(err))
			r.text("Could not clear warnings.")
			return
		}
		r.text(fmt.Sprintf("Removed %d warning(s) from %s.", removed, mention(userID)))
	default:
		r.text("Unknown moderation action.")
	}
}

func (b *Bot) handleLogs(session *discordgo.Session, interaction *discordgo.InteractionCreate, opts optionMap) {
	cases := b.audit.Recent(interaction.GuildID, opts.user("user"), 10)
	if len(cases) == 0 {
		b.respond(session, interaction, "No cases recorded.", true)
		return
	}
	lines := make([]string, 0, len(cases))
	for _, c := range cases {
		line := fmt.Sprintf("<t:%d:R> **%s** [%s]", c.CreatedAt.Unix(), c.Action, c.Level)
		if c.UserID != "" {
			line += " " + mention(c.UserID)
		}
		if c.Details != "" {
			line += ": " + c.Details
		}
		lines = append(lines, line)
	}
	embed := commandEmbed("Recent cases", strings.Join(lines, "\n"), colorInfo, nil)
	report := b.audit.Report(interaction.GuildID, b.clock.Now().Add(-7*24*time.Hour))
	embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Last 7 days: %d cases | INFO %d | WARN %d | CRIT %d",
		report.Total, report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit])}
	b.respondEmbed(session, interaction, embed, true)
}

func (b *Bot) handleLevel(session *discordgo.Session, interaction *discordgo.InteractionCreate, opts optionMap) {
	userID := opts.user("user")
	username := ""
	if opt, ok := opts["user"]; ok {
		if u := opt.UserValue(session); u != nil {
			username = u.Username
		}
	}
	if userID == "" {
		userID = invoker(interaction)
		if interaction.Member != nil && interaction.Member.User != nil {
			username = interaction.Member.User.Username
		}
	}
	member := b.levels.Member(interaction.GuildID, userID)
	card := render.Card{
		Username: username,
		Level:    member.Level,
		Rank:     b.levels.Rank(interaction.GuildID, userID),
		XP:       member.XP,
		Needed:   leveling.Requirement(member.Level),
	}
	png, err := render.RankCard(card)
	if err != nil {
		b.logger.Warn("render rank card", zap.Error(err))
		b.respond(session, interaction, fmt.Sprintf("%s is level %d with %d/%d XP.", mention(userID), card.Level, card.XP, card.Needed), false)
		return
	}
	err = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Files: []*discordgo.File{{Name: "rank.png", ContentType: "image/png", Reader: bytes.NewReader(png)}},
		},
	})
	if err != nil {
		b.logger.Warn("interaction respond", zap.Error(err))
	}
}

func (b *Bot) handleLeaderboard(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	top := b.levels.Leaderboard(interaction.GuildID, 10)
	if len(top) == 0 {
		b.respond(session, interaction, "Nobody has earned XP yet.", true)
		return
	}
	b.respondEmbed(session, interaction, commandEmbed("Leaderboard", leaderboardText(top), colorInfo, nil), false)
}

func leaderboardText(members []leveling.Member) string {
	lines := make([]string, 0, len(members))
	for i, m := range members {
		lines = append(lines, fmt.Sprintf("**%d.** %s level %d (%d XP)", i+1, mention(m.UserID), m.Level, m.XP))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) handleXPRate(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts optionMap) {
	rate := 1.0
	if opt, ok := opts["rate"]; ok {
		rate = opt.FloatValue()
	}
	var expires int64
	if raw := opts.str("duration"); raw != "" {
		d, err := utils.ParseDuration(raw)
		if err != nil {
			b.respond(session, interaction, "Invalid duration: "+err.Error(), true)
			return
		}
		expires = b.clock.Now().Add(d).UnixMilli()
	}
	_, err := b.settings.Update(ctx, interaction.GuildID, func(g *settings.Guild) {
		g.XPRate = rate
		g.XPRateExpiresAt = expires
	})
	if err != nil {
		b.logger.Error("persist xp rate", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, "Could not save the XP rate.", true)
		return
	}
	text := fmt.Sprintf("XP rate set to %.2gx.", rate)
	if expires > 0 {
		text = fmt.Sprintf("XP rate set to %.2gx until <t:%d:f>.", rate, time.UnixMilli(expires).Unix())
	}
	b.respond(session, interaction, text, false)
}

func (b *Bot) handleSetLevel(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts optionMap) {
	userID := opts.user("user")
	member, err := b.levels.SetLevel(ctx, interaction.GuildID, userID, opts.integer("level"))
	if err != nil {
		b.respond(session, interaction, "Could not set the level: "+err.Error(), true)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, userID, invoker(interaction), "set_level", fmt.Sprintf("level=%d", member.Level))
	b.respond(session, interaction, fmt.Sprintf("%s is now level %d.", mention(userID), member.Level), true)
}
