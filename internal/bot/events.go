package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"noctis-guard/internal/gateway"
	"noctis-guard/internal/leveling"
)

type incomingMessage struct {
	GuildID   string
	ChannelID string
	MessageID string
	AuthorID  string
	Content   string
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	b.handleMessage(context.Background(), incomingMessage{
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		AuthorID:  msg.Author.ID,
		Content:   msg.Content,
	})
}

// handleMessage runs automod first. A flagged message earns no XP.
func (b *Bot) handleMessage(ctx context.Context, msg incomingMessage) {
	guild := b.settings.Get(msg.GuildID)
	now := b.clock.Now()

	if guild.PluginEnabled(PluginAutomod) && b.automod != nil {
		verdict := b.automod.Check(msg.GuildID, msg.AuthorID, msg.Content, guild.Automod, now)
		if verdict.Flagged() {
			b.enforce(ctx, msg, verdict.Reason())
			return
		}
	}

	if !guild.PluginEnabled(PluginLeveling) || b.levels == nil {
		return
	}
	result, err := b.levels.AddXP(ctx, msg.GuildID, msg.AuthorID, guild.EffectiveXPRate(now), now)
	if err != nil {
		b.logger.Warn("add xp", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.AuthorID), zap.Error(err))
		return
	}
	if !result.LevelUp {
		return
	}
	channelID := guild.LevelChannelID
	if channelID == "" {
		channelID = msg.ChannelID
	}
	announce := gateway.Message{Content: levelUpText(msg.AuthorID, result.Member)}
	if _, err := b.gateway.SendMessage(ctx, channelID, announce); err != nil {
		b.logger.Warn("announce level up", zap.String("guild_id", msg.GuildID), zap.Error(err))
	}
}

func (b *Bot) enforce(ctx context.Context, msg incomingMessage, reason string) {
	if err := b.deleteMessage(ctx, msg.ChannelID, msg.MessageID); err != nil {
		b.logger.Warn("delete flagged message", zap.String("guild_id", msg.GuildID), zap.String("message_id", msg.MessageID), zap.Error(err))
	}
	moderatorID := ""
	if b.session != nil && b.session.State != nil && b.session.State.User != nil {
		moderatorID = b.session.State.User.ID
	}
	count, err := b.warnings.Add(ctx, msg.GuildID, msg.AuthorID, moderatorID, "automod: "+reason)
	if err != nil {
		b.logger.Warn("record automod warning", zap.String("guild_id", msg.GuildID), zap.Error(err))
	}
	if !b.dmGuard.Allow(msg.AuthorID, b.clock.Now()) {
		return
	}
	notice := gateway.Message{Embed: &discordgo.MessageEmbed{
		Title:       "Message removed",
		Description: fmt.Sprintf("Your message was removed: %s.", reason),
		Color:       colorWarn,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Warnings", Value: fmt.Sprintf("%d", count), Inline: true},
		},
	}}
	if err := b.gateway.SendDM(ctx, msg.AuthorID, notice); err != nil {
		b.logger.Debug("automod dm", zap.String("user_id", msg.AuthorID), zap.Error(err))
	}
}

func levelUpText(userID string, member leveling.Member) string {
	return fmt.Sprintf("%s reached level **%d**!", mention(userID), member.Level)
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.User == nil || event.User.Bot {
		return
	}
	b.greet(context.Background(), event.GuildID, event.User.ID, event.User.Username, b.guildName(event.GuildID), true)
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.User == nil || event.User.Bot {
		return
	}
	if b.automod != nil {
		b.automod.Forget(event.GuildID, event.User.ID)
	}
	b.greet(context.Background(), event.GuildID, event.User.ID, event.User.Username, b.guildName(event.GuildID), false)
}

func (b *Bot) greet(ctx context.Context, guildID, userID, username, guildName string, joined bool) {
	guild := b.settings.Get(guildID)
	if !guild.PluginEnabled(PluginWelcome) {
		return
	}
	greeting, fallback := guild.Bye, "{username} has left {server}."
	if joined {
		greeting, fallback = guild.Welcome, "Welcome to {server}, {user}!"
	}
	if greeting.ChannelID == "" {
		return
	}
	template := greeting.Message
	if template == "" {
		template = fallback
	}
	text := formatGreeting(template, userID, username, guildName)
	if _, err := b.gateway.SendMessage(ctx, greeting.ChannelID, gateway.Message{Content: text}); err != nil {
		b.logger.Warn("send greeting", zap.String("guild_id", guildID), zap.Bool("joined", joined), zap.Error(err))
	}
}

func formatGreeting(template, userID, username, guildName string) string {
	return strings.NewReplacer(
		"{user}", mention(userID),
		"{username}", username,
		"{server}", guildName,
	).Replace(template)
}

func (b *Bot) guildName(guildID string) string {
	if b.session != nil && b.session.State != nil {
		if guild, err := b.session.State.Guild(guildID); err == nil && guild.Name != "" {
			return guild.Name
		}
	}
	return "the server"
}
