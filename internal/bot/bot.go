package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"noctis-guard/internal/audit"
	"noctis-guard/internal/automod"
	"noctis-guard/internal/clock"
	"noctis-guard/internal/commandsync"
	"noctis-guard/internal/config"
	"noctis-guard/internal/gateway"
	"noctis-guard/internal/giveaway"
	"noctis-guard/internal/leveling"
	"noctis-guard/internal/moderation"
	"noctis-guard/internal/settings"
)

const (
	colorInfo    = 0x5865F2
	colorSuccess = 0x2ECC71
	colorWarn    = 0xF1C40F
	colorError   = 0xE74C3C
)

// Deps are the long-lived services the handlers drive.
type Deps struct {
	Gateway   gateway.Client
	Settings  *settings.Store
	Levels    *leveling.Engine
	Automod   *automod.Engine
	Giveaways *giveaway.Manager
	Tempbans  *moderation.Tempbans
	Warnings  *moderation.Warnings
	Audit     *audit.Logger
	Commands  *commandsync.Queue
	Clock     clock.Clock
}

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	session   *discordgo.Session
	gateway   gateway.Client
	settings  *settings.Store
	levels    *leveling.Engine
	automod   *automod.Engine
	giveaways *giveaway.Manager
	tempbans  *moderation.Tempbans
	warnings  *moderation.Warnings
	audit     *audit.Logger
	commands  *commandsync.Queue
	clock     clock.Clock
	dmGuard   *moderation.DMGuard

	deleteMessage func(ctx context.Context, channelID, messageID string) error

	guildsMu sync.Mutex
	guilds   map[string]bool
}

// NewSession opens nothing; it only prepares a session with the
// intents the handlers need.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent
	return session, nil
}

func New(cfg config.Config, logger *zap.Logger, session *discordgo.Session, deps Deps) *Bot {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	b := &Bot{
		cfg:       cfg,
		logger:    logger.Named("bot"),
		session:   session,
		gateway:   deps.Gateway,
		settings:  deps.Settings,
		levels:    deps.Levels,
		automod:   deps.Automod,
		giveaways: deps.Giveaways,
		tempbans:  deps.Tempbans,
		warnings:  deps.Warnings,
		audit:     deps.Audit,
		commands:  deps.Commands,
		clock:     clk,
		dmGuard:   moderation.NewDMGuard(time.Duration(cfg.Automod.DMIntervalSeconds) * time.Second),
		guilds:    make(map[string]bool),
	}
	b.deleteMessage = func(ctx context.Context, channelID, messageID string) error {
		if b.session == nil {
			return errors.New("no session")
		}
		return b.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	}
	if b.audit != nil {
		b.audit.SetNotifier(b.notifyCase)
	}
	return b
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway session: %w", err)
	}
	return nil
}

func (b *Bot) Close() {
	if b.session != nil {
		_ = b.session.Close()
	}
}

// onReady queues every guild's current command set. The queue drains
// them on its own schedule after the startup delay.
func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
	ctx := context.Background()
	for _, guild := range event.Guilds {
		b.markGuild(guild.ID)
		b.queueCommands(ctx, guild.ID)
	}
}

// onGuildCreate also fires for every known guild right after ready;
// only guilds joined later are queued and drained here.
func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	if !b.markGuild(event.ID) {
		return
	}
	b.logger.Info("joined guild", zap.String("guild_id", event.ID), zap.String("name", event.Name))
	b.queueCommands(context.Background(), event.ID)
	b.commands.Trigger()
}

// markGuild reports whether the guild was not seen before.
func (b *Bot) markGuild(guildID string) bool {
	b.guildsMu.Lock()
	defer b.guildsMu.Unlock()
	if b.guilds[guildID] {
		return false
	}
	b.guilds[guildID] = true
	return true
}

func (b *Bot) queueCommands(ctx context.Context, guildID string) {
	if b.commands == nil {
		return
	}
	disabled := b.settings.Get(guildID).Disabled
	if err := b.commands.QueueUpdate(ctx, guildID, disabled); err != nil {
		b.logger.Warn("queue guild commands", zap.String("guild_id", guildID), zap.Error(err))
	}
}

// notifyCase mirrors moderation cases into the guild's log channel.
func (b *Bot) notifyCase(ctx context.Context, entry audit.Case) {
	channelID := b.settings.Get(entry.GuildID).LogChannelID
	if channelID == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:     "Case: " + entry.Action,
		Color:     caseColor(entry.Level),
		Timestamp: entry.CreatedAt.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Level", Value: entry.Level, Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Case " + entry.ID},
	}
	if entry.UserID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "User", Value: mention(entry.UserID), Inline: true})
	}
	if entry.ActorID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Moderator", Value: mention(entry.ActorID), Inline: true})
	}
	if entry.Details != "" {
		embed.Description = entry.Details
	}
	if _, err := b.gateway.SendMessage(ctx, channelID, gateway.Message{Embed: embed}); err != nil {
		b.logger.Warn("post case to log channel", zap.String("guild_id", entry.GuildID), zap.Error(err))
	}
}

func caseColor(level string) int {
	switch level {
	case audit.LevelCrit:
		return colorError
	case audit.LevelWarn:
		return colorWarn
	default:
		return colorInfo
	}
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

// responder is the part of *discordgo.Session used to answer
// interactions.
type responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// reply answers one interaction. After deferResponse succeeds, answers
// edit the deferred response instead of creating a new one.
type reply struct {
	logger      *zap.Logger
	session     responder
	interaction *discordgo.Interaction
	ephemeral   bool
	deferred    bool
}

func (b *Bot) newReply(session responder, interaction *discordgo.InteractionCreate, ephemeral bool) *reply {
	return &reply{logger: b.logger, session: session, interaction: interaction.Interaction, ephemeral: ephemeral}
}

func (r *reply) flags() discordgo.MessageFlags {
	if r.ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

// deferResponse acknowledges the interaction before slow gateway work.
// Interactions must be answered within three seconds.
func (r *reply) deferResponse() {
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: r.flags()},
	})
	if err != nil {
		r.logger.Warn("defer interaction response", zap.Error(err))
		return
	}
	r.deferred = true
}

func (r *reply) text(content string) {
	r.send(content, nil)
}

func (r *reply) embed(embed *discordgo.MessageEmbed) {
	r.send("", []*discordgo.MessageEmbed{embed})
}

func (r *reply) send(content string, embeds []*discordgo.MessageEmbed) {
	if r.deferred {
		edit := &discordgo.WebhookEdit{}
		if content != "" {
			edit.Content = &content
		}
		if embeds != nil {
			edit.Embeds = &embeds
		}
		if _, err := r.session.InteractionResponseEdit(r.interaction, edit); err != nil {
			r.logger.Warn("edit interaction response", zap.Error(err))
		}
		return
	}
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Embeds:  embeds,
			Flags:   r.flags(),
		},
	})
	if err != nil {
		r.logger.Warn("interaction respond", zap.Error(err))
	}
}

func (b *Bot) respond(session responder, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	b.newReply(session, interaction, ephemeral).text(content)
}

func (b *Bot) respondEmbed(session responder, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	b.newReply(session, interaction, ephemeral).embed(embed)
}

func commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
	}
}
