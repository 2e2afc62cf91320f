package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"noctis-guard/internal/audit"
	"noctis-guard/internal/automod"
	"noctis-guard/internal/clock"
	"noctis-guard/internal/commandsync"
	"noctis-guard/internal/config"
	"noctis-guard/internal/gateway/gatewaytest"
	"noctis-guard/internal/giveaway"
	"noctis-guard/internal/leveling"
	"noctis-guard/internal/moderation"
	"noctis-guard/internal/settings"
	"noctis-guard/internal/storage"
)

type harness struct {
	bot      *Bot
	gateway  *gatewaytest.Fake
	settings *settings.Store
	warnings *moderation.Warnings
	queue    *commandsync.Queue
	deleted  []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	backend, err := storage.NewFile(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	fake := gatewaytest.New()
	auditLogger := audit.NewLogger(backend, logger)
	store := settings.New(backend, logger)
	warnings := moderation.NewWarnings(backend, auditLogger)
	queue := commandsync.New(backend, fake, Definitions(), commandsync.DefaultConfig(), clk, logger)
	giveaways := giveaway.New(backend, fake, logger, giveaway.WithClock(clk))
	if err := giveaways.Start(context.Background()); err != nil {
		t.Fatalf("start giveaways: %v", err)
	}
	tempbans := moderation.NewTempbans(backend, fake, auditLogger, clk, logger)
	if err := tempbans.Start(context.Background()); err != nil {
		t.Fatalf("start tempbans: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Automod.DMIntervalSeconds = 5
	h := &harness{gateway: fake, settings: store, warnings: warnings, queue: queue}
	h.bot = New(cfg, logger, nil, Deps{
		Gateway:   fake,
		Settings:  store,
		Levels:    leveling.New(backend, leveling.Config{Cooldown: time.Minute, MinXP: 100, MaxXP: 100}, logger),
		Automod:   automod.New(automod.Config{BadWords: []string{"badword"}, SpamRepeats: 3, SpamWindow: 20 * time.Second}),
		Giveaways: giveaways,
		Tempbans:  tempbans,
		Warnings:  warnings,
		Audit:     auditLogger,
		Commands:  queue,
		Clock:     clk,
	})
	h.bot.deleteMessage = func(ctx context.Context, channelID, messageID string) error {
		h.deleted = append(h.deleted, messageID)
		return nil
	}
	return h
}

func TestDefinitionsAreUniqueAndOwned(t *testing.T) {
	known := map[string]bool{PluginCore: true, PluginAdmin: true}
	for _, name := range Toggleable {
		known[name] = true
	}
	seen := map[string]bool{}
	for _, def := range Definitions() {
		name := def.Command.Name
		if seen[name] {
			t.Fatalf("duplicate command %q", name)
		}
		seen[name] = true
		if !known[def.Plugin] {
			t.Fatalf("command %q owned by unknown plugin %q", name, def.Plugin)
		}
		if name != strings.ToLower(name) || len(name) > 32 {
			t.Fatalf("invalid command name %q", name)
		}
		if def.Command.Description == "" || len(def.Command.Description) > 100 {
			t.Fatalf("command %q has an invalid description", name)
		}
	}
	if len(seen) != 13 {
		t.Fatalf("expected 13 commands, got %d", len(seen))
	}
}

func TestManifestWithoutLeveling(t *testing.T) {
	manifest := commandsync.ComputeManifest(Definitions(), []string{PluginLeveling, "logs"})
	names := map[string]bool{}
	for _, cmd := range manifest {
		names[cmd.Name] = true
	}
	for _, gone := range []string{"level", "leaderboard", "xprate", "setlevelchannel", "setlevel", "logs"} {
		if names[gone] {
			t.Fatalf("expected %q to be dropped", gone)
		}
	}
	for _, kept := range []string{"ping", "plugins", "giveaway", "moderation"} {
		if !names[kept] {
			t.Fatalf("expected %q to remain", kept)
		}
	}
}

func TestCommandDisabled(t *testing.T) {
	guild := settings.Guild{
		Plugins:  map[string]bool{PluginGiveaways: false},
		Disabled: []string{PluginGiveaways, "logs"},
	}
	if !commandDisabled(guild, "giveaway") {
		t.Fatalf("expected giveaway to be disabled with its plugin")
	}
	if !commandDisabled(guild, "logs") {
		t.Fatalf("expected logs to be disabled by name")
	}
	if commandDisabled(guild, "moderation") {
		t.Fatalf("expected moderation to stay enabled")
	}
	if !commandDisabled(guild, "nonexistent") {
		t.Fatalf("expected unknown commands to be refused")
	}
}

func TestFormatGreeting(t *testing.T) {
	got := formatGreeting("Hi {user} ({username}), welcome to {server}", "42", "ada", "Noctis")
	if got != "Hi <@42> (ada), welcome to Noctis" {
		t.Fatalf("unexpected greeting %q", got)
	}
}

func TestFlaggedMessageIsRemovedAndWarned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bot.handleMessage(ctx, incomingMessage{GuildID: "g1", ChannelID: "c1", MessageID: "m1", AuthorID: "u1", Content: "what a badword"})

	if len(h.deleted) != 1 || h.deleted[0] != "m1" {
		t.Fatalf("expected m1 deleted, got %v", h.deleted)
	}
	if got := len(h.warnings.List("g1", "u1")); got != 1 {
		t.Fatalf("expected 1 warning, got %d", got)
	}
	if got := len(h.gateway.DMs["u1"]); got != 1 {
		t.Fatalf("expected 1 dm, got %d", got)
	}
	if len(h.gateway.SentMessages()) != 0 {
		t.Fatalf("flagged message must not earn a level up")
	}

	h.bot.handleMessage(ctx, incomingMessage{GuildID: "g1", ChannelID: "c1", MessageID: "m2", AuthorID: "u1", Content: "badword again"})
	if got := len(h.gateway.DMs["u1"]); got != 1 {
		t.Fatalf("expected repeated dm to be suppressed, got %d", got)
	}
	if got := len(h.warnings.List("g1", "u1")); got != 2 {
		t.Fatalf("expected 2 warnings, got %d", got)
	}
}

func TestAutomodPluginOff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.settings.SetPlugin(ctx, "g1", PluginAutomod, false); err != nil {
		t.Fatalf("set plugin: %v", err)
	}
	h.bot.handleMessage(ctx, incomingMessage{GuildID: "g1", ChannelID: "c1", MessageID: "m1", AuthorID: "u1", Content: "badword"})
	if len(h.deleted) != 0 {
		t.Fatalf("expected nothing deleted, got %v", h.deleted)
	}
}

func TestLevelUpAnnouncement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.settings.Update(ctx, "g1", func(g *settings.Guild) { g.LevelChannelID = "levels" }); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	h.bot.handleMessage(ctx, incomingMessage{GuildID: "g1", ChannelID: "c1", MessageID: "m1", AuthorID: "u1", Content: "hello"})

	sent := h.gateway.SentMessages()
	if len(sent) != 1 || sent[0].ChannelID != "levels" {
		t.Fatalf("expected one announcement in levels, got %+v", sent)
	}
	if !strings.Contains(sent[0].Message.Content, "level **1**") {
		t.Fatalf("unexpected announcement %q", sent[0].Message.Content)
	}

	h.bot.handleMessage(ctx, incomingMessage{GuildID: "g1", ChannelID: "c1", MessageID: "m2", AuthorID: "u1", Content: "hello again"})
	if got := len(h.gateway.SentMessages()); got != 1 {
		t.Fatalf("expected cooldown to block xp, got %d messages", got)
	}
}

func TestGreetUsesConfiguredChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bot.greet(ctx, "g1", "u1", "ada", "Noctis", true)
	if len(h.gateway.SentMessages()) != 0 {
		t.Fatalf("expected no greeting without a channel")
	}

	if _, err := h.settings.Update(ctx, "g1", func(g *settings.Guild) {
		g.Welcome = settings.Greeting{ChannelID: "welcome"}
		g.Bye = settings.Greeting{ChannelID: "bye", Message: "bye {username}"}
	}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	h.bot.greet(ctx, "g1", "u1", "ada", "Noctis", true)
	h.bot.greet(ctx, "g1", "u1", "ada", "Noctis", false)

	sent := h.gateway.SentMessages()
	if len(sent) != 2 {
		t.Fatalf("expected 2 greetings, got %d", len(sent))
	}
	if sent[0].ChannelID != "welcome" || sent[0].Message.Content != "Welcome to Noctis, <@u1>!" {
		t.Fatalf("unexpected welcome %+v", sent[0])
	}
	if sent[1].ChannelID != "bye" || sent[1].Message.Content != "bye ada" {
		t.Fatalf("unexpected goodbye %+v", sent[1])
	}
}

func TestCasesMirrorToLogChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.settings.Update(ctx, "g1", func(g *settings.Guild) { g.LogChannelID = "modlog" }); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if _, err := h.warnings.Add(ctx, "g1", "u1", "mod", "spamming"); err != nil {
		t.Fatalf("add warning: %v", err)
	}
	sent := h.gateway.SentMessages()
	if len(sent) != 1 || sent[0].ChannelID != "modlog" || sent[0].Message.Embed == nil {
		t.Fatalf("expected case embed in modlog, got %+v", sent)
	}
	if sent[0].Message.Embed.Color != colorWarn {
		t.Fatalf("expected warn colour, got %x", sent[0].Message.Embed.Color)
	}
}

func TestQueueCommandsUsesDisabledSet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.settings.SetPlugin(ctx, "g1", PluginLeveling, false); err != nil {
		t.Fatalf("set plugin: %v", err)
	}
	if !h.bot.markGuild("g1") || h.bot.markGuild("g1") {
		t.Fatalf("expected markGuild to report only the first sighting")
	}
	h.bot.queueCommands(ctx, "g1")

	pending, err := h.queue.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	entry, ok := pending["g1"]
	if !ok {
		t.Fatalf("expected g1 queued")
	}
	if len(entry.DisabledCommands) != 1 || entry.DisabledCommands[0] != PluginLeveling {
		t.Fatalf("unexpected disabled set %v", entry.DisabledCommands)
	}
}

type recordedReply struct {
	kind    discordgo.InteractionResponseType
	edit    bool
	content string
	embeds  int
	flags   discordgo.MessageFlags
}

type recordingResponder struct {
	replies   []recordedReply
	failDefer bool
}

func (r *recordingResponder) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	if resp.Type == discordgo.InteractionResponseDeferredChannelMessageWithSource && r.failDefer {
		return errors.New("unknown interaction")
	}
	rec := recordedReply{kind: resp.Type}
	if resp.Data != nil {
		rec.content = resp.Data.Content
		rec.embeds = len(resp.Data.Embeds)
		rec.flags = resp.Data.Flags
	}
	r.replies = append(r.replies, rec)
	return nil
}

func (r *recordingResponder) InteractionResponseEdit(interaction *discordgo.Interaction, edit *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	rec := recordedReply{edit: true}
	if edit.Content != nil {
		rec.content = *edit.Content
	}
	if edit.Embeds != nil {
		rec.embeds = len(*edit.Embeds)
	}
	r.replies = append(r.replies, rec)
	return &discordgo.Message{}, nil
}

func slashCommand(guildID, userID, name string, sub *discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   guildID,
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: userID}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name:    name,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{sub},
		},
	}}
}

func subcommandOption(name string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionSubCommand, Options: options}
}

func userArg(name, id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionUser, Value: id}
}

func stringArg(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: value}
}

func assertDeferredThenEdited(t *testing.T, replies []recordedReply, want string) {
	t.Helper()
	if len(replies) != 2 {
		t.Fatalf("expected a deferral and an edit, got %+v", replies)
	}
	if replies[0].kind != discordgo.InteractionResponseDeferredChannelMessageWithSource || replies[0].flags != discordgo.MessageFlagsEphemeral {
		t.Fatalf("expected an ephemeral deferral first, got %+v", replies[0])
	}
	if !replies[1].edit || !strings.Contains(replies[1].content, want) {
		t.Fatalf("expected edit containing %q, got %+v", want, replies[1])
	}
}

func TestTempbanDefersBeforeBanning(t *testing.T) {
	h := newHarness(t)
	session := &recordingResponder{}
	interaction := slashCommand("g1", "mod", "moderation", subcommandOption("tempban",
		userArg("user", "u1"), stringArg("duration", "1h"), stringArg("reason", "spam")))

	h.bot.handleModeration(context.Background(), session, interaction, interaction.ApplicationCommandData().Options)

	assertDeferredThenEdited(t, session.replies, "<@u1> banned until")
	if !h.gateway.IsBanned("g1", "u1") {
		t.Fatalf("expected ban applied")
	}
}

func TestWarnDefersThenReportsCount(t *testing.T) {
	h := newHarness(t)
	session := &recordingResponder{}
	interaction := slashCommand("g1", "mod", "moderation", subcommandOption("warn",
		userArg("user", "u1"), stringArg("reason", "rude")))

	h.bot.handleModeration(context.Background(), session, interaction, interaction.ApplicationCommandData().Options)

	assertDeferredThenEdited(t, session.replies, "They now have 1 warning(s).")
}

func TestGiveawayEndDefersAndEditsErrors(t *testing.T) {
	h := newHarness(t)
	session := &recordingResponder{}
	interaction := slashCommand("g1", "mod", "giveaway", subcommandOption("end", stringArg("id", "missing")))

	h.bot.handleGiveaway(context.Background(), session, interaction, interaction.ApplicationCommandData().Options)

	assertDeferredThenEdited(t, session.replies, "Giveaway not found.")
}

func TestGiveawayListEditsWithEmbed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := slashCommand("g1", "host", "giveaway", subcommandOption("start",
		stringArg("prize", "Nitro"), stringArg("duration", "10m")))
	h.bot.handleGiveaway(ctx, &recordingResponder{}, start, start.ApplicationCommandData().Options)

	session := &recordingResponder{}
	list := slashCommand("g1", "host", "giveaway", subcommandOption("list"))
	h.bot.handleGiveaway(ctx, session, list, list.ApplicationCommandData().Options)

	if len(session.replies) != 2 || !session.replies[1].edit || session.replies[1].embeds != 1 {
		t.Fatalf("expected deferral then an embed edit, got %+v", session.replies)
	}
}

func TestFailedDeferFallsBackToRespond(t *testing.T) {
	h := newHarness(t)
	session := &recordingResponder{failDefer: true}
	interaction := slashCommand("g1", "mod", "moderation", subcommandOption("tempbans"))

	h.bot.handleModeration(context.Background(), session, interaction, interaction.ApplicationCommandData().Options)

	if len(session.replies) != 1 || session.replies[0].edit ||
		session.replies[0].kind != discordgo.InteractionResponseChannelMessageWithSource ||
		session.replies[0].content != "No active temporary bans." {
		t.Fatalf("expected a plain response, got %+v", session.replies)
	}
}
