package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

const reactionPageSize = 100

// Discord adapts a discordgo session to Client.
type Discord struct {
	session *discordgo.Session
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

func (d *Discord) SendMessage(ctx context.Context, channelID string, msg Message) (string, error) {
	send := &discordgo.MessageSend{Content: msg.Content}
	if msg.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{msg.Embed}
	}
	sent, err := d.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", translate(err)
	}
	return sent.ID, nil
}

func (d *Discord) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return translate(d.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)))
}

// ReactionUsers pages through every user who reacted with emoji.
func (d *Discord) ReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]User, error) {
	var out []User
	after := ""
	for {
		page, err := d.session.MessageReactions(channelID, messageID, emoji, reactionPageSize, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, translate(err)
		}
		for _, user := range page {
			out = append(out, User{ID: user.ID, Bot: user.Bot})
		}
		if len(page) < reactionPageSize {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

func (d *Discord) HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	member, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, translate(err)
	}
	for _, role := range member.Roles {
		if role == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (d *Discord) SendDM(ctx context.Context, userID string, msg Message) error {
	channel, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return translate(err)
	}
	_, err = d.SendMessage(ctx, channel.ID, msg)
	return err
}

func (d *Discord) Ban(ctx context.Context, guildID, userID, reason string) error {
	return translate(d.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx)))
}

func (d *Discord) Unban(ctx context.Context, guildID, userID, reason string) error {
	return translate(d.session.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

// SetGuildCommands replaces the guild's whole command set. Rate limits
// are surfaced instead of retried so the caller can reschedule.
func (d *Discord) SetGuildCommands(ctx context.Context, guildID string, commands []*discordgo.ApplicationCommand) error {
	if d.session.State == nil || d.session.State.User == nil {
		return errors.New("gateway: session not ready")
	}
	if commands == nil {
		commands = []*discordgo.ApplicationCommand{}
	}
	_, err := d.session.ApplicationCommandBulkOverwrite(d.session.State.User.ID, guildID, commands,
		discordgo.WithContext(ctx), discordgo.WithRetryOnRatelimit(false))
	return translate(err)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RateLimit != nil && rateErr.TooManyRequests != nil {
		return &RateLimitError{RetryAfter: rateErr.RetryAfter}
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return errors.Join(ErrNotFound, err)
		case http.StatusTooManyRequests:
			return &RateLimitError{}
		}
	}
	return err
}
