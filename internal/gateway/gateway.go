package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

var ErrNotFound = errors.New("gateway: resource not found")

// RateLimitError reports a rejected request and how long to wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("gateway: rate limited, retry after %s", e.RetryAfter)
}

type User struct {
	ID  string
	Bot bool
}

type Message struct {
	Content string
	Embed   *discordgo.MessageEmbed
}

// Client is the subset of the chat platform the lifecycle managers use.
type Client interface {
	SendMessage(ctx context.Context, channelID string, msg Message) (string, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	ReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]User, error)
	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
	SendDM(ctx context.Context, userID string, msg Message) error
	Ban(ctx context.Context, guildID, userID, reason string) error
	Unban(ctx context.Context, guildID, userID, reason string) error
	SetGuildCommands(ctx context.Context, guildID string, commands []*discordgo.ApplicationCommand) error
}
