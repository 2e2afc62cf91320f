// Package gatewaytest provides an in-memory gateway.Client for tests.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"noctis-guard/internal/gateway"
)

type Sent struct {
	ChannelID string
	MessageID string
	Message   gateway.Message
}

type Push struct {
	GuildID  string
	Commands []string
}

type Fake struct {
	mu sync.Mutex

	nextID    int
	Sent      []Sent
	DMs       map[string][]gateway.Message
	Reactions map[string][]gateway.User
	Roles     map[string]map[string]bool
	Banned    map[string]bool
	Unbans    []string
	Pushes    []Push
	Deleted   map[string]bool

	SendErr  error
	BanErr   error
	UnbanErr error
	DMErr    error
	// PushFunc, when set, decides the outcome of each command push.
	PushFunc func(guildID string) error
}

func New() *Fake {
	return &Fake{
		DMs:       make(map[string][]gateway.Message),
		Reactions: make(map[string][]gateway.User),
		Roles:     make(map[string]map[string]bool),
		Banned:    make(map[string]bool),
		Deleted:   make(map[string]bool),
	}
}

func (f *Fake) SetReactions(messageID string, users ...gateway.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions[messageID] = users
}

func (f *Fake) GrantRole(guildID, userID, roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := guildID + "/" + userID
	if f.Roles[key] == nil {
		f.Roles[key] = make(map[string]bool)
	}
	f.Roles[key][roleID] = true
}

func (f *Fake) DeleteMessage(messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted[messageID] = true
}

func (f *Fake) SentMessages() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.Sent...)
}

func (f *Fake) PushedGuilds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Pushes))
	for _, p := range f.Pushes {
		out = append(out, p.GuildID)
	}
	return out
}

func (f *Fake) IsBanned(guildID, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Banned[guildID+"/"+userID]
}

func (f *Fake) SendMessage(ctx context.Context, channelID string, msg gateway.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	f.Sent = append(f.Sent, Sent{ChannelID: channelID, MessageID: id, Message: msg})
	return id, nil
}

func (f *Fake) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return nil
}

func (f *Fake) ReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]gateway.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Deleted[messageID] {
		return nil, errors.Join(gateway.ErrNotFound, errors.New("unknown message"))
	}
	return append([]gateway.User(nil), f.Reactions[messageID]...), nil
}

func (f *Fake) HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Roles[guildID+"/"+userID][roleID], nil
}

func (f *Fake) SendDM(ctx context.Context, userID string, msg gateway.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DMErr != nil {
		return f.DMErr
	}
	f.DMs[userID] = append(f.DMs[userID], msg)
	return nil
}

func (f *Fake) Ban(ctx context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BanErr != nil {
		return f.BanErr
	}
	f.Banned[guildID+"/"+userID] = true
	return nil
}

func (f *Fake) Unban(ctx context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unbans = append(f.Unbans, guildID+"/"+userID)
	if f.UnbanErr != nil {
		return f.UnbanErr
	}
	delete(f.Banned, guildID+"/"+userID)
	return nil
}

func (f *Fake) SetGuildCommands(ctx context.Context, guildID string, commands []*discordgo.ApplicationCommand) error {
	f.mu.Lock()
	push := f.PushFunc
	f.mu.Unlock()
	if push != nil {
		if err := push(guildID); err != nil {
			return err
		}
	}
	names := make([]string, 0, len(commands))
	for _, cmd := range commands {
		names = append(names, cmd.Name)
	}
	f.mu.Lock()
	f.Pushes = append(f.Pushes, Push{GuildID: guildID, Commands: names})
	f.mu.Unlock()
	return nil
}

var _ gateway.Client = (*Fake)(nil)
