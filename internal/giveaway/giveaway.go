package giveaway

import (
	"errors"
	"time"
)

var (
	ErrInvalid   = errors.New("giveaway: invalid parameters")
	ErrNotFound  = errors.New("giveaway: not found")
	ErrNotPosted = errors.New("giveaway: announcement not posted")
)

type Giveaway struct {
	ID           string   `json:"id"`
	GuildID      string   `json:"guildId"`
	ChannelID    string   `json:"channelId"`
	Prize        string   `json:"prize"`
	EndTimestamp int64    `json:"endTimestamp"`
	WinnerCount  int      `json:"winnerCount"`
	HostID       string   `json:"hostId"`
	RequireRole  string   `json:"requireRole,omitempty"`
	Ended        bool     `json:"ended"`
	MessageID    string   `json:"messageId,omitempty"`
	Winners      []string `json:"winners"`
}

func (g Giveaway) EndsAt() time.Time {
	return time.UnixMilli(g.EndTimestamp)
}

type Params struct {
	GuildID     string
	ChannelID   string
	Prize       string
	Duration    time.Duration
	WinnerCount int
	HostID      string
	RequireRole string
}

// Defaults are per-guild values the command surfaces fall back to.
type Defaults struct {
	ChannelID       string `json:"channelId,omitempty"`
	WinnerCount     int    `json:"winnerCount,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	RequireRole     string `json:"requireRole,omitempty"`
}

// Apply fills unset fields of p from d.
func (d Defaults) Apply(p Params) Params {
	if p.ChannelID == "" {
		p.ChannelID = d.ChannelID
	}
	if p.WinnerCount == 0 {
		p.WinnerCount = d.WinnerCount
	}
	if p.Duration == 0 && d.DurationMinutes > 0 {
		p.Duration = time.Duration(d.DurationMinutes) * time.Minute
	}
	if p.RequireRole == "" {
		p.RequireRole = d.RequireRole
	}
	return p
}

func (p Params) validate() error {
	switch {
	case p.GuildID == "":
		return errors.Join(ErrInvalid, errors.New("guild id is required"))
	case p.ChannelID == "":
		return errors.Join(ErrInvalid, errors.New("channel id is required"))
	case p.Prize == "":
		return errors.Join(ErrInvalid, errors.New("prize is required"))
	case p.WinnerCount < 1:
		return errors.Join(ErrInvalid, errors.New("winner count must be at least 1"))
	case p.Duration <= 0:
		return errors.Join(ErrInvalid, errors.New("duration must be positive"))
	}
	return nil
}
