package giveaway

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"noctis-guard/internal/gateway"
)

const (
	colorAnnounce = 0xF39C12
	colorWinners  = 0x2ECC71
	colorNone     = 0xE74C3C
)

func announcement(g Giveaway, emoji string) gateway.Message {
	desc := fmt.Sprintf("Prize: **%s**\nHosted by <@%s>\nEnds <t:%d:R>", g.Prize, g.HostID, g.EndsAt().Unix())
	if g.RequireRole != "" {
		desc += fmt.Sprintf("\nOnly users with <@&%s> may win.", g.RequireRole)
	}
	return gateway.Message{Embed: &discordgo.MessageEmbed{
		Title:       emoji + " Giveaway!",
		Description: desc,
		Color:       colorAnnounce,
		Timestamp:   g.EndsAt().UTC().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("React with %s to enter • Winners: %d", emoji, g.WinnerCount),
		},
	}}
}

func results(g Giveaway, emoji string) gateway.Message {
	embed := &discordgo.MessageEmbed{
		Title:       emoji + " Giveaway Ended",
		Description: fmt.Sprintf("Prize: **%s**\nHosted by <@%s>", g.Prize, g.HostID),
		Color:       colorNone,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Winners", Value: "None"},
		},
	}
	content := "No winners could be selected."
	if len(g.Winners) > 0 {
		mentions := mentionList(g.Winners)
		embed.Color = colorWinners
		embed.Fields[0].Value = mentions
		content = fmt.Sprintf("Congratulations %s! You won **%s**!", mentions, g.Prize)
	}
	return gateway.Message{Content: content, Embed: embed}
}

func rerolled(g Giveaway, emoji string) gateway.Message {
	value := "No eligible entrants."
	content := "No winners could be selected."
	if len(g.Winners) > 0 {
		value = mentionList(g.Winners)
		content = fmt.Sprintf("New winners for **%s**: %s", g.Prize, value)
	}
	return gateway.Message{Content: content, Embed: &discordgo.MessageEmbed{
		Title:  emoji + " Reroll complete",
		Color:  colorWinners,
		Fields: []*discordgo.MessageEmbedField{{Name: "Winners", Value: value}},
	}}
}

func winnerDM(g Giveaway, emoji string) gateway.Message {
	return gateway.Message{Content: fmt.Sprintf("%s You won **%s**! The host <@%s> will be in touch.", emoji, g.Prize, g.HostID)}
}

func mentionList(ids []string) string {
	mentions := make([]string, 0, len(ids))
	for _, id := range ids {
		mentions = append(mentions, "<@"+id+">")
	}
	return strings.Join(mentions, ", ")
}
