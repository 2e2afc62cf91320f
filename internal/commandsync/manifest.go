package commandsync

import (
	"github.com/bwmarrin/discordgo"
)

// Definition is a slash command and the plugin that owns it.
type Definition struct {
	Plugin  string
	Command *discordgo.ApplicationCommand
}

// ComputeManifest returns every command whose name and owning plugin are
// both absent from disabled, in definition order.
func ComputeManifest(defs []Definition, disabled []string) []*discordgo.ApplicationCommand {
	off := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		off[name] = true
	}
	manifest := make([]*discordgo.ApplicationCommand, 0, len(defs))
	for _, def := range defs {
		if def.Command == nil || off[def.Command.Name] || off[def.Plugin] {
			continue
		}
		manifest = append(manifest, def.Command)
	}
	return manifest
}
