package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/bingbong/internal/discord"
	"github.com/MrWong99/bingbong/internal/style"
)

// embedColor is the accent used for informational embeds.
const embedColor = 0x5865F2

// Styles returns the /styles command, which lists the message prefixes that
// select a speaking style.
func Styles() discord.Command {
	return discord.Command{
		Definition: &discordgo.ApplicationCommand{
			Name:        "styles",
			Description: "List the prefixes that change how a message is spoken",
		},
		Handler: func(_ context.Context, cc *discord.CommandContext) error {
			return cc.ReplyEmbed(StylesEmbed())
		},
	}
}

// StylesEmbed renders the prefix table.
func StylesEmbed() *discordgo.MessageEmbed {
	var b strings.Builder
	for _, p := range style.Prefixes() {
		fmt.Fprintf(&b, "`%s` → %s\n", p.Token, p.Style)
	}
	return &discordgo.MessageEmbed{
		Title:       "Speaking styles",
		Description: b.String(),
		Color:       embedColor,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Start your message with a prefix, e.g. (whisper) hello",
		},
	}
}
