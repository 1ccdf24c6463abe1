package discord

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Responder is the part of *discordgo.Session used to answer interactions.
type Responder interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, params *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// MessageReplier is the part of *discordgo.Session used to reply to chat
// messages.
type MessageReplier interface {
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var (
	_ Responder      = (*discordgo.Session)(nil)
	_ MessageReplier = (*discordgo.Session)(nil)
)

// RespondEphemeral sends an ephemeral text response to an interaction.
func RespondEphemeral(r Responder, i *discordgo.Interaction, content string) error {
	return r.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// RespondEmbed sends an ephemeral embed response to an interaction.
func RespondEmbed(r Responder, i *discordgo.Interaction, embed *discordgo.MessageEmbed) error {
	return r.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
}

// DeferReply sends a deferred response (for long-running commands).
func DeferReply(r Responder, i *discordgo.Interaction) error {
	return r.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
}

// FollowUp sends an ephemeral follow-up message after a response or a
// deferral.
func FollowUp(r Responder, i *discordgo.Interaction, content string) error {
	_, err := r.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	return err
}

// ReplyTo answers a chat message in its channel. Failures are logged only;
// a missing reply never blocks the caller.
func ReplyTo(r MessageReplier, m *discordgo.Message, content string) {
	if _, err := r.ChannelMessageSendReply(m.ChannelID, content, m.Reference()); err != nil {
		slog.Warn("discord: failed to reply to message", "channel_id", m.ChannelID, "message_id", m.ID, "err", err)
	}
}
