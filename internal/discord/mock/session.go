// Package mock provides recording stand-ins for the parts of
// *discordgo.Session that the bot's Discord layer talks to.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// last returns the final element of s or the zero value.
func last[T any](s []T) T {
	var zero T
	if len(s) == 0 {
		return zero
	}
	return s[len(s)-1]
}

// InteractionResponder records slash command answers. Read Responses and
// FollowUps only after the handler under test has returned.
type InteractionResponder struct {
	// Err fails every call when set.
	Err error

	Responses []*discordgo.InteractionResponse
	FollowUps []*discordgo.WebhookParams

	mu sync.Mutex
}

// InteractionRespond implements discord.Responder.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	m.Responses = append(m.Responses, resp)
	m.mu.Unlock()
	return m.Err
}

// FollowupMessageCreate implements discord.Responder.
func (m *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	m.FollowUps = append(m.FollowUps, params)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "followup", Content: params.Content}, nil
}

// LastResponse returns the newest response or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(m.Responses)
}

// LastFollowUp returns the newest follow-up or nil.
func (m *InteractionResponder) LastFollowUp() *discordgo.WebhookParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(m.FollowUps)
}

// Reply is one recorded chat reply.
type Reply struct {
	ChannelID string
	Content   string
	Reference *discordgo.MessageReference
}

// MessageReplier records chat replies such as the generic error reply.
type MessageReplier struct {
	// Err fails every reply when set.
	Err error

	mu      sync.Mutex
	replies []Reply
}

// ChannelMessageSendReply implements discord.MessageReplier.
func (m *MessageReplier) ChannelMessageSendReply(channelID, content string, ref *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	m.replies = append(m.replies, Reply{ChannelID: channelID, Content: content, Reference: ref})
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "reply-" + channelID, ChannelID: channelID, Content: content}, nil
}

// Calls returns the recorded replies, oldest first.
func (m *MessageReplier) Calls() []Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reply(nil), m.replies...)
}
