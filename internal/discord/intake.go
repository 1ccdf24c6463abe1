package discord

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/bingbong/internal/observe"
	"github.com/MrWong99/bingbong/internal/ttsqueue"
)

// NotInVoiceReply is sent when the author of a TTS message is not in a voice
// channel of the guild.
const NotInVoiceReply = "You need to join a voice channel first!"

// Enqueuer accepts requests for the drain cycle.
type Enqueuer interface {
	Enqueue(req ttsqueue.Request) error
}

// Intake turns chat messages posted in the TTS channel into queued
// requests. It reads channel names and voice states from the gateway state
// cache.
type Intake struct {
	state   *discordgo.State
	replier MessageReplier
	queue   Enqueuer
	metrics *observe.Metrics

	mu      sync.RWMutex
	channel string
}

// NewIntake creates an Intake listening on the text channel called channel.
// A nil metrics uses [observe.DefaultMetrics].
func NewIntake(state *discordgo.State, replier MessageReplier, queue Enqueuer, channel string, metrics *observe.Metrics) *Intake {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Intake{
		state:   state,
		replier: replier,
		queue:   queue,
		metrics: metrics,
		channel: channel,
	}
}

// Channel returns the name of the TTS channel.
func (in *Intake) Channel() string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.channel
}

// SetChannel changes the TTS channel name. Used on config reload.
func (in *Intake) SetChannel(name string) {
	in.mu.Lock()
	in.channel = name
	in.mu.Unlock()
}

// HandleMessage is the MessageCreate handler. Messages from bots, outside
// guilds, outside the TTS channel, or without text are ignored.
func (in *Intake) HandleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if !in.isTTSChannel(m.ChannelID) {
		return
	}
	if m.Content == "" {
		slog.Debug("discord: ignoring message without text", "message_id", m.ID)
		return
	}

	voice, ok := in.voiceChannel(m.GuildID, m.Author.ID)
	if !ok {
		in.metrics.RecordRequest(ctx, observe.StatusRejected)
		ReplyTo(in.replier, m.Message, NotInVoiceReply)
		return
	}

	req := ttsqueue.Request{
		Author:         DisplayName(m.Message),
		Text:           m.Content,
		GuildID:        m.GuildID,
		VoiceChannelID: voice,
		TextChannelID:  m.ChannelID,
		MessageID:      m.ID,
	}
	err := in.queue.Enqueue(req)
	switch {
	case errors.Is(err, ttsqueue.ErrClosed):
		slog.Debug("discord: queue closed, dropping message", "message_id", m.ID)
	case err != nil:
		slog.Warn("discord: enqueue failed", "message_id", m.ID, "err", err)
	default:
		slog.Debug("discord: message queued", "author", req.Author, "guild_id", m.GuildID, "voice_channel_id", voice)
	}
}

func (in *Intake) isTTSChannel(channelID string) bool {
	ch, err := in.state.Channel(channelID)
	if err != nil {
		return false
	}
	return strings.EqualFold(ch.Name, in.Channel())
}

func (in *Intake) voiceChannel(guildID, userID string) (string, bool) {
	vs, err := in.state.VoiceState(guildID, userID)
	if err != nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// DisplayName returns the name the author is shown with in the guild: the
// member nickname, then the global display name, then the username.
func DisplayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author == nil {
		return ""
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
