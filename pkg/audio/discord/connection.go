package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/bingbong/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc        *discordgo.VoiceConnection
	guildID   string
	botUserID string

	chMu      sync.RWMutex
	channelID string

	playMu sync.Mutex
	enc    *opusEncoder

	cbMu sync.Mutex
	cbs  []func()

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC and speaking default to the voice connection methods;
	// tests override them.
	disconnectVC func() error
	speaking     func(bool) error
}

func newConnection(vc *discordgo.VoiceConnection, guildID, channelID, botUserID string) *Connection {
	return &Connection{
		vc:           vc,
		guildID:      guildID,
		channelID:    channelID,
		botUserID:    botUserID,
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
		speaking:     vc.Speaking,
	}
}

// GuildID returns the guild this connection belongs to.
func (c *Connection) GuildID() string { return c.guildID }

// ChannelID returns the voice channel the bot is currently in. It follows
// moves made by moderators.
func (c *Connection) ChannelID() string {
	c.chMu.RLock()
	defer c.chMu.RUnlock()
	return c.channelID
}

// OnDisconnect registers cb to run when Discord drops the bot from voice.
func (c *Connection) OnDisconnect(cb func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cbs = append(c.cbs, cb)
}

// Play encodes every frame of src to Opus and sends it to Discord. Frames
// must be 48 kHz stereo PCM of at most 20 ms.
func (c *Connection) Play(ctx context.Context, src audio.Source) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	if c.closed() {
		return audio.ErrDisconnected
	}
	if c.enc == nil {
		enc, err := newOpusEncoder()
		if err != nil {
			return err
		}
		c.enc = enc
	}

	c.setSpeaking(true)
	defer func() {
		if !c.closed() {
			c.setSpeaking(false)
		}
	}()

	for {
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			for range trailingSilenceFrames {
				if err := c.send(ctx, silenceFrame); err != nil {
					break
				}
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("discord: read frame: %w", err)
		}
		if frame.SampleRate != opusSampleRate || frame.Channels != opusChannels {
			return fmt.Errorf("discord: unsupported frame format %s, want %dHz stereo", frame.Format(), opusSampleRate)
		}

		packet, err := c.enc.encode(frame.Data)
		if err != nil {
			return err
		}
		if err := c.send(ctx, packet); err != nil {
			return err
		}
	}
}

func (c *Connection) send(ctx context.Context, packet []byte) error {
	select {
	case c.vc.OpusSend <- packet:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return audio.ErrDisconnected
	}
}

// Disconnect leaves the voice channel. It is safe to call more than once;
// subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			if dErr := c.disconnectVC(); dErr != nil {
				err = fmt.Errorf("discord: disconnect voice: %w", dErr)
			}
		}
	})
	return err
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// handleVoiceStateUpdate watches the bot's own voice state. An empty
// channel means Discord removed the bot from voice; a different channel
// means it was moved.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.VoiceState == nil {
		return
	}
	if vsu.GuildID != c.guildID || vsu.UserID != c.botUserID {
		return
	}

	if vsu.ChannelID != "" {
		c.chMu.Lock()
		moved := c.channelID != vsu.ChannelID
		c.channelID = vsu.ChannelID
		c.chMu.Unlock()
		if moved {
			slog.Info("discord: bot moved to another voice channel",
				"guild_id", c.guildID, "channel_id", vsu.ChannelID)
		}
		return
	}

	if c.closed() {
		return
	}
	slog.Info("discord: voice connection dropped", "guild_id", c.guildID)
	if err := c.Disconnect(); err != nil {
		slog.Warn("discord: teardown after drop failed", "guild_id", c.guildID, "err", err)
	}

	c.cbMu.Lock()
	cbs := append([]func(){}, c.cbs...)
	c.cbMu.Unlock()
	for _, cb := range cbs {
		go cb()
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if c.speaking == nil {
		return
	}
	if err := c.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "err", err)
	}
}
