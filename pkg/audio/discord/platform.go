// Package discord implements [audio.Platform] on Discord voice channels with
// bwmarrin/discordgo. Connections encode the PCM frames of an [audio.Source]
// to Opus and send them over the guild's voice connection.
//
// The platform borrows the *discordgo.Session owned by the bot layer.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/bingbong/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// Platform joins Discord voice channels. It is safe for concurrent use.
type Platform struct {
	session *discordgo.Session

	// join defaults to a deafened ChannelVoiceJoin; tests replace it.
	join func(guildID, channelID string) (*discordgo.VoiceConnection, error)
}

// New returns a platform on session.
func New(session *discordgo.Session) *Platform {
	return &Platform{
		session: session,
		join: func(guildID, channelID string) (*discordgo.VoiceConnection, error) {
			// Deafened: the bot only speaks.
			return session.ChannelVoiceJoin(guildID, channelID, false, true)
		},
	}
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// Connect joins channelID in guildID. discordgo's join ignores contexts, so
// it runs in the background; if ctx ends first, a join that completes later
// is disconnected again.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	done := make(chan joinResult, 1)
	go func() {
		vc, err := p.join(guildID, channelID)
		done <- joinResult{vc: vc, err: err}
	}()

	var res joinResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go abandonJoin(done, guildID)
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	}
	if res.err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, res.err)
	}

	conn := newConnection(res.vc, guildID, channelID, p.botUserID())
	conn.removeHandler = p.session.AddHandler(conn.handleVoiceStateUpdate)
	return conn, nil
}

func (p *Platform) botUserID() string {
	if p.session.State == nil || p.session.State.User == nil {
		return ""
	}
	return p.session.State.User.ID
}

// abandonJoin leaves a channel whose join outlived its caller.
func abandonJoin(done <-chan joinResult, guildID string) {
	res := <-done
	if res.err != nil || res.vc == nil {
		return
	}
	slog.Info("discord: leaving voice channel joined after timeout", "guild_id", guildID)
	if err := res.vc.Disconnect(); err != nil {
		slog.Warn("discord: leave abandoned voice channel", "guild_id", guildID, "err", err)
	}
}
