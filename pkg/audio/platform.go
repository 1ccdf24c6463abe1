// Package audio defines the interfaces and types for voice platform
// connectivity and PCM playback within the bot.
//
// The two primary abstractions are:
//
//   - [Platform]: joins a voice channel and returns a [Connection].
//   - [Connection]: an active session on that channel that plays a [Source]
//     to completion and reports when the platform drops it.
//
// Platform-specific adapters live in subpackages (e.g. audio/discord).
package audio

import (
	"context"
	"errors"
)

// ErrDisconnected is returned by [Connection.Play] when the connection was
// torn down before the source finished.
var ErrDisconnected = errors.New("audio: connection closed")

// Source yields PCM frames in playback order. Next returns io.EOF once the
// source is exhausted.
type Source interface {
	Next() (AudioFrame, error)
	Close() error
}

// Connection represents an active session on a voice channel.
//
// Implementations must be safe for concurrent use. At most one Play call
// runs at a time; concurrent calls are serialised.
type Connection interface {
	// GuildID returns the guild the connection belongs to.
	GuildID() string

	// ChannelID returns the voice channel the connection is joined to.
	ChannelID() string

	// Play streams src until it is exhausted (nil), ctx is cancelled
	// (ctx.Err()), the connection closes ([ErrDisconnected]), or a frame
	// cannot be read or encoded. Play does not close src.
	Play(ctx context.Context, src Source) error

	// OnDisconnect registers cb to run once when the platform drops the
	// connection from its side (kicked, channel deleted, gateway lost).
	// It is not invoked for a local [Connection.Disconnect].
	OnDisconnect(cb func())

	// Disconnect leaves the channel. It is safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins channelID in guildID. ctx governs the join attempt only;
	// the returned Connection lives until it is disconnected.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
