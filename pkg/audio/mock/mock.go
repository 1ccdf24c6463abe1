// Package mock provides in-memory [audio.Platform] and [audio.Connection]
// doubles for tests of the playback path.
//
// A Platform hands out a fresh *Connection per join. Connections drain the
// sources they are given and keep a log of every play, so tests can check
// what was spoken, for how long and into which channel.
//
//	platform := &mock.Platform{}
//	conn, _ := platform.Connect(ctx, "guild-1", "voice-1")
//	_ = conn.Play(ctx, src)
//	frames := platform.Connections()[0].PlayedFrames()
package mock

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/bingbong/pkg/audio"
)

// Play is one entry in a connection's play log.
type Play struct {
	Frames   int
	Duration time.Duration
	Err      error
}

// Connection is a fake voice connection.
type Connection struct {
	Guild   string
	Channel string

	// PlayError is returned by every Play once its source is drained.
	PlayError error

	// PlayHook runs before the source is drained. A non-nil result ends
	// Play with that error. Tests use it to block until ctx is done.
	PlayHook func(ctx context.Context, src audio.Source) error

	mu        sync.Mutex
	plays     []Play
	onDrop    []func()
	closed    bool
	leaveCall int
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string { return c.Guild }

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string { return c.Channel }

// Play implements [audio.Connection]. It reads src until io.EOF and logs the
// result. A closed connection refuses with [audio.ErrDisconnected].
func (c *Connection) Play(ctx context.Context, src audio.Source) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return c.log(Play{Err: audio.ErrDisconnected})
	}

	if c.PlayHook != nil {
		if err := c.PlayHook(ctx, src); err != nil {
			return c.log(Play{Err: err})
		}
	}

	var p Play
	for {
		if err := ctx.Err(); err != nil {
			p.Err = err
			return c.log(p)
		}
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.Err = err
			return c.log(p)
		}
		p.Frames++
		p.Duration += frame.Duration()
	}
	p.Err = c.PlayError
	return c.log(p)
}

func (c *Connection) log(p Play) error {
	c.mu.Lock()
	c.plays = append(c.plays, p)
	c.mu.Unlock()
	return p.Err
}

// Plays returns the play log, oldest first.
func (c *Connection) Plays() []Play {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Play(nil), c.plays...)
}

// PlayedFrames sums the frames of every play.
func (c *Connection) PlayedFrames() int {
	n := 0
	for _, p := range c.Plays() {
		n += p.Frames
	}
	return n
}

// OnDisconnect implements [audio.Connection]. Callbacks run on [Connection.Drop].
func (c *Connection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.onDrop = append(c.onDrop, cb)
	c.mu.Unlock()
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	c.leaveCall++
	c.mu.Unlock()
	return nil
}

// Disconnected reports whether the connection was closed locally or dropped.
func (c *Connection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Leaves returns how often Disconnect was called.
func (c *Connection) Leaves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaveCall
}

// Drop simulates Discord removing the bot from the channel: the connection
// closes and the OnDisconnect callbacks run synchronously.
func (c *Connection) Drop() {
	c.mu.Lock()
	c.closed = true
	cbs := append([]func(){}, c.onDrop...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// ConnectCall is one recorded join attempt.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a fake voice platform.
type Platform struct {
	// ConnectError fails every join.
	ConnectError error

	// NewConnection builds the connection for a successful join. Nil
	// creates a plain *Connection.
	NewConnection func(guildID, channelID string) *Connection

	mu    sync.Mutex
	calls []ConnectCall
	conns []*Connection
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}

	c := &Connection{Guild: guildID, Channel: channelID}
	if p.NewConnection != nil {
		c = p.NewConnection(guildID, channelID)
	}
	p.conns = append(p.conns, c)
	return c, nil
}

// Connections returns every connection handed out, oldest first.
func (p *Platform) Connections() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Connection(nil), p.conns...)
}

// Calls returns every recorded join attempt.
func (p *Platform) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.calls...)
}

var (
	_ audio.Connection = (*Connection)(nil)
	_ audio.Platform   = (*Platform)(nil)
)
