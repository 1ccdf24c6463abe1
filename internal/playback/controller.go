// Package playback joins voice channels and plays synthesized artifacts.
//
// The [Controller] owns at most one voice session per guild. A session is
// reused while requests target the same channel, replaced when a request
// targets a different channel of the same guild, and forgotten when the
// platform drops the bot. The [IdleWatcher] tears sessions down once the bot
// is the only member left in its channel.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/bingbong/internal/scratch"
	"github.com/MrWong99/bingbong/pkg/audio"
	"github.com/MrWong99/bingbong/pkg/audio/decode"
)

// ErrClosed is returned by [Controller.Play] after Close.
var ErrClosed = errors.New("playback: controller closed")

// Target is the voice channel a request should be played into.
type Target struct {
	GuildID   string
	ChannelID string
}

// Session describes an active voice session.
type Session struct {
	GuildID     string
	ChannelID   string
	ConnectedAt time.Time
}

// Opener opens an artifact file as a playable source.
type Opener func(path string) (audio.Source, error)

// OpenMP3 is the default [Opener].
func OpenMP3(path string) (audio.Source, error) {
	src, err := decode.OpenMP3(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Option configures a [Controller].
type Option func(*Controller)

// WithOpener replaces the artifact decoder.
func WithOpener(open Opener) Option {
	return func(c *Controller) { c.open = open }
}

// WithSessionHook registers fn to be called with +1 when a session starts and
// -1 when it ends.
func WithSessionHook(fn func(delta int)) Option {
	return func(c *Controller) { c.onSession = fn }
}

type entry struct {
	conn  audio.Connection
	since time.Time
}

// Controller manages voice sessions keyed by guild ID.
//
// Controller is safe for concurrent use.
type Controller struct {
	platform  audio.Platform
	open      Opener
	onSession func(int)

	// joinMu serializes platform joins. mu guards the session table only.
	joinMu   sync.Mutex
	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// NewController creates a Controller that connects through platform.
func NewController(platform audio.Platform, opts ...Option) *Controller {
	c := &Controller{
		platform: platform,
		open:     OpenMP3,
		sessions: make(map[string]*entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Play joins target (or reuses the current session) and plays art to the
// end. The artifact is removed on every return path. A nil return means the
// player went idle normally.
func (c *Controller) Play(ctx context.Context, target Target, art *scratch.Artifact) error {
	defer func() {
		if err := art.Remove(); err != nil {
			slog.Warn("playback: artifact cleanup failed", "request_id", art.RequestID, "err", err)
		}
	}()

	conn, err := c.connect(ctx, target)
	if err != nil {
		return err
	}

	src, err := c.open(art.Path)
	if err != nil {
		return fmt.Errorf("playback: open artifact: %w", err)
	}
	defer src.Close()

	err = conn.Play(ctx, src)
	if errors.Is(err, audio.ErrDisconnected) {
		c.forget(target.GuildID, conn)
	}
	if err != nil {
		return fmt.Errorf("playback: play in %s/%s: %w", target.GuildID, target.ChannelID, err)
	}
	return nil
}

// connect returns a connection to target, reusing the guild's session when
// it is already in the right channel. The session table is not locked while
// the platform joins, so Session and the idle watcher never wait on a slow
// voice handshake.
func (c *Controller) connect(ctx context.Context, target Target) (audio.Connection, error) {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.sessions[target.GuildID]
	if ok && e.conn.ChannelID() == target.ChannelID {
		c.mu.Unlock()
		return e.conn, nil
	}
	if ok {
		delete(c.sessions, target.GuildID)
	}
	c.mu.Unlock()

	if ok {
		slog.Info("playback: switching voice channel",
			"guild_id", target.GuildID,
			"from", e.conn.ChannelID(),
			"to", target.ChannelID)
		c.sessionChanged(-1)
		if err := e.conn.Disconnect(); err != nil {
			slog.Warn("playback: disconnect before switch failed", "guild_id", target.GuildID, "err", err)
		}
	}

	conn, err := c.platform.Connect(ctx, target.GuildID, target.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("playback: join %s/%s: %w", target.GuildID, target.ChannelID, err)
	}

	guildID := target.GuildID
	conn.OnDisconnect(func() {
		slog.Info("playback: voice connection dropped by platform", "guild_id", guildID)
		c.forget(guildID, conn)
	})

	// joinMu keeps other joins out, but Close may have run meanwhile.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if err := conn.Disconnect(); err != nil {
			slog.Debug("playback: teardown of join that finished after close", "guild_id", guildID, "err", err)
		}
		return nil, ErrClosed
	}
	c.sessions[guildID] = &entry{conn: conn, since: time.Now()}
	c.mu.Unlock()

	c.sessionChanged(+1)
	slog.Info("playback: joined voice channel", "guild_id", guildID, "channel_id", target.ChannelID)
	return conn, nil
}

// forget removes conn from the session table if it is still the guild's
// current connection, and tears the handle down.
func (c *Controller) forget(guildID string, conn audio.Connection) {
	c.mu.Lock()
	e, ok := c.sessions[guildID]
	current := ok && e.conn == conn
	if current {
		delete(c.sessions, guildID)
	}
	c.mu.Unlock()

	if current {
		c.sessionChanged(-1)
	}
	if err := conn.Disconnect(); err != nil {
		slog.Debug("playback: teardown after drop", "guild_id", guildID, "err", err)
	}
}

// Disconnect leaves the guild's voice channel, if any.
func (c *Controller) Disconnect(guildID string) error {
	c.mu.Lock()
	e, ok := c.sessions[guildID]
	delete(c.sessions, guildID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.sessionChanged(-1)
	if err := e.conn.Disconnect(); err != nil {
		return fmt.Errorf("playback: disconnect %s: %w", guildID, err)
	}
	slog.Info("playback: left voice channel", "guild_id", guildID)
	return nil
}

// DisconnectIfChannel leaves the guild's voice channel only if the session is
// still in channelID. It reports whether a session was torn down.
func (c *Controller) DisconnectIfChannel(guildID, channelID string) (bool, error) {
	c.mu.Lock()
	e, ok := c.sessions[guildID]
	if !ok || e.conn.ChannelID() != channelID {
		c.mu.Unlock()
		return false, nil
	}
	delete(c.sessions, guildID)
	c.mu.Unlock()

	c.sessionChanged(-1)
	if err := e.conn.Disconnect(); err != nil {
		return true, fmt.Errorf("playback: disconnect %s: %w", guildID, err)
	}
	slog.Info("playback: left voice channel", "guild_id", guildID, "channel_id", channelID)
	return true, nil
}

// Session returns the guild's active session.
func (c *Controller) Session(guildID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[guildID]
	if !ok {
		return Session{}, false
	}
	return Session{GuildID: guildID, ChannelID: e.conn.ChannelID(), ConnectedAt: e.since}, true
}

// Sessions returns all active sessions ordered by guild ID.
func (c *Controller) Sessions() []Session {
	c.mu.Lock()
	out := make([]Session, 0, len(c.sessions))
	for id, e := range c.sessions {
		out = append(out, Session{GuildID: id, ChannelID: e.conn.ChannelID(), ConnectedAt: e.since})
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b Session) int { return strings.Compare(a.GuildID, b.GuildID) })
	return out
}

// Close disconnects every session. Later calls to Play fail with
// [ErrClosed].
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := c.Disconnect(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) sessionChanged(delta int) {
	if c.onSession != nil {
		c.onSession(delta)
	}
}
