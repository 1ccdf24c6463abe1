// Package discord is the bot's Discord layer. It owns the gateway session,
// turns messages in the TTS channel into queued requests, dispatches slash
// commands through a static [Registry] and forwards voice membership
// changes to the idle watcher.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"github.com/MrWong99/bingbong/pkg/audio"
	discordaudio "github.com/MrWong99/bingbong/pkg/audio/discord"
)

// Intents requested on the gateway.
const Intents = discordgo.IntentGuilds |
	discordgo.IntentGuildMessages |
	discordgo.IntentMessageContent |
	discordgo.IntentGuildVoiceStates

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID, when set, registers slash commands for that guild only and
	// removes them again on shutdown.
	GuildID string
}

// link tracks gateway connectivity from Ready, Resumed and Disconnect
// events. discordgo reconnects on its own; the bot only reports it.
type link struct {
	mu    sync.Mutex
	up    bool
	since time.Time
	drops int
}

func (l *link) set(up bool) (changed bool, drops int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.up == up && !l.since.IsZero() {
		return false, l.drops
	}
	l.up, l.since = up, time.Now()
	if !up {
		l.drops++
	}
	return true, l.drops
}

func (l *link) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.since.IsZero():
		return errors.New("gateway not ready")
	case !l.up:
		return fmt.Errorf("gateway disconnected %s", humanize.Time(l.since))
	}
	return nil
}

// Bot owns the gateway session and routes its events to the registry, the
// message intake and the voice watchers.
type Bot struct {
	session  *discordgo.Session
	platform *discordaudio.Platform
	registry *Registry
	guildID  string
	link     link

	mu       sync.Mutex
	commands []*discordgo.ApplicationCommand
	removers []func()
	closed   sync.Once

	// ctx bounds event handlers and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// New opens the gateway session. A bad token fails here.
func New(ctx context.Context, cfg Config, registry *Registry) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = Intents
	session.StateEnabled = true

	b := newBot(ctx, session, registry, cfg.GuildID)
	if err := session.Open(); err != nil {
		b.removeHandlers()
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	slog.Info("discord: connected", "user", session.State.User.Username, "guild_id", cfg.GuildID)
	return b, nil
}

func newBot(ctx context.Context, s *discordgo.Session, registry *Registry, guildID string) *Bot {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Bot{
		session:  s,
		platform: discordaudio.New(s),
		registry: registry,
		guildID:  guildID,
		ctx:      hctx,
		cancel:   cancel,
	}
	b.addHandler(b.onReady)
	b.addHandler(b.onResumed)
	b.addHandler(b.onDisconnect)
	b.addHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.registry.Handle(b.ctx, s, i)
	})
	return b
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if changed, _ := b.link.set(true); changed {
		slog.Info("discord: gateway ready", "guilds", len(r.Guilds))
	}
}

func (b *Bot) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	if changed, drops := b.link.set(true); changed {
		slog.Info("discord: gateway resumed", "drops", drops)
	}
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	if changed, drops := b.link.set(false); changed {
		slog.Warn("discord: gateway disconnected, waiting for reconnect", "drops", drops)
	}
}

func (b *Bot) addHandler(h any) {
	remove := b.session.AddHandler(h)
	b.mu.Lock()
	b.removers = append(b.removers, remove)
	b.mu.Unlock()
}

func (b *Bot) removeHandlers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, remove := range b.removers {
		remove()
	}
	b.removers = nil
}

// Platform joins voice channels over this session.
func (b *Bot) Platform() audio.Platform { return b.platform }

// State returns the gateway state cache.
func (b *Bot) State() *discordgo.State { return b.session.State }

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session { return b.session }

// Replier returns the session as a [MessageReplier].
func (b *Bot) Replier() MessageReplier { return b.session }

// UserID returns the bot's own user ID.
func (b *Bot) UserID() string { return b.session.State.User.ID }

// Roster returns a voice roster backed by the gateway state.
func (b *Bot) Roster() *StateRoster { return NewStateRoster(b.session.State) }

// ListenMessages routes MessageCreate events to in.
func (b *Bot) ListenMessages(in *Intake) {
	b.addHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		in.HandleMessage(b.ctx, m)
	})
}

// OnVoiceStateUpdate calls fn with the guild of every voice membership
// change. The state cache already reflects the change when fn runs.
func (b *Bot) OnVoiceStateUpdate(fn func(guildID string)) {
	b.addHandler(func(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
		if vsu.VoiceState != nil {
			fn(vsu.GuildID)
		}
	})
}

// Healthy reports whether the gateway is connected.
func (b *Bot) Healthy() error { return b.link.err() }

// Run registers the slash commands and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if cmds := b.registry.ApplicationCommands(); len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(b.UserID(), b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord: commands registered", "count", len(registered))
	}
	<-ctx.Done()
	return nil
}

// Close detaches the event handlers, removes guild-scoped commands and
// closes the gateway session.
func (b *Bot) Close() error {
	var err error
	b.closed.Do(func() {
		b.cancel()
		b.removeHandlers()

		b.mu.Lock()
		cmds := b.commands
		b.commands = nil
		b.mu.Unlock()
		if b.guildID != "" {
			for _, cmd := range cmds {
				if dErr := b.session.ApplicationCommandDelete(b.UserID(), b.guildID, cmd.ID); dErr != nil {
					slog.Warn("discord: delete command", "name", cmd.Name, "err", dErr)
				}
			}
		}

		if cErr := b.session.Close(); cErr != nil {
			err = fmt.Errorf("discord: close session: %w", cErr)
		}
		slog.Info("discord: session closed")
	})
	return err
}
