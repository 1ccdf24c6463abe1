package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/bingbong/internal/observe"
)

// GenericErrorReply is the only message users see when a command fails.
const GenericErrorReply = "Something went wrong while running that command."

// Command status values reported to metrics.
const (
	commandOK    = "ok"
	commandError = "error"
)

// HandlerFunc runs a slash command. A returned error is logged and answered
// with [GenericErrorReply].
type HandlerFunc func(ctx context.Context, cc *CommandContext) error

// Command pairs a slash command definition with its handler.
type Command struct {
	Definition *discordgo.ApplicationCommand
	Handler    HandlerFunc
}

// Name returns the command name.
func (c Command) Name() string {
	if c.Definition == nil {
		return ""
	}
	return c.Definition.Name
}

// CommandContext is passed to a handler. It tracks whether the interaction
// has been answered so the registry can pick the right error channel.
type CommandContext struct {
	Interaction *discordgo.Interaction

	responder Responder

	mu       sync.Mutex
	replied  bool
	deferred bool
}

// NewCommandContext wraps i for a handler.
func NewCommandContext(r Responder, i *discordgo.Interaction) *CommandContext {
	return &CommandContext{Interaction: i, responder: r}
}

// Reply sends the initial ephemeral response, or a follow-up when the
// interaction was already answered or deferred.
func (cc *CommandContext) Reply(content string) error {
	if cc.answered() {
		return FollowUp(cc.responder, cc.Interaction, content)
	}
	if err := RespondEphemeral(cc.responder, cc.Interaction, content); err != nil {
		return fmt.Errorf("discord: reply: %w", err)
	}
	cc.markReplied()
	return nil
}

// ReplyEmbed sends an ephemeral embed as the initial response.
func (cc *CommandContext) ReplyEmbed(embed *discordgo.MessageEmbed) error {
	if cc.answered() {
		_, err := cc.responder.FollowupMessageCreate(cc.Interaction, true, &discordgo.WebhookParams{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		})
		return err
	}
	if err := RespondEmbed(cc.responder, cc.Interaction, embed); err != nil {
		return fmt.Errorf("discord: reply embed: %w", err)
	}
	cc.markReplied()
	return nil
}

// Defer acknowledges the interaction so the handler can answer later with
// [CommandContext.Reply].
func (cc *CommandContext) Defer() error {
	if err := DeferReply(cc.responder, cc.Interaction); err != nil {
		return fmt.Errorf("discord: defer: %w", err)
	}
	cc.mu.Lock()
	cc.deferred = true
	cc.mu.Unlock()
	return nil
}

// Replied reports whether an initial response was sent.
func (cc *CommandContext) Replied() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.replied
}

// Deferred reports whether the interaction was deferred.
func (cc *CommandContext) Deferred() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.deferred
}

func (cc *CommandContext) answered() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.replied || cc.deferred
}

func (cc *CommandContext) markReplied() {
	cc.mu.Lock()
	cc.replied = true
	cc.mu.Unlock()
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithMetrics records command invocations on m.
func WithMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// Registry holds the statically registered slash commands and dispatches
// interactions to them by name.
//
// Commands are registered at startup; Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	metrics  *observe.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{commands: make(map[string]Command)}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Register adds cmd. It fails on a missing definition or handler and on
// duplicate names.
func (r *Registry) Register(cmd Command) error {
	name := cmd.Name()
	if name == "" || cmd.Handler == nil {
		return errors.New("discord: command needs a named definition and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.commands[name]; dup {
		return fmt.Errorf("discord: command %q already registered", name)
	}
	r.commands[name] = cmd
	return nil
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// ApplicationCommands returns the definitions of all commands, sorted by
// name, for registration with the Discord API.
func (r *Registry) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*discordgo.ApplicationCommand, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd.Definition)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Handle dispatches an interaction. Unknown commands and other interaction
// types are logged and ignored.
func (r *Registry) Handle(ctx context.Context, resp Responder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("discord: ignoring interaction", "type", i.Type)
		return
	}
	name := i.ApplicationCommandData().Name

	cmd, ok := r.Lookup(name)
	if !ok {
		slog.Warn("discord: unknown command", "command", name)
		return
	}

	cc := NewCommandContext(resp, i.Interaction)
	if err := r.run(ctx, cmd, cc); err != nil {
		slog.Error("discord: command failed", "command", name, "err", err)
		r.metrics.RecordCommand(ctx, name, commandError)
		if replyErr := cc.Reply(GenericErrorReply); replyErr != nil {
			slog.Warn("discord: failed to send error reply", "command", name, "err", replyErr)
		}
		return
	}
	r.metrics.RecordCommand(ctx, name, commandOK)
}

// run executes the handler, turning a panic into an error.
func (r *Registry) run(ctx context.Context, cmd Command, cc *CommandContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("discord: command panicked", "command", cmd.Name(), "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("discord: command %q panicked: %v", cmd.Name(), p)
		}
	}()
	return cmd.Handler(ctx, cc)
}
