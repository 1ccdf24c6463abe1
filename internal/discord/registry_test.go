package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/bingbong/internal/discord/mock"
	"github.com/MrWong99/bingbong/internal/observe"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func newTestRegistry(t *testing.T) (*Registry, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return NewRegistry(WithMetrics(m)), reader
}

func commandCount(t *testing.T, reader *sdkmetric.ManualReader, command, status string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "bingbong.command.invocations" {
				continue
			}
			sum := met.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				c, _ := dp.Attributes.Value(attribute.Key("command"))
				s, _ := dp.Attributes.Value(attribute.Key("status"))
				if c.AsString() == command && s.AsString() == status {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func commandInteraction(name string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:   "interaction-1",
			Type: discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{Name: name},
		},
	}
}

func command(name string, h HandlerFunc) Command {
	return Command{
		Definition: &discordgo.ApplicationCommand{Name: name, Description: name},
		Handler:    h,
	}
}

func mustRegister(t *testing.T, r *Registry, cmd Command) {
	t.Helper()
	if err := r.Register(cmd); err != nil {
		t.Fatalf("Register(%q): %v", cmd.Name(), err)
	}
}

func assertEphemeral(t *testing.T, resp *discordgo.InteractionResponse, want string) {
	t.Helper()
	if resp == nil || resp.Data == nil {
		t.Fatal("expected a response with data")
	}
	if resp.Data.Content != want {
		t.Errorf("content = %q, want %q", resp.Data.Content, want)
	}
	if resp.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Error("response should be ephemeral")
	}
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestRegistry_RegisterValidation(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	noop := func(context.Context, *CommandContext) error { return nil }

	if err := r.Register(Command{Handler: noop}); err == nil {
		t.Error("expected error for missing definition")
	}
	if err := r.Register(Command{Definition: &discordgo.ApplicationCommand{Name: "x"}}); err == nil {
		t.Error("expected error for missing handler")
	}
	mustRegister(t, r, command("ping", noop))
	if err := r.Register(command("ping", noop)); err == nil {
		t.Error("expected error for duplicate name")
	}
	if _, ok := r.Lookup("ping"); !ok {
		t.Error("Lookup(ping) should succeed")
	}
	if _, ok := r.Lookup("pong"); ok {
		t.Error("Lookup(pong) should fail")
	}
}

func TestRegistry_ApplicationCommandsSorted(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	noop := func(context.Context, *CommandContext) error { return nil }
	for _, n := range []string{"styles", "apps", "queue"} {
		mustRegister(t, r, command(n, noop))
	}

	cmds := r.ApplicationCommands()
	want := []string{"apps", "queue", "styles"}
	if len(cmds) != len(want) {
		t.Fatalf("got %d commands, want %d", len(cmds), len(want))
	}
	for i, c := range cmds {
		if c.Name != want[i] {
			t.Errorf("cmds[%d] = %q, want %q", i, c.Name, want[i])
		}
	}
}

func TestRegistry_HandleSuccess(t *testing.T) {
	t.Parallel()
	r, reader := newTestRegistry(t)
	mustRegister(t, r, command("ping", func(_ context.Context, cc *CommandContext) error {
		return cc.Reply("pong")
	}))
	resp := &mock.InteractionResponder{}

	r.Handle(context.Background(), resp, commandInteraction("ping"))

	if len(resp.Responses) != 1 || len(resp.FollowUps) != 0 {
		t.Fatalf("responses=%d followups=%d, want 1/0", len(resp.Responses), len(resp.FollowUps))
	}
	assertEphemeral(t, resp.LastResponse(), "pong")
	if got := commandCount(t, reader, "ping", commandOK); got != 1 {
		t.Errorf("ok invocations = %d, want 1", got)
	}
}

func TestRegistry_HandleFailureRepliesOnce(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name          string
		handler       HandlerFunc
		wantResponses int
		wantFollowUps int
	}{
		{
			name:          "error before answering",
			handler:       func(context.Context, *CommandContext) error { return boom },
			wantResponses: 1,
		},
		{
			name: "error after reply",
			handler: func(_ context.Context, cc *CommandContext) error {
				if err := cc.Reply("working on it"); err != nil {
					return err
				}
				return boom
			},
			wantResponses: 1,
			wantFollowUps: 1,
		},
		{
			name: "error after defer",
			handler: func(_ context.Context, cc *CommandContext) error {
				if err := cc.Defer(); err != nil {
					return err
				}
				return boom
			},
			wantResponses: 1,
			wantFollowUps: 1,
		},
		{
			name:          "panic",
			handler:       func(context.Context, *CommandContext) error { panic("nil map") },
			wantResponses: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, reader := newTestRegistry(t)
			mustRegister(t, r, command("broken", tt.handler))
			resp := &mock.InteractionResponder{}

			r.Handle(context.Background(), resp, commandInteraction("broken"))

			if len(resp.Responses) != tt.wantResponses || len(resp.FollowUps) != tt.wantFollowUps {
				t.Fatalf("responses=%d followups=%d, want %d/%d",
					len(resp.Responses), len(resp.FollowUps), tt.wantResponses, tt.wantFollowUps)
			}
			if tt.wantFollowUps > 0 {
				fu := resp.LastFollowUp()
				if fu.Content != GenericErrorReply {
					t.Errorf("follow-up = %q, want %q", fu.Content, GenericErrorReply)
				}
				if fu.Flags&discordgo.MessageFlagsEphemeral == 0 {
					t.Error("follow-up should be ephemeral")
				}
			} else {
				assertEphemeral(t, resp.LastResponse(), GenericErrorReply)
			}
			if got := commandCount(t, reader, "broken", commandError); got != 1 {
				t.Errorf("error invocations = %d, want 1", got)
			}
		})
	}
}

func TestRegistry_UnknownCommandIgnored(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	resp := &mock.InteractionResponder{}

	r.Handle(context.Background(), resp, commandInteraction("missing"))

	if len(resp.Responses) != 0 || len(resp.FollowUps) != 0 {
		t.Errorf("unknown command should not be answered, got %d responses", len(resp.Responses))
	}
}

func TestRegistry_NonCommandInteractionIgnored(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	called := false
	mustRegister(t, r, command("ping", func(context.Context, *CommandContext) error {
		called = true
		return nil
	}))
	resp := &mock.InteractionResponder{}

	i := commandInteraction("ping")
	i.Type = discordgo.InteractionMessageComponent
	i.Data = discordgo.MessageComponentInteractionData{CustomID: "ping"}
	r.Handle(context.Background(), resp, i)

	if called {
		t.Error("handler should not run for component interactions")
	}
	if len(resp.Responses) != 0 {
		t.Errorf("got %d responses, want 0", len(resp.Responses))
	}
}

func TestCommandContext_ReplyAfterDeferIsFollowUp(t *testing.T) {
	t.Parallel()
	resp := &mock.InteractionResponder{}
	cc := NewCommandContext(resp, commandInteraction("x").Interaction)

	if err := cc.Defer(); err != nil {
		t.Fatalf("Defer: %v", err)
	}
	if !cc.Deferred() || cc.Replied() {
		t.Errorf("Deferred=%v Replied=%v, want true/false", cc.Deferred(), cc.Replied())
	}
	if err := cc.Reply("done"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got := resp.LastResponse().Type; got != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Errorf("first response type = %v, want deferred", got)
	}
	if fu := resp.LastFollowUp(); fu == nil || fu.Content != "done" {
		t.Errorf("follow-up = %+v, want content done", fu)
	}
}

func TestCommandContext_FailedReplyIsNotMarked(t *testing.T) {
	t.Parallel()
	resp := &mock.InteractionResponder{Err: errors.New("unknown interaction")}
	cc := NewCommandContext(resp, commandInteraction("x").Interaction)

	if err := cc.Reply("hi"); err == nil {
		t.Fatal("expected error from Reply")
	}
	if cc.Replied() {
		t.Error("Replied should stay false after a failed reply")
	}
}
