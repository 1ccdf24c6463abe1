package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/bingbong/internal/discord"
	"github.com/MrWong99/bingbong/internal/ttsqueue"
)

// QueueInspector exposes the queue state shown by /queue.
type QueueInspector interface {
	Len() int
	State() ttsqueue.State
}

// Queue returns the /queue command, which reports how many messages are
// waiting to be spoken.
func Queue(q QueueInspector) discord.Command {
	return discord.Command{
		Definition: &discordgo.ApplicationCommand{
			Name:        "queue",
			Description: "Show how many messages are waiting to be spoken",
		},
		Handler: func(_ context.Context, cc *discord.CommandContext) error {
			return cc.Reply(queueSummary(q.Len(), q.State()))
		},
	}
}

func queueSummary(pending int, state ttsqueue.State) string {
	switch {
	case state == ttsqueue.Idle && pending == 0:
		return "The queue is empty."
	case pending == 0:
		return "Speaking the last message, nothing else is waiting."
	case pending == 1:
		return "Speaking now, 1 message is waiting."
	default:
		return fmt.Sprintf("Speaking now, %d messages are waiting.", pending)
	}
}

// Register adds the default command set to r.
func Register(r *discord.Registry, apps *Apps, q QueueInspector) error {
	for _, cmd := range []discord.Command{apps.Command(), Styles(), Queue(q)} {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}
