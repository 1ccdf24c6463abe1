// Package commands implements the bot's slash commands.
package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/bingbong/internal/discord"
)

// Apps answers /apps with a link to the app list. The URL can be changed at
// runtime.
type Apps struct {
	mu  sync.RWMutex
	url string
}

// NewApps creates the /apps command linking to url.
func NewApps(url string) *Apps {
	return &Apps{url: url}
}

// SetURL changes the linked URL.
func (a *Apps) SetURL(url string) {
	a.mu.Lock()
	a.url = url
	a.mu.Unlock()
}

// URL returns the linked URL.
func (a *Apps) URL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.url
}

// Command returns the registry entry for /apps.
func (a *Apps) Command() discord.Command {
	return discord.Command{
		Definition: &discordgo.ApplicationCommand{
			Name:        "apps",
			Description: "Get a link to the list of BingBong apps",
		},
		Handler: a.handle,
	}
}

func (a *Apps) handle(_ context.Context, cc *discord.CommandContext) error {
	return cc.Reply(fmt.Sprintf("You can find a list of BingBong Apps [here](%s)", a.URL()))
}
