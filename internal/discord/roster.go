package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/bingbong/internal/playback"
)

var _ playback.Roster = (*StateRoster)(nil)

// StateRoster reports voice channel members from the gateway state cache.
type StateRoster struct {
	state *discordgo.State
}

// NewStateRoster creates a roster backed by state.
func NewStateRoster(state *discordgo.State) *StateRoster {
	return &StateRoster{state: state}
}

// Members returns the IDs of the users currently connected to channelID.
func (r *StateRoster) Members(guildID, channelID string) []string {
	g, err := r.state.Guild(guildID)
	if err != nil {
		return nil
	}

	r.state.RLock()
	defer r.state.RUnlock()

	var ids []string
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			ids = append(ids, vs.UserID)
		}
	}
	return ids
}
