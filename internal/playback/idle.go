package playback

import "log/slog"

// Roster lists the members currently connected to a voice channel.
type Roster interface {
	Members(guildID, channelID string) []string
}

// IdleWatcher leaves voice channels in which nobody but the bot remains.
type IdleWatcher struct {
	ctrl      *Controller
	roster    Roster
	botUserID string
}

// NewIdleWatcher creates a watcher for ctrl. botUserID is the bot's own
// user ID.
func NewIdleWatcher(ctrl *Controller, roster Roster, botUserID string) *IdleWatcher {
	return &IdleWatcher{ctrl: ctrl, roster: roster, botUserID: botUserID}
}

// Check disconnects the guild's session when the bot is the only member of
// its channel. It reports whether a disconnect happened.
func (w *IdleWatcher) Check(guildID string) bool {
	s, ok := w.ctrl.Session(guildID)
	if !ok {
		return false
	}
	members := w.roster.Members(guildID, s.ChannelID)
	if len(members) != 1 || members[0] != w.botUserID {
		return false
	}

	// The session may have moved while the roster was read.
	left, err := w.ctrl.DisconnectIfChannel(guildID, s.ChannelID)
	if err != nil {
		slog.Warn("playback: idle disconnect failed", "guild_id", guildID, "err", err)
	}
	if left {
		slog.Info("playback: alone in voice channel, left",
			"guild_id", guildID, "channel_id", s.ChannelID)
	}
	return left
}
