package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Fields that can be applied at runtime are reported individually; anything
// else that changed is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TTSChannelChanged bool
	NewTTSChannel     string

	AppsURLChanged bool
	NewAppsURL     string

	// RestartRequired lists the config keys that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything at all differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TTSChannelChanged || d.AppsURLChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Hot-reloadable.
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Discord.TTSChannel != new.Discord.TTSChannel {
		d.TTSChannelChanged = true
		d.NewTTSChannel = new.Discord.TTSChannel
	}
	if old.Discord.AppsURL != new.Discord.AppsURL {
		d.AppsURLChanged = true
		d.NewAppsURL = new.Discord.AppsURL
	}

	// Restart required.
	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("discord.token", old.Discord.Token != new.Discord.Token)
	restart("discord.guild_id", old.Discord.GuildID != new.Discord.GuildID)
	restart("speech.key", old.Speech.Key != new.Speech.Key)
	restart("speech.region", old.Speech.Region != new.Speech.Region)
	restart("speech.voice", old.Speech.Voice != new.Speech.Voice)
	restart("speech.output_format", old.Speech.OutputFormat != new.Speech.OutputFormat)
	restart("speech.timeout", old.Speech.Timeout != new.Speech.Timeout)
	restart("speech.breaker", old.Speech.Breaker != new.Speech.Breaker)
	restart("speech.fallbacks", !slices.Equal(old.Speech.Fallbacks, new.Speech.Fallbacks))
	restart("playback.timeout", old.Playback.Timeout != new.Playback.Timeout)
	restart("storage", old.Storage != new.Storage)

	return d
}
