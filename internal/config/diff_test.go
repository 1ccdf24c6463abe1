package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/bingbong/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Discord: config.DiscordConfig{Token: "t"},
		Speech:  config.SpeechConfig{Key: "k", Region: "westeurope"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug
	new.Discord.TTSChannel = "speak"
	new.Discord.AppsURL = "https://example.com"

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: changed=%v new=%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.TTSChannelChanged || d.NewTTSChannel != "speak" {
		t.Errorf("tts channel: changed=%v new=%q", d.TTSChannelChanged, d.NewTTSChannel)
	}
	if !d.AppsURLChanged || d.NewAppsURL != "https://example.com" {
		t.Errorf("apps url: changed=%v new=%q", d.AppsURLChanged, d.NewAppsURL)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart-required keys, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9090" }, "server.listen_addr"},
		{"token", func(c *config.Config) { c.Discord.Token = "other" }, "discord.token"},
		{"guild", func(c *config.Config) { c.Discord.GuildID = "1" }, "discord.guild_id"},
		{"speech key", func(c *config.Config) { c.Speech.Key = "other" }, "speech.key"},
		{"region", func(c *config.Config) { c.Speech.Region = "eastus" }, "speech.region"},
		{"voice", func(c *config.Config) { c.Speech.Voice = "en-GB-RyanNeural" }, "speech.voice"},
		{"speech timeout", func(c *config.Config) { c.Speech.Timeout = time.Second }, "speech.timeout"},
		{"breaker", func(c *config.Config) { c.Speech.Breaker.MaxFailures = 9 }, "speech.breaker"},
		{"fallbacks", func(c *config.Config) {
			c.Speech.Fallbacks = []config.SpeechEndpoint{{Key: "k", Region: "eastus"}}
		}, "speech.fallbacks"},
		{"playback", func(c *config.Config) { c.Playback.Timeout = time.Minute }, "playback.timeout"},
		{"storage", func(c *config.Config) { c.Storage.ScratchDir = "/elsewhere" }, "storage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(new)
			d := config.Diff(baseConfig(), new)
			if !slices.Contains(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want it to contain %q", d.RestartRequired, tt.want)
			}
			if d.LogLevelChanged || d.TTSChannelChanged || d.AppsURLChanged {
				t.Errorf("no hot-reloadable field should change, got %+v", d)
			}
			if !d.Changed() {
				t.Error("Changed() should be true")
			}
		})
	}
}
