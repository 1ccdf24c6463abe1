package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/bingbong/internal/config"
)

// noEnv isolates tests from the host environment.
func noEnv() config.LoadOption {
	return config.WithEnvironment(map[string]string{})
}

const minimalYAML = `
discord:
  token: discord-token
speech:
  key: speech-key
  region: westeurope
`

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
discord:
  token: discord-token
  tts_channel: Read-Aloud
  apps_url: https://example.com/apps
  guild_id: "123456789"
speech:
  key: speech-key
  region: westeurope
  voice: en-GB-RyanNeural
  output_format: audio-24khz-48kbitrate-mono-mp3
  timeout: 10s
  breaker:
    max_failures: 3
    reset_timeout: 1m
  fallbacks:
    - key: backup-key
      region: northeurope
playback:
  timeout: 2m
storage:
  scratch_dir: /var/lib/bingbong
  sweep_schedule: "*/5 * * * *"
  max_artifact_age: 1h
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML), noEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, ":9090"},
		{"log_level", cfg.Server.LogLevel, config.LogDebug},
		{"token", cfg.Discord.Token, "discord-token"},
		{"tts_channel", cfg.Discord.TTSChannel, "Read-Aloud"},
		{"apps_url", cfg.Discord.AppsURL, "https://example.com/apps"},
		{"guild_id", cfg.Discord.GuildID, "123456789"},
		{"speech.key", cfg.Speech.Key, "speech-key"},
		{"speech.region", cfg.Speech.Region, "westeurope"},
		{"speech.voice", cfg.Speech.Voice, "en-GB-RyanNeural"},
		{"speech.output_format", cfg.Speech.OutputFormat, "audio-24khz-48kbitrate-mono-mp3"},
		{"speech.timeout", cfg.Speech.Timeout, 10 * time.Second},
		{"breaker.max_failures", cfg.Speech.Breaker.MaxFailures, 3},
		{"breaker.reset_timeout", cfg.Speech.Breaker.ResetTimeout, time.Minute},
		{"fallbacks", len(cfg.Speech.Fallbacks), 1},
		{"playback.timeout", cfg.Playback.Timeout, 2 * time.Minute},
		{"scratch_dir", cfg.Storage.ScratchDir, "/var/lib/bingbong"},
		{"sweep_schedule", cfg.Storage.SweepSchedule, "*/5 * * * *"},
		{"max_artifact_age", cfg.Storage.MaxArtifactAge, time.Hour},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
	if fb := cfg.Speech.Fallbacks[0]; fb.Key != "backup-key" || fb.Region != "northeurope" {
		t.Errorf("fallback: got %+v", fb)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML), noEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != "" {
		t.Errorf("listen_addr: got %q, want empty", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Discord.TTSChannel != config.DefaultTTSChannel {
		t.Errorf("tts_channel: got %q, want %q", cfg.Discord.TTSChannel, config.DefaultTTSChannel)
	}
	if cfg.Discord.AppsURL != config.DefaultAppsURL {
		t.Errorf("apps_url: got %q, want %q", cfg.Discord.AppsURL, config.DefaultAppsURL)
	}
	if cfg.Speech.Voice != config.DefaultVoice {
		t.Errorf("voice: got %q, want %q", cfg.Speech.Voice, config.DefaultVoice)
	}
	if cfg.Speech.OutputFormat != config.DefaultOutputFormat {
		t.Errorf("output_format: got %q, want %q", cfg.Speech.OutputFormat, config.DefaultOutputFormat)
	}
	if cfg.Speech.Timeout != config.DefaultSpeechTimeout {
		t.Errorf("speech.timeout: got %v, want %v", cfg.Speech.Timeout, config.DefaultSpeechTimeout)
	}
	if cfg.Speech.Breaker.MaxFailures != config.DefaultMaxFailures {
		t.Errorf("max_failures: got %d, want %d", cfg.Speech.Breaker.MaxFailures, config.DefaultMaxFailures)
	}
	if cfg.Speech.Breaker.ResetTimeout != config.DefaultResetTimeout {
		t.Errorf("reset_timeout: got %v, want %v", cfg.Speech.Breaker.ResetTimeout, config.DefaultResetTimeout)
	}
	if cfg.Playback.Timeout != config.DefaultPlaybackLimit {
		t.Errorf("playback.timeout: got %v, want %v", cfg.Playback.Timeout, config.DefaultPlaybackLimit)
	}
	if cfg.Storage.ScratchDir != config.DefaultScratchDir {
		t.Errorf("scratch_dir: got %q, want %q", cfg.Storage.ScratchDir, config.DefaultScratchDir)
	}
	if cfg.Storage.SweepSchedule != config.DefaultSweepSchedule {
		t.Errorf("sweep_schedule: got %q, want %q", cfg.Storage.SweepSchedule, config.DefaultSweepSchedule)
	}
	if cfg.Storage.MaxArtifactAge != config.DefaultMaxArtifactAge {
		t.Errorf("max_artifact_age: got %v, want %v", cfg.Storage.MaxArtifactAge, config.DefaultMaxArtifactAge)
	}
}

func TestLoadFromReader_EnvironmentOverlay(t *testing.T) {
	t.Parallel()
	environ := map[string]string{
		"DISCORD_TOKEN":        "env-token",
		"SPEECH_KEY":           "env-key",
		"SPEECH_REGION":        "eastus",
		"BINGBONG_LOG_LEVEL":   "warn",
		"BINGBONG_LISTEN_ADDR": ":8081",
		"BINGBONG_SCRATCH_DIR": "/tmp/bb",
	}
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML), config.WithEnvironment(environ))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Discord.Token != "env-token" {
		t.Errorf("token: got %q, want env-token", cfg.Discord.Token)
	}
	if cfg.Speech.Key != "env-key" || cfg.Speech.Region != "eastus" {
		t.Errorf("speech: got key=%q region=%q", cfg.Speech.Key, cfg.Speech.Region)
	}
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("log_level: got %q, want warn", cfg.Server.LogLevel)
	}
	if cfg.Server.ListenAddr != ":8081" {
		t.Errorf("listen_addr: got %q, want :8081", cfg.Server.ListenAddr)
	}
	if cfg.Storage.ScratchDir != "/tmp/bb" {
		t.Errorf("scratch_dir: got %q, want /tmp/bb", cfg.Storage.ScratchDir)
	}
}

func TestLoadFromReader_EnvironmentOnly(t *testing.T) {
	t.Parallel()
	environ := map[string]string{
		"DISCORD_TOKEN": "t",
		"SPEECH_KEY":    "k",
		"SPEECH_REGION": "r",
	}
	cfg, err := config.LoadFromReader(strings.NewReader(""), config.WithEnvironment(environ))
	if err != nil {
		t.Fatalf("empty document with environment should load, got: %v", err)
	}
	if cfg.Discord.Token != "t" {
		t.Errorf("token: got %q, want t", cfg.Discord.Token)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + "voices: []\n"
	_, err := config.LoadFromReader(strings.NewReader(yaml), noEnv())
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "voices") {
		t.Errorf("error should mention the unknown field, got: %v", err)
	}
}

func TestLoadFromReader_InvalidYAML(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("discord: [unterminated"), noEnv())
	if err == nil {
		t.Fatal("expected error for malformed yaml, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "missing credentials",
			yaml:    "server:\n  log_level: info\n",
			wantErr: []string{"discord.token", "speech.key", "speech.region"},
		},
		{
			name:    "bad log level",
			yaml:    minimalYAML + "server:\n  log_level: bananas\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name: "relative apps url",
			yaml: `
discord:
  token: t
  apps_url: /apps
speech:
  key: k
  region: r
`,
			wantErr: []string{"discord.apps_url"},
		},
		{
			name: "negative timeouts",
			yaml: minimalYAML + `
playback:
  timeout: -1s
storage:
  max_artifact_age: -1m
`,
			wantErr: []string{"playback.timeout", "storage.max_artifact_age"},
		},
		{
			name: "negative breaker",
			yaml: `
discord:
  token: t
speech:
  key: k
  region: r
  breaker:
    max_failures: -1
    reset_timeout: -5s
`,
			wantErr: []string{"speech.breaker.max_failures", "speech.breaker.reset_timeout"},
		},
		{
			name: "fallback duplicates primary",
			yaml: `
discord:
  token: t
speech:
  key: k
  region: westeurope
  fallbacks:
    - key: k
      region: westeurope
`,
			wantErr: []string{"duplicates speech.key and speech.region"},
		},
		{
			name: "fallback duplicates fallback",
			yaml: `
discord:
  token: t
speech:
  key: k
  region: westeurope
  fallbacks:
    - key: k2
      region: eastus
    - key: k2
      region: eastus
`,
			wantErr: []string{"speech.fallbacks[1]", "speech.fallbacks[0]"},
		},
		{
			name: "fallback missing fields",
			yaml: `
discord:
  token: t
speech:
  key: k
  region: westeurope
  fallbacks:
    - {}
`,
			wantErr: []string{"speech.fallbacks[0].key", "speech.fallbacks[0].region"},
		},
		{
			name: "bad sweep schedule",
			yaml: minimalYAML + `
storage:
  sweep_schedule: "every now and then"
`,
			wantErr: []string{"storage.sweep_schedule"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml), noEnv())
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_SameRegionDifferentKeys(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  token: t
speech:
  key: k
  region: westeurope
  fallbacks:
    - key: k2
      region: westeurope
    - key: k3
      region: westeurope
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml), noEnv())
	if err != nil {
		t.Fatalf("separate subscriptions in one region should be accepted, got: %v", err)
	}
	if n := len(cfg.Speech.Fallbacks); n != 2 {
		t.Errorf("fallbacks: got %d, want 2", n)
	}
}

func TestValidate_DescriptorSchedule(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
storage:
  sweep_schedule: "@hourly"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml), noEnv()); err != nil {
		t.Fatalf("descriptor schedule should be accepted, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path, noEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Speech.Region != "westeurope" {
		t.Errorf("region: got %q, want westeurope", cfg.Speech.Region)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"),
		config.WithEnvironment(map[string]string{
			"DISCORD_TOKEN": "token",
			"SPEECH_KEY":    "key",
		}))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Playback.Timeout != 5*time.Minute {
		t.Errorf("playback timeout: got %v, want 5m", cfg.Playback.Timeout)
	}
	if cfg.Storage.SweepSchedule != "@every 10m" {
		t.Errorf("sweep schedule: got %q", cfg.Storage.SweepSchedule)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/bingbong.yaml", noEnv())
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "config: open") {
		t.Errorf("error should be wrapped with context, got: %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO"} {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.SlogLevel(); got != tt.want {
			t.Errorf("%q.SlogLevel() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
