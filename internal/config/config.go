// Package config provides the configuration schema, loader, and hot-reload
// watcher for the TTS relay bot.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel converts l to the matching [slog.Level]. Unknown values map to
// info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultTTSChannel     = "tts"
	DefaultAppsURL        = "https://bingbong.ddns.net"
	DefaultVoice          = "en-US-DavisNeural"
	DefaultOutputFormat   = "audio-16khz-32kbitrate-mono-mp3"
	DefaultSpeechTimeout  = 30 * time.Second
	DefaultPlaybackLimit  = 5 * time.Minute
	DefaultScratchDir     = "./scratch"
	DefaultSweepSchedule  = "@every 10m"
	DefaultMaxArtifactAge = 30 * time.Minute
	DefaultMaxFailures    = 5
	DefaultResetTimeout   = 30 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Discord  DiscordConfig  `yaml:"discord"`
	Speech   SpeechConfig   `yaml:"speech"`
	Playback PlaybackConfig `yaml:"playback"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the address for /healthz, /readyz and /metrics (e.g.
	// ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr" env:"BINGBONG_LISTEN_ADDR"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level" env:"BINGBONG_LOG_LEVEL"`
}

// DiscordConfig holds the bot credentials and channel settings.
type DiscordConfig struct {
	// Token is the bot token. Required.
	Token string `yaml:"token" env:"DISCORD_TOKEN"`

	// TTSChannel is the name of the text channel whose messages are spoken.
	// Compared case-insensitively. Hot-reloadable.
	TTSChannel string `yaml:"tts_channel"`

	// AppsURL is linked by the /apps command. Hot-reloadable.
	AppsURL string `yaml:"apps_url"`

	// GuildID, when set, registers slash commands for that guild only so
	// they appear immediately during development.
	GuildID string `yaml:"guild_id"`
}

// SpeechConfig configures the Azure Speech backend.
type SpeechConfig struct {
	// Key is the Azure Speech resource key. Required.
	Key string `yaml:"key" env:"SPEECH_KEY"`

	// Region is the Azure region of the resource (e.g. "westeurope"). Required.
	Region string `yaml:"region" env:"SPEECH_REGION"`

	// Voice is the neural voice name.
	Voice string `yaml:"voice"`

	// OutputFormat is the X-Microsoft-OutputFormat value.
	OutputFormat string `yaml:"output_format"`

	// Timeout bounds a single synthesis call.
	Timeout time.Duration `yaml:"timeout"`

	// Breaker tunes the circuit breaker around each endpoint.
	Breaker BreakerConfig `yaml:"breaker"`

	// Fallbacks are additional Azure resources tried in order when the
	// primary fails or its breaker is open.
	Fallbacks []SpeechEndpoint `yaml:"fallbacks"`
}

// SpeechEndpoint is an additional Azure Speech resource.
type SpeechEndpoint struct {
	Key    string `yaml:"key"`
	Region string `yaml:"region"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// PlaybackConfig configures voice playback.
type PlaybackConfig struct {
	// Timeout bounds joining and playing one message.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig configures the scratch directory for synthesized audio.
type StorageConfig struct {
	ScratchDir     string        `yaml:"scratch_dir" env:"BINGBONG_SCRATCH_DIR"`
	SweepSchedule  string        `yaml:"sweep_schedule"`
	MaxArtifactAge time.Duration `yaml:"max_artifact_age"`
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Discord.TTSChannel == "" {
		cfg.Discord.TTSChannel = DefaultTTSChannel
	}
	if cfg.Discord.AppsURL == "" {
		cfg.Discord.AppsURL = DefaultAppsURL
	}
	if cfg.Speech.Voice == "" {
		cfg.Speech.Voice = DefaultVoice
	}
	if cfg.Speech.OutputFormat == "" {
		cfg.Speech.OutputFormat = DefaultOutputFormat
	}
	if cfg.Speech.Timeout == 0 {
		cfg.Speech.Timeout = DefaultSpeechTimeout
	}
	if cfg.Speech.Breaker.MaxFailures == 0 {
		cfg.Speech.Breaker.MaxFailures = DefaultMaxFailures
	}
	if cfg.Speech.Breaker.ResetTimeout == 0 {
		cfg.Speech.Breaker.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Playback.Timeout == 0 {
		cfg.Playback.Timeout = DefaultPlaybackLimit
	}
	if cfg.Storage.ScratchDir == "" {
		cfg.Storage.ScratchDir = DefaultScratchDir
	}
	if cfg.Storage.SweepSchedule == "" {
		cfg.Storage.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.Storage.MaxArtifactAge == 0 {
		cfg.Storage.MaxArtifactAge = DefaultMaxArtifactAge
	}
}
