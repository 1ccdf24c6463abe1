package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// LoadOption configures [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	environ map[string]string
}

// WithEnvironment replaces the process environment used for the overlay.
// Tests pass an explicit map to stay independent of the host.
func WithEnvironment(environ map[string]string) LoadOption {
	return func(o *loadOptions) { o.environ = environ }
}

// Load reads the YAML configuration file at path, overlays environment
// variables, applies defaults and returns a validated [Config].
func Load(path string, opts ...LoadOption) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays environment
// variables, applies defaults and validates the result. An empty document
// is allowed so that a deployment can be configured from the environment
// alone.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: o.environ}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (or set DISCORD_TOKEN)"))
	}
	if cfg.Discord.TTSChannel == "" {
		errs = append(errs, errors.New("discord.tts_channel must not be empty"))
	}
	if cfg.Discord.AppsURL != "" {
		if u, err := url.Parse(cfg.Discord.AppsURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("discord.apps_url %q must be an absolute http(s) URL", cfg.Discord.AppsURL))
		}
	}

	// Speech
	if cfg.Speech.Key == "" {
		errs = append(errs, errors.New("speech.key is required (or set SPEECH_KEY)"))
	}
	if cfg.Speech.Region == "" {
		errs = append(errs, errors.New("speech.region is required (or set SPEECH_REGION)"))
	}
	if cfg.Speech.Timeout < 0 {
		errs = append(errs, fmt.Errorf("speech.timeout %v must be positive", cfg.Speech.Timeout))
	}
	if cfg.Speech.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("speech.breaker.max_failures %d must not be negative", cfg.Speech.Breaker.MaxFailures))
	}
	if cfg.Speech.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("speech.breaker.reset_timeout %v must not be negative", cfg.Speech.Breaker.ResetTimeout))
	}
	// Fallbacks may share a region under another subscription key.
	type endpoint struct{ key, region string }
	seen := map[endpoint]int{{cfg.Speech.Key, cfg.Speech.Region}: -1}
	for i, fb := range cfg.Speech.Fallbacks {
		prefix := fmt.Sprintf("speech.fallbacks[%d]", i)
		if fb.Key == "" {
			errs = append(errs, fmt.Errorf("%s.key is required", prefix))
		}
		if fb.Region == "" {
			errs = append(errs, fmt.Errorf("%s.region is required", prefix))
			continue
		}
		ep := endpoint{fb.Key, fb.Region}
		if prev, ok := seen[ep]; ok {
			if prev < 0 {
				errs = append(errs, fmt.Errorf("%s (region %q) duplicates speech.key and speech.region", prefix, fb.Region))
			} else {
				errs = append(errs, fmt.Errorf("%s (region %q) is a duplicate of speech.fallbacks[%d]", prefix, fb.Region, prev))
			}
			continue
		}
		seen[ep] = i
	}

	// Playback
	if cfg.Playback.Timeout < 0 {
		errs = append(errs, fmt.Errorf("playback.timeout %v must be positive", cfg.Playback.Timeout))
	}

	// Storage
	if cfg.Storage.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Storage.SweepSchedule); err != nil {
			errs = append(errs, fmt.Errorf("storage.sweep_schedule %q is invalid: %w", cfg.Storage.SweepSchedule, err))
		}
	}
	if cfg.Storage.MaxArtifactAge < 0 {
		errs = append(errs, fmt.Errorf("storage.max_artifact_age %v must be positive", cfg.Storage.MaxArtifactAge))
	}

	return errors.Join(errs...)
}
