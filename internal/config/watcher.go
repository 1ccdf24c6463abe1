package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls the config file.
const DefaultWatchInterval = 5 * time.Second

// fileState identifies one version of the config file on disk.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls the config file and reports semantic changes. A write that
// leaves the parsed config identical (comments, key order, a plain touch) is
// absorbed silently. An invalid file is logged and the previous config kept.
//
// Polling is used instead of filesystem notifications because the file is
// usually a bind-mounted volume or a Kubernetes ConfigMap symlink.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	loadOpts []LoadOption

	// reloadMu serialises reloads from Run and Reload.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	state   fileState
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLoadOptions passes opts to every load, the initial one included.
func WithLoadOptions(opts ...LoadOption) WatcherOption {
	return func(w *Watcher) { w.loadOpts = append(w.loadOpts, opts...) }
}

// NewWatcher loads path and returns a watcher holding the result. onChange
// may be nil. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, hash, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current = cfg
	w.state = fileState{mtime: info.ModTime(), hash: hash}
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is cancelled. It always returns nil so it
// can share an errgroup with the gateway without cancelling it.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.poll(); err != nil {
				slog.Warn("config: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file immediately, ignoring the modification time.
// It is wired to SIGHUP. An invalid file returns an error and keeps the
// previous config.
func (w *Watcher) Reload() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("config: reload %q: %w", w.path, err)
	}
	if err := w.apply(info.ModTime()); err != nil {
		return fmt.Errorf("config: reload %q: %w", w.path, err)
	}
	return nil
}

// poll reloads only when the modification time moved.
func (w *Watcher) poll() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.state.mtime)
	w.mu.Unlock()
	if unchanged {
		return nil
	}
	return w.apply(info.ModTime())
}

func (w *Watcher) apply(mtime time.Time) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, hash, err := w.load()
	if err != nil {
		return err
	}

	w.mu.Lock()
	old := w.current
	sameBytes := hash == w.state.hash
	w.state = fileState{mtime: mtime, hash: hash}
	if sameBytes || !Diff(old, cfg).Changed() {
		w.mu.Unlock()
		slog.Debug("config: file rewritten without effective change", "path", w.path)
		return nil
	}
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}

// load reads, parses and validates the file and returns its hash.
func (w *Watcher) load() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data), w.loadOpts...)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
