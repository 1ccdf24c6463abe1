package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

// SweepResult summarises one sweep.
type SweepResult struct {
	Removed int
	Bytes   int64
}

// Sweeper periodically deletes artifacts and partial downloads that a crashed
// or interrupted run left behind. Files that belong to a live [Artifact] are
// never touched.
type Sweeper struct {
	dir    *Dir
	maxAge time.Duration
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// SweeperOption configures a [Sweeper].
type SweeperOption func(*Sweeper)

// WithClock overrides the time source used to compute file age.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper returns a sweeper for dir that removes artifacts older than
// maxAge.
func NewSweeper(dir *Dir, maxAge time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{dir: dir, maxAge: maxAge, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sweep removes stale artifacts once and reports what was deleted. Errors on
// individual files are joined; the sweep continues past them.
func (s *Sweeper) Sweep() (SweepResult, error) {
	var res SweepResult
	entries, err := os.ReadDir(s.dir.Path())
	if err != nil {
		return res, fmt.Errorf("scratch: sweep %s: %w", s.dir.Path(), err)
	}

	now := s.now()
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !sweepable(e.Name()) {
			continue
		}
		path := filepath.Join(s.dir.Path(), e.Name())
		if s.dir.isLive(path) {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if now.Sub(info.ModTime()) < s.maxAge {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		res.Removed++
		res.Bytes += info.Size()
		slog.Debug("scratch: removed stale artifact",
			"file", e.Name(),
			"size", humanize.Bytes(uint64(info.Size())),
			"modified", humanize.RelTime(info.ModTime(), now, "ago", "from now"))
	}
	return res, errors.Join(errs...)
}

func sweepable(name string) bool {
	return strings.HasSuffix(name, Ext) || strings.HasPrefix(name, TempPrefix)
}

// Start schedules Sweep on the given cron spec (e.g. "@every 10m"). It runs
// one sweep immediately.
func (s *Sweeper) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scratch: sweeper already started")
	}

	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return fmt.Errorf("scratch: invalid sweep schedule %q: %w", spec, err)
	}
	s.run()
	c.Start()
	s.cron = c
	slog.Info("scratch: sweeper started", "dir", s.dir.Path(), "schedule", spec, "max_age", s.maxAge)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

func (s *Sweeper) run() {
	res, err := s.Sweep()
	if err != nil {
		slog.Warn("scratch: sweep failed", "dir", s.dir.Path(), "err", err)
	}
	if res.Removed > 0 {
		slog.Info("scratch: swept stale artifacts",
			"removed", res.Removed,
			"freed", humanize.Bytes(uint64(res.Bytes)))
	}
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
