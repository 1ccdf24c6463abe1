// Package scratch manages the directory that holds synthesized audio while
// it waits to be played.
//
// A [Dir] is locked exclusively for the lifetime of the process so that two
// bot instances never share (and sweep) each other's files. Every request gets
// its own [Artifact], which is removed exactly once regardless of how many
// exit paths call [Artifact.Remove].
package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// ErrLocked is returned by [Open] when another process holds the directory.
var ErrLocked = errors.New("scratch: directory is locked by another process")

const (
	// LockFile is the name of the lock file inside the scratch directory.
	LockFile = ".lock"

	// Ext is the extension of every artifact file.
	Ext = ".mp3"

	// TempPrefix starts the name of a partially written synthesis file.
	// Backends rename it onto the artifact path once the download completes.
	TempPrefix = ".synth-"

	maxSuffix      = 10000
	maxNameRunes   = 32
	reserveRetries = 16
)

// Dir is a locked scratch directory. It is safe for concurrent use.
type Dir struct {
	path string
	lock *flock.Flock

	mu   sync.Mutex
	live map[string]*Artifact

	// suffix returns a number in [1, maxSuffix]. Tests replace it.
	suffix func() int
}

// Open creates path if needed and takes the exclusive directory lock.
func Open(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("scratch: create %s: %w", path, err)
	}
	lock := flock.New(filepath.Join(path, LockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("scratch: lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &Dir{
		path:   path,
		lock:   lock,
		live:   make(map[string]*Artifact),
		suffix: func() int { return rand.IntN(maxSuffix) + 1 },
	}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.path }

// Close releases the directory lock. Artifacts that are still live are left
// on disk for the next sweep.
func (d *Dir) Close() error {
	if err := d.lock.Unlock(); err != nil {
		return fmt.Errorf("scratch: unlock %s: %w", d.path, err)
	}
	return nil
}

// Writable reports an error if the directory cannot be written to. It is
// used as a readiness check.
func (d *Dir) Writable() error {
	f, err := os.CreateTemp(d.path, ".probe-*")
	if err != nil {
		return fmt.Errorf("scratch: %s not writable: %w", d.path, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// NewArtifact reserves a file named after author for the given request. The
// file is created empty so concurrent reservations never collide; the
// synthesizer later replaces it.
func (d *Dir) NewArtifact(author string, requestID uuid.UUID) (*Artifact, error) {
	base := SanitizeName(author)
	for range reserveRetries {
		name := base + "-" + strconv.Itoa(d.suffix()) + Ext
		path := filepath.Join(d.path, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scratch: reserve %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("scratch: reserve %s: %w", name, err)
		}

		art := &Artifact{Path: path, RequestID: requestID, dir: d}
		d.mu.Lock()
		d.live[path] = art
		d.mu.Unlock()
		return art, nil
	}
	return nil, fmt.Errorf("scratch: no free file name for %q after %d attempts", base, reserveRetries)
}

// Live returns the number of artifacts that have not been removed yet.
func (d *Dir) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

func (d *Dir) isLive(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.live[path]
	return ok
}

func (d *Dir) forget(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.live, path)
}

// SanitizeName turns a display name into a safe file name stem. Letters and
// digits are kept, everything else becomes an underscore. An empty result
// becomes "anonymous".
func SanitizeName(name string) string {
	var b strings.Builder
	n := 0
	for _, r := range name {
		if n == maxNameRunes {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		n++
	}
	s := strings.Trim(b.String(), "_-")
	if s == "" {
		return "anonymous"
	}
	return s
}

// Artifact is one synthesized audio file owned by a single request.
type Artifact struct {
	// Path is the absolute or scratch-relative file path.
	Path string

	// RequestID identifies the owning request.
	RequestID uuid.UUID

	dir  *Dir
	once sync.Once
	err  error
}

// Remove deletes the file. Only the first call touches the filesystem; later
// calls return the first call's result. A file that is already gone is not
// an error.
func (a *Artifact) Remove() error {
	a.once.Do(func() {
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.err = fmt.Errorf("scratch: remove %s: %w", filepath.Base(a.Path), err)
		}
		if a.dir != nil {
			a.dir.forget(a.Path)
		}
	})
	return a.err
}
