// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to write controlled audio bytes to the requested path and
// to verify that the expected requests reached the backend.
//
// Example:
//
//	s := &mock.Synthesizer{Audio: []byte("ID3...")}
//	res, err := s.Synthesize(ctx, tts.Request{Style: "sad", Text: "hi"}, "/tmp/a.mp3")
package mock

import (
	"context"
	"os"
	"sync"

	"github.com/MrWong99/bingbong/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Request is the request passed to Synthesize.
	Request tts.Request
	// Path is the destination path passed to Synthesize.
	Path string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is written to the destination path on success.
	Audio []byte

	// Err, if non-nil, is returned from every call and no file is written.
	Err error

	// Format is reported in the returned Result.
	Format string

	// Hook, if set, runs before the file is written. A non-nil return value
	// is returned as the synthesis error. Tests use it to block or to vary
	// latency per request.
	Hook func(ctx context.Context, req tts.Request) error

	calls []SynthesizeCall
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request, path string) (tts.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, SynthesizeCall{Request: req, Path: path})
	hook, audio, err, format := s.Hook, s.Audio, s.Err, s.Format
	s.mu.Unlock()

	if hook != nil {
		if hErr := hook(ctx, req); hErr != nil {
			return tts.Result{}, hErr
		}
	}
	if err != nil {
		return tts.Result{}, err
	}
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return tts.Result{}, err
	}
	return tts.Result{Path: path, Bytes: int64(len(audio)), Format: format}, nil
}

// Calls returns a copy of all recorded calls.
func (s *Synthesizer) Calls() []SynthesizeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SynthesizeCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Reset clears recorded calls.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
