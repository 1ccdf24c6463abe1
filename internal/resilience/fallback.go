package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/bingbong/pkg/provider/tts"
)

// ErrAllFailed wraps the last error once every backend failed or was
// skipped because its breaker is open.
var ErrAllFailed = errors.New("all speech backends failed")

// FallbackConfig configures a [SynthesizerFallback].
type FallbackConfig struct {
	// CircuitBreaker is the template for every backend's breaker. Its Name
	// is replaced by the backend name.
	CircuitBreaker CircuitBreakerConfig

	// Permanent reports errors caused by the request itself. They end the
	// chain at once since every backend would reject the request again, and
	// they never count against a breaker unless CircuitBreaker.IsFailure is
	// set explicitly.
	Permanent func(error) bool
}

func (c FallbackConfig) permanent(err error) bool {
	return c.Permanent != nil && c.Permanent(err)
}

// BreakerStatus is the breaker state of one backend.
type BreakerStatus struct {
	Name  string
	State State
}

type backend struct {
	name    string
	synth   tts.Synthesizer
	breaker *CircuitBreaker
}

// SynthesizerFallback is a [tts.Synthesizer] that tries its backends in
// registration order, each behind its own [CircuitBreaker].
//
// Backends must be added before the first call to Synthesize.
type SynthesizerFallback struct {
	cfg      FallbackConfig
	backends []backend
}

var _ tts.Synthesizer = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback returns a chain with primary as its first backend.
func NewSynthesizerFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *SynthesizerFallback {
	f := &SynthesizerFallback{cfg: cfg}
	f.AddFallback(primaryName, primary)
	return f
}

// AddFallback appends a backend to the chain.
func (f *SynthesizerFallback) AddFallback(name string, s tts.Synthesizer) {
	bc := f.cfg.CircuitBreaker
	bc.Name = name
	if bc.IsFailure == nil && f.cfg.Permanent != nil {
		bc.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !f.cfg.permanent(err)
		}
	}
	f.backends = append(f.backends, backend{name: name, synth: s, breaker: NewCircuitBreaker(bc)})
}

// Len returns the number of backends, the primary included.
func (f *SynthesizerFallback) Len() int { return len(f.backends) }

// Synthesize writes speech for req to path with the first backend that
// succeeds. Backends replace path atomically, so a failed attempt leaves
// nothing behind for the next one.
func (f *SynthesizerFallback) Synthesize(ctx context.Context, req tts.Request, path string) (tts.Result, error) {
	var lastErr error
	for i, b := range f.backends {
		var res tts.Result
		err := b.breaker.Execute(func() error {
			var err error
			res, err = b.synth.Synthesize(ctx, req, path)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Debug("resilience: served by fallback backend", "backend", b.name)
			}
			return res, nil
		}
		if f.cfg.permanent(err) {
			slog.Debug("resilience: request rejected, not trying other backends", "backend", b.name, "err", err)
			return tts.Result{}, err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		switch {
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: skipping backend with open breaker", "backend", b.name)
		case i < len(f.backends)-1:
			slog.Warn("resilience: backend failed, trying next", "backend", b.name, "err", err)
		}
	}
	return tts.Result{}, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Status returns the breaker state of every backend in try order.
func (f *SynthesizerFallback) Status() []BreakerStatus {
	out := make([]BreakerStatus, len(f.backends))
	for i, b := range f.backends {
		out[i] = BreakerStatus{Name: b.name, State: b.breaker.State()}
	}
	return out
}

// Healthy reports whether any backend would accept a request right now.
func (f *SynthesizerFallback) Healthy() bool {
	for _, b := range f.backends {
		if b.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}
