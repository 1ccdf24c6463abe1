// Package relay runs one queued message through the full speech cycle:
// style parsing, synthesis into a scratch artifact, playback in the author's
// voice channel, and cleanup.
//
// [Relay.Process] is a [ttsqueue.Processor]. It never returns an error: every
// failure is logged, counted and swallowed so the queue advances to the next
// message.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/bingbong/internal/observe"
	"github.com/MrWong99/bingbong/internal/playback"
	"github.com/MrWong99/bingbong/internal/resilience"
	"github.com/MrWong99/bingbong/internal/scratch"
	"github.com/MrWong99/bingbong/internal/style"
	"github.com/MrWong99/bingbong/internal/ttsqueue"
	"github.com/MrWong99/bingbong/pkg/provider/tts"
	"github.com/MrWong99/bingbong/pkg/provider/tts/azure"
)

// Synthesis error kinds reported to metrics.
const (
	kindTimeout     = "timeout"
	kindCircuitOpen = "circuit_open"
	kindRejected    = "rejected"
	kindBackend     = "backend"
	kindOther       = "other"
)

// ArtifactStore reserves scratch files for synthesized audio.
type ArtifactStore interface {
	NewArtifact(author string, requestID uuid.UUID) (*scratch.Artifact, error)
}

// Player plays an artifact into a voice channel and removes it afterwards.
type Player interface {
	Play(ctx context.Context, target playback.Target, art *scratch.Artifact) error
}

// Config holds the collaborators and limits of a [Relay].
type Config struct {
	Store       ArtifactStore
	Synthesizer tts.Synthesizer
	Player      Player

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// SpeechTimeout bounds one synthesis call. Zero means no limit.
	SpeechTimeout time.Duration

	// PlaybackTimeout bounds joining and playing one artifact. Zero means
	// no limit.
	PlaybackTimeout time.Duration
}

// Relay processes queued requests one at a time.
type Relay struct {
	store           ArtifactStore
	synth           tts.Synthesizer
	player          Player
	metrics         *observe.Metrics
	speechTimeout   time.Duration
	playbackTimeout time.Duration
}

// New creates a Relay from cfg.
func New(cfg Config) *Relay {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Relay{
		store:           cfg.Store,
		synth:           cfg.Synthesizer,
		player:          cfg.Player,
		metrics:         m,
		speechTimeout:   cfg.SpeechTimeout,
		playbackTimeout: cfg.PlaybackTimeout,
	}
}

// Process runs req to completion. It satisfies [ttsqueue.Processor].
func (r *Relay) Process(ctx context.Context, req ttsqueue.Request) {
	ctx = observe.WithRequestID(ctx, req.ID.String())
	ctx, span := observe.StartSpan(ctx, "relay.process",
		trace.WithAttributes(
			attribute.String("guild.id", req.GuildID),
			attribute.String("voice.channel.id", req.VoiceChannelID),
		),
	)
	defer span.End()
	log := observe.Logger(ctx)

	if !req.EnqueuedAt.IsZero() {
		r.metrics.QueueWait.Record(ctx, time.Since(req.EnqueuedAt).Seconds())
	}

	u := style.Parse(req.Text)
	span.SetAttributes(attribute.String("speech.style", string(u.Style)))
	log = log.With("author", req.Author, "style", u.Style)

	art, err := r.store.NewArtifact(req.Author, req.ID)
	if err != nil {
		log.Error("relay: cannot reserve artifact", "err", err)
		r.fail(ctx, span, observe.StatusSynthesisFailed, err)
		return
	}
	// Play removes the artifact itself; this covers the synthesis failure
	// path. Remove is idempotent.
	defer func() {
		if err := art.Remove(); err != nil {
			log.Warn("relay: artifact cleanup failed", "path", art.Path, "err", err)
		}
	}()

	res, err := r.synthesize(ctx, u, art.Path)
	if err != nil {
		kind := synthesisErrorKind(err)
		log.Error("relay: synthesis failed", "kind", kind, "err", err)
		r.metrics.RecordSynthesisError(ctx, kind)
		r.fail(ctx, span, observe.StatusSynthesisFailed, err)
		return
	}
	log.Debug("relay: synthesized", "size", humanize.Bytes(uint64(res.Bytes)), "format", res.Format)

	target := playback.Target{GuildID: req.GuildID, ChannelID: req.VoiceChannelID}
	if err := r.play(ctx, target, art); err != nil {
		log.Error("relay: playback failed", "channel_id", req.VoiceChannelID, "err", err)
		r.metrics.PlaybackErrors.Add(ctx, 1)
		r.fail(ctx, span, observe.StatusPlaybackFailed, err)
		return
	}

	r.metrics.RecordRequest(ctx, observe.StatusPlayed)
	log.Info("relay: message played", "enqueued", humanize.RelTime(req.EnqueuedAt, time.Now(), "ago", "from now"))
}

func (r *Relay) synthesize(ctx context.Context, u style.Utterance, path string) (tts.Result, error) {
	ctx, span := observe.StartSpan(ctx, "relay.synthesize")
	defer span.End()

	if r.speechTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.speechTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := r.synth.Synthesize(ctx, tts.Request{Style: string(u.Style), Text: u.Text}, path)
	r.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("style", string(u.Style))))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return tts.Result{}, err
	}
	r.metrics.SynthesizedBytes.Add(ctx, res.Bytes)
	span.SetAttributes(attribute.Int64("audio.bytes", res.Bytes))
	return res, nil
}

func (r *Relay) play(ctx context.Context, target playback.Target, art *scratch.Artifact) error {
	ctx, span := observe.StartSpan(ctx, "relay.play")
	defer span.End()

	if r.playbackTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.playbackTimeout)
		defer cancel()
	}

	start := time.Now()
	err := r.player.Play(ctx, target, art)
	r.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "playback failed")
	}
	return err
}

func (r *Relay) fail(ctx context.Context, span trace.Span, status string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, status)
	r.metrics.RecordRequest(ctx, status)
}

// synthesisErrorKind classifies err for the synthesis error counter.
func synthesisErrorKind(err error) string {
	var statusErr *azure.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return kindTimeout
	case errors.Is(err, resilience.ErrCircuitOpen):
		return kindCircuitOpen
	case azure.IsClientError(err):
		return kindRejected
	case errors.As(err, &statusErr):
		return kindBackend
	default:
		return kindOther
	}
}
