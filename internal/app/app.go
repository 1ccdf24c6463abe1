// Package app wires all bot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run blocks while the bot serves Discord, and Shutdown drains
// the queue and tears everything down in order.
//
// For testing, inject doubles via functional options (WithGateway,
// WithSynthesizer, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/bingbong/internal/config"
	"github.com/MrWong99/bingbong/internal/discord"
	"github.com/MrWong99/bingbong/internal/discord/commands"
	"github.com/MrWong99/bingbong/internal/health"
	"github.com/MrWong99/bingbong/internal/observe"
	"github.com/MrWong99/bingbong/internal/playback"
	"github.com/MrWong99/bingbong/internal/relay"
	"github.com/MrWong99/bingbong/internal/resilience"
	"github.com/MrWong99/bingbong/internal/scratch"
	"github.com/MrWong99/bingbong/internal/ttsqueue"
	"github.com/MrWong99/bingbong/pkg/audio"
	"github.com/MrWong99/bingbong/pkg/provider/tts"
	"github.com/MrWong99/bingbong/pkg/provider/tts/azure"
)

// httpShutdownTimeout bounds the graceful stop of the HTTP listener.
const httpShutdownTimeout = 5 * time.Second

// Gateway is the Discord connection as seen by the app. [*discord.Bot]
// implements it.
type Gateway interface {
	Platform() audio.Platform
	State() *discordgo.State
	Replier() discord.MessageReplier
	UserID() string
	ListenMessages(in *discord.Intake)
	OnVoiceStateUpdate(fn func(guildID string))
	Healthy() error
	Run(ctx context.Context) error
	Close() error
}

var _ Gateway = (*discord.Bot)(nil)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics
	levels  *slog.LevelVar

	// Injected or built in New.
	gateway        Gateway
	synth          tts.Synthesizer
	watcher        *config.Watcher
	metricsHandler http.Handler
	playbackOpts   []playback.Option

	scratch  *scratch.Dir
	sweeper  *scratch.Sweeper
	speech   *resilience.SynthesizerFallback
	player   *playback.Controller
	idle     *playback.IdleWatcher
	queue    *ttsqueue.Queue
	relay    *relay.Relay
	registry *discord.Registry
	intake   *discord.Intake
	apps     *commands.Apps
	health   *health.Handler
	handler  http.Handler
	server   *http.Server

	// cancelQueue stops the request in flight once draining gives up.
	cancelQueue context.CancelFunc

	// closers are called in order during Shutdown.
	closers []closer

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

type closer struct {
	name string
	fn   func() error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGateway injects the Discord connection instead of dialing one.
func WithGateway(g Gateway) Option {
	return func(a *App) { a.gateway = g }
}

// WithSynthesizer replaces the Azure clients built from config. The
// synthesizer is still wrapped in a circuit breaker.
func WithSynthesizer(s tts.Synthesizer) Option {
	return func(a *App) { a.synth = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level through lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levels = lv }
}

// WithWatcher runs w alongside the bot. Its callback should forward to
// [App.ApplyConfig].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithPlaybackOptions passes opts to the playback controller.
func WithPlaybackOptions(opts ...playback.Option) Option {
	return func(a *App) { a.playbackOpts = append(a.playbackOpts, opts...) }
}

// New creates all subsystems from cfg and connects to Discord. On error,
// everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		a.runClosers()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	dir, err := scratch.Open(cfg.Storage.ScratchDir)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.scratch = dir
	a.sweeper = scratch.NewSweeper(dir, cfg.Storage.MaxArtifactAge)
	a.addCloser("sweeper", func() error { a.sweeper.Stop(); return nil })
	a.addCloser("scratch", dir.Close)

	if err := a.initSpeech(); err != nil {
		return err
	}

	a.registry = discord.NewRegistry(discord.WithMetrics(a.metrics))
	if a.gateway == nil {
		bot, err := discord.New(ctx, discord.Config{
			Token:   cfg.Discord.Token,
			GuildID: cfg.Discord.GuildID,
		}, a.registry)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.gateway = bot
	}
	// Voice sessions must end before the gateway closes.
	a.closers = append([]closer{{name: "gateway", fn: a.gateway.Close}}, a.closers...)

	hookCtx := context.WithoutCancel(ctx)
	playerOpts := append([]playback.Option{
		playback.WithSessionHook(func(delta int) {
			a.metrics.ActiveVoiceSessions.Add(hookCtx, int64(delta))
		}),
	}, a.playbackOpts...)
	a.player = playback.NewController(a.gateway.Platform(), playerOpts...)
	a.closers = append([]closer{{name: "playback", fn: a.player.Close}}, a.closers...)

	a.relay = relay.New(relay.Config{
		Store:           dir,
		Synthesizer:     a.speech,
		Player:          a.player,
		Metrics:         a.metrics,
		SpeechTimeout:   cfg.Speech.Timeout,
		PlaybackTimeout: cfg.Playback.Timeout,
	})

	queueCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancelQueue = cancel
	a.queue = ttsqueue.New(queueCtx, a.relay.Process, ttsqueue.WithDepthHook(func(depth int) {
		a.metrics.QueueDepth.Record(hookCtx, int64(depth))
	}))

	a.apps = commands.NewApps(cfg.Discord.AppsURL)
	if err := commands.Register(a.registry, a.apps, a.queue); err != nil {
		return fmt.Errorf("app: register commands: %w", err)
	}

	a.intake = discord.NewIntake(a.gateway.State(), a.gateway.Replier(), a.queue, cfg.Discord.TTSChannel, a.metrics)
	a.gateway.ListenMessages(a.intake)

	a.idle = playback.NewIdleWatcher(a.player, discord.NewStateRoster(a.gateway.State()), a.gateway.UserID())
	a.gateway.OnVoiceStateUpdate(func(guildID string) { a.idle.Check(guildID) })

	a.initHTTP()
	return nil
}

// initSpeech builds the synthesizer chain: the injected synthesizer or the
// primary Azure resource, followed by the configured fallbacks, each behind
// its own circuit breaker.
func (a *App) initSpeech() error {
	sc := a.cfg.Speech
	fallbackCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  sc.Breaker.MaxFailures,
			ResetTimeout: sc.Breaker.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("app: speech breaker changed state", "backend", name, "from", from, "to", to)
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
		Permanent: azure.IsClientError,
	}

	if a.synth != nil {
		a.speech = resilience.NewSynthesizerFallback(a.synth, "primary", fallbackCfg)
		return nil
	}

	primary, err := a.newAzure(sc.Key, sc.Region)
	if err != nil {
		return err
	}
	a.speech = resilience.NewSynthesizerFallback(primary, sc.Region, fallbackCfg)
	for i, fb := range sc.Fallbacks {
		client, err := a.newAzure(fb.Key, fb.Region)
		if err != nil {
			return fmt.Errorf("app: speech fallback %d: %w", i, err)
		}
		a.speech.AddFallback(fmt.Sprintf("%s#%d", fb.Region, i+1), client)
	}
	slog.Info("app: speech backends ready", "primary", sc.Region, "fallbacks", len(sc.Fallbacks), "voice", sc.Voice)
	return nil
}

func (a *App) newAzure(key, region string) (*azure.Client, error) {
	c, err := azure.New(key, region,
		azure.WithVoice(a.cfg.Speech.Voice),
		azure.WithOutputFormat(a.cfg.Speech.OutputFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return c, nil
}

func (a *App) initHTTP() {
	a.health = health.New(
		health.Func("gateway", a.gateway.Healthy),
		health.Func("speech", func() error {
			if !a.speech.Healthy() {
				return errors.New("all speech backends are open")
			}
			return nil
		}),
		health.Func("scratch", a.scratch.Writable),
	)

	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	if a.cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              a.cfg.Server.ListenAddr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Handler returns the HTTP handler serving health probes and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Intake returns the message intake.
func (a *App) Intake() *discord.Intake { return a.intake }

// Registry returns the slash command registry.
func (a *App) Registry() *discord.Registry { return a.registry }

// Queue returns the request queue.
func (a *App) Queue() *ttsqueue.Queue { return a.queue }

// Run starts the sweeper, the config watcher and the HTTP server, then
// blocks until ctx is cancelled or the gateway fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.sweeper.Start(a.cfg.Storage.SweepSchedule); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.gateway.Run(gctx) })

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	if a.server != nil {
		g.Go(func() error {
			slog.Info("app: http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.health.SetDraining()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	slog.Info("app: running", "tts_channel", a.intake.Channel())
	return g.Wait()
}

// ApplyConfig applies the hot-reloadable differences between old and cur
// and logs the keys that need a restart.
func (a *App) ApplyConfig(old, cur *config.Config) {
	d := config.Diff(old, cur)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.levels != nil {
		a.levels.Set(d.NewLogLevel.SlogLevel())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.TTSChannelChanged {
		a.intake.SetChannel(d.NewTTSChannel)
		slog.Info("app: tts channel changed", "channel", d.NewTTSChannel)
	}
	if d.AppsURLChanged {
		a.apps.SetURL(d.NewAppsURL)
		slog.Info("app: apps url changed", "url", d.NewAppsURL)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart", "keys", d.RestartRequired)
	}
}

// Shutdown stops accepting messages, waits for the queue to drain until ctx
// expires, then closes voice sessions, the gateway and the scratch
// directory. Closers run even after the deadline so no connection leaks.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "pending", a.queue.Len(), "closers", len(a.closers))

		a.health.SetDraining()
		a.queue.Close()
		if err := a.queue.Wait(ctx); err != nil {
			slog.Warn("app: queue not drained before deadline", "pending", a.queue.Len(), "err", err)
			shutdownErr = err
		}
		a.cancelQueue()

		a.runClosers()
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		if err := c.fn(); err != nil {
			slog.Warn("app: closer error", "name", c.name, "err", err)
		}
	}
	a.closers = nil
}
