// Package health serves the bot's liveness and readiness probes.
//
// GET /healthz answers 200 while the process can serve HTTP. GET /readyz
// answers 200 only while the bot accepts messages and every registered
// check passes, for example the Discord gateway, the speech backends and
// the scratch directory. Both endpoints return a JSON [Report].
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckTimeout bounds a single readiness check.
const CheckTimeout = 5 * time.Second

// Status values used in a [Report].
const (
	StatusOK       = "ok"
	StatusFail     = "fail"
	StatusDraining = "draining"
)

// Checker is a named readiness check. Check returns nil while the
// dependency is usable and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Func wraps a probe that needs no context.
func Func(name string, probe func() error) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return probe() }}
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the JSON body of both probes.
type Report struct {
	Status        string                 `json:"status"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Checks        map[string]CheckResult `json:"checks,omitempty"`
}

// Handler evaluates checks and serves the probe endpoints. The check list
// is fixed by [New].
type Handler struct {
	checkers []Checker
	started  time.Time
	draining atomic.Bool
}

// New returns a handler running checkers concurrently on each readiness
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
	}
}

// SetDraining makes readiness fail from now on. It is called when the bot
// starts shutting down.
func (h *Handler) SetDraining() { h.draining.Store(true) }

// Draining reports whether [Handler.SetDraining] was called.
func (h *Handler) Draining() bool { return h.draining.Load() }

// Ready runs every check and returns the combined report.
func (h *Handler) Ready(ctx context.Context) Report {
	rep := Report{
		Status:        StatusOK,
		UptimeSeconds: h.uptime(),
		Checks:        make(map[string]CheckResult, len(h.checkers)),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			res := runCheck(ctx, c)
			mu.Lock()
			rep.Checks[c.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range rep.Checks {
		if res.Status != StatusOK {
			rep.Status = StatusFail
		}
	}
	if h.Draining() {
		rep.Status = StatusDraining
	}
	return rep
}

func runCheck(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{Status: StatusOK, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = StatusFail
		res.Error = err.Error()
	}
	return res
}

func (h *Handler) uptime() int64 { return int64(time.Since(h.started).Seconds()) }

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK, UptimeSeconds: h.uptime()})
}

// Readyz is the readiness probe. It answers 503 unless the report is ok.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Ready(r.Context())
	code := http.StatusOK
	if rep.Status != StatusOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
