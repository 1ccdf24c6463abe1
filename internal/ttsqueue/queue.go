// Package ttsqueue serialises text-to-speech requests.
//
// A [Queue] holds pending [Request] values in arrival order and hands them,
// one at a time, to a [Processor]. At most one request is being processed at
// any moment: the first Enqueue on an idle queue starts a single drain
// goroutine which keeps popping items until the queue is empty, then returns
// the queue to [Idle].
package ttsqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by [Queue.Enqueue] after [Queue.Close].
var ErrClosed = errors.New("ttsqueue: queue is closed")

// State is the drain state of a [Queue].
type State int

const (
	// Idle means no request is being processed and the queue is empty.
	Idle State = iota

	// Draining means a request is in flight. Further requests wait their turn.
	Draining
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Request is one chat message waiting to be spoken.
type Request struct {
	// ID uniquely identifies the request in logs and artifact ownership.
	ID uuid.UUID

	// Author is the display name of the message author.
	Author string

	// Text is the raw message content, style prefix included.
	Text string

	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	MessageID      string

	// EnqueuedAt is set by [Queue.Enqueue].
	EnqueuedAt time.Time
}

// Processor handles a single request. Its outcome does not influence the
// queue: once it returns, the next request is started.
type Processor func(ctx context.Context, req Request)

// Option configures a [Queue].
type Option func(*Queue)

// WithDepthHook registers fn to be called with the number of pending
// requests whenever it changes. fn runs with no queue locks held.
func WithDepthHook(fn func(depth int)) Option {
	return func(q *Queue) { q.onDepth = fn }
}

// Queue is a FIFO of [Request] values drained by a single goroutine.
//
// Queue is safe for concurrent use.
type Queue struct {
	ctx     context.Context
	process Processor
	onDepth func(int)

	mu     sync.Mutex
	items  []Request
	state  State
	closed bool
	idle   chan struct{} // closed while the queue is idle
}

// New creates an idle queue. ctx is passed to every Processor call.
func New(ctx context.Context, process Processor, opts ...Option) *Queue {
	idle := make(chan struct{})
	close(idle)
	q := &Queue{
		ctx:     ctx,
		process: process,
		idle:    idle,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends req. If the queue is idle, draining starts immediately in
// a new goroutine. The request ID and timestamp are filled in when unset.
func (q *Queue) Enqueue(req Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, req)
	depth := len(q.items)
	start := q.state == Idle
	if start {
		q.state = Draining
		q.idle = make(chan struct{})
	}
	q.mu.Unlock()

	q.notifyDepth(depth)
	if start {
		go q.drain()
	}
	return nil
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.state = Idle
			close(q.idle)
			q.mu.Unlock()
			return
		}
		req := q.items[0]
		q.items[0] = Request{}
		q.items = q.items[1:]
		depth := len(q.items)
		q.mu.Unlock()

		q.notifyDepth(depth)
		q.run(req)
	}
}

func (q *Queue) run(req Request) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ttsqueue: processor panicked",
				"request_id", req.ID,
				"panic", fmt.Sprint(r))
		}
	}()
	q.process(q.ctx, req)
}

func (q *Queue) notifyDepth(depth int) {
	if q.onDepth != nil {
		q.onDepth(depth)
	}
}

// Len returns the number of pending requests, excluding the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// State returns the current drain state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Snapshot returns a copy of the pending requests in processing order.
func (q *Queue) Snapshot() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Request, len(q.items))
	copy(out, q.items)
	return out
}

// Close stops the queue from accepting new requests. Pending requests are
// still processed. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Wait blocks until the queue is idle or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
