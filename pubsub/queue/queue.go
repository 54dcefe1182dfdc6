// Package queue implements the per-subscription-set Dispatch Queue
// contract (spec §4.6): Enqueue returns immediately, a background
// worker drains the queue through a caller-supplied dequeue handler,
// and Dispose/DeleteAndDispose stop the worker with or without
// discarding pending state.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/exp/constraints"
)

// Item is one Dispatch Item: an event bound for one destination out of
// one subscription Set's queue (spec §4.5 step 4, §4.6 record shape).
type Item struct {
	Destination   string
	SetLocation   string
	EventID       string
	EventChannel  string
	EventResource string
	Origins       []string
	Recipients    []string
	Via           []string
	ContentType   string
	Body          []byte
}

// DequeueHandler delivers one item and reports whether delivery
// succeeded. A worker retries a failed item in place before advancing.
type DequeueHandler func(ctx context.Context, item Item) bool

// Queue is the contract a Dispatcher drives every subscription Set's
// delivery through (spec §4.6).
type Queue interface {
	Enqueue(item Item)
	Start(ctx context.Context, handler DequeueHandler)
	Dispose()
	DeleteAndDispose()
	Len() int
}

// Clamp bounds v to [lo, hi], used to cap the additive backoff
// multiplier (spec §4.5 "additive up to 10x, then capped").
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BackoffStep returns the backoff duration to sleep after the n-th
// consecutive failure (n starting at 1): step*n, capped at step*maxMult.
func BackoffStep(step time.Duration, maxMult, n int) time.Duration {
	return step * time.Duration(Clamp(n, 1, maxMult))
}

// Memory is the in-process linked-FIFO queue variant (spec §4.6 "Memory
// variant"): items are lost on Dispose, there is no persisted state.
type Memory struct {
	clock clock.Clock

	backoffStep   time.Duration
	backoffMaxMul int

	mu      sync.Mutex
	items   []Item
	closed  bool
	stopCh  chan struct{}
	wake    chan struct{}
	started bool
}

// NewMemory returns a Memory queue using clk for its backoff sleeps (a
// real clock in production, a mock in tests) and the configured backoff
// step/multiplier cap (config.QueueConfig.BackoffStep/BackoffMaxMultiplier).
func NewMemory(clk clock.Clock, backoffStep time.Duration, backoffMaxMul int) *Memory {
	if clk == nil {
		clk = clock.New()
	}
	return &Memory{
		clock:         clk,
		backoffStep:   backoffStep,
		backoffMaxMul: backoffMaxMul,
		stopCh:        make(chan struct{}),
		wake:          make(chan struct{}, 1),
	}
}

func (q *Memory) Enqueue(item Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Start launches the drain worker. It blocks until the queue is
// disposed or ctx is canceled, so callers invoke it in its own
// goroutine (mirroring the Dispatcher's per-set worker lifecycle).
func (q *Memory) Start(ctx context.Context, handler DequeueHandler) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	failures := 0
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-q.wake:
				continue
			}
		}
		head := q.items[0]
		q.mu.Unlock()

		if handler(ctx, head) {
			failures = 0
			q.mu.Lock()
			q.items = q.items[1:]
			q.mu.Unlock()
			continue
		}

		failures++
		wait := BackoffStep(q.backoffStep, q.backoffMaxMul, failures)
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-q.clock.After(wait):
		}
	}
}

// Dispose stops the worker; pending items are dropped (this variant
// keeps no persisted state to resume from).
func (q *Memory) Dispose() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.stopCh)
	}
	q.mu.Unlock()
}

// DeleteAndDispose is equivalent to Dispose for the memory variant: there
// is no persisted state to erase.
func (q *Memory) DeleteAndDispose() {
	q.Dispose()
}
