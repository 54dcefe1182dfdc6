// Package reqtrack tracks the currently handled request for the duration
// of a pipeline invocation, so that epilogues, exception translators, and
// nested Plug invokes all observe the same request identity and logger
// even when the handling stage suspended on I/O in between.
package reqtrack

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

type ctxKey struct{}

// Request is one hop of request handling: a single feature-pipeline
// invocation, possibly nested inside a parent hop via a local:// Plug
// invoke (spec §4.3 reentrancy).
type Request struct {
	ID     string  // external request-id, stable across nested hops
	SpanID xid.ID  // unique per hop, for log correlation
	Parent *Request

	URI       string
	StartTime time.Time
	Logger    *zerolog.Logger
}

// New creates a RequestTracker backed by rootLogger, the logger used for
// any log call made outside of a request's lifetime. It stamps each
// hop's StartTime from the real wall clock.
func New(rootLogger zerolog.Logger) *RequestTracker {
	return NewWithClock(rootLogger, clock.New())
}

// NewWithClock is New with an injectable clock, so tests can control
// StartTime with clock.NewMock() instead of racing the wall clock.
func NewWithClock(rootLogger zerolog.Logger, clk clock.Clock) *RequestTracker {
	return &RequestTracker{rootLogger: rootLogger, clock: clk}
}

type RequestTracker struct {
	rootLogger zerolog.Logger
	clock      clock.Clock
}

// BeginRequest derives a new Request for ctx, chaining it to any request
// already active on ctx (the "reentrant hop" case). The parent's id is
// inherited; its logger becomes the new hop's logger unless req already
// sets one.
func (t *RequestTracker) BeginRequest(ctx context.Context, req *Request) (context.Context, *Request) {
	if parent, ok := current(ctx); ok {
		req.Parent = parent
		if req.ID == "" {
			req.ID = parent.ID
		}
		if req.Logger == nil {
			req.Logger = parent.Logger
		}
	}
	if req.SpanID.IsZero() {
		req.SpanID = xid.New()
	}
	if req.Logger == nil {
		l := t.rootLogger.With().Str("request_id", req.ID).Logger()
		req.Logger = &l
	}
	if req.StartTime.IsZero() {
		req.StartTime = t.clock.Now()
	}
	return context.WithValue(ctx, ctxKey{}, req), req
}

// Current returns the active Request for ctx, or false if none.
func (t *RequestTracker) Current(ctx context.Context) (*Request, bool) {
	return current(ctx)
}

// Logger returns the logger attached to ctx's request, or the root logger
// if no request is active.
func (t *RequestTracker) Logger(ctx context.Context) *zerolog.Logger {
	if req, ok := current(ctx); ok && req.Logger != nil {
		return req.Logger
	}
	return &t.rootLogger
}

// Depth reports how many hops deep the current request chain is,
// counting from 1 for the outermost hop, and 0 when ctx carries no
// request.
func (t *RequestTracker) Depth(ctx context.Context) int {
	req, ok := current(ctx)
	if !ok {
		return 0
	}
	depth := 0
	for r := req; r != nil; r = r.Parent {
		depth++
	}
	return depth
}

// FromContext returns the active Request for ctx, or false if none. Unlike
// Current it needs no RequestTracker reference, for callers (e.g. the
// default prologue/epilogue) that only need the request's URI or logger
// and weren't handed a tracker instance.
func FromContext(ctx context.Context) (*Request, bool) {
	return current(ctx)
}

func current(ctx context.Context) (*Request, bool) {
	req, ok := ctx.Value(ctxKey{}).(*Request)
	return req, ok
}
