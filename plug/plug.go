// Package plug implements the client handle bound to a URI that
// resolves the best matching endpoint and performs an invoke (spec §3
// "Plug"). A Plug never knows whether its target is local (handled
// in-process by the Host) or remote (an HTTP round trip) — that
// decision belongs entirely to the Transport it's built with.
package plug

import (
	"context"
	"time"

	"dream/internal/errs"
	"dream/message"
	"dream/uri"
)

// Transport performs one verb invoke against a resolved URI. The Host
// installs a local Transport (see transport.LocalTransport in
// dream/host/transport) for local://
// addresses; HTTPTransport below handles everything else.
type Transport interface {
	Invoke(ctx context.Context, target uri.URI, verb string, req *message.Message) (*message.Message, error)
}

// DefaultTimeout is applied to an invoke when the caller's context
// carries no earlier deadline (spec §5: "every outbound Plug call
// carries an explicit timeout").
const DefaultTimeout = 30 * time.Second

// Plug is a client handle bound to a URI.
type Plug struct {
	target    uri.URI
	transport Transport
	timeout   time.Duration
}

// New returns a Plug bound to target, invoking through transport.
func New(target uri.URI, transport Transport) *Plug {
	return &Plug{target: target, transport: transport, timeout: DefaultTimeout}
}

// At derives a child Plug whose URI has its path replaced.
func (p *Plug) At(segments ...string) *Plug {
	return &Plug{target: p.target.At(segments...), transport: p.transport, timeout: p.timeout}
}

// WithTimeout derives a Plug using a different invoke timeout.
func (p *Plug) WithTimeout(d time.Duration) *Plug {
	return &Plug{target: p.target, transport: p.transport, timeout: d}
}

// URI reports the Plug's bound target.
func (p *Plug) URI() uri.URI { return p.target }

// Invoke performs verb against the Plug's target, enforcing the Plug's
// timeout unless ctx already carries an earlier deadline. A timeout is
// surfaced as an errs.Timeout error (spec §7).
func (p *Plug) Invoke(ctx context.Context, verb string, req *message.Message) (*message.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.transport.Invoke(ctx, p.target, verb, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.B().Code(errs.Timeout).Cause(err).Msgf("invoke %s %s timed out", verb, p.target).Err()
		}
		return nil, errs.Wrap(err, "invoke "+verb+" "+p.target.String())
	}
	return resp, nil
}

// Get is shorthand for Invoke(ctx, "GET", nil).
func (p *Plug) Get(ctx context.Context) (*message.Message, error) {
	return p.Invoke(ctx, "GET", nil)
}

// Post is shorthand for Invoke(ctx, "POST", req).
func (p *Plug) Post(ctx context.Context, req *message.Message) (*message.Message, error) {
	return p.Invoke(ctx, "POST", req)
}
