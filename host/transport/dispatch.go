package transport

import (
	"context"

	"dream/message"
	"dream/plug"
	"dream/uri"
)

// DispatchTransport routes an invoke to LocalTransport for local:// targets
// and to Remote (an HTTP client transport) for everything else, so a
// single Plug — or a script action — never has to know in advance
// whether its target lives in this process (spec §3 "A Plug never knows
// whether its target is local or remote").
type DispatchTransport struct {
	Local  *LocalTransport
	Remote plug.Transport
}

func NewDispatchTransport(local *LocalTransport, remote plug.Transport) *DispatchTransport {
	return &DispatchTransport{Local: local, Remote: remote}
}

func (t *DispatchTransport) Invoke(ctx context.Context, target uri.URI, verb string, req *message.Message) (*message.Message, error) {
	if target.IsLocal() {
		return t.Local.Invoke(ctx, target, verb, req)
	}
	return t.Remote.Invoke(ctx, target, verb, req)
}
