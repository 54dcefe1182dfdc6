package dispatcher

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"dream/message"
	"dream/plug"
	"dream/uri"
)

// StartChaining registers this dispatcher at every downstream peer for
// pubsub://*/** (so the downstream's combined set merges into this
// dispatcher's outgoing view) and registers a listener subscription at
// every upstream peer (so this dispatcher receives the upstream's
// events) — spec §4.5 "Chaining". The loop guard in Dispatch (E.via)
// prevents the resulting propagation from cycling. Each registration
// runs in its own goroutine and retries with backoff, since a peer may
// not be reachable yet at process startup.
func (d *Dispatcher) StartChaining(ctx context.Context, transport plug.Transport, downstreamURIs, upstreamURIs []string) {
	for _, raw := range downstreamURIs {
		go d.registerAtWithRetry(ctx, transport, raw)
	}
	for _, raw := range upstreamURIs {
		go d.registerAtWithRetry(ctx, transport, raw)
	}
}

// registerAtWithRetry retries a failed chaining registration with
// exponential backoff until ctx is done, since a downstream/upstream
// peer named in config may come up after this process does.
func (d *Dispatcher) registerAtWithRetry(ctx context.Context, transport plug.Transport, peerURI string) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry indefinitely; only ctx cancellation stops it

	err := backoff.Retry(func() error {
		return d.registerAt(ctx, transport, peerURI)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		d.Logger.Warn().Str("uri", peerURI).Err(err).Msg("gave up on chaining subscription registration")
	}
}

func (d *Dispatcher) registerAt(ctx context.Context, transport plug.Transport, peerURI string) error {
	target, err := uri.Parse(peerURI)
	if err != nil {
		d.Logger.Warn().Str("uri", peerURI).Err(err).Msg("invalid chaining peer uri, skipping")
		return backoff.Permanent(err)
	}

	req := message.New()
	req.Body.Document = map[string]interface{}{
		"owner-uri": d.SelfURI,
		"subscriptions": []map[string]interface{}{
			{"channels": []string{UpstreamChannel}},
		},
	}

	resp, err := transport.Invoke(ctx, target.At("subscribers"), "POST", req)
	if err != nil {
		return err
	}
	if resp == nil || !resp.IsSuccess() {
		return fmt.Errorf("chaining registration at %s did not succeed", peerURI)
	}
	d.Logger.Info().Str("uri", peerURI).Msg("chaining subscription registered")
	return nil
}
