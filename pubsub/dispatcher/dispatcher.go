// Package dispatcher implements the Dispatcher (spec §4.5): the event
// match algorithm against the combined set, per-set Dispatch Queues,
// failure accounting that kicks or expires a set, and upstream/
// downstream chaining.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"dream/internal/errs"
	"dream/pubsub/queue"
	"dream/pubsub/subscription"
)

// DeliverFunc performs one outbound delivery, reporting success. The
// Dispatcher is transport-agnostic; the REST façade supplies a
// plug.Transport-backed implementation.
type DeliverFunc func(ctx context.Context, destination string, ev Event, recipients []string) bool

// UpdateChannel is the well-known channel an internal "combined set
// changed" event is emitted on (spec §4.4).
const UpdateChannel = "pubsub://%s/set/update"

// UpstreamChannel is the pattern an upstream-propagating listener
// subscribes on (spec §4.4 "pubsub://*/*"). It is spelled with the
// trailing `**` wildcard (matching any tail, spec §4.5 step 2) rather
// than a single `*`, since UpdateChannel carries two path segments
// ("set", "update") after the host — a plain single-segment `*` would
// only ever match a one-segment tail and must stay that way for
// user-registered subscription channels (spec §8 "channel:///foo/*"
// invariant). This constant is never exposed to subscribers; it is only
// ever used internally by chaining.go to register this dispatcher's own
// listener subscription.
const UpstreamChannel = "pubsub://*/**"

type failureState struct {
	count             int
	oldestFailedSince time.Time
}

// Dispatcher owns the registry, the per-set queues, and failure
// bookkeeping, and runs the event match algorithm.
type Dispatcher struct {
	SelfURI  string // this dispatcher's own service URI, for the loop guard
	Registry *subscription.Registry
	Repo     *queue.Repository
	Deliver  DeliverFunc
	Logger   zerolog.Logger

	sf singleflight.Group

	mu       sync.Mutex
	failures map[string]*failureState

	onCombinedSetChanged func([]CombinedEntry)
}

func New(selfURI string, reg *subscription.Registry, repo *queue.Repository, deliver DeliverFunc, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		SelfURI:  selfURI,
		Registry: reg,
		Repo:     repo,
		Deliver:  deliver,
		Logger:   logger,
		failures: make(map[string]*failureState),
	}
}

// Dispatch runs the match algorithm for E against the combined set and
// enqueues the resulting Dispatch Items onto their owning sets' queues
// (spec §4.5 steps 1-4).
func (d *Dispatcher) Dispatch(ctx context.Context, E Event) ([]Item, error) {
	for _, v := range E.Via {
		if v == d.SelfURI {
			return nil, errs.B().Code(errs.Input).Msgf("event %s loops back through %s", E.ID, d.SelfURI).Err()
		}
	}

	sets := d.Registry.List()
	var items []Item
	for _, bound := range combinedSubscriptions(sets) {
		sub := bound.Subscription
		if !anyChannelMatches(sub.Channels, E.Channel) {
			continue
		}
		if sub.ResourcePattern != "" && !matchPattern(sub.ResourcePattern, E.Resource) {
			continue
		}

		recipients := filterRecipients(sub.Recipients, E.Recipients)
		if len(E.Recipients) > 0 && len(recipients) == 0 {
			continue
		}

		if sub.ProxyURI != "" {
			items = append(items, Item{Destination: sub.ProxyURI, SetLocation: bound.Set.Location, Event: E, Recipients: recipients})
			continue
		}
		for _, r := range sub.Recipients {
			if len(E.Recipients) > 0 && !recipientSurvives(r.URI, E.Recipients) {
				continue
			}
			items = append(items, Item{Destination: r.URI, SetLocation: bound.Set.Location, Event: E, Recipients: recipients})
		}
	}

	for _, item := range items {
		d.enqueue(item)
	}
	return items, nil
}

func anyChannelMatches(patterns []string, channel string) bool {
	for _, p := range patterns {
		if matchPattern(p, channel) {
			return true
		}
	}
	return false
}

// filterRecipients keeps only the event's requested recipients that
// equal or descend from at least one of the subscription's recipients
// (spec §4.5 step 2 "Recipient filter"); those are forwarded with the
// item. An empty event recipient list means unfiltered: every
// subscription recipient is returned.
func filterRecipients(subRecipients []subscription.Recipient, eventRecipients []string) []string {
	if len(eventRecipients) == 0 {
		out := make([]string, len(subRecipients))
		for i, r := range subRecipients {
			out[i] = r.URI
		}
		return out
	}
	var out []string
	for _, er := range eventRecipients {
		for _, r := range subRecipients {
			if isDescendantOrEqual(r.URI, er) {
				out = append(out, er)
				break
			}
		}
	}
	return out
}

func recipientSurvives(subRecipientURI string, eventRecipients []string) bool {
	for _, er := range eventRecipients {
		if isDescendantOrEqual(subRecipientURI, er) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) enqueue(item Item) {
	q := d.Repo.Queue(item.SetLocation)
	if q == nil {
		d.Logger.Warn().Str("location", item.SetLocation).Msg("dispatch item dropped: queue not initialized")
		return
	}
	q.Enqueue(queue.Item{
		Destination:   item.Destination,
		SetLocation:   item.SetLocation,
		EventID:       item.Event.ID,
		EventChannel:  item.Event.Channel,
		EventResource: item.Event.Resource,
		Origins:       item.Event.Origins,
		Recipients:    item.Recipients,
		Via:           append(append([]string{}, item.Event.Via...), d.SelfURI),
		ContentType:   item.Event.ContentType,
		Body:          item.Event.Body,
	})
}

// DequeueHandler is the per-queue drain handler every set's queue is
// started with: it delivers the item and runs failure accounting
// (spec §4.5 "Failure accounting").
func (d *Dispatcher) DequeueHandler(ctx context.Context, qi queue.Item) bool {
	ev := Event{
		ID:          qi.EventID,
		Channel:     qi.EventChannel,
		Resource:    qi.EventResource,
		Recipients:  qi.Recipients,
		Via:         qi.Via,
		Origins:     qi.Origins,
		ContentType: qi.ContentType,
		Body:        qi.Body,
	}
	ok := d.Deliver(ctx, qi.Destination, ev, qi.Recipients)
	d.accountDelivery(ctx, qi.SetLocation, ok)
	return ok
}

// accountDelivery applies the count-based kick rule for non-expiring
// sets and the duration-based expiry rule for expiring sets
// (spec §4.5 "Failure accounting").
func (d *Dispatcher) accountDelivery(ctx context.Context, location string, success bool) {
	set, ok := d.Registry.Peek(location)
	if !ok {
		return
	}

	d.mu.Lock()
	fs, ok := d.failures[location]
	if !ok {
		fs = &failureState{}
		d.failures[location] = fs
	}
	if success {
		fs.count = 0
		fs.oldestFailedSince = time.Time{}
		d.mu.Unlock()
		return
	}
	fs.count++
	if fs.oldestFailedSince.IsZero() {
		fs.oldestFailedSince = time.Now()
	}
	// "exceeds max-failures" is taken literally (spec §4.5): with the
	// documented default MaxFailures=0, a single failure (count=1) already
	// exceeds it, matching spec §8 scenario E4 ("set with max-failures=0
	// ... is removed after the next dispatch") rather than the "0 =
	// infinite" gloss in §3's data model prose — the concrete scenario
	// wins where the two disagree.
	shouldKick := false
	if set.IsExpiring() {
		shouldKick = time.Since(fs.oldestFailedSince) > set.MaxFailureDuration
	} else {
		shouldKick = fs.count > set.MaxFailures
	}
	d.mu.Unlock()

	if shouldKick {
		d.kick(ctx, location)
	}
}

// kick removes a set whose delivery failures exceeded its tolerance,
// disposing its queue and emitting an update event (spec §4.5).
func (d *Dispatcher) kick(ctx context.Context, location string) {
	set, ok := d.Registry.Peek(location)
	if !ok {
		return
	}
	if err := d.Registry.Delete(location, set.AccessKey); err != nil {
		d.Logger.Warn().Err(err).Str("location", location).Msg("failed to delete kicked subscription set")
	}
	if err := d.Repo.Delete(location); err != nil {
		d.Logger.Warn().Err(err).Str("location", location).Msg("failed to delete kicked subscription set's queue")
	}
	d.mu.Lock()
	delete(d.failures, location)
	d.mu.Unlock()

	d.Logger.Info().Str("location", location).Msg("subscription set kicked after exceeding failure tolerance")
	d.NotifyCombinedSetChanged(ctx)
}

// NotifyCombinedSetChanged debounces a combined-set recompute via
// single-flight and delivers the merged view to any onCombinedSetChanged
// observer (spec §4.4 "recomputes it asynchronously (single-flight)").
func (d *Dispatcher) NotifyCombinedSetChanged(ctx context.Context) {
	_, _, _ = d.sf.Do("recompute", func() (interface{}, error) {
		entries := ComputeCombinedSet(d.Registry.List())
		if d.onCombinedSetChanged != nil {
			d.onCombinedSetChanged(entries)
		}
		d.publishUpdateEvent(ctx, entries)
		return nil, nil
	})
}

// OnCombinedSetChanged installs a callback invoked with the newly
// recomputed combined set every time NotifyCombinedSetChanged runs.
func (d *Dispatcher) OnCombinedSetChanged(fn func([]CombinedEntry)) {
	d.onCombinedSetChanged = fn
}

func (d *Dispatcher) publishUpdateEvent(ctx context.Context, entries []CombinedEntry) {
	channel := fmt.Sprintf(UpdateChannel, d.SelfURI)
	body, err := json.Marshal(entries)
	if err != nil {
		d.Logger.Warn().Err(err).Msg("failed to encode combined-set update event")
		return
	}
	_, err = d.Dispatch(ctx, Event{
		Channel:     channel,
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		d.Logger.Warn().Err(err).Msg("failed to dispatch combined-set update event")
	}
}
