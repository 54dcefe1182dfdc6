package dispatcher

import (
	"strings"

	"dream/pubsub/subscription"
)

// boundSubscription pairs a Subscription with the Set that owns it, the
// unit the match algorithm actually iterates (spec §4.5 step 2 "for
// each subscription S in the combined set"); S's owning Set supplies the
// queue key (spec §4.5 step 4 "each set has its own queue").
type boundSubscription struct {
	Set          subscription.Set
	Subscription subscription.Subscription
}

// combinedSubscriptions flattens every live Set's subscriptions into the
// raw list the match algorithm walks.
func combinedSubscriptions(sets []subscription.Set) []boundSubscription {
	var out []boundSubscription
	for _, s := range sets {
		for _, sub := range s.Subscriptions {
			out = append(out, boundSubscription{Set: s, Subscription: sub})
		}
	}
	return out
}

// CombinedEntry is one row of the merged combined-set document POSTed
// to upstream listeners on pubsub://*/** (spec §4.4 "Combined-set
// updates"): subscriptions sharing the same channels, resource pattern,
// and destination are folded into one entry with deduplicated
// recipients, since an upstream only needs to know where to deliver,
// not which local set asked for it.
type CombinedEntry struct {
	Channels        []string
	ResourcePattern string
	ProxyURI        string
	Recipients      []subscription.Recipient
}

// ComputeCombinedSet merges every live Set's subscriptions for
// propagation upstream. It is recomputed asynchronously, single-flighted,
// whenever a registration mutates the registry (spec §4.4).
func ComputeCombinedSet(sets []subscription.Set) []CombinedEntry {
	type key struct{ channels, resource, dest string }
	index := make(map[key]int)
	var out []CombinedEntry

	for _, s := range sets {
		for _, sub := range s.Subscriptions {
			k := key{strings.Join(sub.Channels, ","), sub.ResourcePattern, sub.ProxyURI}
			i, ok := index[k]
			if !ok {
				out = append(out, CombinedEntry{
					Channels:        sub.Channels,
					ResourcePattern: sub.ResourcePattern,
					ProxyURI:        sub.ProxyURI,
				})
				i = len(out) - 1
				index[k] = i
			}
			for _, r := range sub.Recipients {
				if !hasRecipient(out[i].Recipients, r.URI) {
					out[i].Recipients = append(out[i].Recipients, r)
				}
			}
		}
	}
	return out
}

func hasRecipient(list []subscription.Recipient, uri string) bool {
	for _, r := range list {
		if r.URI == uri {
			return true
		}
	}
	return false
}
