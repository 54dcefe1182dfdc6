// Package subscription implements the Subscription Set model and its
// registry: the CRUD operations a PubSub service exposes over
// /subscribers, including the at-most-one-set-per-owner invariant,
// access-key enforcement, and version-staleness checking (spec §4.4).
package subscription

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"dream/internal/errs"
)

// Recipient is one delivery target a subscription forwards matching
// events to, with an optional auth token. The token is stored with the
// subscription; deliveries do not send it.
type Recipient struct {
	URI       string
	AuthToken string
}

// Subscription is one entry within a Set: the channels and optional
// resource pattern it matches, and where matching events go (spec §3).
type Subscription struct {
	ID              string
	Channels        []string
	ResourcePattern string
	Recipients      []Recipient
	ProxyURI        string
	SetCookie       string
}

// Set is a Subscription Set: the unit registered, replaced, and deleted
// as a whole over the PubSub REST surface (spec §3, §4.4).
type Set struct {
	Location           string
	OwnerURI           string
	AccessKey          string
	Version            int
	MaxFailures        int
	MaxFailureDuration time.Duration
	Subscriptions      []Subscription
}

// IsExpiring reports whether this set uses the failure-duration expiry
// rule instead of the failure-count kick rule (spec §4.5).
func (s Set) IsExpiring() bool { return s.MaxFailureDuration > 0 }

// Registry owns every live Subscription Set, enforcing the at-most-one-
// per-owner invariant and the access-key/version rules the REST surface
// needs (spec §4.4).
type Registry struct {
	mu      sync.RWMutex
	byLoc   map[string]*Set
	byOwner map[string]string // owner-uri -> location
}

func NewRegistry() *Registry {
	return &Registry{
		byLoc:   make(map[string]*Set),
		byOwner: make(map[string]string),
	}
}

// Register creates a new set for incoming, or returns the existing set if
// incoming.OwnerURI already has one (spec §4.4 "re-registration with the
// same owner-uri returns the existing location/key regardless of the
// headers in the second POST"). created reports which case happened, so
// the REST handler can choose 201 vs 409.
func (r *Registry) Register(incoming Set, desiredLocation, desiredAccessKey string) (_ Set, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if loc, ok := r.byOwner[incoming.OwnerURI]; ok {
		return *r.byLoc[loc], false, nil
	}

	loc := desiredLocation
	if loc == "" {
		loc = xid.New().String()
	}
	if _, taken := r.byLoc[loc]; taken {
		loc = xid.New().String()
	}
	key := desiredAccessKey
	if key == "" {
		key = xid.New().String()
	}

	set := incoming
	set.Location = loc
	set.AccessKey = key
	r.byLoc[loc] = &set
	r.byOwner[set.OwnerURI] = loc
	return set, true, nil
}

// Get fetches the set at location, checking accessKey (spec §4.4 "GET
// ... or cookie access-key; 403 on wrong/missing key").
func (r *Registry) Get(location, accessKey string) (Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byLoc[location]
	if !ok {
		return Set{}, errs.B().Code(errs.NotFound).Msgf("no subscription set at %s", location).Err()
	}
	if set.AccessKey != accessKey {
		return Set{}, errs.B().Code(errs.Auth).Msg("wrong or missing access-key").Err()
	}
	return *set, nil
}

// Peek fetches the set at location without checking the access-key, for
// internal callers (the Dispatcher's failure accounting and kick) that don't
// act as the external caller.
func (r *Registry) Peek(location string) (Set, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byLoc[location]
	if !ok {
		return Set{}, false
	}
	return *set, true
}

// Replace overwrites the set at location with incoming, enforcing owner
// match, access-key match, and version monotonicity (spec §4.4 "PUT ...
// requires matching access-key. Owner in the new document must match the
// existing owner. If incoming version < stored version: no-op, 304").
// desiredAccessKey, if non-empty, rotates the stored key.
func (r *Registry) Replace(location, accessKey string, incoming Set, desiredAccessKey string) (Set, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byLoc[location]
	if !ok {
		return Set{}, errs.B().Code(errs.NotFound).Msgf("no subscription set at %s", location).Err()
	}
	if existing.AccessKey != accessKey {
		return Set{}, errs.B().Code(errs.Auth).Msg("wrong or missing access-key").Err()
	}
	if incoming.OwnerURI != "" && incoming.OwnerURI != existing.OwnerURI {
		return Set{}, errs.B().Code(errs.Auth).Msg("owner-uri mismatch on replace").Err()
	}
	if incoming.Version != 0 && incoming.Version < existing.Version {
		return Set{}, errs.B().Code(errs.VersionStale).Msgf("incoming version %d is older than stored version %d", incoming.Version, existing.Version).Err()
	}

	updated := incoming
	updated.Location = location
	updated.OwnerURI = existing.OwnerURI
	updated.AccessKey = existing.AccessKey
	if desiredAccessKey != "" {
		updated.AccessKey = desiredAccessKey
	}
	r.byLoc[location] = &updated
	return updated, nil
}

// Delete removes the set at location, checking accessKey (spec §4.4
// "DELETE ... requires matching access-key").
func (r *Registry) Delete(location, accessKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byLoc[location]
	if !ok {
		return errs.B().Code(errs.NotFound).Msgf("no subscription set at %s", location).Err()
	}
	if existing.AccessKey != accessKey {
		return errs.B().Code(errs.Auth).Msg("wrong or missing access-key").Err()
	}
	delete(r.byLoc, location)
	delete(r.byOwner, existing.OwnerURI)
	return nil
}

// List returns a snapshot of every live set, for combined-set
// recomputation.
func (r *Registry) List() []Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Set, 0, len(r.byLoc))
	for _, s := range r.byLoc {
		out = append(out, *s)
	}
	return out
}
