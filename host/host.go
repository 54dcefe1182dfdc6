// Package host implements Core A's Request Host: admission control,
// reentrancy accounting, alias memoization, public-URI derivation, and
// the service lifecycle glue between the Feature Directory and the
// Service Manager (spec §4.3). It is grounded on
// appruntime/apisdk/api/server.go's Server, generalized from Encore's
// fixed public/private/encore router triad to the spec's single
// directory-driven resolver plus an explicit admission gate.
package host

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"dream/config"
	"dream/host/diagnostics"
	"dream/host/feature"
	"dream/host/reqtrack"
	"dream/host/shutdown"
	"dream/internal/errs"
	"dream/service"
	"dream/uri"
)

// Host is the Request Host's runtime core: one per process.
type Host struct {
	cfg *config.Runtime

	GUID string // this instance's identifier, used for local://<guid>/... rewriting

	Directory  *feature.Directory
	Services   *service.Manager
	Blueprints *service.BlueprintRegistry
	Reqtrack   *reqtrack.RequestTracker
	Shutdown   *shutdown.Tracker
	Health     *diagnostics.Registry

	admission *semaphore.Weighted
	throttle  *rate.Limiter

	aliasMu sync.RWMutex
	aliases map[string]string // public uri string -> local uri string

	reentrantMu sync.Mutex
	reentrant   map[string]*reentrantEntry // request id -> in-flight hop set
}

type reentrantEntry struct {
	uris map[string]int // uri -> concurrent hop count at that uri
}

// New constructs a Host around cfg. The service.Manager is built by the
// caller (it needs the Host's Health registry to register its own
// "services.started" check before the Host exists), and its shutdown is
// wired into shutdownTracker here.
func New(cfg *config.Runtime, guid string, services *service.Manager, shutdownTracker *shutdown.Tracker, healthChecks *diagnostics.Registry, rt *reqtrack.RequestTracker) *Host {
	h := &Host{
		cfg:        cfg,
		GUID:       guid,
		Directory:  feature.NewDirectory(),
		Services:   services,
		Blueprints: service.NewBlueprintRegistry(),
		Reqtrack:   rt,
		Shutdown:   shutdownTracker,
		Health:     healthChecks,
		admission:  semaphore.NewWeighted(int64(cfg.ConnectLimit)),
		throttle:   rate.NewLimiter(rate.Limit(cfg.ConnectLimit), cfg.ConnectLimit),
		aliases:    make(map[string]string),
		reentrant:  make(map[string]*reentrantEntry),
	}
	shutdownTracker.OnShutdown(func(ctx context.Context) {
		services.ShutdownAll(ctx)
	})
	return h
}

// Admit blocks until a slot is available for an externally-originated
// request (spec §4.3 "connect-limit"). local:// requests bypass the gate
// entirely, matching "internally originated requests bypass the
// semaphore".
func (h *Host) Admit(ctx context.Context, target uri.URI) (release func(), err error) {
	if target.IsLocal() {
		return func() {}, nil
	}
	if err := h.throttle.Wait(ctx); err != nil {
		return nil, errs.B().Code(errs.Reentrancy).Cause(err).Msg("admission throttled").Err()
	}
	if err := h.admission.Acquire(ctx, 1); err != nil {
		return nil, errs.B().Code(errs.Reentrancy).Cause(err).Msg("admission semaphore closed").Err()
	}
	return func() { h.admission.Release(1) }, nil
}

// BeginHop records that request id is now handling target, enforcing the
// reentrancy limit (spec §4.3). The returned release must be called when
// the hop completes.
func (h *Host) BeginHop(id string, target string) (release func(), err error) {
	h.reentrantMu.Lock()
	defer h.reentrantMu.Unlock()

	entry, ok := h.reentrant[id]
	if !ok {
		entry = &reentrantEntry{uris: make(map[string]int)}
		h.reentrant[id] = entry
	}

	depth := 0
	for _, n := range entry.uris {
		depth += n
	}
	if depth >= h.cfg.ReentrancyLimit {
		return nil, errs.B().Code(errs.Reentrancy).Msgf("request %s exceeded reentrancy limit at %s", id, target).Err()
	}

	entry.uris[target]++
	return func() { h.endHop(id, target) }, nil
}

func (h *Host) endHop(id string, target string) {
	h.reentrantMu.Lock()
	defer h.reentrantMu.Unlock()

	entry, ok := h.reentrant[id]
	if !ok {
		return
	}
	entry.uris[target]--
	if entry.uris[target] <= 0 {
		delete(entry.uris, target)
	}
	if len(entry.uris) == 0 {
		delete(h.reentrant, id)
	}
}

// RememberAlias memoizes a public-facing URI as equivalent to a local
// rewrite, if alias memorization is enabled (spec §4.3 "memorize-aliases").
func (h *Host) RememberAlias(public, local string) {
	if !h.cfg.MemorizeAliases {
		return
	}
	h.aliasMu.Lock()
	defer h.aliasMu.Unlock()
	h.aliases[public] = local
}

// ResolveAlias returns the memoized local rewrite for a public URI, if any.
func (h *Host) ResolveAlias(public string) (string, bool) {
	h.aliasMu.RLock()
	defer h.aliasMu.RUnlock()
	local, ok := h.aliases[public]
	return local, ok
}

// Aliases returns a snapshot of the memoized public-to-local URI table,
// for the status/aliases diagnostic (spec §6).
func (h *Host) Aliases() map[string]string {
	h.aliasMu.RLock()
	defer h.aliasMu.RUnlock()
	out := make(map[string]string, len(h.aliases))
	for k, v := range h.aliases {
		out[k] = v
	}
	return out
}

// ReentrantActivity returns a snapshot of in-flight request ids and their
// currently-held URIs, for the status/activities diagnostic (spec §6).
func (h *Host) ReentrantActivity() map[string]map[string]int {
	h.reentrantMu.Lock()
	defer h.reentrantMu.Unlock()
	out := make(map[string]map[string]int, len(h.reentrant))
	for id, entry := range h.reentrant {
		uris := make(map[string]int, len(entry.uris))
		for u, n := range entry.uris {
			uris[u] = n
		}
		out[id] = uris
	}
	return out
}

// DerivePublicURI computes the canonical public URI for an incoming
// request from its forwarding headers, or the explicit overrides (spec
// §4.3). overrides wins over headers; an empty override falls through.
func DerivePublicURI(forwardedHost, hostHeader, frontEndHTTPS string, overrideURI, overrideHost, overrideScheme string) string {
	if overrideURI != "" {
		return overrideURI
	}

	host := forwardedHost
	if host == "" {
		host = hostHeader
	}
	if overrideHost != "" {
		host = overrideHost
	}

	scheme := "http"
	if strings.EqualFold(frontEndHTTPS, "on") {
		scheme = "https"
	}
	if overrideScheme != "" {
		scheme = overrideScheme
	}

	return scheme + "://" + host
}

// RewriteToLocal rewrites an incoming request URI into the Host's
// internal local://<guid>/... addressing form (spec §4.3), preserving the
// original path and query.
func (h *Host) RewriteToLocal(incoming uri.URI) (uri.URI, error) {
	raw := "local://" + h.GUID + incoming.Path()
	local, err := uri.Parse(raw)
	if err != nil {
		return uri.URI{}, err
	}
	for _, q := range incoming.Query() {
		local = local.With(q.Key, q.Value)
	}
	return local, nil
}

// CreateService instantiates a service at selfURI through the Manager
// and, once that succeeds, installs its blueprint's declared features
// into the directory. A Manager failure returns before any feature is
// installed, so there is no directory state to roll back (spec §4.3).
func (h *Host) CreateService(ctx context.Context, selfURI, ownerURI, class string) (*service.Entry, error) {
	entry, err := h.Services.Create(ctx, h.cfg, selfURI, ownerURI, class)
	if err != nil {
		return nil, err
	}
	for _, fd := range entry.Blueprint.Features {
		h.Directory.Register(&feature.Feature{
			Service:     selfURI,
			Verb:        fd.Verb,
			Segments:    pathSegments(fd.Path),
			Access:      fd.Access,
			Stages:      fd.Stages,
			MainIndex:   fd.MainIndex,
			Translators: fd.Translators,
		})
	}
	return entry, nil
}

// StopService stops the service at selfURI and removes its features from
// the directory (spec §4.3 "Stop reverses the steps").
func (h *Host) StopService(ctx context.Context, selfURI string) error {
	if err := h.Services.Stop(ctx, selfURI); err != nil {
		return err
	}
	h.Directory.Unregister(selfURI)
	return nil
}

func pathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
