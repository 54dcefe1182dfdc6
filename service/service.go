// Package service implements the contract hosted services satisfy (spec
// §3 Service Entry, §4.3 service lifecycle) and the Manager that creates,
// starts, and stops them, rolling back partial state on failure.
//
// This replaces a reflection/DI-based service container (an explicit
// Non-goal) with an explicit Activator registry: services are looked up
// by class name from a fixed map populated at process start, matching
// spec §9's "plugin loading becomes an explicit registry."
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dream/config"
	"dream/host/diagnostics"
	"dream/internal/errs"
)

// AccessKeys are the internal/private keys a service's features check a
// caller-supplied key against to derive the caller's access level
// (spec §4.2 "Access").
type AccessKeys struct {
	Internal string
	Private  string
}

// FeatureDecl is one entry in a Blueprint's feature list (spec §3
// "Feature descriptor").
type FeatureDecl struct {
	Verb       string
	Path       string
	MethodName string
	Access     string // public | internal | private

	// Stages is this feature's pipeline.Stage slice and MainIndex is the
	// index of its main handler within it, both opaque here (service
	// mirrors host/feature.Feature's reasoning: the concrete
	// pipeline.Stage type lives in host/pipeline, which would otherwise
	// have to import this package, and host/feature already owns that
	// seam). A Service populates these from its own method table rather
	// than relying on any reflection-based dispatch (an explicit
	// Non-goal: "a generic IoC container").
	Stages      []interface{}
	MainIndex   int
	Translators []interface{}
}

// Blueprint describes a service class: its declared sids and the
// features it installs into the Host's directory on creation.
type Blueprint struct {
	SIDs     []string
	Class    string
	Features []FeatureDecl
}

// Service is the contract a hosted service type implements.
type Service interface {
	Blueprint() Blueprint
	Start(ctx context.Context, cfg *config.Runtime) error
	Stop(ctx context.Context) error
}

// Activator constructs a new, unstarted Service instance for a class tag
// (spec §9: "no reflection-based runtime scanning is required for
// correctness" — classes are registered ahead of time).
type Activator interface {
	New(class string) (Service, error)
}

// ActivatorFunc adapts a function to an Activator.
type ActivatorFunc func(class string) (Service, error)

func (f ActivatorFunc) New(class string) (Service, error) { return f(class) }

// Entry is a running Service Entry (spec §3).
type Entry struct {
	Instance  Service
	SelfURI   string
	OwnerURI  string // "" if this is a top-level entry
	SID       string
	Blueprint Blueprint
	Keys      AccessKeys
}

// Manager owns every running Service Entry. It is the Host's only
// collaborator for service lifecycle; the Host itself never touches a
// Service instance directly.
type Manager struct {
	activator  Activator
	rootLogger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry // keyed by SelfURI

	healthMu sync.RWMutex
	started  map[string]struct{}
}

func NewManager(activator Activator, healthChecks *diagnostics.Registry, rootLogger zerolog.Logger) *Manager {
	mgr := &Manager{
		activator:  activator,
		rootLogger: rootLogger,
		entries:    make(map[string]*Entry),
		started:    make(map[string]struct{}),
	}
	healthChecks.RegisterFunc("services.started", mgr.healthCheck)
	return mgr
}

// Create instantiates a service of the given class at selfURI, installs
// its blueprint's features (the caller is expected to hand the returned
// Entry's Blueprint to the feature directory), and calls Start. Any
// failure at any step rolls back: the instance is stopped (best-effort)
// and never registered.
func (mgr *Manager) Create(ctx context.Context, cfg *config.Runtime, selfURI, ownerURI, class string) (_ *Entry, err error) {
	mgr.mu.RLock()
	_, exists := mgr.entries[selfURI]
	mgr.mu.RUnlock()
	if exists {
		return nil, errs.B().Code(errs.Conflict).Msgf("service already exists at %s", selfURI).Err()
	}

	inst, err := mgr.activator.New(class)
	if err != nil {
		return nil, errs.B().Code(errs.NotFound).Cause(err).Msgf("no activator for class %s", class).Err()
	}

	entry := &Entry{
		Instance:  inst,
		SelfURI:   selfURI,
		OwnerURI:  ownerURI,
		SID:       uuid.NewString(),
		Blueprint: inst.Blueprint(),
		Keys:      AccessKeys{Internal: uuid.NewString(), Private: uuid.NewString()},
	}

	if err := inst.Start(ctx, cfg); err != nil {
		_ = inst.Stop(ctx) // best-effort rollback of a partial start
		return nil, errs.B().Code(errs.Internal).Cause(err).Msgf("service %s: start failed", selfURI).Err()
	}

	mgr.mu.Lock()
	mgr.entries[selfURI] = entry
	mgr.mu.Unlock()

	mgr.healthMu.Lock()
	mgr.started[selfURI] = struct{}{}
	mgr.healthMu.Unlock()

	return entry, nil
}

// Get returns the Entry registered at selfURI.
func (mgr *Manager) Get(selfURI string) (*Entry, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	e, ok := mgr.entries[selfURI]
	return e, ok
}

// List returns every registered Entry, sorted by SelfURI.
func (mgr *Manager) List() []*Entry {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	out := make([]*Entry, 0, len(mgr.entries))
	for _, e := range mgr.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SelfURI < out[j].SelfURI })
	return out
}

// Stop stops the service at selfURI, then recursively stops any child
// service whose OwnerURI equals selfURI (spec §4.3 "Stop reverses the
// steps, then stops any child services whose owner-uri equals this
// one").
func (mgr *Manager) Stop(ctx context.Context, selfURI string) error {
	mgr.mu.Lock()
	entry, ok := mgr.entries[selfURI]
	if !ok {
		mgr.mu.Unlock()
		return errs.B().Code(errs.NotFound).Msgf("no service at %s", selfURI).Err()
	}
	children := mgr.childrenLocked(selfURI)
	delete(mgr.entries, selfURI)
	mgr.mu.Unlock()

	mgr.healthMu.Lock()
	delete(mgr.started, selfURI)
	mgr.healthMu.Unlock()

	var firstErr error
	if err := entry.Instance.Stop(ctx); err != nil {
		firstErr = errs.B().Code(errs.Internal).Cause(err).Msgf("service %s: stop failed", selfURI).Err()
	}
	for _, child := range children {
		if err := mgr.Stop(ctx, child); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (mgr *Manager) childrenLocked(ownerURI string) []string {
	var children []string
	for uri, e := range mgr.entries {
		if e.OwnerURI == ownerURI {
			children = append(children, uri)
		}
	}
	return children
}

// ShutdownAll stops every remaining top-level entry, used by the Host's
// own graceful shutdown hook.
func (mgr *Manager) ShutdownAll(ctx context.Context) {
	for _, e := range mgr.List() {
		if e.OwnerURI != "" {
			continue // stopped transitively by its owner
		}
		if err := mgr.Stop(ctx, e.SelfURI); err != nil {
			mgr.rootLogger.Error().Err(err).Str("service", e.SelfURI).Msg("error stopping service during shutdown")
		}
	}
}

func (mgr *Manager) healthCheck(ctx context.Context) error {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	mgr.healthMu.RLock()
	defer mgr.healthMu.RUnlock()

	if len(mgr.started) == len(mgr.entries) {
		return nil
	}
	var missing []string
	for uri := range mgr.entries {
		if _, ok := mgr.started[uri]; !ok {
			missing = append(missing, uri)
		}
	}
	sort.Strings(missing)
	return fmt.Errorf("services not started: %s", strings.Join(missing, ", "))
}
