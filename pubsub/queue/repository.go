package queue

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// descriptor is an XML shape for a subscription Set's <location>.xml
// file (spec §4.6 "Repository"). The read and write paths do not use it:
// RegisterOrUpdate writes the caller's document as given, and
// InitializeRepository returns the stored documents unparsed. Nothing in
// this package rebuilds a subscription registry from them.
type descriptor struct {
	XMLName  xml.Name `xml:"subscription-set"`
	Location string   `xml:"location,attr"`
	Document string   `xml:",innerxml"`
}

// Repository owns every subscription Set's queue plus its persisted
// descriptor, and drives startup rehydration (spec §4.6 "Repository:
// owns all queues...").
type Repository struct {
	clock clock.Clock

	root          string
	backend       string
	backoffStep   time.Duration
	backoffMaxMul int
	factory       func(location string) (Queue, error)

	mu      sync.Mutex
	queues  map[string]Queue
	started bool
}

// Config bundles the subset of config.QueueConfig the Repository needs.
type Config struct {
	Backend              string
	Path                 string
	BackoffStep          time.Duration
	BackoffMaxMultiplier int

	// Factory builds a durable Queue for one set's location when Backend
	// names an out-of-process broker ("nsq", "redis", "sqs"). It lives
	// outside this package because those backends import dream/pubsub/queue
	// themselves (to implement the Queue interface) and this package
	// importing them back would cycle; the process entrypoint supplies the
	// closure instead. Left nil, only the built-in "memory"/"disk" variants
	// are available.
	Factory func(location string) (Queue, error)
}

func NewRepository(clk clock.Clock, cfg Config) *Repository {
	if clk == nil {
		clk = clock.New()
	}
	return &Repository{
		clock:         clk,
		root:          cfg.Path,
		backend:       cfg.Backend,
		backoffStep:   cfg.BackoffStep,
		backoffMaxMul: cfg.BackoffMaxMultiplier,
		factory:       cfg.Factory,
		queues:        make(map[string]Queue),
	}
}

// InitializeRepository scans root for set descriptors, opens each one's
// queue (resuming it with handler), and returns the raw descriptor
// documents so the Dispatcher can rehydrate their subscription data
// (spec §4.6 "reports GetUninitializedSets").
func (r *Repository) InitializeRepository(ctx context.Context, handler DequeueHandler) (uninitialized []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil, nil
	}
	r.started = true

	if r.root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(r.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: scan repository root: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".xml") {
			continue
		}
		location := strings.TrimSuffix(e.Name(), ".xml")
		raw, err := os.ReadFile(filepath.Join(r.root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("queue: read descriptor %s: %w", e.Name(), err)
		}
		q, err := r.openQueueLocked(location)
		if err != nil {
			return nil, err
		}
		go q.Start(ctx, handler)
		uninitialized = append(uninitialized, string(raw))
	}
	return uninitialized, nil
}

// GetUninitializedSets always returns nil; the descriptor documents found
// at startup are available only as InitializeRepository's return value.
func (r *Repository) GetUninitializedSets() []string { return nil }

func (r *Repository) openQueueLocked(location string) (Queue, error) {
	if q, ok := r.queues[location]; ok {
		return q, nil
	}
	var q Queue
	switch r.backend {
	case "disk":
		d, err := OpenDisk(r.clock, r.root, location, r.backoffStep, r.backoffMaxMul)
		if err != nil {
			return nil, err
		}
		q = d
	case "nsq", "redis", "sqs":
		if r.factory == nil {
			return nil, fmt.Errorf("queue: backend %q requires a Factory", r.backend)
		}
		built, err := r.factory(location)
		if err != nil {
			return nil, fmt.Errorf("queue: build %s queue for %s: %w", r.backend, location, err)
		}
		q = built
	default:
		q = NewMemory(r.clock, r.backoffStep, r.backoffMaxMul)
	}
	r.queues[location] = q
	return q, nil
}

// RegisterOrUpdate persists set's descriptor document and ensures its
// queue is running, starting it with handler on first use.
func (r *Repository) RegisterOrUpdate(ctx context.Context, location, document string, handler DequeueHandler) (Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.root != "" {
		if err := os.MkdirAll(r.root, 0o755); err != nil {
			return nil, fmt.Errorf("queue: create repository root: %w", err)
		}
		path := filepath.Join(r.root, location+".xml")
		if err := os.WriteFile(path, []byte(document), 0o644); err != nil {
			return nil, fmt.Errorf("queue: write descriptor: %w", err)
		}
	}

	_, existed := r.queues[location]
	q, err := r.openQueueLocked(location)
	if err != nil {
		return nil, err
	}
	if !existed {
		go q.Start(ctx, handler)
	}
	return q, nil
}

// Delete removes a set's descriptor and tears down its queue
// (spec §4.6 "Delete(set) removes descriptor and queue").
func (r *Repository) Delete(location string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[location]; ok {
		q.DeleteAndDispose()
		delete(r.queues, location)
	}
	if r.root != "" {
		_ = os.Remove(filepath.Join(r.root, location+".xml"))
	}
	return nil
}

// Queue returns the queue for location, or nil if none is running
// (spec §4.6 "this[set] returns the queue (or null)").
func (r *Repository) Queue(location string) Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queues[location]
}

// DisposeAll stops every running queue's worker without erasing its
// persisted state (spec §4.6 "Dispose: stops the worker without loss").
// Registered as a shutdown hook so a graceful Host shutdown stops
// delivery workers before the process exits, rather than leaving one
// mid-retry when the process is killed.
func (r *Repository) DisposeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queues {
		q.Dispose()
	}
}
