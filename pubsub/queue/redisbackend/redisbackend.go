// Package redisbackend implements a pubsub/queue.Queue backed by a
// Redis list, used as a durable FIFO when config.QueueConfig.Backend ==
// "redis" (SPEC_FULL.md §4.11). Tests exercise it against
// github.com/alicebob/miniredis/v2 rather than a live server.
package redisbackend

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"dream/pubsub/queue"
)

// Queue stores pending items in a Redis list keyed by the owning
// subscription Set's location, using BRPOPLPUSH to move an item into a
// per-worker "processing" list atomically so a crash mid-delivery
// doesn't lose it (it's simply re-read from the processing list on the
// next Start).
type Queue struct {
	client     *redis.Client
	pendingKey string
	workingKey string
	backoffFn  func(n int) time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	stopCh  chan struct{}
}

func New(client *redis.Client, location string, backoffStep time.Duration, backoffMaxMul int) *Queue {
	return &Queue{
		client:     client,
		pendingKey: "dream:pubsub:" + location + ":pending",
		workingKey: "dream:pubsub:" + location + ":working",
		backoffFn:  func(n int) time.Duration { return queue.BackoffStep(backoffStep, backoffMaxMul, n) },
		stopCh:     make(chan struct{}),
	}
}

func (q *Queue) Enqueue(item queue.Item) {
	data, err := json.Marshal(item)
	if err != nil {
		return
	}
	_ = q.client.LPush(context.Background(), q.pendingKey, data).Err()
}

func (q *Queue) Len() int {
	n, _ := q.client.LLen(context.Background(), q.pendingKey).Result()
	return int(n)
}

func (q *Queue) Start(ctx context.Context, handler queue.DequeueHandler) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	// Resume anything left in the working list from a prior crash before
	// pulling new work.
	for {
		raw, err := q.client.RPopLPush(ctx, q.workingKey, q.workingKey).Result()
		if err == redis.Nil || err != nil {
			break
		}
		q.process(ctx, handler, raw, 0)
	}

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		default:
		}

		raw, err := q.client.BRPopLPush(ctx, q.pendingKey, q.workingKey, time.Second).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.backoffFn(failures + 1)):
			}
			continue
		}
		// Retry the item in place until it succeeds before taking the next.
		for !q.process(ctx, handler, raw, failures) {
			failures++
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-time.After(q.backoffFn(failures)):
			}
		}
		failures = 0
	}
}

func (q *Queue) process(ctx context.Context, handler queue.DequeueHandler, raw string, failures int) bool {
	var item queue.Item
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		_ = q.client.LRem(ctx, q.workingKey, 1, raw).Err()
		return true // drop an undecodable record rather than retry forever
	}
	ok := handler(ctx, item)
	if ok {
		_ = q.client.LRem(ctx, q.workingKey, 1, raw).Err()
	}
	return ok
}

func (q *Queue) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started && !q.closed {
		q.closed = true
		close(q.stopCh)
	}
}

func (q *Queue) DeleteAndDispose() {
	q.Dispose()
	ctx := context.Background()
	_ = q.client.Del(ctx, q.pendingKey, q.workingKey).Err()
}
