package redisbackend

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	qt "github.com/frankban/quicktest"

	"dream/pubsub/queue"
)

func TestQueueDrainsInOrder(t *testing.T) {
	c := qt.New(t)
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	q := New(client, "loc-1", time.Millisecond, 10)

	var got []string
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer q.Dispose()

	go q.Start(ctx, func(ctx context.Context, item queue.Item) bool {
		got = append(got, item.EventID)
		if len(got) == 3 {
			close(done)
		}
		return true
	})

	q.Enqueue(queue.Item{EventID: "a"})
	q.Enqueue(queue.Item{EventID: "b"})
	q.Enqueue(queue.Item{EventID: "c"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		c.Fatal("timed out waiting for drain")
	}
	c.Assert(got, qt.DeepEquals, []string{"a", "b", "c"})
}

func TestQueueRetriesFailedItemUntilSuccess(t *testing.T) {
	c := qt.New(t)
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	q := New(client, "loc-2", time.Millisecond, 10)

	var attempts int32
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer q.Dispose()

	go q.Start(ctx, func(ctx context.Context, item queue.Item) bool {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return false
		}
		close(done)
		return true
	})

	q.Enqueue(queue.Item{EventID: "x"})

	select {
	case <-done:
		c.Assert(atomic.LoadInt32(&attempts) >= 3, qt.IsTrue)
	case <-time.After(2 * time.Second):
		c.Fatal("item was never retried to success")
	}
}

func TestDeleteAndDisposeClearsPendingItems(t *testing.T) {
	c := qt.New(t)
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	q := New(client, "loc-3", time.Millisecond, 10)
	q.Enqueue(queue.Item{EventID: "y"})
	c.Assert(q.Len(), qt.Equals, 1)

	q.DeleteAndDispose()
	c.Assert(q.Len(), qt.Equals, 0)
}
