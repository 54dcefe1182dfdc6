package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	qt "github.com/frankban/quicktest"
)

func TestMemoryQueueDrainsInOrder(t *testing.T) {
	c := qt.New(t)
	q := NewMemory(clock.NewMock(), time.Millisecond, 10)

	var got []string
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go q.Start(ctx, func(ctx context.Context, item Item) bool {
		got = append(got, item.EventID)
		if len(got) == 3 {
			close(done)
		}
		return true
	})

	q.Enqueue(Item{EventID: "a"})
	q.Enqueue(Item{EventID: "b"})
	q.Enqueue(Item{EventID: "c"})

	select {
	case <-done:
	case <-time.After(time.Second):
		c.Fatal("timed out waiting for drain")
	}
	c.Assert(got, qt.DeepEquals, []string{"a", "b", "c"})
}

func TestMemoryQueueRetriesFailedHead(t *testing.T) {
	c := qt.New(t)
	mock := clock.NewMock()
	q := NewMemory(mock, time.Millisecond, 10)

	var attempts int32
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go q.Start(ctx, func(ctx context.Context, item Item) bool {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return false
		}
		close(done)
		return true
	})

	q.Enqueue(Item{EventID: "x"})

	for i := 0; i < 10; i++ {
		time.Sleep(time.Millisecond)
		mock.Add(time.Second)
		select {
		case <-done:
			c.Assert(atomic.LoadInt32(&attempts) >= 3, qt.IsTrue)
			return
		default:
		}
	}
	c.Fatal("item was never retried to success")
}

func TestBackoffStepCapsAtMaxMultiplier(t *testing.T) {
	c := qt.New(t)
	c.Assert(BackoffStep(time.Second, 10, 1), qt.Equals, time.Second)
	c.Assert(BackoffStep(time.Second, 10, 5), qt.Equals, 5*time.Second)
	c.Assert(BackoffStep(time.Second, 10, 50), qt.Equals, 10*time.Second)
}
