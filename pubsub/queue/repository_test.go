package queue

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	qt "github.com/frankban/quicktest"
)

func TestRepositoryDefaultsToMemoryBackend(t *testing.T) {
	c := qt.New(t)
	repo := NewRepository(clock.NewMock(), Config{Backend: "memory", BackoffStep: time.Millisecond, BackoffMaxMultiplier: 10})

	q, err := repo.RegisterOrUpdate(context.Background(), "loc-1", "<doc/>", func(ctx context.Context, item Item) bool { return true })
	c.Assert(err, qt.IsNil)
	_, ok := q.(*Memory)
	c.Assert(ok, qt.IsTrue)
}

func TestRepositoryBrokerBackendWithoutFactoryErrors(t *testing.T) {
	c := qt.New(t)
	repo := NewRepository(clock.NewMock(), Config{Backend: "redis", BackoffStep: time.Millisecond, BackoffMaxMultiplier: 10})

	_, err := repo.RegisterOrUpdate(context.Background(), "loc-1", "<doc/>", func(ctx context.Context, item Item) bool { return true })
	c.Assert(err, qt.ErrorMatches, ".*requires a Factory.*")
}

func TestRepositoryBrokerBackendUsesFactory(t *testing.T) {
	c := qt.New(t)
	built := make(map[string]bool)
	repo := NewRepository(clock.NewMock(), Config{
		Backend:              "sqs",
		BackoffStep:          time.Millisecond,
		BackoffMaxMultiplier: 10,
		Factory: func(location string) (Queue, error) {
			built[location] = true
			return NewMemory(clock.NewMock(), time.Millisecond, 10), nil
		},
	})

	_, err := repo.RegisterOrUpdate(context.Background(), "loc-7", "<doc/>", func(ctx context.Context, item Item) bool { return true })
	c.Assert(err, qt.IsNil)
	c.Assert(built["loc-7"], qt.IsTrue)

	// A second call for the same location reuses the already-open queue
	// rather than invoking the factory again.
	_, err = repo.RegisterOrUpdate(context.Background(), "loc-7", "<doc/>", func(ctx context.Context, item Item) bool { return true })
	c.Assert(err, qt.IsNil)
	c.Assert(len(built), qt.Equals, 1)
}
