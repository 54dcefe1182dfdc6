// Package nsqbackend implements a pubsub/queue.Queue backed by NSQ, one
// of the three durable backends SPEC_FULL.md §4.11 lists alongside the
// built-in memory/disk variants (config.QueueConfig.Backend == "nsq").
package nsqbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"dream/pubsub/queue"
)

// Queue publishes Dispatch Items to an NSQ topic named after the
// subscription Set's location and consumes them back through the channel
// "dispatcher". Every Host instance consumes that same channel, so NSQ
// hands each item to one of them rather than to all; NSQ's own cursor on
// the channel stands in for the disk queue's head index.
type Queue struct {
	producer *nsq.Producer
	consumer *nsq.Consumer
	topic    string
	cfg      Config

	mu      sync.Mutex
	started bool
}

// Config bundles the NSQ endpoints a Queue connects to.
type Config struct {
	NSQDAddr    string
	LookupdAddr string
}

// New returns a Queue for one subscription Set's location, publishing to
// and consuming from the topic "dream.pubsub.<location>".
func New(cfg Config, location string) (*Queue, error) {
	nsqCfg := nsq.NewConfig()
	producer, err := nsq.NewProducer(cfg.NSQDAddr, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsqbackend: new producer: %w", err)
	}

	topic := "dream.pubsub." + location
	consumer, err := nsq.NewConsumer(topic, "dispatcher", nsqCfg)
	if err != nil {
		producer.Stop()
		return nil, fmt.Errorf("nsqbackend: new consumer: %w", err)
	}

	return &Queue{producer: producer, consumer: consumer, topic: topic, cfg: cfg}, nil
}

func (q *Queue) Enqueue(item queue.Item) {
	data, err := json.Marshal(item)
	if err != nil {
		return
	}
	_ = q.producer.Publish(q.topic, data)
}

// Len is not tracked locally for this backend; NSQ owns queue depth.
func (q *Queue) Len() int { return 0 }

func (q *Queue) Start(ctx context.Context, handler queue.DequeueHandler) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.consumer.AddHandler(nsq.HandlerFunc(func(msg *nsq.Message) error {
		var item queue.Item
		if err := json.Unmarshal(msg.Body, &item); err != nil {
			return err // malformed message, let NSQ's own retry/backoff apply
		}
		if handler(ctx, item) {
			return nil
		}
		return fmt.Errorf("nsqbackend: delivery failed for %s", item.Destination)
	}))

	if q.cfg.LookupdAddr != "" {
		if err := q.consumer.ConnectToNSQLookupd(q.cfg.LookupdAddr); err != nil {
			return
		}
	} else if err := q.consumer.ConnectToNSQD(q.cfg.NSQDAddr); err != nil {
		return
	}

	<-ctx.Done()
	q.consumer.Stop()
}

func (q *Queue) Dispose() {
	q.producer.Stop()
	select {
	case <-q.consumer.StopChan:
	case <-time.After(time.Second):
	}
}

// DeleteAndDispose is equivalent to Dispose: NSQ owns topic retention,
// this backend has no local persisted state to erase.
func (q *Queue) DeleteAndDispose() { q.Dispose() }
