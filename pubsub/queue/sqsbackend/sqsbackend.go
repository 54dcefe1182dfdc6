// Package sqsbackend implements a pubsub/queue.Queue backed by an SQS
// queue, one of the three durable backends SPEC_FULL.md §4.11 names
// (config.QueueConfig.Backend == "sqs").
package sqsbackend

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"dream/pubsub/queue"
)

// Queue sends Dispatch Items to one SQS queue per subscription Set and
// long-polls for delivery, relying on SQS's own visibility timeout
// instead of reimplementing an at-least-once retry window: a failed
// handler simply lets the message become visible again rather than
// deleting it.
type Queue struct {
	client   *sqs.Client
	queueURL string

	mu      sync.Mutex
	started bool
	closed  bool
	stopCh  chan struct{}
}

func New(client *sqs.Client, queueURL string) *Queue {
	return &Queue{client: client, queueURL: queueURL, stopCh: make(chan struct{})}
}

func (q *Queue) Enqueue(item queue.Item) {
	data, err := json.Marshal(item)
	if err != nil {
		return
	}
	body := string(data)
	_, _ = q.client.SendMessage(context.Background(), &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
}

// Len is not tracked locally; SQS's approximate-count attribute would
// require an extra round trip this interface doesn't ask for.
func (q *Queue) Len() int { return 0 }

func (q *Queue) Start(ctx context.Context, handler queue.DequeueHandler) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		default:
		}

		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages:  10,
			WaitTimeSeconds:      10,
		})
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range out.Messages {
			q.process(ctx, handler, msg)
		}
	}
}

func (q *Queue) process(ctx context.Context, handler queue.DequeueHandler, msg types.Message) {
	var item queue.Item
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &item); err != nil {
		q.delete(ctx, msg) // undecodable, drop rather than retry forever
		return
	}
	if handler(ctx, item) {
		q.delete(ctx, msg)
	}
	// on failure, leave the message alone; it reappears after the
	// queue's visibility timeout for another delivery attempt.
}

func (q *Queue) delete(ctx context.Context, msg types.Message) {
	_, _ = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
}

func (q *Queue) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started && !q.closed {
		q.closed = true
		close(q.stopCh)
	}
}

// DeleteAndDispose is equivalent to Dispose: this backend has no local
// persisted state, only the remote queue's own contents.
func (q *Queue) DeleteAndDispose() { q.Dispose() }
