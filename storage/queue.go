package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskflow/domain"
)

// QueuedEvent is a change event read from the events queue. It stays hidden
// from other readers until acked or until its visibility timeout lapses.
type QueuedEvent struct {
	Event      domain.Event
	Raw        string
	Attempts   int64
	messageID  string
	popReceipt string
}

// EventQueue reads change events written by EnqueueEvent.
type EventQueue struct {
	q *azqueue.QueueClient
}

// NewEventQueue connects to the events queue.
func NewEventQueue(connStr, name string) (*EventQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
	if err != nil {
		return nil, err
	}
	return &EventQueue{q: q}, nil
}

// Receive dequeues up to max events. Messages that do not decode are returned
// with a zero Event so the caller can drop them.
func (e *EventQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]QueuedEvent, error) {
	resp, err := e.q.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr(int32(max)),
		VisibilityTimeout: to.Ptr(int32(visibility / time.Second)),
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	out := make([]QueuedEvent, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		qe := QueuedEvent{messageID: *m.MessageID, popReceipt: *m.PopReceipt}
		if m.DequeueCount != nil {
			qe.Attempts = *m.DequeueCount
		}
		if m.MessageText != nil {
			qe.Raw = *m.MessageText
			_ = json.Unmarshal([]byte(qe.Raw), &qe.Event)
		}
		out = append(out, qe)
	}
	return out, nil
}

// Ack deletes a processed event.
func (e *EventQueue) Ack(ctx context.Context, ev QueuedEvent) error {
	_, err := e.q.DeleteMessage(ctx, ev.messageID, ev.popReceipt, nil)
	return err
}
