package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskpilot-api/domain"
)

// Journal appends mutation events to a storage queue for downstream
// consumers. Delivery is best-effort and never blocks or fails the
// mutation that produced the event.
type Journal struct {
	queue *azqueue.QueueClient
}

// NewJournal creates a Journal publishing to the named queue.
func NewJournal(connStr, queueName string) (*Journal, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &Journal{queue: q}, nil
}

// Append enqueues a single event.
func (j *Journal) Append(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = j.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}
