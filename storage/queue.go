package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"tymr/domain"
)

// queueAPI is the slice of the azqueue client the regeneration queue uses;
// tests substitute a fake.
type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// RegenQueue is the durable queue carrying regeneration jobs from the
// request tier to the worker. Messages left undeleted become visible again
// after the visibility timeout, which is the retry mechanism.
type RegenQueue struct {
	client queueAPI
}

// NewRegenQueue creates a queue client from an Azure Storage connection
// string.
func NewRegenQueue(connStr, queueName string) (*RegenQueue, error) {
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
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &RegenQueue{client: client}, nil
}

// Enqueue submits a regeneration job. Callers on the request path treat a
// failure here as best-effort: the edit already committed and the
// self-healing sweep will cover the gap.
func (q *RegenQueue) Enqueue(ctx context.Context, job domain.RegenJob) error {
	if job.EnqueuedAt == 0 {
		job.EnqueuedAt = time.Now().UnixNano()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueMessage(ctx, string(data), nil)
	return err
}

// QueuedJob pairs a decoded job with the receipt needed to delete it once
// processed.
type QueuedJob struct {
	Job        domain.RegenJob
	messageID  string
	popReceipt string
}

// Dequeue retrieves one job, or nil when the queue is empty. Poison
// messages (undecodable payloads) are deleted and skipped so they cannot
// wedge the consumer.
func (q *RegenQueue) Dequeue(ctx context.Context) (*QueuedJob, error) {
	resp, err := q.client.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	msg := resp.Messages[0]
	qj := &QueuedJob{}
	if msg.MessageID != nil {
		qj.messageID = *msg.MessageID
	}
	if msg.PopReceipt != nil {
		qj.popReceipt = *msg.PopReceipt
	}
	if msg.MessageText == nil || json.Unmarshal([]byte(*msg.MessageText), &qj.Job) != nil {
		log.WithField("message_id", qj.messageID).Error("dropping undecodable regen job")
		if _, derr := q.client.DeleteMessage(ctx, qj.messageID, qj.popReceipt, nil); derr != nil {
			log.WithField("message_id", qj.messageID).Errorf("delete poison message: %v", derr)
		}
		return nil, nil
	}
	return qj, nil
}

// Delete acknowledges a processed job.
func (q *RegenQueue) Delete(ctx context.Context, qj *QueuedJob) error {
	_, err := q.client.DeleteMessage(ctx, qj.messageID, qj.popReceipt, nil)
	return err
}
