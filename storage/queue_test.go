package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"tymr/domain"
)

type fakeQueueClient struct {
	messages []string
	deleted  []string
	enqueued int
	failNext error
}

func (f *fakeQueueClient) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return azqueue.EnqueueMessagesResponse{}, err
	}
	f.messages = append(f.messages, content)
	f.enqueued++
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeQueueClient) DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error) {
	if len(f.messages) == 0 {
		return azqueue.DequeueMessagesResponse{}, nil
	}
	text := f.messages[0]
	f.messages = f.messages[1:]
	id := "msg-1"
	receipt := "pop-1"
	return azqueue.DequeueMessagesResponse{
		Messages: []*azqueue.DequeuedMessage{{MessageText: &text, MessageID: &id, PopReceipt: &receipt}},
	}, nil
}

func (f *fakeQueueClient) DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	f.deleted = append(f.deleted, messageID)
	return azqueue.DeleteMessageResponse{}, nil
}

func TestRegenQueueRoundTrip(t *testing.T) {
	fake := &fakeQueueClient{}
	q := &RegenQueue{client: fake}
	ctx := context.Background()

	job := domain.RegenJob{OccurrenceID: "occ-1", UserID: "u1"}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var stored domain.RegenJob
	if err := json.Unmarshal([]byte(fake.messages[0]), &stored); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if stored.EnqueuedAt == 0 {
		t.Fatal("EnqueuedAt not stamped")
	}

	qj, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if qj == nil || qj.Job.OccurrenceID != "occ-1" || qj.Job.UserID != "u1" {
		t.Fatalf("unexpected job: %+v", qj)
	}
	if err := q.Delete(ctx, qj); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(fake.deleted) != 1 {
		t.Fatalf("expected 1 delete, got %d", len(fake.deleted))
	}
}

func TestRegenQueueEmpty(t *testing.T) {
	q := &RegenQueue{client: &fakeQueueClient{}}
	qj, err := q.Dequeue(context.Background())
	if err != nil || qj != nil {
		t.Fatalf("empty queue should return nil, nil; got %+v, %v", qj, err)
	}
}

func TestRegenQueueDropsPoisonMessage(t *testing.T) {
	fake := &fakeQueueClient{messages: []string{"{not json"}}
	q := &RegenQueue{client: fake}
	qj, err := q.Dequeue(context.Background())
	if err != nil || qj != nil {
		t.Fatalf("poison message should be skipped; got %+v, %v", qj, err)
	}
	if len(fake.deleted) != 1 {
		t.Fatal("poison message must be deleted so it cannot wedge the consumer")
	}
}
