package counts

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// Request asks for the counts of one board to be recomputed.
type Request struct {
	Kind     domain.Kind `json:"kind"`
	Scope    string      `json:"scope"`
	CommitID string      `json:"commitId,omitempty"`
	At       int64       `json:"at"`
}

func (r Request) Filter() domain.Filter { return domain.Filter{Kind: r.Kind, Scope: r.Scope} }

// Message is a dequeued request together with what is needed to delete it.
type Message struct {
	ID      string
	Receipt string
	Text    string
}

// Queue carries refresh requests over an Azure storage queue.
type Queue struct {
	client *azqueue.QueueClient
}

func NewQueue(connStr, name string) (*Queue, error) {
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
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
	if err != nil {
		return nil, err
	}
	return &Queue{client: client}, nil
}

func (q *Queue) Enqueue(ctx context.Context, req Request) error {
	data, err := sonic.MarshalString(req)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueMessage(ctx, data, nil)
	return err
}

// Receive returns the next message, or nil when the queue is empty.
func (q *Queue) Receive(ctx context.Context) (*Message, error) {
	resp, err := q.client.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	return &Message{ID: deref(m.MessageID), Receipt: deref(m.PopReceipt), Text: deref(m.MessageText)}, nil
}

// Ack removes a processed message from the queue.
func (q *Queue) Ack(ctx context.Context, m Message) error {
	_, err := q.client.DeleteMessage(ctx, m.ID, m.Receipt, nil)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
