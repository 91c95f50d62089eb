package river

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/neomorfeo/subiq/internal/domain"
)

// Compile-time check: Queue implements domain.JobQueue.
var _ domain.JobQueue = (*Queue)(nil)

// Queue implements domain.JobQueue by inserting River jobs. It is created
// unbound and bound to a client once Setup has run, because the coordinator
// needs the queue while the client needs the coordinator as its worker.
type Queue struct {
	mu     sync.RWMutex
	client *Client
}

// NewQueue creates an unbound queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Bind attaches the River client. Must be called before the first enqueue.
func (q *Queue) Bind(client *Client) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.client = client
}

// EnqueueWorkflow inserts a durable job for the workflow. The job survives
// restarts; the saga resumes from its persisted step rows.
func (q *Queue) EnqueueWorkflow(ctx context.Context, workflowID string) error {
	q.mu.RLock()
	client := q.client
	q.mu.RUnlock()

	if client == nil {
		return errors.New("job queue not started")
	}

	_, err := client.Insert(ctx, WorkflowJobArgs{WorkflowID: workflowID}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing workflow job: %w", err)
	}
	return nil
}
