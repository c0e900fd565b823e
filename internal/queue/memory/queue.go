// Package memory provides a queue implementation for local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/clipstream/clipstream/internal/news"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch        chan news.EnrichmentJob
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan news.EnrichmentJob, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a job into the queue. A full queue that does not drain
// before the context ends, or a closed queue, reports the queue as
// unavailable.
func (q *Queue) Enqueue(ctx context.Context, job news.EnrichmentJob) error {
	select {
	case <-q.done:
		return news.ErrQueueUnavailable
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", news.ErrQueueUnavailable, ctx.Err())
	case <-q.done:
		return news.ErrQueueUnavailable
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (news.EnrichmentJob, error) {
	select {
	case <-ctx.Done():
		return news.EnrichmentJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return news.EnrichmentJob{}, news.ErrQueueUnavailable
	case job := <-q.ch:
		return job, nil
	}
}

// Close marks the queue unavailable for shutdown. The job channel itself is
// never closed, so an Enqueue blocked on a full queue cannot panic; it
// returns ErrQueueUnavailable instead.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
