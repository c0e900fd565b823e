// Package pubsub implements the enrichment queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/clipstream/clipstream/internal/news"
)

// Config identifies the topic/subscription pair used for enrichment jobs.
type Config struct {
	ProjectID    string
	TopicName    string
	Subscription string
	// Buffer sizes the handoff channel between Receive and the workers.
	Buffer int
}

// Queue implements news.Queue on a Pub/Sub topic and subscription.
//
// Enqueue publishes and waits for the server acknowledgement, so an
// unavailable broker surfaces synchronously. Messages are acked when a worker
// accepts them; the subscription's redelivery combined with worker idempotence
// gives at-least-once semantics.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	jobs   chan news.EnrichmentJob
	logger *zap.Logger
}

// New creates a Pub/Sub client and verifies the topic and subscription exist.
// Authentication uses Application Default Credentials unless overridden via
// opts.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	ok, err := topic.Exists(ctx)
	if err != nil || !ok {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		if err != nil {
			return nil, fmt.Errorf("check topic %q: %w", cfg.TopicName, err)
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicName, cfg.ProjectID)
	}

	sub := client.Subscription(cfg.Subscription)
	ok, err = sub.Exists(ctx)
	if err != nil || !ok {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after subscription check failure", zap.Error(closeErr))
		}
		if err != nil {
			return nil, fmt.Errorf("check subscription %q: %w", cfg.Subscription, err)
		}
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", cfg.Subscription, cfg.ProjectID)
	}

	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 16
	}

	return &Queue{
		client: client,
		topic:  topic,
		sub:    sub,
		jobs:   make(chan news.EnrichmentJob, buffer),
		logger: logger,
	}, nil
}

// Start runs the subscription receive loop until the context finishes. It
// must be called once before workers dequeue.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		err := q.sub.Receive(ctx, func(msgCtx context.Context, m *pubsub.Message) {
			var job news.EnrichmentJob
			if err := json.Unmarshal(m.Data, &job); err != nil {
				// Malformed payloads would redeliver forever; drop them.
				q.logger.Error("discard malformed job payload", zap.Error(err))
				m.Ack()
				return
			}
			select {
			case <-msgCtx.Done():
				m.Nack()
			case q.jobs <- job:
				m.Ack()
			}
		})
		if err != nil && ctx.Err() == nil {
			q.logger.Error("pubsub receive stopped", zap.Error(err))
		}
	}()
}

// Enqueue publishes a job and waits for the broker acknowledgement.
func (q *Queue) Enqueue(ctx context.Context, job news.EnrichmentJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("%w: %v", news.ErrQueueUnavailable, err)
	}
	return nil
}

// Dequeue hands the next received job to a worker.
func (q *Queue) Dequeue(ctx context.Context) (news.EnrichmentJob, error) {
	select {
	case <-ctx.Done():
		return news.EnrichmentJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job := <-q.jobs:
		return job, nil
	}
}

// Close stops the publisher and closes the client connection.
func (q *Queue) Close() error {
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
