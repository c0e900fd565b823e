package news

import (
	"context"
	"time"
)

// ChannelStore persists channels.
type ChannelStore interface {
	CreateChannel(ctx context.Context, ch Channel) error
	GetChannel(ctx context.Context, id string) (Channel, error)
	ListChannels(ctx context.Context, page Page) ([]Channel, error)
	// DeleteChannel removes the channel and all of its articles.
	DeleteChannel(ctx context.Context, id string) error
}

// ArticleStore persists articles and their enrichment fields.
type ArticleStore interface {
	CreateArticle(ctx context.Context, a Article) error
	GetArticle(ctx context.Context, id string) (Article, error)
	ListArticles(ctx context.Context, filter ArticleFilter, page Page) ([]Article, error)
	DeleteArticle(ctx context.Context, id string) error
	// UpdateEnrichment writes title/content/word count and flips the state to
	// enriched in a single conditional update. It reports false when the
	// article's current state no longer matches expected, so a redelivered
	// job loses the race silently.
	UpdateEnrichment(ctx context.Context, id string, expected EnrichmentState, enr Enrichment) (bool, error)
	// MarkFailed flips the state to failed under the same condition.
	MarkFailed(ctx context.Context, id string, expected EnrichmentState) (bool, error)
}

// Store aggregates the persistence interfaces for wiring.
type Store interface {
	ChannelStore
	ArticleStore
}

// Queue provides at-least-once delivery of enrichment jobs.
type Queue interface {
	Enqueue(ctx context.Context, job EnrichmentJob) error
	Dequeue(ctx context.Context) (EnrichmentJob, error)
}

// Fetcher retrieves the raw bytes behind a URL. Transport errors, timeouts
// and non-2xx statuses are all reported uniformly as an error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor derives title, text content and word count from raw page bytes.
type Extractor interface {
	Extract(raw []byte) (Extraction, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for archive paths and integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
