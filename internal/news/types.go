// Package news defines core types shared across subsystems.
package news

import "time"

// EnrichmentState represents the lifecycle state of an article's enrichment.
type EnrichmentState string

// Enrichment states persisted with each article.
const (
	StatePending  EnrichmentState = "pending"
	StateEnriched EnrichmentState = "enriched"
	StateFailed   EnrichmentState = "failed"
)

// Channel is a source registered by a user. Articles belong to exactly one
// channel and are removed with it.
type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Article is a submitted URL plus the fields derived by enrichment.
// Title, WordCount, Content and ArchiveURI stay unset until the state
// transitions to enriched; they never change afterwards.
type Article struct {
	ID         string          `json:"id"`
	URL        string          `json:"url"`
	ChannelID  string          `json:"channel_id"`
	OwnerID    string          `json:"owner_id,omitempty"`
	State      EnrichmentState `json:"enrichment_state"`
	Title      string          `json:"title,omitempty"`
	WordCount  *int            `json:"word_count,omitempty"`
	Content    string          `json:"content,omitempty"`
	ArchiveURI string          `json:"archive_uri,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Enrichment carries the fields written together when an article is enriched.
type Enrichment struct {
	Title      string
	Content    string
	WordCount  int
	ArchiveURI string
}

// EnrichmentJob is the queue payload keying a background enrichment run.
type EnrichmentJob struct {
	ArticleID string `json:"article_id"`
	Attempt   int    `json:"attempt"`
	Submitted int64  `json:"submitted"`
}

// ArticleFilter narrows article listings. Word-count bounds are inclusive and
// naturally exclude articles whose word count is still unset.
type ArticleFilter struct {
	ChannelID    string
	MinWordCount *int
	MaxWordCount *int
}

// Page bounds a listing. Limit is clamped by the storage layer.
type Page struct {
	Limit  int
	Offset int
}

// Extraction is the result of parsing a fetched page.
type Extraction struct {
	Title     string
	Content   string
	WordCount int
}
