// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/clipstream/clipstream/internal/news"
)

// Store keeps channels and articles in maps guarded by a mutex. Semantics
// mirror the Postgres store, including cascade delete and conditional
// enrichment updates.
type Store struct {
	mu       sync.RWMutex
	channels map[string]news.Channel
	articles map[string]news.Article
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		channels: make(map[string]news.Channel),
		articles: make(map[string]news.Article),
	}
}

// CreateChannel stores a new channel.
func (s *Store) CreateChannel(_ context.Context, ch news.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
	return nil
}

// GetChannel fetches a channel by ID.
func (s *Store) GetChannel(_ context.Context, id string) (news.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return news.Channel{}, news.ErrNotFound
	}
	return ch, nil
}

// ListChannels returns channels ordered by ID ascending.
func (s *Store) ListChannels(_ context.Context, page news.Page) ([]news.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]news.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, page), nil
}

// DeleteChannel removes the channel and cascades to its articles.
func (s *Store) DeleteChannel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return news.ErrNotFound
	}
	delete(s.channels, id)
	for articleID, a := range s.articles {
		if a.ChannelID == id {
			delete(s.articles, articleID)
		}
	}
	return nil
}

// CreateArticle stores a new article. The referenced channel must exist.
func (s *Store) CreateArticle(_ context.Context, a news.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[a.ChannelID]; !ok {
		return news.ErrNotFound
	}
	s.articles[a.ID] = a
	return nil
}

// GetArticle fetches an article by ID.
func (s *Store) GetArticle(_ context.Context, id string) (news.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.articles[id]
	if !ok {
		return news.Article{}, news.ErrNotFound
	}
	return a, nil
}

// ListArticles applies the filter and returns articles ordered by ID
// ascending. Word-count bounds only match articles whose word count is set.
func (s *Store) ListArticles(_ context.Context, filter news.ArticleFilter, page news.Page) ([]news.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]news.Article, 0, len(s.articles))
	for _, a := range s.articles {
		if filter.ChannelID != "" && a.ChannelID != filter.ChannelID {
			continue
		}
		if filter.MinWordCount != nil && (a.WordCount == nil || *a.WordCount < *filter.MinWordCount) {
			continue
		}
		if filter.MaxWordCount != nil && (a.WordCount == nil || *a.WordCount > *filter.MaxWordCount) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, page), nil
}

// DeleteArticle removes an article by ID.
func (s *Store) DeleteArticle(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[id]; !ok {
		return news.ErrNotFound
	}
	delete(s.articles, id)
	return nil
}

// UpdateEnrichment conditionally writes the enrichment fields.
func (s *Store) UpdateEnrichment(_ context.Context, id string, expected news.EnrichmentState, enr news.Enrichment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[id]
	if !ok {
		return false, news.ErrNotFound
	}
	if a.State != expected {
		return false, nil
	}
	wc := enr.WordCount
	a.State = news.StateEnriched
	a.Title = enr.Title
	a.Content = enr.Content
	a.WordCount = &wc
	a.ArchiveURI = enr.ArchiveURI
	s.articles[id] = a
	return true, nil
}

// MarkFailed conditionally flips the article to the failed state.
func (s *Store) MarkFailed(_ context.Context, id string, expected news.EnrichmentState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[id]
	if !ok {
		return false, news.ErrNotFound
	}
	if a.State != expected {
		return false, nil
	}
	a.State = news.StateFailed
	s.articles[id] = a
	return true, nil
}

func paginate[T any](items []T, page news.Page) []T {
	if page.Offset > 0 {
		if page.Offset >= len(items) {
			return []T{}
		}
		items = items[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
