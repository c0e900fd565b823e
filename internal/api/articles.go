package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clipstream/clipstream/internal/metrics"
	"github.com/clipstream/clipstream/internal/news"
)

// enqueueTimeout bounds how long a submission waits for queue capacity before
// the article is rolled back.
const enqueueTimeout = 5 * time.Second

type submitArticleRequest struct {
	URL       string `json:"url"`
	ChannelID string `json:"channel_id"`
}

func (s *Server) submitArticle(w http.ResponseWriter, r *http.Request) {
	var req submitArticleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ObserveSubmission("invalid")
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	article, err := s.ingestArticle(r.Context(), req, userIDFrom(r.Context()))
	if err != nil {
		metrics.ObserveSubmission("rejected")
		writeDomainError(w, err)
		return
	}

	metrics.ObserveSubmission("accepted")
	writeJSON(w, http.StatusCreated, article)
}

// ingestArticle runs the full submission pipeline: validation, reachability
// probe, record creation and enqueue. No record survives a failed enqueue.
func (s *Server) ingestArticle(ctx context.Context, req submitArticleRequest, ownerID string) (news.Article, error) {
	if err := news.ValidateArticleURL(req.URL); err != nil {
		return news.Article{}, err
	}
	if req.ChannelID == "" {
		return news.Article{}, news.NewValidationError("channel_id", "channel_id is required")
	}
	if _, err := s.store.GetChannel(ctx, req.ChannelID); err != nil {
		if errors.Is(err, news.ErrNotFound) {
			return news.Article{}, news.NewValidationError("channel_id", "channel does not exist")
		}
		return news.Article{}, fmt.Errorf("load channel: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout())
	_, err := s.probe.Fetch(probeCtx, req.URL)
	cancel()
	if err != nil {
		return news.Article{}, fmt.Errorf("%w: %v", news.ErrUnreachable, err)
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return news.Article{}, fmt.Errorf("generate article id: %w", err)
	}
	now := s.clock.Now()
	article := news.Article{
		ID:        id,
		URL:       req.URL,
		ChannelID: req.ChannelID,
		OwnerID:   ownerID,
		State:     news.StatePending,
		CreatedAt: now,
	}
	if err := s.store.CreateArticle(ctx, article); err != nil {
		if errors.Is(err, news.ErrNotFound) {
			// Channel deleted between the existence check and the insert.
			return news.Article{}, news.NewValidationError("channel_id", "channel does not exist")
		}
		return news.Article{}, fmt.Errorf("create article: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	job := news.EnrichmentJob{
		ArticleID: id,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, job); err != nil {
		// The request context may already be dead (client disconnect, handler
		// timeout); the rollback must still run or the record stays pending
		// with no job behind it.
		rollbackCtx, rollbackCancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
		defer rollbackCancel()
		if delErr := s.store.DeleteArticle(rollbackCtx, id); delErr != nil {
			s.logger.Error("rollback article after enqueue failure",
				zap.String("article_id", id),
				zap.Error(delErr),
			)
		}
		return news.Article{}, fmt.Errorf("enqueue enrichment job: %w", err)
	}

	return article, nil
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	filter, err := parseArticleFilter(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	page, err := s.parsePage(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	articles, err := s.store.ListArticles(r.Context(), filter, page)
	if err != nil {
		s.logger.Error("list articles failed", zap.Error(err))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles})
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.store.GetArticle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

func (s *Server) deleteArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	article, err := s.store.GetArticle(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := checkOwner("DELETE /v1/articles/{id}", userIDFrom(r.Context()), article.OwnerID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.store.DeleteArticle(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseArticleFilter(r *http.Request) (news.ArticleFilter, error) {
	filter := news.ArticleFilter{ChannelID: r.URL.Query().Get("channel_id")}

	min, err := parseOptionalInt(r, "min_word_count")
	if err != nil {
		return news.ArticleFilter{}, err
	}
	max, err := parseOptionalInt(r, "max_word_count")
	if err != nil {
		return news.ArticleFilter{}, err
	}
	filter.MinWordCount = min
	filter.MaxWordCount = max
	return filter, nil
}

// parsePage reads limit/offset, applying the default and the configured cap.
func (s *Server) parsePage(r *http.Request) (news.Page, error) {
	page := news.Page{Limit: defaultPageLimit}

	if limit, err := parseOptionalInt(r, "limit"); err != nil {
		return news.Page{}, err
	} else if limit != nil {
		if *limit <= 0 {
			return news.Page{}, news.NewValidationError("limit", "limit must be positive")
		}
		page.Limit = *limit
	}
	if page.Limit > s.cfg.Server.MaxPageSize {
		page.Limit = s.cfg.Server.MaxPageSize
	}

	if offset, err := parseOptionalInt(r, "offset"); err != nil {
		return news.Page{}, err
	} else if offset != nil {
		if *offset < 0 {
			return news.Page{}, news.NewValidationError("offset", "offset must not be negative")
		}
		page.Offset = *offset
	}
	return page, nil
}

func parseOptionalInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, news.NewValidationError(name, "must be an integer")
	}
	return &value, nil
}
