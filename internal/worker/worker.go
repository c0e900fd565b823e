// Package worker implements the background enrichment loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clipstream/clipstream/internal/metrics"
	"github.com/clipstream/clipstream/internal/news"
)

// Config controls Worker behavior.
type Config struct {
	FetchTimeout  time.Duration
	ArchivePrefix string
	ContentType   string
}

// Worker consumes enrichment jobs and executes the fetch/extract/persist
// pipeline. It is the only writer of title, content, word count and
// enrichment state.
type Worker struct {
	queue     news.Queue
	store     news.ArticleStore
	fetcher   news.Fetcher
	extractor news.Extractor
	blobStore news.BlobStore
	hasher    news.Hasher
	clock     news.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. blobStore may be nil to disable the raw-page
// archive.
func New(
	queue news.Queue,
	store news.ArticleStore,
	fetcher news.Fetcher,
	extractor news.Extractor,
	blobStore news.BlobStore,
	hasher news.Hasher,
	clock news.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	metrics.Init()
	return &Worker{
		queue:     queue,
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		blobStore: blobStore,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job news.EnrichmentJob) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	start := w.clock.Now()

	article, err := w.store.GetArticle(ctx, job.ArticleID)
	if err != nil {
		if errors.Is(err, news.ErrNotFound) {
			// Deleted before the job ran; nothing to do.
			w.logger.Debug("article gone, discarding job", zap.String("article_id", job.ArticleID))
			metrics.ObserveEnrichment("discarded", w.clock.Now().Sub(start))
			return
		}
		w.logger.Error("load article failed", zap.String("article_id", job.ArticleID), zap.Error(err))
		return
	}

	// Queues may redeliver; anything past pending was already handled.
	if article.State != news.StatePending {
		w.logger.Debug("article already processed, discarding job",
			zap.String("article_id", article.ID),
			zap.String("state", string(article.State)),
		)
		metrics.ObserveEnrichment("discarded", w.clock.Now().Sub(start))
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	raw, err := w.fetcher.Fetch(fetchCtx, article.URL)
	cancel()
	if err != nil {
		w.logger.Warn("fetch failed", zap.String("article_id", article.ID), zap.String("url", article.URL), zap.Error(err))
		w.markFailed(ctx, article.ID)
		metrics.ObserveEnrichment("failed", w.clock.Now().Sub(start))
		return
	}

	extraction, err := w.extractor.Extract(raw)
	if err != nil {
		w.logger.Warn("extract failed", zap.String("article_id", article.ID), zap.Error(err))
		w.markFailed(ctx, article.ID)
		metrics.ObserveEnrichment("failed", w.clock.Now().Sub(start))
		return
	}

	enr := news.Enrichment{
		Title:      extraction.Title,
		Content:    extraction.Content,
		WordCount:  extraction.WordCount,
		ArchiveURI: w.archive(ctx, article.ID, raw),
	}

	ok, err := w.store.UpdateEnrichment(ctx, article.ID, news.StatePending, enr)
	if err != nil {
		if errors.Is(err, news.ErrNotFound) {
			w.logger.Debug("article deleted mid-enrichment", zap.String("article_id", article.ID))
			metrics.ObserveEnrichment("discarded", w.clock.Now().Sub(start))
			return
		}
		w.logger.Error("persist enrichment failed", zap.String("article_id", article.ID), zap.Error(err))
		return
	}
	if !ok {
		// A concurrent delivery won the compare-and-set; our result is discarded.
		w.logger.Debug("lost enrichment race", zap.String("article_id", article.ID))
		metrics.ObserveEnrichment("discarded", w.clock.Now().Sub(start))
		return
	}

	w.logger.Info("article enriched",
		zap.String("article_id", article.ID),
		zap.String("url", article.URL),
		zap.Int("word_count", extraction.WordCount),
	)
	metrics.ObserveEnrichment("enriched", w.clock.Now().Sub(start))
}

// archive stores the raw page bytes when a blob store is configured. Failure
// to archive never fails the enrichment.
func (w *Worker) archive(ctx context.Context, articleID string, raw []byte) string {
	if w.blobStore == nil || w.hasher == nil {
		return ""
	}
	hash, err := w.hasher.Hash(raw)
	if err != nil {
		w.logger.Warn("hash page failed", zap.String("article_id", articleID), zap.Error(err))
		return ""
	}
	uri, err := w.blobStore.PutObject(ctx, w.buildArchivePath(articleID, hash), w.cfg.ContentType, raw)
	if err != nil {
		w.logger.Warn("archive page failed", zap.String("article_id", articleID), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) buildArchivePath(articleID, hash string) string {
	prefix := w.cfg.ArchivePrefix
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", articleID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, articleID, hash)
}

func (w *Worker) markFailed(ctx context.Context, articleID string) {
	ok, err := w.store.MarkFailed(ctx, articleID, news.StatePending)
	if err != nil && !errors.Is(err, news.ErrNotFound) {
		w.logger.Error("mark failed errored", zap.String("article_id", articleID), zap.Error(err))
		return
	}
	if !ok {
		w.logger.Debug("failed transition lost race", zap.String("article_id", articleID))
	}
}
