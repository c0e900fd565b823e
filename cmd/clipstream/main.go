// Package main wires together the clipstream service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clipstream/clipstream/internal/api"
	"github.com/clipstream/clipstream/internal/clock/system"
	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/dispatcher"
	"github.com/clipstream/clipstream/internal/extractor"
	collyfetcher "github.com/clipstream/clipstream/internal/fetcher/colly"
	"github.com/clipstream/clipstream/internal/hash/sha256"
	"github.com/clipstream/clipstream/internal/id/uuid"
	"github.com/clipstream/clipstream/internal/logging"
	"github.com/clipstream/clipstream/internal/news"
	queueMemory "github.com/clipstream/clipstream/internal/queue/memory"
	queuePubSub "github.com/clipstream/clipstream/internal/queue/pubsub"
	"github.com/clipstream/clipstream/internal/storage/gcs"
	"github.com/clipstream/clipstream/internal/storage/local"
	storageMemory "github.com/clipstream/clipstream/internal/storage/memory"
	"github.com/clipstream/clipstream/internal/storage/postgres"
	"github.com/clipstream/clipstream/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	queue, closeQueue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}

	blobStore, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	extract := extractor.New()
	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.New()

	workerCfg := worker.Config{
		FetchTimeout:  cfg.FetchTimeout(),
		ArchivePrefix: cfg.Storage.Prefix,
		ContentType:   cfg.Storage.ContentType,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			store,
			fetcher,
			extract,
			blobStore,
			hasher,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(
		store,
		dispatch,
		fetcher,
		api.NewStaticVerifier(cfg.Auth.Tokens),
		idGen,
		clock,
		cfg,
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Worker.Concurrency))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	closeQueue()
	logger.Info("shutdown complete")
}

// buildStore selects Postgres when a DSN is configured, the in-memory store
// otherwise.
func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (news.Store, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("using in-memory store")
		return storageMemory.NewStore(), func() {}, nil
	}
	store, err := postgres.NewStore(ctx, postgres.StoreConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	logger.Info("using postgres store")
	return store, store.Close, nil
}

// buildQueue selects Pub/Sub when a project is configured, the in-memory
// queue otherwise.
func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (news.Queue, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Info("using in-memory queue", zap.Int("depth", cfg.Worker.QueueDepth))
		q := queueMemory.NewQueue(cfg.Worker.QueueDepth)
		return q, q.Close, nil
	}
	q, err := queuePubSub.New(ctx, queuePubSub.Config{
		ProjectID:    cfg.PubSub.ProjectID,
		TopicName:    cfg.PubSub.TopicName,
		Subscription: cfg.PubSub.Subscription,
		Buffer:       cfg.Worker.QueueDepth,
	}, logger.Named("pubsub"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect pubsub: %w", err)
	}
	go q.Start(ctx)
	logger.Info("using pubsub queue",
		zap.String("topic", cfg.PubSub.TopicName),
		zap.String("subscription", cfg.PubSub.Subscription),
	)
	closeQueue := func() {
		if err := q.Close(); err != nil {
			logger.Error("pubsub queue close error", zap.Error(err))
		}
	}
	return q, closeQueue, nil
}

// buildBlobStore picks the archive backend; nil disables archiving.
func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (news.BlobStore, error) {
	switch {
	case cfg.Storage.GCSBucket != "":
		logger.Info("archiving raw pages to gcs", zap.String("bucket", cfg.Storage.GCSBucket))
		store, err := gcs.New(ctx, cfg.Storage.GCSBucket, logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	case cfg.Storage.LocalDir != "":
		logger.Info("archiving raw pages locally", zap.String("dir", cfg.Storage.LocalDir))
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	default:
		logger.Info("raw page archive disabled")
		return nil, nil
	}
}
