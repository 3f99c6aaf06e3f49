package main

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/pdf-pipeline/internal/acquire"
	"github.com/yourusername/pdf-pipeline/internal/config"
	"github.com/yourusername/pdf-pipeline/internal/extract"
	"github.com/yourusername/pdf-pipeline/internal/jobs"
	"github.com/yourusername/pdf-pipeline/internal/metrics"
	"github.com/yourusername/pdf-pipeline/internal/pipeline"
	"github.com/yourusername/pdf-pipeline/internal/render"
	"github.com/yourusername/pdf-pipeline/internal/storage"
	"github.com/yourusername/pdf-pipeline/internal/tracker"
	"github.com/yourusername/pdf-pipeline/internal/workspace"
)

// application は配線済みの主要コンポーネントをまとめます。
type application struct {
	handler   *pipeline.Handler
	jobs      *jobs.Manager
	workspace *workspace.Manager
}

// buildApp は設定から全コンポーネントを構築します。Ghostscriptのような必須の外部
// 依存が欠けている場合はここで失敗します。
func buildApp(ctx context.Context, cfg *config.Config, registry prometheus.Registerer) (*application, error) {
	logger := log.Default()

	store, err := storage.NewS3Store(ctx, storage.Options{
		Region:     cfg.AWSRegion,
		Bucket:     cfg.S3Bucket,
		Endpoint:   cfg.S3Endpoint,
		FolderPath: cfg.S3FolderPath,
		URLExpiry:  cfg.S3URLExpiry,
	})
	if err != nil {
		return nil, err
	}

	ws, err := workspace.New(cfg.WorkDir, logger)
	if err != nil {
		return nil, err
	}

	renderer, err := render.New(render.Config{
		GhostscriptPath: cfg.GhostscriptPath,
		Density:         cfg.ImageDensity,
		Width:           cfg.ImageWidth,
		Height:          cfg.ImageHeight,
		Concurrency:     cfg.RenderConcurrency,
		PageBatchSize:   cfg.PageBatchSize,
	}, store, ws, logger)
	if err != nil {
		return nil, err
	}

	statusStore, err := buildTracker(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New(registry)
	extractor := extract.NewClient(cfg.MarkdownServiceURL, cfg.MarkdownRequestTimeout, logger)

	processor := pipeline.NewProcessor(
		extractor,
		renderer,
		statusStore,
		store,
		ws,
		acquire.New(logger),
		m,
		cfg.MaxConcurrentProcessing,
		logger,
	)

	jobManager, err := jobs.NewManager(cfg, processor, statusStore, logger)
	if err != nil {
		return nil, err
	}

	gate := pipeline.NewGate(cfg.MaxConcurrentProcessing)
	handler := pipeline.NewHandler(processor, jobManager, statusStore, gate, m, logger)

	return &application{
		handler:   handler,
		jobs:      jobManager,
		workspace: ws,
	}, nil
}

func buildTracker(cfg *config.Config, logger *log.Logger) (*tracker.Tracker, error) {
	opt, err := redis.ParseURL(cfg.StatusRedisURL)
	if err != nil {
		return nil, err
	}
	return tracker.New(redis.NewClient(opt), logger), nil
}
