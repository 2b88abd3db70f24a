// Package app builds the stores, clients and pipeline selected by
// configuration. Both binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/forensicdocflow/internal/chunkstore"
	"github.com/Lllllllleong/forensicdocflow/internal/config"
	"github.com/Lllllllleong/forensicdocflow/internal/database"
	"github.com/Lllllllleong/forensicdocflow/internal/gcp"
	"github.com/Lllllllleong/forensicdocflow/internal/jobstore"
	"github.com/Lllllllleong/forensicdocflow/internal/services"
	"github.com/Lllllllleong/forensicdocflow/internal/splitter"
)

// chunkPrefix is the object prefix of uploads in CHUNK_BUCKET.
const chunkPrefix = "uploads"

type App struct {
	Config     config.Config
	Jobs       jobstore.Store
	Chunks     chunkstore.Store
	Processor  *services.Processor
	Pool       *services.Pool
	Dispatcher *services.Dispatcher

	db      *database.DB
	storage *storage.Client
	closers []func() error
}

// New wires everything cfg selects. ocr may be nil, in which case the
// Vertex AI client is created.
func New(ctx context.Context, cfg config.Config, ocr services.OCR) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg}
	if err := a.init(ctx, ocr); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, ocr services.OCR) error {
	cfg := a.Config
	if cfg.JobStore == config.BackendPostgres || cfg.ChunkStore == config.BackendPostgres {
		db, err := database.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	jobs, err := a.jobStore(ctx)
	if err != nil {
		return err
	}
	a.Jobs = jobs

	chunks, err := a.chunkStore(ctx)
	if err != nil {
		return err
	}
	a.Chunks = chunks

	if ocr == nil {
		vertex, err := gcp.NewVertexOCR(ctx, cfg.ProjectID, cfg.VertexRegion, cfg.OCRModel, cfg.OCRMaxOutputTokens, cfg.OCRTimeout)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, vertex.Close)
		ocr = vertex
	}

	a.Processor = services.NewProcessor(a.Jobs, a.Chunks, splitter.NewExtractor(), ocr, services.ProcessorConfig{
		MaxFileBytes:      cfg.MaxFileBytes,
		SizeThreshold:     cfg.OCRSizeThresholdBytes,
		MaxPagesPerChunk:  cfg.MaxPagesPerChunk,
		RangeConcurrency:  cfg.RangeConcurrency,
		HeartbeatInterval: cfg.JobStaleAfter / 4,
	})
	if cfg.WorkflowID != "" {
		notifier, err := gcp.NewWorkflowNotifier(ctx, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, notifier.Close)
		a.Processor.WithNotifier(notifier)
		slog.Info("Completion hand-off enabled.", "workflowId", cfg.WorkflowID)
	}

	a.Pool = services.NewPool(a.Processor, cfg.WorkerCount, cfg.QueueSize)
	a.Dispatcher = services.NewDispatcher(a.Jobs, a.Pool, cfg.MaxFileBytes)
	return nil
}

func (a *App) jobStore(ctx context.Context) (jobstore.Store, error) {
	switch a.Config.JobStore {
	case config.BackendPostgres:
		return jobstore.NewPostgresStore(a.db), nil
	case config.BackendFirestore:
		client, err := gcp.NewFirestoreClient(ctx, a.Config.ProjectID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return jobstore.NewFirestoreStore(client, a.Config.FirestoreCollection), nil
	default:
		return jobstore.NewMemoryStore(), nil
	}
}

func (a *App) chunkStore(ctx context.Context) (chunkstore.Store, error) {
	switch a.Config.ChunkStore {
	case config.BackendPostgres:
		return chunkstore.NewPostgresStore(a.db), nil
	case config.BackendGCS:
		client, err := a.Storage(ctx)
		if err != nil {
			return nil, err
		}
		return chunkstore.NewGCSStore(client.Bucket(a.Config.ChunkBucket), chunkPrefix), nil
	default:
		return chunkstore.NewMemoryStore(), nil
	}
}

// Storage returns the shared Cloud Storage client, creating it on first use.
func (a *App) Storage(ctx context.Context) (*storage.Client, error) {
	if a.storage != nil {
		return a.storage, nil
	}
	client, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	a.storage = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// Start fails abandoned jobs, starts the upload sweeper, the job recovery
// loop and the worker pool. Background work stops when ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	recovered, err := services.RecoverStuckJobs(ctx, a.Jobs, time.Now().Add(-a.Config.JobStaleAfter))
	if err != nil {
		return fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}
	if recovered > 0 {
		slog.Warn("Interrupted jobs marked as failed.", "count", recovered)
	}
	go chunkstore.RunSweeper(ctx, a.Chunks, a.Config.ChunkTTL, a.Config.SweepInterval)
	go services.RunRecovery(ctx, a.Jobs, a.Config.JobStaleAfter, a.Config.SweepInterval)
	a.Pool.Start(ctx)
	return nil
}

// Shutdown drains the pool and releases every client.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Pool.Shutdown(ctx)
	return errors.Join(err, a.Close())
}

// Close releases clients in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
