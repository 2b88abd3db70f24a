package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/forensicdocflow/internal/api"
	"github.com/Lllllllleong/forensicdocflow/internal/app"
	"github.com/Lllllllleong/forensicdocflow/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("Server stopped with error.", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}

	// Background work outlives the signal context so queued jobs can drain.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	if err := a.Start(workCtx); err != nil {
		a.Close()
		return err
	}

	server := api.NewServer(a.Jobs, a.Chunks, a.Dispatcher, api.Config{
		MaxChunkBytes:  cfg.MaxChunkBytes,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxFileBytes:   cfg.MaxFileBytes,
		MaxJSONBytes:   cfg.MaxJSONBytes,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening.", "port", cfg.Port, "jobStore", cfg.JobStore, "chunkStore", cfg.ChunkStore)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			cancelWork()
			a.Close()
			return err
		}
	case <-ctx.Done():
		slog.Info("Shutting down.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.OCRTimeout)
	defer cancel()
	httpErr := srv.Shutdown(shutdownCtx)
	appErr := a.Shutdown(shutdownCtx)
	cancelWork()
	return errors.Join(httpErr, appErr)
}
