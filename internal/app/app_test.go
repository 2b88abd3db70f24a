package app

import (
	"context"
	"testing"
	"time"

	"github.com/Lllllllleong/forensicdocflow/internal/config"
	"github.com/Lllllllleong/forensicdocflow/internal/jobstore"
	"github.com/Lllllllleong/forensicdocflow/internal/models"
	"github.com/stretchr/testify/require"
)

type echoOCR struct{}

func (echoOCR) Name() string { return "echo" }

func (echoOCR) Transcribe(context.Context, []byte, int, int) (string, error) {
	return "# Page\nText.", nil
}

func memoryConfig() config.Config {
	return config.Config{
		JobStore:         config.BackendMemory,
		ChunkStore:       config.BackendMemory,
		MaxChunkBytes:    5 << 20,
		MaxUploadBytes:   50 << 20,
		MaxFileBytes:     500 << 20,
		MaxPagesPerChunk: 35,
		WorkerCount:      1,
		QueueSize:        1,
		ChunkTTL:         time.Minute,
		SweepInterval:    time.Minute,
		JobStaleAfter:    time.Hour,
	}
}

func TestNew_MemoryBackends(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), echoOCR{})
	require.NoError(t, err)
	require.IsType(t, &jobstore.MemoryStore{}, a.Jobs)
	require.NotNil(t, a.Processor)
	require.NotNil(t, a.Dispatcher)
	require.NoError(t, a.Close())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.JobStore = config.BackendPostgres
	_, err := New(context.Background(), cfg, echoOCR{})
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestStart_RecoversInterruptedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, memoryConfig(), echoOCR{})
	require.NoError(t, err)
	require.NoError(t, a.Jobs.Create(ctx, models.NewJob("left-over", "a.pdf", time.Now())))

	require.NoError(t, a.Start(ctx))
	job, err := a.Jobs.Get(ctx, "left-over")
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, job.Status)

	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	require.NoError(t, a.Shutdown(shutdownCtx))
}
