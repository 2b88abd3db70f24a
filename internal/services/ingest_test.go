package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/forensicdocflow/internal/jobstore"
	"github.com/Lllllllleong/forensicdocflow/internal/models"
	"github.com/stretchr/testify/require"
)

type flakyReader struct {
	content  []byte
	failures int

	mu    sync.Mutex
	reads int
}

func (r *flakyReader) Read(_ context.Context, _, _ string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.reads <= r.failures {
		return nil, errors.New("connection reset")
	}
	return r.content, nil
}

func newTestIngest(reader ObjectReader, jobs jobstore.Store, runner JobRunner) *IngestFunction {
	f := NewIngestFunction(reader, jobs, runner)
	f.backoff = time.Millisecond
	return f
}

func TestIngest_RunsJobForPDF(t *testing.T) {
	ctx := context.Background()
	jobs := jobstore.NewMemoryStore()
	runner := &countingRunner{}
	reader := &flakyReader{content: []byte("%PDF-1.4 scan"), failures: 2}
	f := newTestIngest(reader, jobs, runner)

	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: "in", Name: "cases/2024/record.PDF"}))
	require.Equal(t, 3, reader.reads)

	id := IngestJobID([]byte("%PDF-1.4 scan"))
	require.Equal(t, []string{id}, runner.seen)
	job, err := jobs.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "record.PDF", job.Filename)
	require.Equal(t, models.JobStatusPending, job.Status)

	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: "in", Name: "copy.pdf"}))
	require.Len(t, runner.seen, 1, "same content is not processed twice")
}

func TestIngest_SkipsNonPDF(t *testing.T) {
	reader := &flakyReader{}
	f := newTestIngest(reader, jobstore.NewMemoryStore(), &countingRunner{})
	require.NoError(t, f.Process(context.Background(), GCSEvent{Bucket: "in", Name: "notes.txt", ContentType: "text/plain"}))
	require.Zero(t, reader.reads)
}

func TestIngest_GivesUpAfterRetries(t *testing.T) {
	reader := &flakyReader{failures: 10}
	runner := &countingRunner{}
	f := newTestIngest(reader, jobstore.NewMemoryStore(), runner)

	err := f.Process(context.Background(), GCSEvent{Bucket: "in", Name: "a.pdf"})
	require.ErrorContains(t, err, "connection reset")
	require.Equal(t, 4, reader.reads)
	require.Empty(t, runner.seen)
}

func TestIngest_RerunsFailedJob(t *testing.T) {
	ctx := context.Background()
	jobs := jobstore.NewMemoryStore()
	runner := &countingRunner{}
	content := []byte("%PDF-1.4 retried")
	f := newTestIngest(&flakyReader{content: content}, jobs, runner)

	base := IngestJobID(content)
	require.NoError(t, jobs.Create(ctx, models.NewJob(base, "record.pdf", time.Now())))
	_, err := jobs.Update(ctx, base, models.JobUpdate{
		Status:       models.Ptr(models.JobStatusFailed),
		ErrorMessage: models.Ptr("ocr quota exceeded"),
	})
	require.NoError(t, err)

	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: "in", Name: "record.pdf"}))
	require.Equal(t, []string{base + "-r2"}, runner.seen)

	// The second attempt is still pending, so a redelivery is a duplicate.
	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: "in", Name: "record.pdf"}))
	require.Len(t, runner.seen, 1)
}

func TestIngest_SkipsCompletedJob(t *testing.T) {
	ctx := context.Background()
	jobs := jobstore.NewMemoryStore()
	runner := &countingRunner{}
	content := []byte("%PDF-1.4 done")
	f := newTestIngest(&flakyReader{content: content}, jobs, runner)

	base := IngestJobID(content)
	require.NoError(t, jobs.Create(ctx, models.NewJob(base, "record.pdf", time.Now())))
	_, err := jobs.Update(ctx, base, models.JobUpdate{
		Status: models.Ptr(models.JobStatusCompleted),
		Result: &models.ResultData{},
	})
	require.NoError(t, err)

	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: "in", Name: "record.pdf"}))
	require.Empty(t, runner.seen)
}

func TestIngest_StopsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	jobs := jobstore.NewMemoryStore()
	runner := &countingRunner{}
	content := []byte("%PDF-1.4 broken")
	f := newTestIngest(&flakyReader{content: content}, jobs, runner)

	base := IngestJobID(content)
	for attempt := 1; attempt <= maxIngestAttempts; attempt++ {
		id := ingestAttemptID(base, attempt)
		require.NoError(t, jobs.Create(ctx, models.NewJob(id, "record.pdf", time.Now())))
		_, err := jobs.Update(ctx, id, models.JobUpdate{Status: models.Ptr(models.JobStatusFailed)})
		require.NoError(t, err)
	}

	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: "in", Name: "record.pdf"}))
	require.Empty(t, runner.seen)
}
