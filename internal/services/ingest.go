package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/Lllllllleong/forensicdocflow/internal/jobstore"
	"github.com/Lllllllleong/forensicdocflow/internal/models"
	"github.com/Lllllllleong/forensicdocflow/internal/validation"
)

// GCSEvent is the data of a storage object-finalized CloudEvent.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// ObjectReader downloads a whole object.
type ObjectReader interface {
	Read(ctx context.Context, bucket, name string) ([]byte, error)
}

// JobRunner is the synchronous pipeline, normally a *Processor.
type JobRunner interface {
	Run(ctx context.Context, req Request) error
}

// IngestFunction turns an uploaded object into a job and runs it to
// completion within the same invocation.
type IngestFunction struct {
	objects ObjectReader
	jobs    jobstore.Store
	runner  JobRunner

	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

func NewIngestFunction(objects ObjectReader, jobs jobstore.Store, runner JobRunner) *IngestFunction {
	return &IngestFunction{
		objects:    objects,
		jobs:       jobs,
		runner:     runner,
		maxRetries: 4,
		backoff:    time.Second,
		now:        time.Now,
	}
}

func isPDF(e GCSEvent) bool {
	return e.ContentType == "application/pdf" || strings.EqualFold(path.Ext(e.Name), ".pdf")
}

// IngestJobID is derived from the document content, so a redelivered event
// or a re-uploaded copy of the same file maps to the existing job.
func IngestJobID(content []byte) string {
	return "gcs-" + validation.Hash(content)[:32]
}

// maxIngestAttempts bounds how often one document is re-run after failures.
const maxIngestAttempts = 5

// ingestAttemptID names the nth run of a document. Attempt IDs are
// deterministic so concurrent deliveries still collide on Create.
func ingestAttemptID(base string, attempt int) string {
	if attempt == 1 {
		return base
	}
	return fmt.Sprintf("%s-r%d", base, attempt)
}

// Process handles one object-finalized event. A document whose job is
// pending, processing or completed is a clean exit. A document whose last
// job failed is run again under the next attempt ID. A pipeline failure is
// recorded on the job and returned so the invocation is marked failed.
func (f *IngestFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !isPDF(e) {
		logCtx.Info("Ignoring non-PDF object.", "contentType", e.ContentType)
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	content, err := f.download(ctx, e)
	if err != nil {
		logCtx.Error("Failed to download source PDF.", "error", err)
		return err
	}

	base := IngestJobID(content)
	filename := path.Base(e.Name)
	for attempt := 1; attempt <= maxIngestAttempts; attempt++ {
		jobID := ingestAttemptID(base, attempt)
		err := f.jobs.Create(ctx, models.NewJob(jobID, filename, f.now()))
		if err == nil {
			logCtx = logCtx.With("jobId", jobID)
			logCtx.Info("Created job for GCS object.", "bytes", len(content), "attempt", attempt)
			return f.runner.Run(ctx, Request{JobID: jobID, Filename: filename, File: content})
		}
		if !errors.Is(err, jobstore.ErrJobExists) {
			logCtx.Error("Failed to create job.", "jobId", jobID, "error", err)
			return err
		}

		existing, err := f.jobs.Get(ctx, jobID)
		if err != nil {
			logCtx.Error("Failed to read existing job.", "jobId", jobID, "error", err)
			return err
		}
		if existing.Status != models.JobStatusFailed {
			logCtx.Info("Duplicate file detected. Skipping.", "jobId", jobID, "status", existing.Status)
			return nil
		}
		logCtx.Info("Previous attempt failed. Retrying.", "jobId", jobID, "error", existing.ErrorMessage)
	}
	logCtx.Warn("Document failed on every attempt. Skipping.", "attempts", maxIngestAttempts)
	return nil
}

// download retries transient read failures with exponential backoff.
func (f *IngestFunction) download(ctx context.Context, e GCSEvent) ([]byte, error) {
	backoff := f.backoff
	var lastErr error
	for i := 0; i < f.maxRetries; i++ {
		content, err := f.objects.Read(ctx, e.Bucket, e.Name)
		if err == nil {
			return content, nil
		}
		lastErr = err
		slog.Warn(
			"Download failed, will retry.",
			"gcsObject", e.Name,
			"attempt", i+1,
			"maxRetries", f.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("download of gs://%s/%s failed after all retries: %w", e.Bucket, e.Name, lastErr)
}
