package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/forensicdocflow/internal/jobstore"
	"github.com/Lllllllleong/forensicdocflow/internal/models"
	"github.com/google/uuid"
)

// Submitter accepts a request for background execution.
type Submitter interface {
	Submit(req Request) error
}

// StartRequest is what a client sends to start a job.
type StartRequest struct {
	Filename string
	UploadID string
	File     []byte
	Ranges   []models.ExtractionRange
}

// Dispatcher creates job records and hands them to the pool.
type Dispatcher struct {
	jobs         jobstore.Store
	pool         Submitter
	maxFileBytes int64
	now          func() time.Time
}

func NewDispatcher(jobs jobstore.Store, pool Submitter, maxFileBytes int64) *Dispatcher {
	return &Dispatcher{jobs: jobs, pool: pool, maxFileBytes: maxFileBytes, now: time.Now}
}

// ErrInvalidRange is returned for a range that cannot select any page.
var ErrInvalidRange = errors.New("invalid extraction range")

// ValidateRanges rejects ranges that cannot select any page.
func ValidateRanges(ranges []models.ExtractionRange) error {
	for _, r := range ranges {
		if r.From < 1 || r.To < r.From {
			return fmt.Errorf("%w %q: %d-%d", ErrInvalidRange, r.Name, r.From, r.To)
		}
	}
	return nil
}

// Start validates req, creates a pending job and queues it. The returned ID
// is valid even when the queue rejects the job: the job is then already
// marked failed.
func (d *Dispatcher) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.UploadID == "" && len(req.File) == 0 {
		return "", ErrNoFileProvided
	}
	if d.maxFileBytes > 0 && int64(len(req.File)) > d.maxFileBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(req.File))
	}
	if err := ValidateRanges(req.Ranges); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := d.jobs.Create(ctx, models.NewJob(id, req.Filename, d.now())); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	err := d.pool.Submit(Request{
		JobID:    id,
		Filename: req.Filename,
		UploadID: req.UploadID,
		File:     req.File,
		Ranges:   req.Ranges,
	})
	if err != nil {
		if _, uerr := d.jobs.Update(ctx, id, models.JobUpdate{
			Status:       models.Ptr(models.JobStatusFailed),
			CurrentStep:  models.Ptr("Failed"),
			ErrorMessage: models.Ptr(err.Error()),
		}); uerr != nil {
			slog.Error("Failed to mark rejected job as failed.", "jobId", id, "error", uerr)
		}
		return id, err
	}
	slog.Info("Job queued.", "jobId", id, "filename", req.Filename, "uploadId", req.UploadID, "ranges", len(req.Ranges))
	return id, nil
}

// InterruptedMessage is recorded on jobs recovery finds abandoned.
const InterruptedMessage = "interrupted: no progress reported"

// RecoverStuckJobs fails pending or processing jobs whose last update is
// before staleBefore. A running job refreshes UpdatedAt through its
// heartbeat, so only jobs whose worker died are failed. Jobs are not
// resumed; clients see a failed job and may resubmit.
func RecoverStuckJobs(ctx context.Context, jobs jobstore.Store, staleBefore time.Time) (int, error) {
	stuck, err := jobs.ListByStatus(ctx, models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}
	recovered := 0
	for _, j := range stuck {
		if !j.UpdatedAt.Before(staleBefore) {
			continue
		}
		_, err := jobs.Update(ctx, j.ID, models.JobUpdate{
			Status:       models.Ptr(models.JobStatusFailed),
			CurrentStep:  models.Ptr("Failed"),
			ErrorMessage: models.Ptr(InterruptedMessage),
			StaleBefore:  &staleBefore,
		})
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrJobActive) {
			// Finished or touched between the list and the update.
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("failed to recover job %s: %w", j.ID, err)
		}
		slog.Warn("Marked interrupted job as failed.", "jobId", j.ID, "previousStatus", j.Status, "step", j.CurrentStep, "updatedAt", j.UpdatedAt)
		recovered++
	}
	return recovered, nil
}

// RunRecovery runs RecoverStuckJobs every interval until ctx is cancelled.
func RunRecovery(ctx context.Context, jobs jobstore.Store, staleAfter, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			recovered, err := RecoverStuckJobs(ctx, jobs, now.Add(-staleAfter))
			if err != nil {
				slog.Error("Job recovery failed.", "error", err)
				continue
			}
			if recovered > 0 {
				slog.Warn("Abandoned jobs marked as failed.", "count", recovered, "staleAfter", staleAfter.String())
			}
		}
	}
}
