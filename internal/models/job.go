package models

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle stage of a processing job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ErrInvalidTransition is returned when an update would move a job backwards
// or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid job status transition")

// ErrJobActive is returned when an update guarded by StaleBefore finds the
// job was touched more recently.
var ErrJobActive = errors.New("job is still active")

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a job may move from s to next.
// Staying in a non-terminal status is allowed so progress updates can be
// written without changing the status.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.rank() < 0 || next.rank() < 0 {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// Job is the persisted record for one document-processing request.
// It is shared by every JobStore backend.
type Job struct {
	ID             string      `json:"id" firestore:"-"`
	Filename       string      `json:"filename" firestore:"filename"`
	Status         JobStatus   `json:"status" firestore:"status"`
	TotalPages     int         `json:"total_pages" firestore:"totalPages"`
	ProcessedPages int         `json:"processed_pages" firestore:"processedPages"`
	CurrentStep    string      `json:"current_step" firestore:"currentStep"`
	Result         *ResultData `json:"result_data,omitempty" firestore:"-"`
	ErrorMessage   string      `json:"error_message,omitempty" firestore:"errorMessage,omitempty"`
	CreatedAt      time.Time   `json:"created_at" firestore:"createdAt"`
	UpdatedAt      time.Time   `json:"updated_at" firestore:"updatedAt"`
}

// NewJob returns a pending job as it looks right after the request that
// created it.
func NewJob(id, filename string, now time.Time) *Job {
	return &Job{
		ID:          id,
		Filename:    filename,
		Status:      JobStatusPending,
		CurrentStep: "Queued",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// JobUpdate is a partial update. Nil fields are left untouched.
type JobUpdate struct {
	Status         *JobStatus
	CurrentStep    *string
	TotalPages     *int
	ProcessedPages *int
	Result         *ResultData
	ErrorMessage   *string

	// StaleBefore, when set, makes the update apply only to a job whose
	// UpdatedAt is before it.
	StaleBefore *time.Time
}

// Apply mutates job according to u. It enforces monotonic status transitions,
// keeps processed_pages non-decreasing, and never lets a result and an error
// coexist on the same record.
func (u JobUpdate) Apply(job *Job, now time.Time) error {
	if u.StaleBefore != nil && !job.UpdatedAt.Before(*u.StaleBefore) {
		return fmt.Errorf("%w: last update %s", ErrJobActive, job.UpdatedAt.Format(time.RFC3339))
	}
	next := job.Status
	if u.Status != nil {
		next = *u.Status
	}
	if next != job.Status || job.Status.IsTerminal() {
		if !job.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, next)
		}
	}
	if next == JobStatusCompleted && job.Status != JobStatusCompleted && u.Result == nil {
		return fmt.Errorf("%w: completion requires result data", ErrInvalidTransition)
	}
	if u.Result != nil && next != JobStatusCompleted {
		return fmt.Errorf("%w: result data requires status %s", ErrInvalidTransition, JobStatusCompleted)
	}
	if u.ErrorMessage != nil && next != JobStatusFailed {
		return fmt.Errorf("%w: error message requires status %s", ErrInvalidTransition, JobStatusFailed)
	}

	job.Status = next
	if u.CurrentStep != nil {
		job.CurrentStep = *u.CurrentStep
	}
	if u.TotalPages != nil {
		job.TotalPages = *u.TotalPages
	}
	if u.ProcessedPages != nil && *u.ProcessedPages > job.ProcessedPages {
		job.ProcessedPages = *u.ProcessedPages
	}
	switch next {
	case JobStatusCompleted:
		job.Result = u.Result
		job.ErrorMessage = ""
	case JobStatusFailed:
		job.Result = nil
		if u.ErrorMessage != nil {
			job.ErrorMessage = *u.ErrorMessage
		}
	}
	job.UpdatedAt = now
	return nil
}

// Ptr returns a pointer to v. Handy for building a JobUpdate literal.
func Ptr[T any](v T) *T {
	return &v
}
