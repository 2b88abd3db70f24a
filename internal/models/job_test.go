package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	require.True(t, JobStatusPending.CanTransition(JobStatusProcessing))
	require.True(t, JobStatusPending.CanTransition(JobStatusFailed))
	require.True(t, JobStatusProcessing.CanTransition(JobStatusProcessing))
	require.True(t, JobStatusProcessing.CanTransition(JobStatusCompleted))
	require.False(t, JobStatusProcessing.CanTransition(JobStatusPending))
	require.False(t, JobStatusCompleted.CanTransition(JobStatusFailed))
	require.False(t, JobStatusFailed.CanTransition(JobStatusFailed))
	require.False(t, JobStatus("bogus").CanTransition(JobStatusProcessing))
}

func TestApply(t *testing.T) {
	t0 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	t.Run("stale guard", func(t *testing.T) {
		job := NewJob("j", "a.pdf", t0)
		fail := JobUpdate{Status: Ptr(JobStatusFailed), ErrorMessage: Ptr("gone"), StaleBefore: Ptr(t0)}
		require.True(t, errors.Is(fail.Apply(job, t1), ErrJobActive))
		require.Equal(t, JobStatusPending, job.Status)

		require.NoError(t, JobUpdate{}.Apply(job, t1))
		require.Equal(t, t1, job.UpdatedAt, "an empty update is a heartbeat")

		fail.StaleBefore = Ptr(t1.Add(time.Second))
		require.NoError(t, fail.Apply(job, t1.Add(time.Minute)))
		require.Equal(t, JobStatusFailed, job.Status)
	})

	t.Run("completion requires a result", func(t *testing.T) {
		job := NewJob("j", "a.pdf", t0)
		err := JobUpdate{Status: Ptr(JobStatusCompleted)}.Apply(job, t1)
		require.True(t, errors.Is(err, ErrInvalidTransition))
		require.Equal(t, JobStatusPending, job.Status)
	})

	t.Run("result only with completion", func(t *testing.T) {
		job := NewJob("j", "a.pdf", t0)
		err := JobUpdate{Result: &ResultData{}}.Apply(job, t1)
		require.True(t, errors.Is(err, ErrInvalidTransition))
	})

	t.Run("error only with failure", func(t *testing.T) {
		job := NewJob("j", "a.pdf", t0)
		err := JobUpdate{Status: Ptr(JobStatusProcessing), ErrorMessage: Ptr("boom")}.Apply(job, t1)
		require.True(t, errors.Is(err, ErrInvalidTransition))
	})

	t.Run("terminal jobs reject progress", func(t *testing.T) {
		job := NewJob("j", "a.pdf", t0)
		require.NoError(t, JobUpdate{Status: Ptr(JobStatusFailed), ErrorMessage: Ptr("boom")}.Apply(job, t1))
		err := JobUpdate{CurrentStep: Ptr("retry")}.Apply(job, t1)
		require.True(t, errors.Is(err, ErrInvalidTransition))
	})

	t.Run("processed pages never decrease", func(t *testing.T) {
		job := NewJob("j", "a.pdf", t0)
		require.NoError(t, JobUpdate{Status: Ptr(JobStatusProcessing), ProcessedPages: Ptr(35)}.Apply(job, t1))
		require.NoError(t, JobUpdate{ProcessedPages: Ptr(5)}.Apply(job, t1))
		require.Equal(t, 35, job.ProcessedPages)
		require.Equal(t, t1, job.UpdatedAt)
	})
}

func TestStatusResponse(t *testing.T) {
	job := NewJob("j", "a.pdf", time.Now())
	job.Status = JobStatusFailed
	job.ErrorMessage = "boom"
	job.TotalPages = 10
	job.ProcessedPages = 4

	resp := job.StatusResponse()
	require.Equal(t, "boom", resp.Error)
	require.Nil(t, resp.Result)
	require.Equal(t, Progress{Total: 10, Current: 4}, resp.Progress)
}
