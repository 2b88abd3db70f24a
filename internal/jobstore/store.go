// Package jobstore persists processing jobs. Every backend applies updates
// through models.JobUpdate so the status machine is enforced in one place.
package jobstore

import (
	"context"
	"errors"

	"github.com/Lllllllleong/forensicdocflow/internal/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	// Update applies u atomically with respect to other updates of the same
	// job and returns the stored result.
	Update(ctx context.Context, id string, u models.JobUpdate) (*models.Job, error)
	ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error)
}
