package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/forensicdocflow/internal/database"
	"github.com/Lllllllleong/forensicdocflow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const jobColumns = `id, filename, status, total_pages, processed_pages, current_step, result_data, error_message, created_at, updated_at`

type PostgresStore struct {
	db  *database.DB
	now func() time.Time
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var status string
	var result []byte
	var errMsg *string
	if err := row.Scan(&j.ID, &j.Filename, &status, &j.TotalPages, &j.ProcessedPages, &j.CurrentStep,
		&result, &errMsg, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	if len(result) > 0 {
		var r models.ResultData
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("decode result of job %s: %w", j.ID, err)
		}
		j.Result = &r
	}
	return &j, nil
}

func resultJSON(j *models.Job) ([]byte, error) {
	if j.Result == nil {
		return nil, nil
	}
	return json.Marshal(j.Result)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) Create(ctx context.Context, job *models.Job) error {
	result, err := resultJSON(job)
	if err != nil {
		return fmt.Errorf("encode result of job %s: %w", job.ID, err)
	}
	_, err = s.db.Pool.Exec(ctx, `
INSERT INTO processing_jobs (`+jobColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Filename, string(job.Status), job.TotalPages, job.ProcessedPages, job.CurrentStep,
		result, nullable(job.ErrorMessage), job.CreatedAt, job.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanJob(s.db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, u models.JobUpdate) (*models.Job, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx update job: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock job %s: %w", id, err)
	}
	if err := u.Apply(j, s.now()); err != nil {
		return nil, err
	}
	result, err := resultJSON(j)
	if err != nil {
		return nil, fmt.Errorf("encode result of job %s: %w", id, err)
	}

	_, err = tx.Exec(ctx, `
UPDATE processing_jobs
SET status=$2, total_pages=$3, processed_pages=$4, current_step=$5, result_data=$6, error_message=$7, updated_at=$8
WHERE id=$1`,
		id, string(j.Status), j.TotalPages, j.ProcessedPages, j.CurrentStep, result, nullable(j.ErrorMessage), j.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit job update tx: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	rows, err := s.db.Pool.Query(ctx, `
SELECT `+jobColumns+`
FROM processing_jobs
WHERE status = ANY($1)
ORDER BY created_at ASC`, names)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Job, 0, 16)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}
