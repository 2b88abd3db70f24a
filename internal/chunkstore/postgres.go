package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/forensicdocflow/internal/database"
	"github.com/jackc/pgx/v5"
)

// PostgresStore keeps fragments in the file_chunks table so uploads survive
// restarts and can be spread across replicas.
type PostgresStore struct {
	db  *database.DB
	now func() time.Time
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) InitUpload(ctx context.Context, uploadID, filename string, totalChunks int, totalSize int64) error {
	if err := checkInit(uploadID, totalChunks, totalSize); err != nil {
		return err
	}
	now := s.now()
	tag, err := s.db.Pool.Exec(ctx, `
INSERT INTO chunk_uploads (upload_id, filename, total_chunks, total_size, created_at, last_activity)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (upload_id) DO NOTHING`,
		uploadID, filename, totalChunks, totalSize, now,
	)
	if err != nil {
		return fmt.Errorf("insert upload %s: %w", uploadID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateUpload, uploadID)
	}
	return nil
}

func (s *PostgresStore) AddChunk(ctx context.Context, uploadID string, index int, data []byte) (Progress, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return Progress{}, fmt.Errorf("begin tx add chunk: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var total int
	err = tx.QueryRow(ctx, `SELECT total_chunks FROM chunk_uploads WHERE upload_id=$1 FOR UPDATE`, uploadID).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return Progress{}, fmt.Errorf("%w: %s", ErrUnknownUpload, uploadID)
	}
	if err != nil {
		return Progress{}, fmt.Errorf("lock upload %s: %w", uploadID, err)
	}
	if index < 0 || index >= total {
		return Progress{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, total)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO file_chunks (upload_id, chunk_index, data)
VALUES ($1, $2, $3)
ON CONFLICT (upload_id, chunk_index) DO NOTHING`, uploadID, index, data); err != nil {
		return Progress{}, fmt.Errorf("insert chunk %d of %s: %w", index, uploadID, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE chunk_uploads SET last_activity=$2 WHERE upload_id=$1`, uploadID, s.now()); err != nil {
		return Progress{}, fmt.Errorf("touch upload %s: %w", uploadID, err)
	}

	var received int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM file_chunks WHERE upload_id=$1`, uploadID).Scan(&received); err != nil {
		return Progress{}, fmt.Errorf("count chunks of %s: %w", uploadID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Progress{}, fmt.Errorf("commit add chunk tx: %w", err)
	}
	return Progress{Received: received, Total: total, Complete: received == total}, nil
}

// Assemble streams fragments in index order into a buffer sized from the
// stored lengths, so the file is only materialized once.
func (s *PostgresStore) Assemble(ctx context.Context, uploadID string) ([]byte, error) {
	var total, received int
	var size int64
	err := s.db.Pool.QueryRow(ctx, `
SELECT u.total_chunks, COUNT(c.chunk_index), COALESCE(SUM(LENGTH(c.data)), 0)
FROM chunk_uploads u
LEFT JOIN file_chunks c ON c.upload_id = u.upload_id
WHERE u.upload_id=$1
GROUP BY u.total_chunks`, uploadID).Scan(&total, &received, &size)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUpload, uploadID)
	}
	if err != nil {
		return nil, fmt.Errorf("measure upload %s: %w", uploadID, err)
	}
	if received != total {
		return nil, fmt.Errorf("%w: %d of %d received", ErrIncompleteUpload, received, total)
	}

	rows, err := s.db.Pool.Query(ctx, `
SELECT chunk_index, data
FROM file_chunks
WHERE upload_id=$1
ORDER BY chunk_index ASC`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("read chunks of %s: %w", uploadID, err)
	}
	defer rows.Close()

	buf := make([]byte, 0, size)
	expected := 0
	for rows.Next() {
		var index int
		var data []byte
		if err := rows.Scan(&index, &data); err != nil {
			return nil, fmt.Errorf("scan chunk of %s: %w", uploadID, err)
		}
		if index != expected {
			return nil, fmt.Errorf("%w: chunk %d missing", ErrIncompleteUpload, expected)
		}
		buf = append(buf, data...)
		expected++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks of %s: %w", uploadID, err)
	}
	if expected != total {
		return nil, fmt.Errorf("%w: %d of %d read", ErrIncompleteUpload, expected, total)
	}

	if _, err := s.db.Pool.Exec(ctx, `UPDATE chunk_uploads SET last_activity=$2 WHERE upload_id=$1`, uploadID, s.now()); err != nil {
		return nil, fmt.Errorf("touch upload %s: %w", uploadID, err)
	}
	return buf, nil
}

func (s *PostgresStore) Delete(ctx context.Context, uploadID string) error {
	if _, err := s.db.Pool.Exec(ctx, `DELETE FROM chunk_uploads WHERE upload_id=$1`, uploadID); err != nil {
		return fmt.Errorf("delete upload %s: %w", uploadID, err)
	}
	return nil
}

func (s *PostgresStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM chunk_uploads WHERE last_activity < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep uploads: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
