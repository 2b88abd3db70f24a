// Package chunkstore reassembles files that clients upload in fragments.
// Fragments may arrive in any order and more than once; the assembled file
// is always the fragments concatenated in index order.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownUpload    = errors.New("unknown upload")
	ErrDuplicateUpload  = errors.New("upload already initialized")
	ErrIndexOutOfRange  = errors.New("chunk index out of range")
	ErrIncompleteUpload = errors.New("upload is missing chunks")
	ErrInvalidUpload    = errors.New("invalid upload declaration")
)

// DefaultTTL is how long an upload may stay idle before the sweeper drops it.
const DefaultTTL = 10 * time.Minute

// Progress is returned after every accepted fragment.
type Progress struct {
	Received int
	Total    int
	Complete bool
}

// Store is implemented by every upload backend.
type Store interface {
	// InitUpload registers uploadID. A second call for a live ID returns
	// ErrDuplicateUpload; callers that re-init on every fragment ignore it.
	InitUpload(ctx context.Context, uploadID, filename string, totalChunks int, totalSize int64) error
	// AddChunk stores the fragment at index. The first copy of an index wins
	// and later copies are accepted without effect.
	AddChunk(ctx context.Context, uploadID string, index int, data []byte) (Progress, error)
	// Assemble concatenates all fragments in index order.
	Assemble(ctx context.Context, uploadID string) ([]byte, error)
	// Delete removes the upload and its fragments. Deleting an unknown
	// upload is not an error.
	Delete(ctx context.Context, uploadID string) error
	// Sweep removes uploads whose last activity is before cutoff and
	// returns how many it removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// checkInit validates a client declaration before anything is sized from
// it. Every fragment carries at least one byte, so totalChunks can never
// exceed totalSize.
func checkInit(uploadID string, totalChunks int, totalSize int64) error {
	if uploadID == "" {
		return fmt.Errorf("%w: upload id must not be empty", ErrInvalidUpload)
	}
	if totalChunks < 1 {
		return fmt.Errorf("%w: total chunks must be positive", ErrInvalidUpload)
	}
	if totalSize < 0 {
		return fmt.Errorf("%w: total size must not be negative", ErrInvalidUpload)
	}
	if int64(totalChunks) > totalSize {
		return fmt.Errorf("%w: %d chunks cannot carry %d bytes", ErrInvalidUpload, totalChunks, totalSize)
	}
	return nil
}
