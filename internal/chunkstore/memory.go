package chunkstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type memoryUpload struct {
	mu          sync.Mutex
	filename    string
	totalChunks int
	totalSize   int64
	chunks      map[int][]byte
	assembled   []byte
	createdAt   time.Time

	// lastActivity is read by the sweeper without taking mu.
	lastActivity atomic.Int64
}

func (u *memoryUpload) touch(now time.Time) {
	u.lastActivity.Store(now.UnixNano())
}

// MemoryStore keeps uploads in process memory. Fragments are released as
// soon as the upload is assembled, so a finished upload costs one copy of
// the file.
type MemoryStore struct {
	mu      sync.RWMutex
	uploads map[string]*memoryUpload
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		uploads: make(map[string]*memoryUpload),
		now:     time.Now,
	}
}

func (s *MemoryStore) get(uploadID string) (*memoryUpload, error) {
	s.mu.RLock()
	u, ok := s.uploads[uploadID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUpload, uploadID)
	}
	return u, nil
}

func (s *MemoryStore) InitUpload(_ context.Context, uploadID, filename string, totalChunks int, totalSize int64) error {
	if err := checkInit(uploadID, totalChunks, totalSize); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uploads[uploadID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateUpload, uploadID)
	}
	now := s.now()
	u := &memoryUpload{
		filename:    filename,
		totalChunks: totalChunks,
		totalSize:   totalSize,
		chunks:      make(map[int][]byte),
		createdAt:   now,
	}
	u.touch(now)
	s.uploads[uploadID] = u
	return nil
}

func (s *MemoryStore) AddChunk(_ context.Context, uploadID string, index int, data []byte) (Progress, error) {
	u, err := s.get(uploadID)
	if err != nil {
		return Progress{}, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if index < 0 || index >= u.totalChunks {
		return Progress{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, u.totalChunks)
	}
	u.touch(s.now())

	if u.assembled != nil {
		return Progress{Received: u.totalChunks, Total: u.totalChunks, Complete: true}, nil
	}
	if _, seen := u.chunks[index]; !seen {
		u.chunks[index] = data
	}
	received := len(u.chunks)
	return Progress{Received: received, Total: u.totalChunks, Complete: received == u.totalChunks}, nil
}

func (s *MemoryStore) Assemble(_ context.Context, uploadID string) ([]byte, error) {
	u, err := s.get(uploadID)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.touch(s.now())

	if u.assembled != nil {
		return u.assembled, nil
	}
	if len(u.chunks) != u.totalChunks {
		return nil, fmt.Errorf("%w: %d of %d received", ErrIncompleteUpload, len(u.chunks), u.totalChunks)
	}

	size := 0
	for _, c := range u.chunks {
		size += len(c)
	}
	buf := make([]byte, 0, size)
	for i := 0; i < u.totalChunks; i++ {
		buf = append(buf, u.chunks[i]...)
	}
	u.assembled = buf
	u.chunks = nil
	return buf, nil
}

func (s *MemoryStore) Delete(_ context.Context, uploadID string) error {
	s.mu.Lock()
	delete(s.uploads, uploadID)
	s.mu.Unlock()
	return nil
}

// Sweep collects expired IDs under the read lock and only takes the write
// lock for the deletions, so fragment writers are never blocked on a scan.
func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	limit := cutoff.UnixNano()

	s.mu.RLock()
	var expired []string
	for id, u := range s.uploads {
		if u.lastActivity.Load() < limit {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return 0, nil
	}

	removed := 0
	s.mu.Lock()
	for _, id := range expired {
		if u, ok := s.uploads[id]; ok && u.lastActivity.Load() < limit {
			delete(s.uploads, id)
			removed++
		}
	}
	s.mu.Unlock()
	return removed, nil
}
