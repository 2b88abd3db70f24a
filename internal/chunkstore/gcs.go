package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/forensicdocflow/internal/gcp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
)

const (
	gcsMetaObject     = "meta.json"
	gcsLastActivity   = "lastActivity"
	gcsPartNameFormat = "part-%06d"
)

type gcsMeta struct {
	Filename    string    `json:"filename"`
	TotalChunks int       `json:"totalChunks"`
	TotalSize   int64     `json:"totalSize"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GCSStore keeps each upload under <prefix>/<uploadID>/ in a bucket: one
// meta.json object and one object per fragment. Conditional writes give
// first-wins semantics for both.
type GCSStore struct {
	bucket *storage.BucketHandle
	prefix string
	now    func() time.Time
}

func NewGCSStore(bucket *storage.BucketHandle, prefix string) *GCSStore {
	if prefix == "" {
		prefix = "uploads"
	}
	return &GCSStore{bucket: bucket, prefix: strings.Trim(prefix, "/"), now: time.Now}
}

func (s *GCSStore) dir(uploadID string) string {
	return path.Join(s.prefix, uploadID) + "/"
}

func (s *GCSStore) metaName(uploadID string) string {
	return s.dir(uploadID) + gcsMetaObject
}

func (s *GCSStore) partName(uploadID string, index int) string {
	return s.dir(uploadID) + fmt.Sprintf(gcsPartNameFormat, index)
}

func (s *GCSStore) InitUpload(ctx context.Context, uploadID, filename string, totalChunks int, totalSize int64) error {
	if err := checkInit(uploadID, totalChunks, totalSize); err != nil {
		return err
	}
	if strings.Contains(uploadID, "/") {
		return fmt.Errorf("upload id %q must not contain '/'", uploadID)
	}
	now := s.now()
	body, err := json.Marshal(gcsMeta{Filename: filename, TotalChunks: totalChunks, TotalSize: totalSize, CreatedAt: now})
	if err != nil {
		return fmt.Errorf("failed to marshal upload meta: %w", err)
	}
	created, err := gcp.SaveToGCSAtomically(ctx, s.bucket, s.metaName(uploadID), body,
		map[string]string{gcsLastActivity: now.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrDuplicateUpload, uploadID)
	}
	return nil
}

func (s *GCSStore) readMeta(ctx context.Context, uploadID string) (gcsMeta, error) {
	var meta gcsMeta
	data, err := gcp.ReadObject(ctx, s.bucket, s.metaName(uploadID))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return meta, fmt.Errorf("%w: %s", ErrUnknownUpload, uploadID)
	}
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("corrupt meta for upload %s: %w", uploadID, err)
	}
	return meta, nil
}

func (s *GCSStore) touch(ctx context.Context, uploadID string) error {
	_, err := s.bucket.Object(s.metaName(uploadID)).Update(ctx, storage.ObjectAttrsToUpdate{
		Metadata: map[string]string{gcsLastActivity: s.now().UTC().Format(time.RFC3339Nano)},
	})
	if err != nil {
		return fmt.Errorf("failed to touch upload %s: %w", uploadID, err)
	}
	return nil
}

// parts lists the fragment objects of an upload keyed by index.
func (s *GCSStore) parts(ctx context.Context, uploadID string) (map[int]int64, error) {
	out := make(map[int]int64)
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.dir(uploadID) + "part-"})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list parts of %s: %w", uploadID, err)
		}
		var index int
		if _, err := fmt.Sscanf(path.Base(attrs.Name), gcsPartNameFormat, &index); err != nil {
			continue
		}
		out[index] = attrs.Size
	}
	return out, nil
}

func (s *GCSStore) AddChunk(ctx context.Context, uploadID string, index int, data []byte) (Progress, error) {
	meta, err := s.readMeta(ctx, uploadID)
	if err != nil {
		return Progress{}, err
	}
	if index < 0 || index >= meta.TotalChunks {
		return Progress{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, meta.TotalChunks)
	}
	if _, err := gcp.SaveToGCSAtomically(ctx, s.bucket, s.partName(uploadID, index), data, nil); err != nil {
		return Progress{}, err
	}
	if err := s.touch(ctx, uploadID); err != nil {
		return Progress{}, err
	}
	parts, err := s.parts(ctx, uploadID)
	if err != nil {
		return Progress{}, err
	}
	received := len(parts)
	return Progress{Received: received, Total: meta.TotalChunks, Complete: received == meta.TotalChunks}, nil
}

// Assemble downloads fragments concurrently but writes each into its own
// slot of a pre-sized buffer, so output order never depends on timing.
func (s *GCSStore) Assemble(ctx context.Context, uploadID string) ([]byte, error) {
	meta, err := s.readMeta(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	parts, err := s.parts(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if len(parts) != meta.TotalChunks {
		return nil, fmt.Errorf("%w: %d of %d received", ErrIncompleteUpload, len(parts), meta.TotalChunks)
	}
	offsets := make([]int64, meta.TotalChunks+1)
	for i := 0; i < meta.TotalChunks; i++ {
		size, ok := parts[i]
		if !ok {
			return nil, fmt.Errorf("%w: chunk %d missing", ErrIncompleteUpload, i)
		}
		offsets[i+1] = offsets[i] + size
	}

	buf := make([]byte, offsets[meta.TotalChunks])
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for i := 0; i < meta.TotalChunks; i++ {
		index := i
		eg.Go(func() error {
			r, err := s.bucket.Object(s.partName(uploadID, index)).NewReader(gctx)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", index, err)
			}
			defer r.Close()
			if _, err := io.ReadFull(r, buf[offsets[index]:offsets[index+1]]); err != nil {
				return fmt.Errorf("chunk %d: %w", index, err)
			}
			if r.Remain() != 0 {
				return fmt.Errorf("chunk %d changed size during assembly", index)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to assemble upload %s: %w", uploadID, err)
	}

	if err := s.touch(ctx, uploadID); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *GCSStore) Delete(ctx context.Context, uploadID string) error {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.dir(uploadID)})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects of %s: %w", uploadID, err)
		}
		if err := s.bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("failed to delete %s: %w", attrs.Name, err)
		}
	}
}

func (s *GCSStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	var expired []string
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix + "/"})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to list uploads: %w", err)
		}
		if path.Base(attrs.Name) != gcsMetaObject {
			continue
		}
		last := attrs.Updated
		if v, ok := attrs.Metadata[gcsLastActivity]; ok {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				last = t
			}
		}
		if last.Before(cutoff) {
			expired = append(expired, path.Base(path.Dir(attrs.Name)))
		}
	}

	for _, id := range expired {
		if err := s.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}
