package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/forensicdocflow/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreJob is the stored form of a job. The result tree is nested too
// deeply for a natural Firestore map, so it is kept as a JSON string.
type firestoreJob struct {
	models.Job
	ResultJSON string `firestore:"resultJson,omitempty"`
}

func toFirestore(j *models.Job) (*firestoreJob, error) {
	rec := &firestoreJob{Job: *j}
	if j.Result != nil {
		data, err := json.Marshal(j.Result)
		if err != nil {
			return nil, fmt.Errorf("encode result of job %s: %w", j.ID, err)
		}
		rec.ResultJSON = string(data)
	}
	return rec, nil
}

func fromSnapshot(doc *firestore.DocumentSnapshot) (*models.Job, error) {
	var rec firestoreJob
	if err := doc.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", doc.Ref.ID, err)
	}
	j := rec.Job
	j.ID = doc.Ref.ID
	if rec.ResultJSON != "" {
		var r models.ResultData
		if err := json.Unmarshal([]byte(rec.ResultJSON), &r); err != nil {
			return nil, fmt.Errorf("decode result of job %s: %w", j.ID, err)
		}
		j.Result = &r
	}
	return &j, nil
}

type FirestoreStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection, now: time.Now}
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Create(ctx context.Context, job *models.Job) error {
	rec, err := toFirestore(job)
	if err != nil {
		return err
	}
	if _, err := s.doc(job.ID).Create(ctx, rec); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
		}
		return fmt.Errorf("failed to create job document: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*models.Job, error) {
	snap, err := s.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job document: %w", err)
	}
	return fromSnapshot(snap)
}

func (s *FirestoreStore) Update(ctx context.Context, id string, u models.JobUpdate) (*models.Job, error) {
	ref := s.doc(id)
	var updated *models.Job
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		j, err := fromSnapshot(snap)
		if err != nil {
			return err
		}
		if err := u.Apply(j, s.now()); err != nil {
			return err
		}
		rec, err := toFirestore(j)
		if err != nil {
			return err
		}
		updated = j
		return tx.Set(ref, rec)
	})
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return updated, nil
}

func (s *FirestoreStore) ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	docs, err := s.client.Collection(s.collection).Where("status", "in", names).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by status: %w", err)
	}
	out := make([]*models.Job, 0, len(docs))
	for _, d := range docs {
		j, err := fromSnapshot(d)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}
