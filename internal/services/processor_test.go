package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/forensicdocflow/internal/chunkstore"
	"github.com/Lllllllleong/forensicdocflow/internal/jobstore"
	"github.com/Lllllllleong/forensicdocflow/internal/models"
	"github.com/Lllllllleong/forensicdocflow/internal/splitter"
	"github.com/Lllllllleong/forensicdocflow/internal/validation"
	"github.com/stretchr/testify/require"
)

// fakeSplitter pretends every document has pages pages. Extracted ranges
// are encoded as "pages a-b" so the OCR fake can see what it was given.
type fakeSplitter struct {
	pages int

	mu        sync.Mutex
	extracted []string
}

func (f *fakeSplitter) PageCount([]byte) (int, error) {
	return f.pages, nil
}

func (f *fakeSplitter) ExtractRange(_ []byte, from, to int) ([]byte, error) {
	from, to, ok := splitter.Clamp(from, to, f.pages)
	if !ok {
		return nil, splitter.ErrEmptyRange
	}
	f.mu.Lock()
	f.extracted = append(f.extracted, fmt.Sprintf("%d-%d", from, to))
	f.mu.Unlock()
	return []byte(fmt.Sprintf("pages %d-%d", from, to)), nil
}

type ocrCall struct {
	From, To int
	Input    string
}

type fakeOCR struct {
	respond func(from, to int) (string, error)

	mu    sync.Mutex
	calls []ocrCall
}

func (f *fakeOCR) Name() string { return "fake-ocr" }

func (f *fakeOCR) Transcribe(_ context.Context, pdf []byte, from, to int) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ocrCall{From: from, To: to, Input: string(pdf)})
	f.mu.Unlock()
	return f.respond(from, to)
}

// recordingJobs remembers every processed_pages value written.
type recordingJobs struct {
	*jobstore.MemoryStore

	mu        sync.Mutex
	processed []int
	steps     []string
}

func (r *recordingJobs) Update(ctx context.Context, id string, u models.JobUpdate) (*models.Job, error) {
	r.mu.Lock()
	if u.ProcessedPages != nil {
		r.processed = append(r.processed, *u.ProcessedPages)
	}
	if u.CurrentStep != nil {
		r.steps = append(r.steps, *u.CurrentStep)
	}
	r.mu.Unlock()
	return r.MemoryStore.Update(ctx, id, u)
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []any
}

func (f *fakeNotifier) Notify(_ context.Context, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

type harness struct {
	jobs     *recordingJobs
	chunks   *chunkstore.MemoryStore
	splitter *fakeSplitter
	ocr      *fakeOCR
	proc     *Processor
}

func newHarness(pages int, respond func(from, to int) (string, error)) *harness {
	h := &harness{
		jobs:     &recordingJobs{MemoryStore: jobstore.NewMemoryStore()},
		chunks:   chunkstore.NewMemoryStore(),
		splitter: &fakeSplitter{pages: pages},
		ocr:      &fakeOCR{respond: respond},
	}
	h.proc = NewProcessor(h.jobs, h.chunks, h.splitter, h.ocr, ProcessorConfig{
		MaxFileBytes:     500 << 20,
		SizeThreshold:    20 << 20,
		MaxPagesPerChunk: 35,
		RangeConcurrency: 3,
	})
	return h
}

func (h *harness) newJob(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.jobs.Create(context.Background(), models.NewJob(id, "record.pdf", time.Now())))
}

func chunkText(from, to int) (string, error) {
	return fmt.Sprintf("# Record pages %d to %d\nThe court reviewed the filing for Expediente 2024-100 on these pages.", from, to), nil
}

func TestProcessor_FortyPageDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(40, chunkText)
	h.newJob(t, "job-40")

	require.NoError(t, h.proc.Run(ctx, Request{JobID: "job-40", Filename: "record.pdf", File: []byte("%PDF-1.4 forty pages")}))

	require.Equal(t, []ocrCall{
		{From: 1, To: 35, Input: "pages 1-35"},
		{From: 36, To: 40, Input: "pages 36-40"},
	}, h.ocr.calls)
	require.Equal(t, []int{35, 40}, h.jobs.processed)

	first, _ := chunkText(1, 35)
	second, _ := chunkText(36, 40)

	job, err := h.jobs.Get(ctx, "job-40")
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, job.Status)
	require.Equal(t, "Done", job.CurrentStep)
	require.Equal(t, 40, job.TotalPages)
	require.Equal(t, 40, job.ProcessedPages)
	require.Empty(t, job.ErrorMessage)

	res := job.Result
	require.NotNil(t, res)
	require.Equal(t, first+"\n\n"+second, res.Markdown)
	require.Equal(t, 40, res.PageCount)
	require.Equal(t, "record.pdf", res.Filename)
	require.NotEmpty(t, res.ConversionID)
	require.Equal(t, validation.StatusOK, res.ValidationStatus)
	require.InDelta(t, 1.0, res.ValidationScore, 1e-9)
	require.Equal(t, validation.Hash([]byte("%PDF-1.4 forty pages")), res.Certificate.HashOriginal)
	require.Equal(t, "fake-ocr", res.Forensic.VLMUsed)
	require.Len(t, res.PageIndexTree.Root.Children, 2)
	require.Equal(t, "2024-100", res.PageIndexTree.Metadata.CaseNumber)
	require.Empty(t, res.Extractions)
	require.Contains(t, res.TableOfContents, "Record pages 36 to 40")

	require.Contains(t, h.jobs.steps, "OCR Chunk 1/2 (Pages 1-35)")
	require.Contains(t, h.jobs.steps, "OCR Chunk 2/2 (Pages 36-40)")
}

func TestProcessor_SmallDocumentIsSentWhole(t *testing.T) {
	ctx := context.Background()
	h := newHarness(12, chunkText)
	h.newJob(t, "small")

	require.NoError(t, h.proc.Run(ctx, Request{JobID: "small", Filename: "record.pdf", File: []byte("whole")}))

	require.Equal(t, []ocrCall{{From: 1, To: 12, Input: "whole"}}, h.ocr.calls)
	require.Empty(t, h.splitter.extracted)
	require.Equal(t, []int{12}, h.jobs.processed)
	require.Contains(t, h.jobs.steps, "OCR Scanning (Full Document)")
}

func TestProcessor_ReassemblesUploadAndCleansUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3, chunkText)
	h.newJob(t, "up")

	require.NoError(t, h.chunks.InitUpload(ctx, "upload-1", "record.pdf", 2, 9))
	_, err := h.chunks.AddChunk(ctx, "upload-1", 1, []byte("PART"))
	require.NoError(t, err)
	_, err = h.chunks.AddChunk(ctx, "upload-1", 0, []byte("FIRST"))
	require.NoError(t, err)

	require.NoError(t, h.proc.Run(ctx, Request{JobID: "up", Filename: "record.pdf", UploadID: "upload-1"}))

	require.Equal(t, "FIRSTPART", h.ocr.calls[0].Input)
	require.Contains(t, h.jobs.steps, "Reassembling Chunks")

	_, err = h.chunks.Assemble(ctx, "upload-1")
	require.True(t, errors.Is(err, chunkstore.ErrUnknownUpload), "chunks are deleted after success")
}

func TestProcessor_OCRFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(40, func(from, to int) (string, error) {
		if from == 36 {
			return "", errors.New("deadline exceeded")
		}
		return chunkText(from, to)
	})
	h.newJob(t, "bad")

	err := h.proc.Run(ctx, Request{JobID: "bad", Filename: "record.pdf", File: []byte("x")})
	require.True(t, errors.Is(err, ErrExternalService), "got %v", err)

	job, gerr := h.jobs.Get(ctx, "bad")
	require.NoError(t, gerr)
	require.Equal(t, models.JobStatusFailed, job.Status)
	require.Equal(t, "Failed", job.CurrentStep)
	require.Contains(t, job.ErrorMessage, "deadline exceeded")
	require.Nil(t, job.Result)
	require.Equal(t, 35, job.ProcessedPages, "partial progress stays visible")
}

func TestProcessor_InputErrors(t *testing.T) {
	ctx := context.Background()

	h := newHarness(1, chunkText)
	h.newJob(t, "none")
	err := h.proc.Run(ctx, Request{JobID: "none", Filename: "record.pdf"})
	require.True(t, errors.Is(err, ErrNoFileProvided))

	h = newHarness(1, chunkText)
	h.proc.config.MaxFileBytes = 4
	h.newJob(t, "big")
	err = h.proc.Run(ctx, Request{JobID: "big", Filename: "record.pdf", File: []byte("too large")})
	require.True(t, errors.Is(err, ErrFileTooLarge))
	job, _ := h.jobs.Get(ctx, "big")
	require.Equal(t, models.JobStatusFailed, job.Status)
	require.Empty(t, h.ocr.calls)

	h = newHarness(1, chunkText)
	h.newJob(t, "missing-upload")
	err = h.proc.Run(ctx, Request{JobID: "missing-upload", Filename: "record.pdf", UploadID: "nope"})
	require.True(t, errors.Is(err, chunkstore.ErrUnknownUpload))
}

func TestProcessor_ExtractionRanges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(80, chunkText)
	h.newJob(t, "ranges")

	ranges := []models.ExtractionRange{
		{Name: "judgment", From: 70, To: 75},
		{Name: "annex", From: 1, To: 40},
		{Name: "tail", From: 78, To: 200},
	}
	require.NoError(t, h.proc.Run(ctx, Request{JobID: "ranges", Filename: "record.pdf", File: []byte("x"), Ranges: ranges}))

	job, err := h.jobs.Get(ctx, "ranges")
	require.NoError(t, err)
	ex := job.Result.Extractions
	require.Len(t, ex, 3)
	require.Equal(t, "judgment", ex[0].Name)
	require.Equal(t, "annex", ex[1].Name)
	require.Equal(t, 2, strings.Count(ex[1].Markdown, "# Record pages"), "long ranges are split")
	require.Contains(t, ex[2].Markdown, "pages 78 to 80")
	require.Equal(t, 200, ex[2].To)
	require.Contains(t, h.jobs.steps, "Extracting Ranges")
}

func TestProcessor_RangeOutsideDocumentFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(5, chunkText)
	h.newJob(t, "outside")

	err := h.proc.Run(ctx, Request{
		JobID: "outside", Filename: "record.pdf", File: []byte("x"),
		Ranges: []models.ExtractionRange{{Name: "ghost", From: 9, To: 12}},
	})
	require.True(t, errors.Is(err, splitter.ErrEmptyRange), "got %v", err)
}

func TestProcessor_NotifiesOnCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2, chunkText)
	n := &fakeNotifier{}
	h.proc.WithNotifier(n)
	h.newJob(t, "notify")

	require.NoError(t, h.proc.Run(ctx, Request{JobID: "notify", Filename: "record.pdf", File: []byte("x")}))
	require.Len(t, n.payloads, 1)
	handoff, ok := n.payloads[0].(models.WorkflowHandoff)
	require.True(t, ok)
	require.Equal(t, "notify", handoff.JobID)
	require.Equal(t, 2, handoff.PageCount)
}

func TestProcessor_HeartbeatKeepsRunningJobFromRecovery(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h := newHarness(3, func(from, to int) (string, error) {
		once.Do(func() { close(entered) })
		<-release
		return chunkText(from, to)
	})
	h.proc.config.HeartbeatInterval = 5 * time.Millisecond
	h.newJob(t, "slow")

	runErr := make(chan error, 1)
	go func() {
		runErr <- h.proc.Run(ctx, Request{JobID: "slow", Filename: "record.pdf", File: []byte("slow")})
	}()
	<-entered

	mark := time.Now()
	require.Eventually(t, func() bool {
		j, err := h.jobs.Get(ctx, "slow")
		return err == nil && j.UpdatedAt.After(mark)
	}, time.Second, 5*time.Millisecond)

	n, err := RecoverStuckJobs(ctx, h.jobs, mark)
	require.NoError(t, err)
	require.Zero(t, n)

	close(release)
	require.NoError(t, <-runErr)
	job, err := h.jobs.Get(ctx, "slow")
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, job.Status)
}
