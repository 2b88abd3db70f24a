package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/forensicdocflow/internal/chunkstore"
	"github.com/Lllllllleong/forensicdocflow/internal/jobstore"
	"github.com/Lllllllleong/forensicdocflow/internal/models"
	"github.com/Lllllllleong/forensicdocflow/internal/pageindex"
	"github.com/Lllllllleong/forensicdocflow/internal/splitter"
	"github.com/Lllllllleong/forensicdocflow/internal/validation"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoFileProvided  = errors.New("no file provided")
	ErrFileTooLarge    = errors.New("file too large")
	ErrExternalService = errors.New("external service error")
)

// OCR turns a PDF (or a page range cut from one) into Markdown.
type OCR interface {
	Name() string
	Transcribe(ctx context.Context, pdf []byte, from, to int) (string, error)
}

// DocumentSplitter reads page counts and cuts page ranges.
type DocumentSplitter interface {
	PageCount(doc []byte) (int, error)
	ExtractRange(doc []byte, from, to int) ([]byte, error)
}

// Notifier is told about every completed job.
type Notifier interface {
	Notify(ctx context.Context, payload any) error
}

type ProcessorConfig struct {
	MaxFileBytes     int64
	SizeThreshold    int64
	MaxPagesPerChunk int
	RangeConcurrency int

	// HeartbeatInterval is how often a running job's UpdatedAt is refreshed
	// so recovery does not mistake it for an abandoned one. Zero disables it.
	HeartbeatInterval time.Duration
}

// Request describes one job run. Exactly one of UploadID and File is set.
type Request struct {
	JobID    string
	Filename string
	UploadID string
	File     []byte
	Ranges   []models.ExtractionRange
}

// Processor drives a job from pending to completed or failed.
type Processor struct {
	jobs     jobstore.Store
	chunks   chunkstore.Store
	splitter DocumentSplitter
	ocr      OCR
	notifier Notifier
	config   ProcessorConfig
	now      func() time.Time
}

func NewProcessor(jobs jobstore.Store, chunks chunkstore.Store, docs DocumentSplitter, ocr OCR, config ProcessorConfig) *Processor {
	if config.RangeConcurrency < 1 {
		config.RangeConcurrency = 1
	}
	return &Processor{
		jobs:     jobs,
		chunks:   chunks,
		splitter: docs,
		ocr:      ocr,
		config:   config,
		now:      time.Now,
	}
}

// WithNotifier sets the optional completion hook.
func (p *Processor) WithNotifier(n Notifier) *Processor {
	p.notifier = n
	return p
}

func (p *Processor) planner() splitter.Planner {
	return splitter.Planner{MaxPagesPerChunk: p.config.MaxPagesPerChunk, SizeThreshold: p.config.SizeThreshold}
}

// Run processes req. Any failure is recorded on the job before it is
// returned; the returned error is for logging only.
func (p *Processor) Run(ctx context.Context, req Request) error {
	logCtx := slog.With("jobId", req.JobID, "filename", req.Filename)
	logCtx.Info("Processing job.")
	start := p.now()

	stopHeartbeat := p.heartbeat(ctx, logCtx, req.JobID)
	result, err := p.process(ctx, logCtx, req, start)
	stopHeartbeat()
	if err != nil {
		return p.handleError(ctx, logCtx, req.JobID, err)
	}

	if _, err := p.jobs.Update(ctx, req.JobID, models.JobUpdate{
		Status:      models.Ptr(models.JobStatusCompleted),
		CurrentStep: models.Ptr("Done"),
		Result:      result,
	}); err != nil {
		return p.handleError(ctx, logCtx, req.JobID, fmt.Errorf("failed to store result: %w", err))
	}
	logCtx.Info("Job completed.", "pageCount", result.PageCount, "validationStatus", result.ValidationStatus, "processingTimeMs", result.ProcessingTimeMs)

	if req.UploadID != "" {
		if err := p.chunks.Delete(ctx, req.UploadID); err != nil {
			logCtx.Warn("Failed to clean up upload chunks.", "uploadId", req.UploadID, "error", err)
		}
	}
	if p.notifier != nil {
		handoff := models.WorkflowHandoff{
			JobID:            req.JobID,
			Filename:         req.Filename,
			PageCount:        result.PageCount,
			ValidationStatus: result.ValidationStatus,
		}
		if err := p.notifier.Notify(ctx, handoff); err != nil {
			logCtx.Error("Failed to hand off completed job.", "error", err)
		}
	}
	return nil
}

// heartbeat touches the job every HeartbeatInterval until the returned
// function is called. The function waits for the goroutine to exit.
func (p *Processor) heartbeat(ctx context.Context, logCtx *slog.Logger, jobID string) func() {
	if p.config.HeartbeatInterval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, err := p.jobs.Update(ctx, jobID, models.JobUpdate{})
				if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, jobstore.ErrJobNotFound) {
					logCtx.Warn("Job no longer running. Heartbeat stopped.", "error", err)
					return
				}
				if err != nil && ctx.Err() == nil {
					logCtx.Warn("Job heartbeat failed.", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Processor) step(ctx context.Context, jobID string, u models.JobUpdate) error {
	if _, err := p.jobs.Update(ctx, jobID, u); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func (p *Processor) process(ctx context.Context, logCtx *slog.Logger, req Request, start time.Time) (*models.ResultData, error) {
	if err := p.step(ctx, req.JobID, models.JobUpdate{
		Status:      models.Ptr(models.JobStatusProcessing),
		CurrentStep: models.Ptr("Initializing"),
	}); err != nil {
		return nil, err
	}

	doc, err := p.loadDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := p.step(ctx, req.JobID, models.JobUpdate{CurrentStep: models.Ptr("Analyzing PDF Structure")}); err != nil {
		return nil, err
	}
	totalPages, err := p.splitter.PageCount(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to read page count: %w", err)
	}
	logCtx.Info("Page count detected.", "totalPages", totalPages, "bytes", len(doc))
	if err := p.step(ctx, req.JobID, models.JobUpdate{
		TotalPages:  models.Ptr(totalPages),
		CurrentStep: models.Ptr(fmt.Sprintf("Preparing %d pages for OCR", totalPages)),
	}); err != nil {
		return nil, err
	}

	bytesPerPage := splitter.EstimateBytesPerPage(int64(len(doc)), totalPages)
	plan := p.planner().Plan(totalPages, bytesPerPage)
	markdown, err := p.transcribe(ctx, logCtx, req.JobID, doc, plan)
	if err != nil {
		return nil, err
	}

	extractions, err := p.extractRanges(ctx, logCtx, req, doc, totalPages, bytesPerPage)
	if err != nil {
		return nil, err
	}

	if err := p.step(ctx, req.JobID, models.JobUpdate{CurrentStep: models.Ptr("Forensic Validation")}); err != nil {
		return nil, err
	}
	validated := validation.Validate(markdown, doc)
	certificate := validation.NewCertificate(validated, p.ocr.Name(), p.now())

	if err := p.step(ctx, req.JobID, models.JobUpdate{CurrentStep: models.Ptr("Building Index")}); err != nil {
		return nil, err
	}
	tree := pageindex.BuildTree(validated.CleanedMarkdown, pageindex.Metadata{
		CaseNumber: validated.Legal.CaseNumber,
		Court:      validated.Legal.Court,
	})

	summary, toc := pageindex.Summarize(tree)

	elapsed := p.now().Sub(start).Milliseconds()
	certificate.ProcessingTimeMs = elapsed
	return &models.ResultData{
		ConversionID: uuid.NewString(),
		Filename:     req.Filename,
		Markdown:     validated.CleanedMarkdown,
		Extractions:  extractions,
		Certificate: models.CertificateSummary{
			HashOriginal:  certificate.HashOriginal,
			HashMarkdown:  certificate.HashMarkdown,
			IntegrityHash: certificate.IntegrityHash,
			Timestamp:     certificate.Timestamp,
			Status:        certificate.ValidationStatus,
		},
		Forensic:         certificate,
		Anomalies:        validated.Anomalies,
		ValidationStatus: validated.Status,
		ValidationScore:  validation.Score(validated.Anomalies),
		PageIndexTree:    tree,
		Summary:          summary,
		TableOfContents:  toc,
		PageCount:        totalPages,
		ProcessingTimeMs: elapsed,
	}, nil
}

func (p *Processor) loadDocument(ctx context.Context, req Request) ([]byte, error) {
	var doc []byte
	switch {
	case req.UploadID != "":
		if err := p.step(ctx, req.JobID, models.JobUpdate{CurrentStep: models.Ptr("Reassembling Chunks")}); err != nil {
			return nil, err
		}
		assembled, err := p.chunks.Assemble(ctx, req.UploadID)
		if err != nil {
			return nil, fmt.Errorf("failed to reassemble upload %s: %w", req.UploadID, err)
		}
		doc = assembled
	case len(req.File) > 0:
		doc = req.File
	default:
		return nil, ErrNoFileProvided
	}

	if p.config.MaxFileBytes > 0 && int64(len(doc)) > p.config.MaxFileBytes {
		return nil, fmt.Errorf("%w: %.2f MiB exceeds %.0f MiB", ErrFileTooLarge,
			float64(len(doc))/(1<<20), float64(p.config.MaxFileBytes)/(1<<20))
	}
	return doc, nil
}

// transcribe runs OCR over the plan in order. Entries are processed one at a
// time and their Markdown is joined with a blank line.
func (p *Processor) transcribe(ctx context.Context, logCtx *slog.Logger, jobID string, doc []byte, plan []splitter.Entry) (string, error) {
	if len(plan) == 0 {
		return "", fmt.Errorf("%w: document has no pages", splitter.ErrInvalidDocument)
	}

	if len(plan) == 1 {
		entry := plan[0]
		if err := p.step(ctx, jobID, models.JobUpdate{CurrentStep: models.Ptr("OCR Scanning (Full Document)")}); err != nil {
			return "", err
		}
		md, err := p.ocr.Transcribe(ctx, doc, entry.Start, entry.End)
		if err != nil {
			return "", fmt.Errorf("%w: ocr failed for pages %s: %v", ErrExternalService, entry, err)
		}
		if err := p.step(ctx, jobID, models.JobUpdate{ProcessedPages: models.Ptr(entry.End)}); err != nil {
			return "", err
		}
		return md, nil
	}

	logCtx.Info("Splitting document for OCR.", "chunks", len(plan))
	parts := make([]string, 0, len(plan))
	for i, entry := range plan {
		if err := p.step(ctx, jobID, models.JobUpdate{
			CurrentStep: models.Ptr(fmt.Sprintf("OCR Chunk %d/%d (Pages %d-%d)", i+1, len(plan), entry.Start, entry.End)),
		}); err != nil {
			return "", err
		}
		sub, err := p.splitter.ExtractRange(doc, entry.Start, entry.End)
		if err != nil {
			return "", fmt.Errorf("failed to extract pages %s: %w", entry, err)
		}
		md, err := p.ocr.Transcribe(ctx, sub, entry.Start, entry.End)
		if err != nil {
			return "", fmt.Errorf("%w: ocr failed for pages %s: %v", ErrExternalService, entry, err)
		}
		parts = append(parts, md)
		if err := p.step(ctx, jobID, models.JobUpdate{ProcessedPages: models.Ptr(entry.End)}); err != nil {
			return "", err
		}
		logCtx.Info("OCR chunk done.", "chunk", i+1, "pages", entry.String())
	}
	return strings.Join(parts, "\n\n"), nil
}

// extractRanges transcribes the user-requested ranges. Ranges run
// concurrently with each other; each one is split by the planner if it is
// too large for a single OCR request.
func (p *Processor) extractRanges(ctx context.Context, logCtx *slog.Logger, req Request, doc []byte, totalPages int, bytesPerPage int64) ([]models.Extraction, error) {
	out := make([]models.Extraction, len(req.Ranges))
	if len(req.Ranges) == 0 {
		return out, nil
	}
	if err := p.step(ctx, req.JobID, models.JobUpdate{CurrentStep: models.Ptr("Extracting Ranges")}); err != nil {
		return nil, err
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.config.RangeConcurrency)
	for i, r := range req.Ranges {
		i, r := i, r
		eg.Go(func() error {
			md, err := p.extractRange(gctx, doc, r, totalPages, bytesPerPage)
			if err != nil {
				return fmt.Errorf("range %q (%d-%d): %w", r.Name, r.From, r.To, err)
			}
			out[i] = models.Extraction{Name: r.Name, From: r.From, To: r.To, Markdown: md}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	logCtx.Info("Range extractions done.", "ranges", len(out))
	return out, nil
}

// extractRange clamps r to the document and transcribes it. A range with no
// page inside the document is an error.
func (p *Processor) extractRange(ctx context.Context, doc []byte, r models.ExtractionRange, totalPages int, bytesPerPage int64) (string, error) {
	from, to, ok := splitter.Clamp(r.From, r.To, totalPages)
	if !ok {
		return "", splitter.ErrEmptyRange
	}
	entries := p.planner().PlanRange(from, to, bytesPerPage)
	parts := make([]string, 0, len(entries))
	for _, entry := range entries {
		sub, err := p.splitter.ExtractRange(doc, entry.Start, entry.End)
		if err != nil {
			return "", err
		}
		md, err := p.ocr.Transcribe(ctx, sub, entry.Start, entry.End)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrExternalService, err)
		}
		parts = append(parts, md)
	}
	return strings.Join(parts, "\n\n"), nil
}

// handleError records err on the job and returns it. A cancelled ctx must
// not prevent the failure from being written.
func (p *Processor) handleError(ctx context.Context, logCtx *slog.Logger, jobID string, originalErr error) error {
	logCtx.Error("Job failed.", "error", originalErr)
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, err := p.jobs.Update(recordCtx, jobID, models.JobUpdate{
		Status:       models.Ptr(models.JobStatusFailed),
		CurrentStep:  models.Ptr("Failed"),
		ErrorMessage: models.Ptr(originalErr.Error()),
	}); err != nil {
		logCtx.Error("CRITICAL: Failed to mark job as failed after a processing error.", "updateError", err)
	}
	return originalErr
}
