package models

import (
	"github.com/Lllllllleong/forensicdocflow/internal/pageindex"
	"github.com/Lllllllleong/forensicdocflow/internal/validation"
)

// These structs define the JSON payloads exchanged with the polling client
// and stored as a completed job's result.

// ExtractionRange is a user-requested, named, inclusive page range.
type ExtractionRange struct {
	From int    `json:"from"`
	To   int    `json:"to"`
	Name string `json:"name"`
}

// Extraction is the OCR output of one ExtractionRange.
type Extraction struct {
	Name     string `json:"name"`
	From     int    `json:"from"`
	To       int    `json:"to"`
	Markdown string `json:"markdown"`
}

// CertificateSummary is the subset of the forensic certificate that the
// status protocol exposes at the top level of a result.
type CertificateSummary struct {
	HashOriginal  string            `json:"hash_original"`
	HashMarkdown  string            `json:"hash_markdown"`
	IntegrityHash string            `json:"integrity_hash"`
	Timestamp     string            `json:"timestamp"`
	Status        validation.Status `json:"status"`
}

// ResultData is written to a job exactly once, when it completes.
type ResultData struct {
	ConversionID     string                  `json:"conversionId"`
	Filename         string                  `json:"filename"`
	Markdown         string                  `json:"markdown"`
	Extractions      []Extraction            `json:"extractions"`
	Certificate      CertificateSummary      `json:"certificate"`
	Forensic         *validation.Certificate `json:"forensicCertificate,omitempty"`
	Anomalies        []validation.Anomaly    `json:"anomalies"`
	ValidationStatus validation.Status       `json:"validationStatus"`
	ValidationScore  float64                 `json:"validationScore"`
	PageIndexTree    *pageindex.Tree         `json:"pageIndexTree"`
	Summary          string                  `json:"summary"`
	TableOfContents  string                  `json:"tableOfContents"`
	PageCount        int                     `json:"pageCount"`
	ProcessingTimeMs int64                   `json:"processingTime"`
}

// UploadChunkResponse is returned after every accepted fragment.
type UploadChunkResponse struct {
	UploadID       string `json:"uploadId"`
	ReceivedChunks int    `json:"receivedChunks"`
	TotalChunks    int    `json:"totalChunks"`
	Complete       bool   `json:"complete"`
}

// StartJobResponse is returned as soon as a job has been queued.
type StartJobResponse struct {
	JobID string `json:"jobId"`
}

// Progress reports page counters for a running job.
type Progress struct {
	Total   int `json:"total"`
	Current int `json:"current"`
}

// JobStatusResponse is the polling payload. Result is set only when the job
// completed and Error only when it failed.
type JobStatusResponse struct {
	Status   JobStatus   `json:"status"`
	Step     string      `json:"step"`
	Progress Progress    `json:"progress"`
	Result   *ResultData `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// StatusResponse builds the polling payload for a job.
func (j *Job) StatusResponse() JobStatusResponse {
	resp := JobStatusResponse{
		Status:   j.Status,
		Step:     j.CurrentStep,
		Progress: Progress{Total: j.TotalPages, Current: j.ProcessedPages},
	}
	switch j.Status {
	case JobStatusCompleted:
		resp.Result = j.Result
	case JobStatusFailed:
		resp.Error = j.ErrorMessage
	}
	return resp
}

// TreeSearchRequest is the body of a page-index search.
type TreeSearchRequest struct {
	TreeSerialized string `json:"tree_serialized"`
	Query          string `json:"query"`
	MaxResults     int    `json:"max_results"`
}

// TreeSearchHit is one matching section, content truncated for transport.
type TreeSearchHit struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Level      int    `json:"level"`
	Content    string `json:"content"`
	Type       string `json:"type,omitempty"`
	CaseNumber string `json:"case_number,omitempty"`
}

// TreeSearchResponse wraps the hits of a page-index search.
type TreeSearchResponse struct {
	Query        string          `json:"query"`
	ResultsCount int             `json:"results_count"`
	Results      []TreeSearchHit `json:"results"`
	Message      string          `json:"message"`
}

// DownloadExtractionRequest asks for a Markdown attachment.
type DownloadExtractionRequest struct {
	Name     string `json:"name"`
	Markdown string `json:"markdown"`
}

// WorkflowHandoff is the argument of the post-completion workflow execution.
type WorkflowHandoff struct {
	JobID            string            `json:"jobId"`
	Filename         string            `json:"filename"`
	PageCount        int               `json:"pageCount"`
	ValidationStatus validation.Status `json:"validationStatus"`
}
