package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/forensicdocflow/internal/chunkstore"
	"github.com/Lllllllleong/forensicdocflow/internal/models"
	"github.com/Lllllllleong/forensicdocflow/internal/pageindex"
	"github.com/Lllllllleong/forensicdocflow/internal/services"
	"github.com/gorilla/mux"
)

const (
	// multipartOverhead is allowed on top of the payload for form fields and
	// part headers.
	multipartOverhead = 1 << 20
	maxMemory         = 32 << 20
	maxHitContent     = 500
)

var unsafeFilenameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func formInt(r *http.Request, key string) (int64, error) {
	v := r.FormValue(key)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s must be an integer, got %q", key, v)
	}
	return n, nil
}

// UploadChunk receives one fragment of a chunked upload. The upload is
// registered on the first fragment seen; later fragments re-register it
// harmlessly.
func (s *Server) UploadChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxChunkBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeUploadParseError(w, err)
		return
	}

	uploadID := r.FormValue("uploadId")
	filename := r.FormValue("filename")
	if uploadID == "" {
		writeError(w, http.StatusBadRequest, "missing uploadId")
		return
	}
	index, err := formInt(r, "chunkIndex")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	totalChunks, err := formInt(r, "totalChunks")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	totalSize, err := formInt(r, "totalSize")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.config.MaxUploadBytes > 0 && totalSize > s.config.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file of %d bytes exceeds the %d byte limit", totalSize, s.config.MaxUploadBytes))
		return
	}

	if totalChunks < 1 || totalChunks > totalSize {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("totalChunks %d is not possible for a file of %d bytes", totalChunks, totalSize))
		return
	}

	file, header, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing chunk")
		return
	}
	defer file.Close()
	if s.config.MaxChunkBytes > 0 && header.Size > s.config.MaxChunkBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("chunk of %d bytes exceeds the %d byte limit", header.Size, s.config.MaxChunkBytes))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, fmt.Errorf("failed to read chunk: %w", err))
		return
	}

	logCtx := slog.With("uploadId", uploadID, "chunkIndex", index)
	ctx := r.Context()
	err = s.chunks.InitUpload(ctx, uploadID, filename, int(totalChunks), totalSize)
	if err != nil && !errors.Is(err, chunkstore.ErrDuplicateUpload) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	progress, err := s.chunks.AddChunk(ctx, uploadID, int(index), data)
	if err != nil {
		writeErr(w, err)
		return
	}
	if progress.Complete {
		logCtx.Info("Upload complete.", "totalChunks", progress.Total, "totalSize", totalSize)
	}

	writeJSON(w, http.StatusOK, models.UploadChunkResponse{
		UploadID:       uploadID,
		ReceivedChunks: progress.Received,
		TotalChunks:    progress.Total,
		Complete:       progress.Complete,
	})
}

func writeUploadParseError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxJSONBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

type startJobBody struct {
	UploadID string                   `json:"uploadId"`
	Filename string                   `json:"filename"`
	Ranges   []models.ExtractionRange `json:"ranges"`
}

// StartJob accepts either a multipart form (a small file in "file" or an
// "uploadId", plus "filename" and JSON "ranges") or a JSON body referencing
// an upload. It answers 202 as soon as the job is queued.
func (s *Server) StartJob(w http.ResponseWriter, r *http.Request) {
	var req services.StartRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body startJobBody
		if err := s.decodeJSON(w, r, &body); err != nil {
			writeBodyError(w, err)
			return
		}
		req = services.StartRequest{UploadID: body.UploadID, Filename: body.Filename, Ranges: body.Ranges}
	} else {
		parsed, err := s.parseStartForm(w, r)
		if errors.Is(err, services.ErrInvalidRange) {
			writeErr(w, err)
			return
		}
		if err != nil {
			writeUploadParseError(w, err)
			return
		}
		req = parsed
	}

	jobID, err := s.starter.Start(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.StartJobResponse{JobID: jobID})
}

func (s *Server) parseStartForm(w http.ResponseWriter, r *http.Request) (services.StartRequest, error) {
	var req services.StartRequest
	if s.config.MaxFileBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxFileBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return req, err
	}
	req.UploadID = r.FormValue("uploadId")
	req.Filename = r.FormValue("filename")

	if raw := r.FormValue("ranges"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Ranges); err != nil {
			return req, fmt.Errorf("%w: ranges must be a JSON list of {from, to, name}", services.ErrInvalidRange)
		}
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return req, nil
	case err != nil:
		return req, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return req, err
	}
	req.File = data
	if req.Filename == "" {
		req.Filename = header.Filename
	}
	return req, nil
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job.StatusResponse())
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// SearchTree runs a page-index search over a serialized tree supplied by the
// client.
func (s *Server) SearchTree(w http.ResponseWriter, r *http.Request) {
	var req models.TreeSearchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	if req.TreeSerialized == "" || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "tree_serialized and query are required")
		return
	}
	tree, err := pageindex.Deserialize(req.TreeSerialized)
	if err != nil {
		writeErr(w, err)
		return
	}

	nodes := pageindex.Search(tree, req.Query, req.MaxResults)
	hits := make([]models.TreeSearchHit, 0, len(nodes))
	for _, n := range nodes {
		hits = append(hits, models.TreeSearchHit{
			ID:         n.ID,
			Title:      n.Title,
			Level:      n.Level,
			Content:    truncateRunes(n.Content, maxHitContent),
			Type:       string(n.Metadata.Type),
			CaseNumber: n.Metadata.CaseNumber,
		})
	}
	writeJSON(w, http.StatusOK, models.TreeSearchResponse{
		Query:        req.Query,
		ResultsCount: len(hits),
		Results:      hits,
		Message:      fmt.Sprintf("Found %d results for %q", len(hits), req.Query),
	})
}

// DownloadExtraction returns the posted Markdown as a file attachment.
func (s *Server) DownloadExtraction(w http.ResponseWriter, r *http.Request) {
	var req models.DownloadExtractionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	if req.Markdown == "" {
		writeError(w, http.StatusBadRequest, "markdown is required")
		return
	}

	name := strings.Trim(unsafeFilenameRe.ReplaceAllString(req.Name, "_"), "._")
	if name == "" {
		name = "extraction"
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name + ".md"}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, req.Markdown); err != nil {
		slog.Warn("Failed to write extraction.", "name", name, "error", err)
	}
}
