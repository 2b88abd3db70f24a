// Package api exposes the upload, job and page-index endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/forensicdocflow/internal/chunkstore"
	"github.com/Lllllllleong/forensicdocflow/internal/jobstore"
	"github.com/Lllllllleong/forensicdocflow/internal/pageindex"
	"github.com/Lllllllleong/forensicdocflow/internal/services"
	"github.com/gorilla/mux"
	"github.com/urfave/negroni"
)

// Starter creates and queues a job.
type Starter interface {
	Start(ctx context.Context, req services.StartRequest) (string, error)
}

type Config struct {
	MaxChunkBytes  int64
	MaxUploadBytes int64
	MaxFileBytes   int64
	// MaxJSONBytes caps JSON request bodies. Zero means DefaultMaxJSONBytes.
	MaxJSONBytes int64
}

const DefaultMaxJSONBytes = 32 << 20

type Server struct {
	jobs    jobstore.Store
	chunks  chunkstore.Store
	starter Starter
	config  Config
}

func NewServer(jobs jobstore.Store, chunks chunkstore.Store, starter Starter, config Config) *Server {
	if config.MaxJSONBytes <= 0 {
		config.MaxJSONBytes = DefaultMaxJSONBytes
	}
	return &Server{jobs: jobs, chunks: chunks, starter: starter, config: config}
}

// SetupRoutes registers every endpoint on a new router.
func (s *Server) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/upload-chunk", s.UploadChunk).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.StartJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobId}", s.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/pageindex/search", s.SearchTree).Methods(http.MethodPost)
	api.HandleFunc("/download-extraction", s.DownloadExtraction).Methods(http.MethodPost)
	return r
}

// Handler wraps the router with panic recovery and access logging.
func (s *Server) Handler() http.Handler {
	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(negroni.NewLogger())
	n.UseHandler(s.SetupRoutes())
	return n
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response.", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps a sentinel error to the response code the client sees.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, services.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, chunkstore.ErrUnknownUpload), errors.Is(err, jobstore.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, chunkstore.ErrIncompleteUpload):
		return http.StatusConflict
	case errors.Is(err, services.ErrQueueFull), errors.Is(err, services.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, chunkstore.ErrIndexOutOfRange),
		errors.Is(err, chunkstore.ErrInvalidUpload),
		errors.Is(err, services.ErrNoFileProvided),
		errors.Is(err, services.ErrInvalidRange),
		errors.Is(err, pageindex.ErrInvalidTreeFormat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed.", "error", err)
	}
	writeError(w, status, err.Error())
}
