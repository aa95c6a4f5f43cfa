package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/pdfindex/internal/core"
	db "github.com/markdave123-py/pdfindex/internal/core/database"
	"github.com/markdave123-py/pdfindex/internal/core/ingestion_engine"
	"github.com/markdave123-py/pdfindex/internal/core/requestid"
	"github.com/markdave123-py/pdfindex/internal/logger"
	"github.com/markdave123-py/pdfindex/internal/models"
)

// IngestionService runs or schedules ingestions.
type IngestionService interface {
	Submit(ctx context.Context, req models.IngestionRequest) (*models.Ingestion, *ingestion_engine.Result, error)
	Enqueue(ctx context.Context, req models.IngestionRequest) (*models.Ingestion, error)
}

type ArtifactChecker interface {
	Available(ctx context.Context, key string) (bool, error)
}

type IngestionHandler struct {
	ingestor  IngestionService
	catalog   core.DbClient
	artifacts ArtifactChecker
	maxUpload int64
}

func NewIngestionHandler(ing IngestionService, catalog core.DbClient, artifacts ArtifactChecker, maxUpload int64) *IngestionHandler {
	return &IngestionHandler{ingestor: ing, catalog: catalog, artifacts: artifacts, maxUpload: maxUpload}
}

// Routes mounts the ingestion API on r.
func (h *IngestionHandler) Routes(r chi.Router) {
	r.Post("/ingestions", h.Upload)
	r.Get("/ingestions", h.List)
	r.Get("/ingestions/{id}", h.Get)
	r.Get("/artifacts/*", h.ArtifactStatus)
}

type ingestResponse struct {
	Ingestion *models.Ingestion         `json:"ingestion"`
	Artifact  *models.PublishedArtifact `json:"artifact,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// Upload accepts a multipart "file" and ingests it. With async=true the
// request is queued and answered with 202.
func (h *IngestionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid multipart form: " + err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read upload: " + err.Error()})
		return
	}

	req := models.IngestionRequest{
		FileName: filepath.Base(header.Filename),
		Data:     data,
	}
	if req.ChunkSize, err = formInt(r, "chunk_size"); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Overlap, err = formInt(r, "overlap"); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if async, _ := strconv.ParseBool(r.FormValue("async")); async {
		rec, err := h.ingestor.Enqueue(r.Context(), req)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, ingestResponse{Ingestion: rec})
		return
	}

	rec, res, err := h.ingestor.Submit(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	resp := ingestResponse{Ingestion: rec}
	if res != nil {
		resp.Artifact = res.Artifact
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *IngestionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	list, err := h.catalog.ListIngestions(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *IngestionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !requestid.Valid(id) {
		writeError(r.Context(), w, fmt.Errorf("%w: ingestion %q", db.ErrNotFound, id))
		return
	}
	rec, err := h.catalog.GetIngestionByID(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ArtifactStatus serves GET /api/artifacts/<key>/status; keys may contain slashes.
func (h *IngestionHandler) ArtifactStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := strings.CutSuffix(chi.URLParam(r, "*"), "/status")
	if !ok || key == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	available, err := h.artifacts.Available(r.Context(), key)
	if err != nil {
		writeError(r.Context(), w, fmt.Errorf("%w: %w", core.ErrPersistenceFailure, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "available": available})
}

// formInt returns nil when the field is absent so the pipeline default applies.
func formInt(r *http.Request, name string) (*int, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", name)
	}
	return &n, nil
}

// StatusFor maps pipeline errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidChunkConfig), errors.Is(err, core.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrMalformedDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrEmbeddingUnavailable), errors.Is(err, ingestion_engine.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrEmbeddingCall), errors.Is(err, core.ErrPersistenceFailure):
		return http.StatusBadGateway
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(ctx).Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Stage: core.StageOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
