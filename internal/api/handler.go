// Package api serves the log API consumed by the dashboard: logs, names,
// deletion and PDF export.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/glekoz/chipdash/internal/models"
	"github.com/glekoz/chipdash/internal/service"
	"github.com/glekoz/chipdash/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/oapi-codegen/runtime"
)

const (
	msgMissingParams    = "Missing chip_id or timestamp in request query parameters."
	msgInvalidTimestamp = "Invalid timestamp format. Must be a number."
)

type ServiceAPI interface {
	ListLogs(ctx context.Context) ([]models.LogRecord, error)
	IngestLog(ctx context.Context, rec models.LogRecord) error
	IngestLogs(ctx context.Context, recs []models.LogRecord) (int, error)
	DeleteLog(ctx context.Context, key models.RecordKey) error
	ListNames(ctx context.Context) ([]models.NameEntry, error)
	SetName(ctx context.Context, chipID, name string) error
	ExportPDF(ctx context.Context, key models.RecordKey) (models.Artifact, error)
}

type Handler struct {
	svc    ServiceAPI
	logger *slog.Logger
}

func NewHandler(svc ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type MessageResponse struct {
	Message string `json:"message"`
}

// NewServer registers the routes. Every route also answers OPTIONS so
// browsers can preflight.
func NewServer(h *Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(logger.Middleware(h.logger), mux.CORSMethodMiddleware(r), cors)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/data", h.ListLogs).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/data", h.IngestLog).Methods(http.MethodPost)
	r.HandleFunc("/data", h.DeleteLog).Methods(http.MethodDelete)
	r.HandleFunc("/data/batch", h.IngestLogs).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/names", h.ListNames).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/names", h.SetName).Methods(http.MethodPost)
	r.HandleFunc("/export-pdf", h.ExportPDF).Methods(http.MethodGet, http.MethodOptions)
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListLogs(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if records == nil {
		records = []models.LogRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) IngestLog(w http.ResponseWriter, r *http.Request) {
	var rec models.LogRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: service.ErrInvalidRecord.Error() + ": " + err.Error()})
		return
	}
	if err := h.svc.IngestLog(r.Context(), rec); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "Log entry stored."})
}

func (h *Handler) IngestLogs(w http.ResponseWriter, r *http.Request) {
	var recs []models.LogRecord
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: service.ErrInvalidRecord.Error() + ": " + err.Error()})
		return
	}
	n, err := h.svc.IngestLogs(r.Context(), recs)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: fmt.Sprintf("%d log entries stored.", n)})
}

func (h *Handler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	key, ok := recordKey(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteLog(r.Context(), key); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Log entry deleted."})
}

func (h *Handler) ListNames(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.ListNames(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if names == nil {
		names = []models.NameEntry{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) SetName(w http.ResponseWriter, r *http.Request) {
	var req models.NameEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: "invalid request body"})
		return
	}
	if err := h.svc.SetName(r.Context(), req.ChipID, req.Name); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Name updated."})
}

func (h *Handler) ExportPDF(w http.ResponseWriter, r *http.Request) {
	key, ok := recordKey(w, r)
	if !ok {
		return
	}
	artifact, err := h.svc.ExportPDF(r.Context(), key)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write pdf", slog.String("error", err.Error()))
	}
}

// recordKey reads chip_id and timestamp from the query string and writes a
// 400 when either is missing or malformed.
func recordKey(w http.ResponseWriter, r *http.Request) (models.RecordKey, bool) {
	q := r.URL.Query()
	if q.Get("chip_id") == "" || q.Get("timestamp") == "" {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: msgMissingParams})
		return models.RecordKey{}, false
	}

	var key models.RecordKey
	if err := runtime.BindQueryParameter("form", true, true, "chip_id", q, &key.ChipID); err != nil {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: msgMissingParams})
		return models.RecordKey{}, false
	}
	if err := runtime.BindQueryParameter("form", true, true, "timestamp", q, &key.Timestamp); err != nil {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: msgInvalidTimestamp})
		return models.RecordKey{}, false
	}
	return key, true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyChipID),
		errors.Is(err, service.ErrEmptyName),
		errors.Is(err, service.ErrInvalidRecord):
		writeJSON(w, http.StatusBadRequest, MessageResponse{Message: err.Error()})

	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, MessageResponse{Message: err.Error()})

	default:
		h.logger.ErrorContext(r.Context(), "internal error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: "Internal server error: " + err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
