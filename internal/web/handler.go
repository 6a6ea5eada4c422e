package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/glekoz/chipdash/internal/apierr"
	"github.com/glekoz/chipdash/internal/dashboard"
	"github.com/glekoz/chipdash/internal/models"
	"github.com/glekoz/chipdash/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/vmihailenco/msgpack/v5"
)

const contentTypeMsgpack = "application/x-msgpack"

var errNameRequired = errors.New("name is required")

type DashboardAPI interface {
	LoadAll(ctx context.Context) ([]models.DeviceView, error)
	RenameDevice(ctx context.Context, chipID, newName string) ([]models.DeviceView, error)
	DeleteRecord(ctx context.Context, chipID string, timestamp int64) ([]models.DeviceView, error)
	ExportRecord(ctx context.Context, chipID string, timestamp int64) (models.Artifact, error)
	Views() []models.DeviceView
	Names() []models.NameEntry
	Operations() []dashboard.Operation
	Status() dashboard.LoadStatus
}

type Handler struct {
	dash   DashboardAPI
	loc    *time.Location
	logger *slog.Logger
}

func NewHandler(dash DashboardAPI, loc *time.Location, logger *slog.Logger) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{dash: dash, loc: loc, logger: logger}
}

// NewServer wires the dashboard routes under /api/v1 plus /health.
func NewServer(h *Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(logger.Middleware(h.logger))

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/devices", h.GetDevices).Methods(http.MethodGet)
	v1.HandleFunc("/refresh", h.Refresh).Methods(http.MethodPost)
	v1.HandleFunc("/names", h.GetNames).Methods(http.MethodGet)
	v1.HandleFunc("/operations", h.GetOperations).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{chip_id}/name", h.RenameDevice).Methods(http.MethodPut)
	v1.HandleFunc("/devices/{chip_id}/records/{timestamp}", h.DeleteRecord).Methods(http.MethodDelete)
	v1.HandleFunc("/devices/{chip_id}/records/{timestamp}/pdf", h.ExportRecord).Methods(http.MethodGet)
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetDevices(w http.ResponseWriter, r *http.Request) {
	h.writeDevices(w, r, http.StatusOK, h.dash.Views())
}

// Refresh reloads logs and names from the API. On failure the previous
// views stay in place and the caller gets 502.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	views, err := h.dash.LoadAll(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeDevices(w, r, http.StatusOK, views)
}

func (h *Handler) GetNames(w http.ResponseWriter, r *http.Request) {
	names := h.dash.Names()
	resp := make([]NameResponse, 0, len(names))
	for _, n := range names {
		resp = append(resp, NameResponse{ChipID: n.ChipID, Name: n.Name})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, presentOperations(h.dash.Operations()))
}

func (h *Handler) RenameDevice(w http.ResponseWriter, r *http.Request) {
	chipID := mux.Vars(r)["chip_id"]

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.handleError(w, r, errNameRequired)
		return
	}

	views, err := h.dash.RenameDevice(r.Context(), chipID, req.Name)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeDevices(w, r, http.StatusOK, views)
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	chipID, ts, ok := recordParams(w, r)
	if !ok {
		return
	}

	views, err := h.dash.DeleteRecord(r.Context(), chipID, ts)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeDevices(w, r, http.StatusOK, views)
}

func (h *Handler) ExportRecord(w http.ResponseWriter, r *http.Request) {
	chipID, ts, ok := recordParams(w, r)
	if !ok {
		return
	}

	artifact, err := h.dash.ExportRecord(r.Context(), chipID, ts)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write artifact", slog.String("error", err.Error()))
	}
}

func recordParams(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	vars := mux.Vars(r)
	ts, err := strconv.ParseInt(vars["timestamp"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: fmt.Sprintf("invalid timestamp %q", vars["timestamp"])})
		return "", 0, false
	}
	return vars["chip_id"], ts, true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errNameRequired):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})

	case errors.Is(err, dashboard.ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: err.Error()})

	case errors.Is(err, dashboard.ErrBusy):
		writeJSON(w, http.StatusConflict, ErrorResponse{Message: err.Error()})

	case apierr.KindOf(err) == apierr.NetworkFailure,
		apierr.KindOf(err) == apierr.RemoteRejection,
		apierr.KindOf(err) == apierr.InvalidResponseShape:
		h.logger.WarnContext(r.Context(), "remote failure",
			slog.String("kind", apierr.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Message: apierr.MessageOf(err)})

	default:
		h.logger.ErrorContext(r.Context(), "internal error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
	}
}

func (h *Handler) writeDevices(w http.ResponseWriter, r *http.Request, status int, views []models.DeviceView) {
	st := h.dash.Status()
	resp := DevicesResponse{
		Devices: presentDevices(views, h.loc),
		Loaded:  st.Loaded,
	}
	if st.Loaded {
		at := st.LoadedAt
		resp.LoadedAt = &at
	}

	if wantsMsgpack(r) {
		writeMsgpack(w, status, resp)
		return
	}
	writeJSON(w, status, resp)
}

func wantsMsgpack(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == contentTypeMsgpack {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func writeMsgpack(w http.ResponseWriter, status int, v any) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "failed to encode response"})
		return
	}
	w.Header().Set("Content-Type", contentTypeMsgpack)
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
