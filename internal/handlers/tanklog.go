package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hydroforecast/apiserver/internal/services"
	"github.com/hydroforecast/apiserver/internal/store"
	"github.com/hydroforecast/apiserver/types"
)

// TankLogHandler provides HTTP handlers for the log ingestion pipeline.
type TankLogHandler struct {
	logService *services.TankLogService
}

func NewTankLogHandler(logService *services.TankLogService) *TankLogHandler {
	return &TankLogHandler{logService: logService}
}

// TankLogRouter registers tank-log routes. Every route requires
// authentication; tank access is scoped to the requesting owner.
func TankLogRouter(r chi.Router, logService *services.TankLogService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewTankLogHandler(logService)

	r.Use(authMiddleware)
	r.Post("/", handler.CreateLog)
	r.Post("/auto", handler.CreateLogFromReading)
	r.Get("/{id}", handler.ListLogs)
	r.Delete("/{id}/clear", handler.ClearLogs)
	r.Delete("/{id}", handler.DeleteLog)
}

// CreateLogRequest carries a direct-mode log submission. CurrentLevel is a
// pointer so a missing field is rejected instead of read as zero.
type CreateLogRequest struct {
	TankID       int      `json:"tankId"`
	CurrentLevel *float64 `json:"currentLevel"`
	Rainfall     float64  `json:"rainfall"`
	Usage        float64  `json:"usage"`
	Notes        string   `json:"notes"`
	LogType      string   `json:"logType"`
}

// CreateReadingRequest carries a derived-mode submission with a raw sensor
// distance reading in centimeters. The wire field is named currentLevel for
// compatibility with sensor firmware that posts both routes the same way.
type CreateReadingRequest struct {
	TankID     int      `json:"tankId"`
	RawReading *float64 `json:"currentLevel"`
	Rainfall   float64  `json:"rainfall"`
	Usage      float64  `json:"usage"`
	Notes      string   `json:"notes"`
}

// ReadingResponse echoes the stored log plus the conversion audit trail.
type ReadingResponse struct {
	Message        string              `json:"message"`
	CalculatedFrom services.Derivation `json:"calculatedFrom"`
	Log            types.TankLog       `json:"log"`
}

// LogListResponse is one page of a tank's logs plus the unpaged total.
type LogListResponse struct {
	Count      int             `json:"count"`
	TotalCount int             `json:"totalCount"`
	Logs       []types.TankLog `json:"logs"`
}

func (h *TankLogHandler) CreateLog(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.TankID < 1 || req.CurrentLevel == nil {
		writeError(w, http.StatusBadRequest, "tankId and currentLevel are required")
		return
	}

	log, err := h.logService.Ingest(r.Context(), userID, services.LogInput{
		TankID:       req.TankID,
		CurrentLevel: *req.CurrentLevel,
		Rainfall:     req.Rainfall,
		Usage:        req.Usage,
		Notes:        req.Notes,
		LogType:      req.LogType,
	})
	if err != nil {
		writeServiceError(w, err, "failed to record log")
		return
	}

	writeJSON(w, http.StatusCreated, log)
}

func (h *TankLogHandler) CreateLogFromReading(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.TankID < 1 || req.RawReading == nil {
		writeError(w, http.StatusBadRequest, "tankId and currentLevel are required")
		return
	}

	log, derivation, err := h.logService.IngestReading(r.Context(), userID, services.ReadingInput{
		TankID:     req.TankID,
		RawReading: *req.RawReading,
		Rainfall:   req.Rainfall,
		Usage:      req.Usage,
		Notes:      req.Notes,
	})
	if err != nil {
		writeServiceError(w, err, "failed to record reading")
		return
	}

	writeJSON(w, http.StatusCreated, ReadingResponse{
		Message:        "log recorded from sensor reading",
		CalculatedFrom: derivation,
		Log:            log,
	})
}

func (h *TankLogHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	tankID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter, err := parseLogFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, total, err := h.logService.List(r.Context(), userID, tankID, filter)
	if err != nil {
		writeServiceError(w, err, "failed to list logs")
		return
	}
	if logs == nil {
		logs = []types.TankLog{}
	}

	writeJSON(w, http.StatusOK, LogListResponse{Count: len(logs), TotalCount: total, Logs: logs})
}

func (h *TankLogHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	tankID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.logService.Clear(r.Context(), userID, tankID)
	if err != nil {
		writeServiceError(w, err, "failed to clear logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "logs cleared",
		"deletedCount": deleted,
	})
}

func (h *TankLogHandler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	logID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.logService.DeleteLog(r.Context(), userID, logID); err != nil {
		writeServiceError(w, err, "failed to delete log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "log deleted"})
}

// parseLogFilter reads pagination and date-range query parameters. Dates
// accept RFC 3339 timestamps or bare YYYY-MM-DD dates.
func parseLogFilter(r *http.Request) (store.LogFilter, error) {
	var filter store.LogFilter

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return store.LogFilter{}, errInvalidQuery("limit")
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return store.LogFilter{}, errInvalidQuery("skip")
		}
		filter.Skip = skip
	}
	if raw := r.URL.Query().Get("startDate"); raw != "" {
		start, err := parseDate(raw)
		if err != nil {
			return store.LogFilter{}, errInvalidQuery("startDate")
		}
		filter.Start = &start
	}
	if raw := r.URL.Query().Get("endDate"); raw != "" {
		end, err := parseDate(raw)
		if err != nil {
			return store.LogFilter{}, errInvalidQuery("endDate")
		}
		filter.End = &end
	}

	return filter, nil
}

func errInvalidQuery(name string) error {
	return errors.New("invalid " + name + " parameter")
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
