package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hydroforecast/apiserver/internal/services"
	"github.com/hydroforecast/apiserver/types"
)

// TankHandler provides HTTP handlers for the tank registry.
type TankHandler struct {
	tankService *services.TankService
}

// NewTankHandler constructs a handler with the provided service.
func NewTankHandler(tankService *services.TankService) *TankHandler {
	return &TankHandler{tankService: tankService}
}

// TankRouter registers tank routes on the given router. Every route requires
// authentication; reads and writes are scoped to the requesting owner.
func TankRouter(r chi.Router, tankService *services.TankService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewTankHandler(tankService)

	r.Use(authMiddleware)
	r.Post("/", handler.CreateTank)
	r.Get("/", handler.ListTanks)
	r.Route("/{tankID}", func(r chi.Router) {
		r.Get("/", handler.GetTank)
		r.Put("/", handler.UpdateTank)
		r.Delete("/", handler.DeleteTank)
	})
}

func (h *TankHandler) CreateTank(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req TankUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Name == nil || req.Capacity == nil {
		writeError(w, http.StatusBadRequest, "name and capacity are required")
		return
	}

	in := services.TankInput{
		Name:           *req.Name,
		Capacity:       *req.Capacity,
		AlertThreshold: req.AlertThreshold,
		HeightMeters:   req.HeightMeters,
	}
	if req.CurrentLevel != nil {
		in.CurrentLevel = *req.CurrentLevel
	}
	if req.Unit != nil {
		in.Unit = *req.Unit
	}
	if req.Type != nil {
		in.Type = *req.Type
	}
	if req.Status != nil {
		in.Status = *req.Status
	}

	tank, err := h.tankService.Create(r.Context(), userID, in)
	if err != nil {
		writeServiceError(w, err, "failed to register tank")
		return
	}

	writeJSON(w, http.StatusCreated, tank)
}

func (h *TankHandler) ListTanks(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	tanks, err := h.tankService.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tanks")
		return
	}

	writeJSON(w, http.StatusOK, TankListResponse{Count: len(tanks), Tanks: tanks})
}

func (h *TankHandler) GetTank(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := parseIDParam(r, "tankID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tank, err := h.tankService.Get(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err, "failed to fetch tank")
		return
	}

	writeJSON(w, http.StatusOK, tank)
}

func (h *TankHandler) UpdateTank(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := parseIDParam(r, "tankID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req TankUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	tank, err := h.tankService.Update(r.Context(), userID, id, services.TankUpdate{
		Name:           req.Name,
		Capacity:       req.Capacity,
		CurrentLevel:   req.CurrentLevel,
		Unit:           req.Unit,
		Type:           req.Type,
		Status:         req.Status,
		AlertThreshold: req.AlertThreshold,
		HeightMeters:   req.HeightMeters,
	})
	if err != nil {
		writeServiceError(w, err, "failed to update tank")
		return
	}

	writeJSON(w, http.StatusOK, tank)
}

func (h *TankHandler) DeleteTank(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := parseIDParam(r, "tankID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.tankService.Delete(r.Context(), userID, id); err != nil {
		writeServiceError(w, err, "failed to delete tank")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "tank deleted"})
}

// TankUpsertRequest carries tank fields for create and partial update. All
// fields are pointers so an update can tell "absent" apart from zero.
type TankUpsertRequest struct {
	Name           *string  `json:"name"`
	Capacity       *float64 `json:"capacity"`
	CurrentLevel   *float64 `json:"currentLevel"`
	Unit           *string  `json:"unit"`
	Type           *string  `json:"type"`
	Status         *string  `json:"status"`
	AlertThreshold *float64 `json:"alertThreshold"`
	HeightMeters   *float64 `json:"heightMeters"`
}

type TankListResponse struct {
	Count int          `json:"count"`
	Tanks []types.Tank `json:"tanks"`
}

func parseIDParam(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}
