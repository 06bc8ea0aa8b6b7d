package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hydroforecast/apiserver/internal/services"
	"github.com/hydroforecast/apiserver/internal/store"
)

type contextKey string

const contextUserKey contextKey = "user_id"

// ErrorResponse is the uniform error payload for all handlers.
type ErrorResponse struct {
	Error string `json:"error"`
}

func userIDFromContext(ctx context.Context) (int, error) {
	userID, ok := ctx.Value(contextUserKey).(int)
	if !ok || userID < 1 {
		return 0, errors.New("missing user in context")
	}
	return userID, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps service-layer failures onto the error taxonomy:
// validation failures to 400, missing-or-not-owned to 404, the rest to 500.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
