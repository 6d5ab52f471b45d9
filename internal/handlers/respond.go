package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aaronwang/campus-auction/internal/service"
	"go.uber.org/zap"
)

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// respondServiceError maps engine errors onto HTTP status codes.
// Storage failures are logged and reported without detail.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		respondError(w, http.StatusNotFound, service.ErrNotFound.Error())
	case errors.Is(err, service.ErrForbidden):
		respondError(w, http.StatusForbidden, service.ErrForbidden.Error())
	case errors.Is(err, service.ErrInvalidBid):
		respondError(w, http.StatusBadRequest, service.ErrInvalidBid.Error())
	case errors.Is(err, service.ErrAuctionClosed):
		respondError(w, http.StatusBadRequest, service.ErrAuctionClosed.Error())
	case errors.Is(err, service.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
