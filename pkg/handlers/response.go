package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
)

// ApiResponse wraps successful payloads.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// StatusFor maps a gateway error to an HTTP status and error code.
// Unclassified errors are internal; their message is not shown.
func StatusFor(err error) (int, string) {
	if errors.Is(err, apperrors.ErrNotFound) {
		return http.StatusNotFound, "not_found"
	}

	kind := apperrors.KindOf(err)
	switch kind {
	case apperrors.KindParse, apperrors.KindInvalidRequest,
		apperrors.KindMissingParameter, apperrors.KindInvalidParameter:
		return http.StatusBadRequest, string(kind)
	case apperrors.KindAuthorization, apperrors.KindForbidden:
		return http.StatusForbidden, string(kind)
	case apperrors.KindCostExceeded, apperrors.KindCardinalityExceeded:
		return http.StatusUnprocessableEntity, string(kind)
	case apperrors.KindConcurrencyExceeded:
		return http.StatusTooManyRequests, string(kind)
	case apperrors.KindReadinessFailure:
		return http.StatusServiceUnavailable, string(kind)
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError renders err with the status StatusFor picks. Concurrency
// rejections carry a Retry-After hint.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, code := StatusFor(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}

	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
