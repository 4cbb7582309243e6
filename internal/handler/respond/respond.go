// Package respond writes JSON bodies and maps application errors to HTTP
// statuses. Handlers and middleware share it so every error has the same
// shape.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/yourorg/clinicops/internal/domain"
	"github.com/yourorg/clinicops/internal/security/auth"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Message(w http.ResponseWriter, status int, msg, code string) {
	JSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindLocked:
		return http.StatusLocked
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error renders err. Token rejections become 401 with a TOKEN_* code;
// classified errors use their kind and code; anything else is a 500 whose
// detail only goes to the log.
func Error(w http.ResponseWriter, log *slog.Logger, err error) {
	if log == nil {
		log = slog.Default()
	}

	var tokErr *auth.TokenError
	if errors.As(err, &tokErr) {
		Message(w, http.StatusUnauthorized, tokErr.Message(), tokErr.Code())
		return
	}

	var appErr *domain.Error
	if errors.As(err, &appErr) {
		status := StatusFor(appErr.Kind)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", slog.String("code", appErr.Code), slog.String("error", err.Error()))
		}
		Message(w, status, appErr.Message, appErr.Code)
		return
	}

	log.Error("unexpected error", slog.String("error", err.Error()))
	Message(w, http.StatusInternalServerError, "internal server error", "INTERNAL")
}
