package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/jobq"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", slog.String("error", err.Error()))
	}
}

// statusOf maps jobq sentinels to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, jobq.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, jobq.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobq.ErrInvalidState), errors.Is(err, jobq.ErrJobAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, jobq.ErrStoreUnavailable), errors.Is(err, jobq.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	body := ErrorResponse{Error: err.Error()}

	var verr *jobq.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}

	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
		body.Error = http.StatusText(status)
		if status == http.StatusServiceUnavailable {
			level = slog.LevelWarn
		}
	}
	a.logger.LogAttrs(r.Context(), level, "api request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	respondJSON(w, status, body)
}
