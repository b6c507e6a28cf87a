package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"botdeck/internal/auth"
	"botdeck/internal/files"
	"botdeck/internal/ingest"
	"botdeck/internal/storage"
)

type errorResponse struct {
	Message string `json:"message"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to write response")
	}
}

// respondError converts any error that escaped a handler into a structured
// response. Nothing propagates past the request boundary.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	s.respondJSON(w, status, errorResponse{Message: msg})
}

func classify(err error) (int, string) {
	var verrs validator.ValidationErrors
	var bad badRequest
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, bad.msg
	case errors.As(err, &verrs):
		return http.StatusBadRequest, "validation failed: " + verrs.Error()
	case errors.Is(err, ingest.ErrMalformedPayload),
		errors.Is(err, ingest.ErrPlatformMismatch),
		errors.Is(err, storage.ErrUnknownPlatform),
		errors.Is(err, files.ErrDisallowedType),
		errors.Is(err, files.ErrEmptyUpload):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrInvalidSession):
		return http.StatusUnauthorized, "invalid or expired session"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, files.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, ingest.ErrRateLimited):
		return http.StatusTooManyRequests, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return badRequestf("invalid JSON body: %v", err)
	}
	return nil
}

// badRequest is a lightweight marker for request-shape problems detected in
// handlers themselves.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return badRequest{msg: fmt.Sprintf(format, args...)}
}
