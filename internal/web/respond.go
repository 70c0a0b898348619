package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/assign"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tiles"
)

const maxJSONBody = 1 << 20

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write json failed", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Messages: []string{fmt.Sprintf("invalid request body: %v", err)}}
	}
	return nil
}

// statusFor maps an error to the HTTP status the API reports for it.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err), errors.Is(err, assign.ErrNothingSelected), errors.Is(err, tiles.ErrInvalidTile):
		return http.StatusBadRequest
	case domain.IsNotFound(err), errors.Is(err, tiles.ErrUnknownLayer), errors.Is(err, tiles.ErrTileMissing):
		return http.StatusNotFound
	case domain.IsConflict(err), errors.Is(err, assign.ErrNoActiveMode):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
