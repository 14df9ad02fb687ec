package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/digkill/cineweave/internal/auth"
	"github.com/digkill/cineweave/internal/service"
	"github.com/digkill/cineweave/internal/storage"
)

const (
	maxBodyBytes = 1 << 20
	maxListLimit = 100
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Unmapped errors are logged
// and reported as a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, service.ErrInvalidDuration),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, storage.ErrInvalidReference),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrLedgerMismatch):
		status = http.StatusConflict
	case errors.Is(err, service.ErrTooManyActiveJobs):
		status = http.StatusTooManyRequests
	case errors.Is(err, service.ErrRunnerUnavailable):
		status = http.StatusBadGateway
	}

	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		s.log.Error("handler error", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	case http.StatusBadGateway:
		s.log.Error("runner unavailable", "path", r.URL.Path, "err", err)
		msg = "failed to submit job"
	case http.StatusUnauthorized:
		msg = "unauthorized"
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON body into dst and runs its validate tags.
func (s *Server) decode(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", errBadRequest, describe(verrs))
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// queryLimit returns the "limit" query value, 0 when absent.
func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", errBadRequest, maxListLimit)
	}
	return n, nil
}
