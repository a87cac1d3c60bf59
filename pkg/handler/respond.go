// Package handler implements the HTTP API surface. Handlers normalize wire
// payloads at the boundary and delegate to the scheduler, media store and
// notifier; no business rules live here.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/puberr"
)

// UserIDHeader carries the authenticated user id set by the fronting proxy.
// The service trusts it; authentication itself happens upstream.
const UserIDHeader = "X-User-ID"

func respondJSON(w http.ResponseWriter, logger *logrus.Logger, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to write response")
	}
}

func respondError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	respondJSON(w, logger, statusForError(err), map[string]string{
		"error": err.Error(),
		"code":  puberr.Code(err),
	})
}

func statusForError(err error) int {
	switch puberr.Code(err) {
	case puberr.ErrCodeValidation:
		return http.StatusBadRequest
	case puberr.ErrCodeAuth, puberr.ErrCodeTokenExpired:
		return http.StatusUnauthorized
	case puberr.ErrCodeNotFound:
		return http.StatusNotFound
	case puberr.ErrCodeConflict:
		return http.StatusConflict
	case puberr.ErrCodeHorizonExceeded, puberr.ErrCodeMediaExpiry:
		return http.StatusUnprocessableEntity
	case puberr.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

// userID extracts the trusted user id header, or 0 with a VALIDATION error.
func userID(r *http.Request) (uint, error) {
	raw := r.Header.Get(UserIDHeader)
	if raw == "" {
		return 0, puberr.New(puberr.ErrCodeAuth, "missing "+UserIDHeader+" header")
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, puberr.New(puberr.ErrCodeAuth, "invalid "+UserIDHeader+" header")
	}
	return uint(id), nil
}
