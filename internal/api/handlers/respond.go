package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"corrlab/internal/domain/models"
	"corrlab/pkg/logger"
)

// respondJSON writes a JSON response with the given status
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// respondError maps engine error types to HTTP statuses: validation
// errors are 400, missing resources 404, lost update races 409, and
// storage failures 503. Anything else is a 500.
func respondError(w http.ResponseWriter, log *logger.Logger, err error) {
	var (
		validationErr  *models.ValidationError
		notFoundErr    *models.NotFoundError
		conflictErr    *models.ConflictError
		persistenceErr *models.PersistenceError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &conflictErr):
		status = http.StatusConflict
	case errors.As(err, &persistenceErr):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("request rejected")
	}

	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeJSON decodes a request body into dest
func decodeJSON(r *http.Request, dest any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return &models.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()}
	}
	return nil
}
