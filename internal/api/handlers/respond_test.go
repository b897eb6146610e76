package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corrlab/internal/domain/models"
	"corrlab/pkg/logger"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Format: "json"})

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &models.ValidationError{Field: "min_score", Reason: "must be a number"}, http.StatusBadRequest},
		{"not found", &models.NotFoundError{Resource: "campaign", ID: "x"}, http.StatusNotFound},
		{"conflict", &models.ConflictError{Resource: "campaign", ID: "x"}, http.StatusConflict},
		{"persistence", &models.PersistenceError{Op: "upsert", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{"wrapped persistence", &models.PersistenceError{Op: "query", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondError(rec, log, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestDecodeJSONRejectsMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))

	var dest map[string]any
	err := decodeJSON(req, &dest)

	var validation *models.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "body", validation.Field)
}
