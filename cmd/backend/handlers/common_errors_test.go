package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hairizuan-noorazman/spahost/archive"
	"github.com/hairizuan-noorazman/spahost/ingest"
	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/project"
	"github.com/hairizuan-noorazman/spahost/resolver"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"too large", fmt.Errorf("%w: %w", ingest.ErrValidation, archive.ErrTooLarge), http.StatusRequestEntityTooLarge},
		{"invalid transition", fmt.Errorf("%w: %w", ingest.ErrValidation, project.ErrInvalidTransition), http.StatusConflict},
		{"validation", fmt.Errorf("%w: bad entry", ingest.ErrValidation), http.StatusUnprocessableEntity},
		{"conflict", ingest.ErrSlugConflict, http.StatusConflict},
		{"deleting", fmt.Errorf("%w: %w", ingest.ErrStore, project.ErrProjectDeleting), http.StatusConflict},
		{"not found", ingest.ErrNotFound, http.StatusNotFound},
		{"resolve not found", resolver.ErrNotFound, http.StatusNotFound},
		{"inactive", resolver.ErrInactive, http.StatusGone},
		{"lock timeout", ingest.ErrLockTimeout, http.StatusServiceUnavailable},
		{"store", ingest.ErrStore, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestRespondOperationError(t *testing.T) {
	log := logger.NewTestLogger()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	respondOperationError(w, r, log, "upload archive", &ingest.Error{Kind: ingest.ErrLockTimeout, Op: "upload", Slug: "demo"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"failed to upload archive","retryable":true}`, w.Body.String())
	assert.True(t, log.HasMessage("error", "failed to upload archive"))

	w = httptest.NewRecorder()
	respondOperationError(w, r, log, "upload archive", ingest.ErrSlugConflict)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"slug conflict"}`, w.Body.String())
}
