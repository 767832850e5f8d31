package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hairizuan-noorazman/spahost/project"
)

func TestError_Unwrap(t *testing.T) {
	err := newError(ErrNotFound, "delete", "demo", project.ErrProjectNotFound)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, project.ErrProjectNotFound)
	assert.NotErrorIs(t, err, ErrStore)
	assert.Equal(t, "delete demo: not found: project not found", err.Error())

	var target *Error
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &target))
	assert.Equal(t, "demo", target.Slug)

	bare := newError(ErrSlugConflict, "upload", "demo", nil)
	assert.ErrorIs(t, bare, ErrSlugConflict)
	assert.Equal(t, "upload demo: slug conflict", bare.Error())
}

func TestRetryableAndOutcome(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
		outcome   string
	}{
		{nil, false, "ok"},
		{newError(ErrValidation, "upload", "x", nil), false, "validation"},
		{newError(ErrSlugConflict, "upload", "x", nil), false, "conflict"},
		{newError(ErrNotFound, "delete", "x", nil), false, "not_found"},
		{newError(ErrLockTimeout, "upload", "x", nil), true, "lock_timeout"},
		{newError(ErrExtraction, "upload", "x", nil), true, "extraction"},
		{newError(ErrStore, "upload", "x", nil), true, "store"},
		{newError(ErrExtraction, "upload", "x", context.Canceled), true, "canceled"},
		{errors.New("boom"), false, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Retryable(tt.err))
			assert.Equal(t, tt.outcome, Outcome(tt.err))
		})
	}
}
