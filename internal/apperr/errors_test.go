package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	err := NotFound("listing %s", "abc")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, "not_found: listing abc", err.Error())
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("joining space: %w", Forbidden("invite code mismatch"))
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, CodeForbidden, CodeOf(err))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, "", CodeOf(errors.New("boom")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestAllKindsDistinct(t *testing.T) {
	kinds := []error{ErrValidation, ErrNotFound, ErrConflict, ErrForbidden, ErrUnauthorized, ErrInvalidState, ErrTimeout}
	for i, a := range kinds {
		for j, b := range kinds {
			if i != j {
				assert.False(t, errors.Is(a, b))
			}
		}
	}
}
