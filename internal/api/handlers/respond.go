package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kvartal/market/internal/apperr"
)

// writeError maps a taxonomy error to its HTTP status. Each error kind has
// exactly one status so clients can key off either.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrTimeout):
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error", "code": "internal"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apperr.CodeOf(err)})
}
