// internal/handler/errors.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/repository"
	"serial-bridge/internal/utils"
)

// statusForError maps service errors to HTTP status codes
func statusForError(err error) int {
	var validationErr *bridge.ValidationError
	var connectErr *bridge.ConnectError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &connectErr):
		return http.StatusBadGateway
	case errors.Is(err, bridge.ErrRelayStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, message string, err error) {
	utils.ErrorResponse(c, statusForError(err), message, err)
}
