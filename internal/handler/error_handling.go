package handler

import (
	"errors"
	"net/http"

	"story-engine/shared/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIError — стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

func handleServiceError(c *gin.Context, err error, logger *zap.Logger) {
	var statusCode int
	var message string

	switch {
	case errors.Is(err, models.ErrStoryNotFound):
		statusCode = http.StatusNotFound
		message = "Story not found"
	case errors.Is(err, models.ErrEpisodeNotFound):
		statusCode = http.StatusNotFound
		message = "Episode not found"
	case errors.Is(err, models.ErrNotFound):
		statusCode = http.StatusNotFound
		message = "Resource not found"
	case errors.Is(err, models.ErrNoSchedulableEpisodes):
		statusCode = http.StatusConflict
		message = "Story has no schedulable episodes"
	case errors.Is(err, models.ErrNotSerialized):
		statusCode = http.StatusConflict
		message = "Story is not serialized"
	case errors.Is(err, models.ErrConflict):
		statusCode = http.StatusConflict
		message = "Operation conflicts with current state"
	case errors.Is(err, models.ErrBadRequest), errors.Is(err, models.ErrInvalidInput):
		statusCode = http.StatusBadRequest
		message = err.Error()
	default:
		logger.Error("Unhandled internal error in handleServiceError", zap.Error(err))
		statusCode = http.StatusInternalServerError
		message = "An unexpected internal error occurred"
	}

	c.AbortWithStatusJSON(statusCode, APIError{Message: message})
}
