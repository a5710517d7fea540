// Package response maps service errors to the API's JSON error format
package response

import (
	"errors"
	"net/http"

	"bitwise74/course-video-api/internal/service"
	"bitwise74/course-video-api/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error writes err as {"error", "requestID"} with a status matching its kind
func Error(c *gin.Context, err error) {
	requestID := c.GetString("requestID")

	code, msg := status(err)
	c.JSON(code, gin.H{
		"error":     msg,
		"requestID": requestID,
	})

	if code >= http.StatusInternalServerError {
		zap.L().Error("Request failed", zap.String("requestID", requestID), zap.Error(err))
	}
}

func status(err error) (int, string) {
	switch {
	case middleware.IsBodyTooLarge(err):
		return http.StatusRequestEntityTooLarge, "Request body too large"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrQueueClosed):
		return http.StatusServiceUnavailable, "Server is busy, try again later"
	case errors.Is(err, service.ErrTranscodeFailed):
		return http.StatusInternalServerError, "Video processing failed"
	case errors.Is(err, service.ErrNoThumbnail):
		return http.StatusUnprocessableEntity, "No thumbnail could be produced"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
