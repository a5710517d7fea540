package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitwise74/course-video-api/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"InvalidInput", fmt.Errorf("%w: title is required", service.ErrInvalidInput), http.StatusBadRequest},
		{"NotFound", fmt.Errorf("video x, %w", service.ErrNotFound), http.StatusNotFound},
		{"TranscodeFailed", &service.TranscodeError{Profile: "720p", Err: errors.New("exit status 1")}, http.StatusInternalServerError},
		// A queue timeout surfaces inside a transcode error and still means busy
		{"QueueFull", &service.TranscodeError{Profile: "720p", Err: service.ErrQueueFull}, http.StatusServiceUnavailable},
		{"QueueClosed", &service.TranscodeError{Profile: "720p", Err: service.ErrQueueClosed}, http.StatusServiceUnavailable},
		{"NoThumbnail", service.ErrNoThumbnail, http.StatusUnprocessableEntity},
		{"BodyTooLarge", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{"Unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			code, msg := status(c.err)
			assert.Equal(t, c.code, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestError_HidesInternalDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("requestID", "req1")

	Error(c, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error","requestID":"req1"}`, w.Body.String())
}
