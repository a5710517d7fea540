package video

import (
	"io"
	"net/http"

	"bitwise74/course-video-api/app/response"
	"bitwise74/course-video-api/internal"
	"bitwise74/course-video-api/pkg/middleware"
	"bitwise74/course-video-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const MaxThumbnailSize = 10 << 20

// VideoThumbnailReplace puts an uploaded image in front of the video's thumbnails
func VideoThumbnailReplace(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	fh, err := c.FormFile("file")
	if err != nil && middleware.IsBodyTooLarge(err) {
		response.Error(c, err)
		return
	}

	code, f, err := validators.ImageFileValidator(fh, MaxThumbnailSize)
	if err != nil {
		c.JSON(code, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to read thumbnail upload", zap.String("requestID", requestID), zap.Error(err))
		return
	}

	v, err := d.Assets.ReplaceThumbnail(c.Request.Context(), c.Param("id"), data)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, v)
}

// VideoThumbnailRegenerate captures a fresh thumbnail from the video's stream
func VideoThumbnailRegenerate(c *gin.Context, d *internal.Deps) {
	v, err := d.Assets.RegenerateThumbnail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, v)
}
