package video

import (
	"errors"
	"net/http"

	"bitwise74/course-video-api/app/response"
	"bitwise74/course-video-api/internal"
	"bitwise74/course-video-api/internal/service"
	"bitwise74/course-video-api/pkg/middleware"
	"bitwise74/course-video-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func VideoCreate(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	fh, err := c.FormFile("file")
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			response.Error(c, err)
			return
		}

		if errors.Is(err, http.ErrMissingFile) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "No file provided",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Malformed multipart form",
			"requestID": requestID,
		})

		zap.L().Debug("Failed to read multipart form", zap.String("requestID", requestID), zap.Error(err))
		return
	}

	code, f, err := validators.VideoFileValidator(fh, d.MaxUploadSize, d.AllowedTypes)
	if err != nil {
		c.JSON(code, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}
	defer f.Close()

	res, err := d.Assets.Create(c.Request.Context(), service.CreateInput{
		CourseID:    c.Param("courseID"),
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		VideoID:     c.PostForm("videoID"),
		Filename:    fh.Filename,
		File:        f,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	body := gin.H{
		"id":    res.Video.ID,
		"ready": res.Ready,
		"url":   res.URL,
	}
	if res.Warning != "" {
		body["warning"] = res.Warning
	}

	c.JSON(http.StatusCreated, body)
}
