package upload

import (
	"net/http"

	"bitwise74/course-video-api/internal"

	"github.com/gin-gonic/gin"
)

// UploadStart reserves a video ID so the client can follow progress
// while the upload itself is still in flight
func UploadStart(c *gin.Context, d *internal.Deps) {
	c.JSON(http.StatusCreated, gin.H{
		"id": d.Assets.Reserve(),
	})
}
