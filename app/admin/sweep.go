package admin

import (
	"net/http"

	"bitwise74/course-video-api/app/response"
	"bitwise74/course-video-api/internal"

	"github.com/gin-gonic/gin"
)

// Sweep reconciles every course's video list against the stored videos
func Sweep(c *gin.Context, d *internal.Deps) {
	res, err := d.Assets.Sweep(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
