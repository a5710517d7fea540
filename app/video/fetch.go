package video

import (
	"net/http"

	"bitwise74/course-video-api/app/response"
	"bitwise74/course-video-api/internal"

	"github.com/gin-gonic/gin"
)

func VideoFetch(c *gin.Context, d *internal.Deps) {
	v, err := d.Assets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, v)
}
