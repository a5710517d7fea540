package video

import (
	"net/http"

	"bitwise74/course-video-api/app/response"
	"bitwise74/course-video-api/internal"

	"github.com/gin-gonic/gin"
)

func VideoDelete(c *gin.Context, d *internal.Deps) {
	if err := d.Assets.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
