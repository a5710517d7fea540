package course

import (
	"net/http"

	"bitwise74/course-video-api/app/response"
	"bitwise74/course-video-api/internal"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func CourseDelete(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	courseID := c.Param("courseID")

	res, err := d.Assets.DeleteCourse(c.Request.Context(), courseID)
	if err != nil {
		response.Error(c, err)
		return
	}

	zap.L().Info("Course deleted",
		zap.String("requestID", requestID),
		zap.String("course_id", courseID),
		zap.Int64("videos", res.Videos),
		zap.Int("remote_objects", res.RemoteObjects),
	)

	c.JSON(http.StatusOK, res)
}
