package course

import (
	"net/http"

	"bitwise74/course-video-api/app/response"
	"bitwise74/course-video-api/internal"

	"github.com/gin-gonic/gin"
)

// CourseVideos lists a course's videos in order. References to videos
// that no longer exist are dropped from the course on the way.
func CourseVideos(c *gin.Context, d *internal.Deps) {
	videos, err := d.Assets.CourseVideos(c.Request.Context(), c.Param("courseID"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"course_id": c.Param("courseID"),
		"videos":    videos,
	})
}
