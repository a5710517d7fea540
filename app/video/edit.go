package video

import (
	"net/http"

	"bitwise74/course-video-api/app/response"
	"bitwise74/course-video-api/internal"
	"bitwise74/course-video-api/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type videoEditOpts struct {
	Title       *string `json:"title,omitempty" binding:"omitempty,max=200"`
	Description *string `json:"description,omitempty" binding:"omitempty,max=5000"`
}

func VideoEdit(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	var data videoEditOpts
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Malformed or invalid JSON request body",
			"requestID": requestID,
		})

		zap.L().Debug("Failed to read JSON body", zap.String("requestID", requestID), zap.Error(err))
		return
	}

	v, err := d.Assets.Update(c.Request.Context(), c.Param("id"), service.UpdateInput{
		Title:       data.Title,
		Description: data.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, v)
}
