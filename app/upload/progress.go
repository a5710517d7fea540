package upload

import (
	"fmt"
	"net/http"
	"time"

	"bitwise74/course-video-api/internal"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

var pollEvery = 200 * time.Millisecond

// UploadProgress streams the stage and percentage of an upload as
// server-sent events until it reaches a terminal stage
func UploadProgress(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	tracker := d.Assets.Tracker()

	id := c.Param("id")
	if _, ok := tracker.Load(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     "No running jobs found",
			"requestID": requestID,
		})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	var last time.Time

	for {
		st, ok := tracker.Load(id)
		if !ok {
			// Forgotten, the video was deleted
			return
		}

		if st.UpdatedAt != last {
			last = st.UpdatedAt

			data, _ := json.Marshal(st)
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			c.Writer.Flush()
		}

		if st.Stage.Done() {
			return
		}

		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
