// Package app contains the HTTP router and all endpoints available
package app

import (
	"net/http"
	"time"

	"bitwise74/course-video-api/app/admin"
	"bitwise74/course-video-api/app/course"
	"bitwise74/course-video-api/app/root"
	"bitwise74/course-video-api/app/upload"
	"bitwise74/course-video-api/app/video"
	"bitwise74/course-video-api/internal"
	"bitwise74/course-video-api/pkg/middleware"

	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Room for the multipart framing and text fields around the file itself
const formOverhead = 1 << 20

const videoCacheTTL = 5 * time.Second

func NewRouter(d *internal.Deps) *gin.Engine {
	router := gin.New()
	responses := persist.NewMemoryStore(time.Minute)
	evict := evictVideo(responses)

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     d.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Range"},
			ExposeHeaders:    []string{"Content-Length", "Content-Range", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD" || c.FullPath() == "/metrics"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v := c.GetString("userID"); v != "" {
					fields = append(fields, zap.String("userID", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true
	router.MaxMultipartMemory = 5 << 20

	jwt := middleware.NewJWTMiddleware(d.JWTSecret)
	adminOnly := middleware.RequireRole(middleware.RoleAdmin)

	// GET /metrics			-> Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if d.MediaRoot != "" {
		// GET /media/*			-> Local copies of streams and thumbnails
		router.Static("/media", d.MediaRoot)
	}

	main := router.Group("/api")
	{
		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		main.HEAD("/heartbeat", func(c *gin.Context) { root.Heartbeat(c, d) })
	}

	uploads := main.Group("/uploads")
	{
		// POST /api/uploads/start	-> Reserves a video ID to follow an upload with
		uploads.POST("/start", jwt, d.Limiter.Middleware("upload"), func(c *gin.Context) { upload.UploadStart(c, d) })

		// GET /api/uploads/:id/progress	-> Streams the progress of an upload
		uploads.GET("/:id/progress", func(c *gin.Context) { upload.UploadProgress(c, d) })
	}

	courses := main.Group("/courses")
	{
		// GET /api/courses/:courseID/videos	-> Returns a course's videos in order
		courses.GET("/:courseID/videos", func(c *gin.Context) { course.CourseVideos(c, d) })

		// POST /api/courses/:courseID/videos	-> Uploads, transcodes and publishes a new video
		courses.POST("/:courseID/videos",
			jwt,
			d.Limiter.Middleware("upload"),
			middleware.BodySizeLimiter(d.MaxUploadSize+formOverhead),
			func(c *gin.Context) { video.VideoCreate(c, d) },
		)

		// DELETE /api/courses/:courseID	-> Deletes a course with everything it owns
		courses.DELETE("/:courseID", jwt, adminOnly, purgeCache(responses), func(c *gin.Context) { course.CourseDelete(c, d) })
	}

	videos := main.Group("/videos")
	{
		// GET /api/videos/:id		-> Returns a video
		videos.GET("/:id", cacheVideo(responses, videoCacheTTL), func(c *gin.Context) { video.VideoFetch(c, d) })

		// PATCH /api/videos/:id	-> Updates a video's title or description
		videos.PATCH("/:id", jwt, evict, middleware.BodySizeLimiter(1<<20), func(c *gin.Context) { video.VideoEdit(c, d) })

		// DELETE /api/videos/:id	-> Deletes a video and its stored artifacts
		videos.DELETE("/:id", jwt, evict, func(c *gin.Context) { video.VideoDelete(c, d) })

		// PUT /api/videos/:id/thumbnail	-> Replaces the thumbnail with an uploaded image
		videos.PUT("/:id/thumbnail",
			jwt,
			evict,
			d.Limiter.Middleware("thumbnail"),
			middleware.BodySizeLimiter(video.MaxThumbnailSize+formOverhead),
			func(c *gin.Context) { video.VideoThumbnailReplace(c, d) },
		)

		// POST /api/videos/:id/thumbnail/regenerate	-> Captures a new thumbnail from the stream
		videos.POST("/:id/thumbnail/regenerate", jwt, evict, d.Limiter.Middleware("thumbnail"), func(c *gin.Context) { video.VideoThumbnailRegenerate(c, d) })
	}

	adm := main.Group("/admin", jwt, adminOnly)
	{
		// POST /api/admin/sweep	-> Reconciles course video lists with stored videos
		adm.POST("/sweep", purgeCache(responses), func(c *gin.Context) { admin.Sweep(c, d) })
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     "Not found",
			"requestID": c.GetString("requestID"),
		})
	})

	return router
}
