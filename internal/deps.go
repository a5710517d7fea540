package internal

import (
	"bitwise74/course-video-api/internal/service"
	"bitwise74/course-video-api/pkg/middleware"

	"gorm.io/gorm"
)

type Deps struct {
	DB       *gorm.DB
	Store    service.ArtifactStore
	Assets   *service.AssetManager
	JobQueue *service.JobQueue
	Limiter  *middleware.RateLimiter

	JWTSecret     []byte
	CORSOrigins   []string
	MediaRoot     string // Served under /media, empty disables it
	MaxUploadSize int64
	AllowedTypes  []string
}
