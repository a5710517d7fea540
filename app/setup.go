package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitwise74/course-video-api/aws"
	"bitwise74/course-video-api/cloudflare"
	"bitwise74/course-video-api/config"
	"bitwise74/course-video-api/db"
	"bitwise74/course-video-api/internal"
	"bitwise74/course-video-api/internal/service"
	"bitwise74/course-video-api/pkg/middleware"
	"bitwise74/course-video-api/pkg/util"

	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

// trackerLinger is how long finished uploads stay visible to progress pollers
const trackerLinger = 5 * time.Minute

// NewDeps builds everything the handlers need from the loaded config and
// starts the engine worker pool
func NewDeps(ctx context.Context) (*internal.Deps, error) {
	ffmpegPath, err := util.FindExecutable(v.GetString("ffmpeg.path"), "ffmpeg")
	if err != nil {
		return nil, err
	}

	ffprobePath, err := util.FindExecutable(v.GetString("ffmpeg.ffprobe_path"), "ffprobe")
	if err != nil {
		return nil, err
	}

	hwaccel := v.GetString("ffmpeg.hwaccel")
	if hwaccel == "auto" {
		hwaccel, err = util.DetectHWAccel()
		if err != nil {
			zap.L().Warn("No usable GPU found, transcoding on the CPU", zap.Error(err))
			hwaccel = ""
		}
	}

	database, err := db.New(v.GetString("db.driver"), v.GetString("db.dsn"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database, %w", err)
	}

	store, err := newStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage, %w", err)
	}

	profiles, err := config.Profiles()
	if err != nil {
		return nil, err
	}

	runner := service.ExecRunner{}
	queue := service.NewJobQueue(runner, ffmpegPath, v.GetInt("ffmpeg.workers"), v.GetInt("ffmpeg.max_jobs"))
	tracker := service.NewTracker(trackerLinger)

	transcoder, err := service.NewTranscoder(queue, profiles, hwaccel, v.GetDuration("ffmpeg.timeout"), tracker)
	if err != nil {
		return nil, err
	}

	localRoot := v.GetString("storage.local_root")

	assets := service.NewAssetManager(database, store, service.Pipeline{
		Prober:     service.NewProber(runner, ffprobePath, v.GetDuration("ffmpeg.probe_timeout")),
		Transcoder: transcoder,
		Thumbnails: service.NewThumbnailExtractor(queue, service.DefaultThumbnailOffsets, v.GetDuration("ffmpeg.thumbnail_timeout")),
		Tracker:    tracker,
	}, service.Options{
		LocalRoot:     localRoot,
		StreamRoot:    v.GetString("storage.stream_root"),
		ThumbnailRoot: v.GetString("storage.thumbnail_root"),
		PurgeLocal:    v.GetBool("storage.purge_local"),
		LocalBaseURL:  strings.TrimRight(v.GetString("host.public_url"), "/") + "/media",

		ReservationTTL: v.GetDuration("upload.reservation_ttl"),
	})

	queue.StartWorkerPool()

	zap.L().Info("Pipeline ready",
		zap.String("ffmpeg", ffmpegPath),
		zap.String("ffprobe", ffprobePath),
		zap.String("hwaccel", hwaccel),
		zap.Int("profiles", len(profiles)),
		zap.Int("threads_per_job", queue.Threads()),
	)

	return &internal.Deps{
		DB:       database,
		Store:    store,
		Assets:   assets,
		JobQueue: queue,
		Limiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: v.GetFloat64("security.rate_limit"),
		}),

		JWTSecret:     []byte(v.GetString("jwt.secret")),
		CORSOrigins:   v.GetStringSlice("host.cors"),
		MediaRoot:     localRoot,
		MaxUploadSize: v.GetInt64("upload.max_size"),
		AllowedTypes:  v.GetStringSlice("upload.allowed_types"),
	}, nil
}

func newStorage(ctx context.Context) (*aws.Storage, error) {
	switch v.GetString("storage.provider") {
	case "s3":
		return aws.NewS3(ctx, aws.Config{
			Bucket:            v.GetString("s3.bucket"),
			Region:            v.GetString("s3.region"),
			Endpoint:          v.GetString("s3.endpoint"),
			AccessKeyID:       v.GetString("s3.access_key_id"),
			SecretAccessKey:   v.GetString("s3.secret_access_key"),
			UsePathStyle:      v.GetBool("s3.use_path_style"),
			PublicBaseURL:     v.GetString("s3.public_base_url"),
			UploadConcurrency: v.GetInt("s3.upload_concurrency"),
		})
	case "r2":
		return cloudflare.NewR2(ctx, cloudflare.R2Config{
			AccountID:         v.GetString("cloudflare.account_id"),
			AccessKeyID:       v.GetString("cloudflare.access_key_id"),
			SecretAccessKey:   v.GetString("cloudflare.secret_access_key"),
			Bucket:            v.GetString("cloudflare.bucket"),
			PublicBaseURL:     v.GetString("cloudflare.public_base_url"),
			UploadConcurrency: v.GetInt("s3.upload_concurrency"),
		})
	default:
		return nil, errors.New("invalid storage provider provided")
	}
}
