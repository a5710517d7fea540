package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitwise74/course-video-api/app"
	"bitwise74/course-video-api/config"
	"bitwise74/course-video-api/internal/service"

	"github.com/gin-gonic/gin"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	scratchCleanupEvery = time.Hour
	scratchMaxAge       = 24 * time.Hour
	limiterCleanupEvery = time.Minute
	shutdownTimeout     = 30 * time.Second
)

func main() {
	gin.SetMode(gin.ReleaseMode)
	app.MakeLogger()

	err := config.Setup()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	if err := app.SetLogLevel(v.GetString("app.log_level")); err != nil {
		zap.L().Fatal("Invalid log level", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := app.NewDeps(ctx)
	if err != nil {
		zap.L().Fatal("Failed to initialize", zap.Error(err))
	}

	if *config.SweepOnStart {
		res, err := d.Assets.Sweep(ctx)
		if err != nil {
			zap.L().Fatal("Startup sweep failed", zap.Error(err))
		}

		zap.L().Info("Startup sweep done", zap.Any("result", res))
	}

	if t := v.GetDuration("sweep.interval"); t > 0 {
		service.ReferenceSweep(ctx, t, d.Assets)
	}
	service.ScratchCleanup(ctx, scratchCleanupEvery, v.GetString("storage.local_root"), scratchMaxAge)
	d.Limiter.Run(ctx, limiterCleanupEvery)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", v.GetInt("host.port")),
		Handler: app.NewRouter(d),
	}

	go func() {
		zap.L().Info("Server starting", zap.String("addr", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zap.L().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Failed to shut down cleanly", zap.Error(err))
	}

	d.JobQueue.Close()
	zap.L().Sync()
}
