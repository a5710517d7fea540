// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"

	"bitwise74/course-video-api/internal/service"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	SweepOnStart = pflag.Bool("sweep-on-start", false, "Runs the video reference sweep once on startup")

	validLogLevels       = []string{"debug", "info", "warn", "error", "fatal"}
	validStorageTypes    = []string{"s3", "r2"}
	validDatabaseDrivers = []string{"sqlite", "postgres"}
)

func genSecret() string {
	b := make([]byte, 64)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	// A .env file is optional, real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file, %w", err)
	}

	if !pflag.Parsed() {
		pflag.Parse()
	}
	v.BindPFlags(pflag.CommandLine)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	bindEnvs()
	setDefaults()

	if err := v.ReadInConfig(); err != nil {
		var notFound v.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file, %w", err)
		}

		zap.L().Warn("No config.toml found, using defaults and environment")
	}

	return validate()
}

func bindEnvs() {
	v.BindEnv("app.log_level", "app_log_level")

	v.BindEnv("host.port", "host_port")
	v.BindEnv("host.cors", "host_cors")
	v.BindEnv("host.public_url", "host_public_url")

	v.BindEnv("ffmpeg.path", "ffmpeg_path")
	v.BindEnv("ffmpeg.ffprobe_path", "ffmpeg_ffprobe_path")
	v.BindEnv("ffmpeg.workers", "ffmpeg_workers")
	v.BindEnv("ffmpeg.max_jobs", "ffmpeg_max_jobs")
	v.BindEnv("ffmpeg.timeout", "ffmpeg_timeout")
	v.BindEnv("ffmpeg.probe_timeout", "ffmpeg_probe_timeout")
	v.BindEnv("ffmpeg.thumbnail_timeout", "ffmpeg_thumbnail_timeout")
	v.BindEnv("ffmpeg.hwaccel", "ffmpeg_hwaccel")

	v.BindEnv("storage.provider", "storage_provider")
	v.BindEnv("storage.local_root", "storage_local_root")
	v.BindEnv("storage.stream_root", "storage_stream_root")
	v.BindEnv("storage.thumbnail_root", "storage_thumbnail_root")
	v.BindEnv("storage.purge_local", "storage_purge_local")

	v.BindEnv("s3.bucket", "s3_bucket")
	v.BindEnv("s3.region", "s3_region")
	v.BindEnv("s3.endpoint", "s3_endpoint")
	v.BindEnv("s3.access_key_id", "s3_access_key_id")
	v.BindEnv("s3.secret_access_key", "s3_secret_access_key")
	v.BindEnv("s3.use_path_style", "s3_use_path_style")
	v.BindEnv("s3.public_base_url", "s3_public_base_url")
	v.BindEnv("s3.upload_concurrency", "s3_upload_concurrency")

	v.BindEnv("cloudflare.account_id", "cloudflare_account_id")
	v.BindEnv("cloudflare.access_key_id", "cloudflare_access_key_id")
	v.BindEnv("cloudflare.secret_access_key", "cloudflare_secret_access_key")
	v.BindEnv("cloudflare.bucket", "cloudflare_bucket")
	v.BindEnv("cloudflare.public_base_url", "cloudflare_public_base_url")

	v.BindEnv("db.driver", "db_driver")
	v.BindEnv("db.dsn", "db_dsn")

	v.BindEnv("jwt.secret", "jwt_secret")

	v.BindEnv("security.rate_limit", "security_rate_limit")

	v.BindEnv("upload.max_size", "upload_max_size")
	v.BindEnv("upload.allowed_types", "upload_allowed_types")

	v.BindEnv("sweep.interval", "sweep_interval")
}

func setDefaults() {
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.cors", []string{"http://localhost:5173"})
	v.SetDefault("host.public_url", "http://localhost:8080")

	v.SetDefault("ffmpeg.workers", 2)
	v.SetDefault("ffmpeg.max_jobs", 16)
	v.SetDefault("ffmpeg.timeout", "2h")
	v.SetDefault("ffmpeg.probe_timeout", "30s")
	v.SetDefault("ffmpeg.thumbnail_timeout", "1m")

	v.SetDefault("storage.provider", "s3")
	v.SetDefault("storage.local_root", "media")
	v.SetDefault("storage.stream_root", "videos")
	v.SetDefault("storage.thumbnail_root", "thumbnails")
	v.SetDefault("storage.purge_local", false)

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.upload_concurrency", 8)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "database.db")

	v.SetDefault("security.rate_limit", 2)

	v.SetDefault("upload.max_size", 2048)
	v.SetDefault("upload.reservation_ttl", "1h")
	v.SetDefault("upload.allowed_types", []string{"video/mp4", "video/quicktime", "video/webm", "video/x-matroska"})

	v.SetDefault("sweep.interval", "6h")
}

func validate() error {
	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if v.GetInt("ffmpeg.workers") <= 0 {
		return errors.New("ffmpeg.workers must be bigger than 0")
	}

	for _, k := range []string{"ffmpeg.timeout", "ffmpeg.probe_timeout", "ffmpeg.thumbnail_timeout", "sweep.interval", "upload.reservation_ttl"} {
		if v.GetDuration(k) < 0 {
			return fmt.Errorf("%s can't be negative", k)
		}
	}

	if v.GetFloat64("security.rate_limit") <= 0 {
		return errors.New("security.rate_limit must be bigger than 0")
	}

	if v.GetString("jwt.secret") == "" {
		fmt.Println("WARNING: You haven't set a JWT secret, so it has been generated for you. Please set it as an environment variable or in the config.toml file.\nYour random JWT secret:\n\n" + genSecret() + "\n\nPaste it into your config.toml file.")
		os.Exit(0)
	}

	if !slices.Contains(validDatabaseDrivers, v.GetString("db.driver")) {
		return errors.New("invalid database driver provided")
	}

	if len(v.GetStringSlice("upload.allowed_types")) == 0 {
		zap.L().Warn("No upload.allowed_types specified, any video type will be accepted")
	}

	switch v.GetString("storage.provider") {
	case "s3":
		if v.GetString("s3.bucket") == "" {
			return errors.New("bucket can't be empty")
		}
	case "r2":
		if v.GetString("cloudflare.account_id") == "" {
			return errors.New("account id can't be empty")
		}
		if v.GetString("cloudflare.access_key_id") == "" {
			return errors.New("account access id can't be empty")
		}
		if v.GetString("cloudflare.secret_access_key") == "" {
			return errors.New("secret access key can't be empty")
		}
		if v.GetString("cloudflare.bucket") == "" {
			return errors.New("bucket can't be empty")
		}
		// The R2 API host is private, delivery URLs need a public domain
		if v.GetString("cloudflare.public_base_url") == "" {
			return errors.New("public base url can't be empty")
		}
	}

	if !slices.Contains(validStorageTypes, v.GetString("storage.provider")) {
		return errors.New("invalid storage provider provided")
	}

	if v.GetString("storage.local_root") == "" {
		return errors.New("storage.local_root can't be empty")
	}

	if v.GetInt("upload.max_size") <= 0 {
		return errors.New("max upload size must be bigger than 0")
	}

	if _, err := Profiles(); err != nil {
		return err
	}

	// Megabytes in the file, bytes from here on
	v.Set("upload.max_size", v.GetInt64("upload.max_size")<<20)
	return nil
}

// Profiles returns the configured quality profiles, or the default
// single 720p rendition when none are set
func Profiles() ([]service.QualityProfile, error) {
	if !v.IsSet("ffmpeg.profiles") {
		return service.DefaultProfiles, nil
	}

	var profiles []service.QualityProfile
	if err := v.UnmarshalKey("ffmpeg.profiles", &profiles); err != nil {
		return nil, fmt.Errorf("failed to read ffmpeg.profiles, %w", err)
	}

	if len(profiles) == 0 {
		return nil, errors.New("ffmpeg.profiles can't be an empty list")
	}

	return profiles, nil
}
