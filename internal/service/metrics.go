package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transcodeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "video_transcode_duration_seconds",
		Help:    "Time taken to transcode one rendition",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"profile"})

	createOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_create_total",
		Help: "Video uploads by outcome",
	}, []string{"outcome"})

	prefixObjectsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storage_prefix_objects_deleted_total",
		Help: "Objects removed from remote storage by prefix deletes",
	})
)

const (
	outcomeOK        = "ok"
	outcomeLocalOnly = "local_only"
	outcomeFailed    = "failed"
)
