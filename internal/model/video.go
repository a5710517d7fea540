// Package model defines database models
package model

import "time"

const StatusReady = "ready"

type VideoAsset struct {
	ID          string        `gorm:"primaryKey;size:36" json:"id"`
	CourseID    string        `gorm:"index;not null" json:"course_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Duration    float64       `json:"duration"` // Seconds, 0 when probing failed
	Sequence    int           `gorm:"index" json:"sequence"`
	StreamKey   string        `json:"stream_key"` // <stream_root>/<courseID>/<videoID>/index.m3u8
	StreamURL   string        `json:"stream_url"`
	Remote      bool          `json:"remote"` // Set once the stream directory is confirmed in remote storage
	Thumbnails  ThumbnailList `json:"thumbnails"`
	Status      string        `gorm:"default:ready" json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type Thumbnail struct {
	StorageKey string `json:"storage_key"`
	URL        string `json:"url"`
}
