package model

import "time"

type Course struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Title     string    `json:"title"`
	VideoIDs  []string  `gorm:"-" json:"video_ids"` // Loaded from course_videos
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CourseVideo is a single entry of a course's ordered video list.
// The composite primary key makes adding an id a set-add.
type CourseVideo struct {
	CourseID  string `gorm:"primaryKey"`
	VideoID   string `gorm:"primaryKey;index"`
	Position  int64  `gorm:"index"`
	CreatedAt time.Time
}
