package model

import "time"

// Enrollment and Notification are owned by other parts of the platform.
// Only course deletion touches them here.

type Enrollment struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	CourseID  string `gorm:"index;not null"`
	UserID    string `gorm:"index"`
	Status    string
	CreatedAt time.Time
}

type Notification struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	CourseID  string `gorm:"index"`
	UserID    string `gorm:"index"`
	Message   string
	Read      bool
	CreatedAt time.Time
}
