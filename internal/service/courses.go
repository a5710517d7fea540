package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"bitwise74/course-video-api/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// nextSequence returns the sequence number for a new video of a course.
// Two concurrent creates may get the same number, it only affects ordering.
func nextSequence(tx *gorm.DB, courseID string) (int, error) {
	var seq int

	err := tx.Model(&model.VideoAsset{}).
		Where("course_id = ?", courseID).
		Select("COALESCE(MAX(sequence), 0)").
		Row().
		Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to get next sequence, %w", err)
	}

	return seq + 1, nil
}

// linkVideo adds videoID to the course's video list. Adding an id that is
// already listed does nothing.
func linkVideo(tx *gorm.DB, courseID, videoID string) error {
	var pos int64

	err := tx.Model(&model.CourseVideo{}).
		Where("course_id = ?", courseID).
		Select("COALESCE(MAX(position), 0)").
		Row().
		Scan(&pos)
	if err != nil {
		return fmt.Errorf("failed to get list position, %w", err)
	}

	err = tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.CourseVideo{CourseID: courseID, VideoID: videoID, Position: pos + 1}).
		Error
	if err != nil {
		return fmt.Errorf("failed to link video to course, %w", err)
	}

	return nil
}

func (m *AssetManager) linkedIDs(ctx context.Context, courseID string) ([]string, error) {
	ids := []string{}

	err := m.db.WithContext(ctx).
		Model(&model.CourseVideo{}).
		Where("course_id = ?", courseID).
		Order("position, created_at, video_id").
		Pluck("video_id", &ids).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to load course videos, %w", err)
	}

	return ids, nil
}

// GetCourse returns a course with its stored video list, stale ids included
func (m *AssetManager) GetCourse(ctx context.Context, courseID string) (*model.Course, error) {
	var c model.Course

	err := m.db.WithContext(ctx).Where("id = ?", courseID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("course %s, %w", courseID, ErrNotFound)
		}

		return nil, err
	}

	c.VideoIDs, err = m.linkedIDs(ctx, courseID)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// CourseVideos returns the videos of a course in list order. The stored list
// is repaired on the way: ids of videos that no longer exist are dropped and
// videos of the course missing from the list are appended to it.
func (m *AssetManager) CourseVideos(ctx context.Context, courseID string) ([]model.VideoAsset, error) {
	c, err := m.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	videos := []model.VideoAsset{}
	if len(c.VideoIDs) > 0 {
		err = m.db.WithContext(ctx).
			Where("id IN ?", c.VideoIDs).
			Find(&videos).
			Error
		if err != nil {
			return nil, fmt.Errorf("failed to load videos, %w", err)
		}
	}

	byID := make(map[string]model.VideoAsset, len(videos))
	for _, v := range videos {
		byID[v.ID] = v
	}

	out := make([]model.VideoAsset, 0, len(c.VideoIDs))
	stale := []string{}
	for _, id := range c.VideoIDs {
		v, ok := byID[id]
		if !ok || v.CourseID != courseID {
			stale = append(stale, id)
			continue
		}

		out = append(out, v)
	}

	if len(stale) > 0 {
		err := m.db.WithContext(ctx).
			Where("course_id = ? AND video_id IN ?", courseID, stale).
			Delete(&model.CourseVideo{}).
			Error
		if err != nil {
			zap.L().Error("Failed to remove stale video references", zap.String("course_id", courseID), zap.Error(err))
		} else {
			zap.L().Info("Removed stale video references", zap.String("course_id", courseID), zap.Strings("video_ids", stale))
		}
	}

	unlisted := []model.VideoAsset{}
	q := m.db.WithContext(ctx).Where("course_id = ?", courseID)
	if len(c.VideoIDs) > 0 {
		q = q.Where("id NOT IN ?", c.VideoIDs)
	}
	if err := q.Order("sequence, created_at").Find(&unlisted).Error; err != nil {
		zap.L().Error("Failed to look for unlisted videos", zap.String("course_id", courseID), zap.Error(err))
		return out, nil
	}

	for _, v := range unlisted {
		if err := linkVideo(m.db.WithContext(ctx), courseID, v.ID); err != nil {
			zap.L().Error("Failed to relink video", zap.String("course_id", courseID), zap.String("video_id", v.ID), zap.Error(err))
		}

		out = append(out, v)
	}

	return out, nil
}

type CascadeResult struct {
	Videos        int64 `json:"videos"`
	Enrollments   int64 `json:"enrollments"`
	Notifications int64 `json:"notifications"`
	RemoteObjects int   `json:"remote_objects"`
}

// DeleteCourse removes a course with everything that belongs to it. Remote
// objects are removed per course prefix in one pass, not per video.
func (m *AssetManager) DeleteCourse(ctx context.Context, courseID string) (*CascadeResult, error) {
	if !validID(courseID) {
		return nil, invalidInput("malformed course id")
	}

	if _, err := m.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	res := &CascadeResult{}

	res.RemoteObjects += m.bestEffortDeletePrefix(ctx, m.opts.StreamRoot+"/"+courseID+"/")
	res.RemoteObjects += m.bestEffortDeletePrefix(ctx, m.opts.ThumbnailRoot+"/"+courseID+"/")

	localDir := filepath.Join(m.opts.LocalRoot, filepath.FromSlash(m.opts.StreamRoot), courseID)
	if err := os.RemoveAll(localDir); err != nil {
		zap.L().Warn("Failed to remove local course files", zap.String("dir", localDir), zap.Error(err))
	}

	ids := []string{}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.VideoAsset{}).Where("course_id = ?", courseID).Pluck("id", &ids).Error; err != nil {
			return err
		}

		r := tx.Where("course_id = ?", courseID).Delete(&model.VideoAsset{})
		if r.Error != nil {
			return fmt.Errorf("failed to delete videos, %w", r.Error)
		}
		res.Videos = r.RowsAffected

		if err := tx.Where("course_id = ?", courseID).Delete(&model.CourseVideo{}).Error; err != nil {
			return fmt.Errorf("failed to delete video list, %w", err)
		}

		r = tx.Where("course_id = ?", courseID).Delete(&model.Enrollment{})
		if r.Error != nil {
			return fmt.Errorf("failed to delete enrollments, %w", r.Error)
		}
		res.Enrollments = r.RowsAffected

		r = tx.Where("course_id = ?", courseID).Delete(&model.Notification{})
		if r.Error != nil {
			return fmt.Errorf("failed to delete notifications, %w", r.Error)
		}
		res.Notifications = r.RowsAffected

		if err := tx.Where("id = ?", courseID).Delete(&model.Course{}).Error; err != nil {
			return fmt.Errorf("failed to delete course, %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		m.p.Tracker.Forget(id)
	}

	zap.L().Info("Course deleted",
		zap.String("course_id", courseID),
		zap.Int64("videos", res.Videos),
		zap.Int64("enrollments", res.Enrollments),
		zap.Int64("notifications", res.Notifications),
		zap.Int("remote_objects", res.RemoteObjects))

	return res, nil
}

type SweepResult struct {
	Courses         int64 `json:"courses"`
	DanglingRemoved int64 `json:"dangling_removed"`
	MissingLinked   int   `json:"missing_linked"`
	OrphansDeleted  int   `json:"orphans_deleted"`
}

// Sweep checks every course and video link at once. It drops list entries
// pointing at missing videos or courses, lists videos their course forgot and
// deletes videos whose course no longer exists. Running it twice in a row
// changes nothing the second time.
func (m *AssetManager) Sweep(ctx context.Context) (*SweepResult, error) {
	res := &SweepResult{}
	db := m.db.WithContext(ctx)

	if err := db.Model(&model.Course{}).Count(&res.Courses).Error; err != nil {
		return nil, fmt.Errorf("failed to count courses, %w", err)
	}

	r := db.
		Where("course_id NOT IN (?)", m.db.Model(&model.Course{}).Select("id")).
		Or("NOT EXISTS (?)", m.db.Model(&model.VideoAsset{}).
			Select("1").
			Where("video_assets.id = course_videos.video_id AND video_assets.course_id = course_videos.course_id")).
		Delete(&model.CourseVideo{})
	if r.Error != nil {
		return nil, fmt.Errorf("failed to remove dangling references, %w", r.Error)
	}
	res.DanglingRemoved = r.RowsAffected

	missing := []model.VideoAsset{}
	err := db.
		Where("course_id IN (?)", m.db.Model(&model.Course{}).Select("id")).
		Where("NOT EXISTS (?)", m.db.Model(&model.CourseVideo{}).
			Select("1").
			Where("course_videos.video_id = video_assets.id AND course_videos.course_id = video_assets.course_id")).
		Order("course_id, sequence, created_at").
		Find(&missing).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to look for unlisted videos, %w", err)
	}

	for _, v := range missing {
		if err := linkVideo(db, v.CourseID, v.ID); err != nil {
			zap.L().Error("Failed to relink video", zap.String("video_id", v.ID), zap.Error(err))
			continue
		}
		res.MissingLinked++
	}

	orphans := []string{}
	err = db.Model(&model.VideoAsset{}).
		Where("course_id NOT IN (?)", m.db.Model(&model.Course{}).Select("id")).
		Pluck("id", &orphans).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to look for orphaned videos, %w", err)
	}

	for _, id := range orphans {
		if err := m.Delete(ctx, id); err != nil {
			zap.L().Error("Failed to delete orphaned video", zap.String("video_id", id), zap.Error(err))
			continue
		}
		res.OrphansDeleted++
	}

	zap.L().Info("Reference sweep finished",
		zap.Int64("courses", res.Courses),
		zap.Int64("dangling_removed", res.DanglingRemoved),
		zap.Int("missing_linked", res.MissingLinked),
		zap.Int("orphans_deleted", res.OrphansDeleted))

	return res, nil
}
