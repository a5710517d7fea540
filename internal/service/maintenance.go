package service

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ReferenceSweep periodically runs the asset manager's reference sweep until
// ctx ends
func ReferenceSweep(ctx context.Context, t time.Duration, m *AssetManager) {
	ticker := time.NewTicker(t)

	zap.L().Debug("Reference sweep attached", zap.Duration("tick_every", t))

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Sweep(ctx); err != nil {
					zap.L().Error("Reference sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// ScratchCleanup periodically removes upload work dirs older than maxAge.
// Those are left behind only when the process died mid upload.
func ScratchCleanup(ctx context.Context, t time.Duration, localRoot string, maxAge time.Duration) {
	ticker := time.NewTicker(t)

	zap.L().Debug("Scratch cleanup attached", zap.Duration("tick_every", t), zap.Duration("max_age", maxAge))

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removeStaleWorkDirs(filepath.Join(localRoot, "uploads"), time.Now().Add(-maxAge))
			}
		}
	}()
}

// removeStaleWorkDirs deletes <root>/<courseID>/<workDir> entries last
// modified before cutoff and returns how many were removed
func removeStaleWorkDirs(root string, cutoff time.Time) int {
	courses, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			zap.L().Error("Failed to read scratch dir", zap.String("dir", root), zap.Error(err))
		}
		return 0
	}

	removed := 0

	for _, c := range courses {
		if !c.IsDir() {
			continue
		}

		courseDir := filepath.Join(root, c.Name())

		dirs, err := os.ReadDir(courseDir)
		if err != nil {
			zap.L().Warn("Failed to read course scratch dir", zap.String("dir", courseDir), zap.Error(err))
			continue
		}

		for _, d := range dirs {
			info, err := d.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}

			if err := os.RemoveAll(filepath.Join(courseDir, d.Name())); err != nil {
				zap.L().Warn("Failed to remove stale work dir", zap.String("dir", d.Name()), zap.Error(err))
				continue
			}
			removed++
		}

		// Drop the course level dir once it's empty
		os.Remove(courseDir)
	}

	if removed > 0 {
		zap.L().Info("Removed stale work dirs", zap.Int("count", removed))
	}

	return removed
}
