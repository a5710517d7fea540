package service

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"bitwise74/course-video-api/pkg/util"

	"go.uber.org/zap"
)

const thumbnailWidth = 640

// DefaultThumbnailOffsets are fractions of the video duration
var DefaultThumbnailOffsets = []float64{0.25, 0.5, 0.75}

// ThumbnailOffsets turns duration fractions into whole second capture points.
// Offsets that floor to the same second are captured once.
func ThumbnailOffsets(duration float64, fractions []float64) []float64 {
	if duration < 0 || math.IsNaN(duration) {
		duration = 0
	}

	out := make([]float64, 0, len(fractions))
	seen := map[float64]bool{}

	for _, f := range fractions {
		sec := max(math.Floor(duration*f), 0)
		if seen[sec] {
			continue
		}

		seen[sec] = true
		out = append(out, sec)
	}

	return out
}

type ThumbnailExtractor struct {
	queue   *JobQueue
	offsets []float64
	timeout time.Duration
}

func NewThumbnailExtractor(q *JobQueue, offsets []float64, timeout time.Duration) *ThumbnailExtractor {
	if len(offsets) == 0 {
		offsets = DefaultThumbnailOffsets
	}

	return &ThumbnailExtractor{queue: q, offsets: offsets, timeout: timeout}
}

// Capture grabs one frame per offset from input into dir and returns the
// path of the best candidate. Every other candidate is removed before
// returning. ok is false when no frame could be captured, which is not an error.
func (e *ThumbnailExtractor) Capture(ctx context.Context, input string, duration float64, dir string) (string, bool) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		zap.L().Warn("Failed to create thumbnail dir", zap.String("dir", dir), zap.Error(err))
		return "", false
	}

	candidates := []string{}
	for i, sec := range ThumbnailOffsets(duration, e.offsets) {
		out := filepath.Join(dir, fmt.Sprintf("thumb_%d.jpg", i))

		if err := e.capture(ctx, input, sec, out); err != nil {
			zap.L().Warn("Failed to capture thumbnail candidate",
				zap.String("input", input),
				zap.Float64("offset", sec),
				zap.Error(err))

			os.Remove(out)
			continue
		}

		candidates = append(candidates, out)
	}

	best, ok := SelectLargest(candidates)

	for _, c := range candidates {
		if c != best {
			os.Remove(c)
		}
	}

	return best, ok
}

func (e *ThumbnailExtractor) capture(ctx context.Context, input string, sec float64, out string) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var stdErr bytes.Buffer

	err := e.queue.Run(ctx, "thumb-"+filepath.Base(out), []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-ss", util.FloatToTimestamp(sec),
		"-i", input,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", thumbnailWidth),
		"-q:v", "2",
		out,
	}, nil, &stdErr)
	if err != nil {
		return fmt.Errorf("%w (%s)", err, bytes.TrimSpace(stdErr.Bytes()))
	}

	st, err := os.Stat(out)
	if err != nil {
		return err
	}

	if st.Size() == 0 {
		return fmt.Errorf("empty frame at %s", util.FloatToTimestamp(sec))
	}

	return nil
}

// SelectLargest returns the biggest file of paths. A larger JPEG usually means
// more detail in the frame. The first maximum wins ties and unreadable or empty
// files are skipped.
func SelectLargest(paths []string) (string, bool) {
	var (
		best string
		size int64
	)

	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil || st.IsDir() {
			continue
		}

		if st.Size() > size {
			best, size = p, st.Size()
		}
	}

	return best, best != ""
}
