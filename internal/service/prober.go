package service

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Prober reads media metadata with ffprobe
type Prober struct {
	runner  Runner
	bin     string
	timeout time.Duration
}

func NewProber(r Runner, bin string, timeout time.Duration) *Prober {
	return &Prober{runner: r, bin: bin, timeout: timeout}
}

// Duration returns the duration of p in seconds. Probing is best effort,
// any failure is logged and reported as 0.
func (p *Prober) Duration(ctx context.Context, path string) float64 {
	d, err := p.probe(ctx, path)
	if err != nil {
		zap.L().Warn("Failed to probe video duration", zap.String("path", path), zap.Error(err))
		return 0
	}

	return d
}

func (p *Prober) probe(ctx context.Context, path string) (float64, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var stdOut, stdErr bytes.Buffer

	err := p.runner.Run(ctx, Command{
		Name:   p.bin,
		Args:   []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", "-i", path},
		Stdout: &stdOut,
		Stderr: &stdErr,
	})
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed, %w (%s)", err, strings.TrimSpace(stdErr.String()))
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(stdOut.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("malformed duration, %w", err)
	}

	if d < 0 {
		return 0, fmt.Errorf("negative duration %f", d)
	}

	return d, nil
}
