package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PlaylistName is the entry point of every produced stream
const PlaylistName = "index.m3u8"

// QualityProfile describes one rendition. Bitrates use ffmpeg notation ("2500k").
type QualityProfile struct {
	Name            string `mapstructure:"name"`
	Width           int    `mapstructure:"width"`
	Height          int    `mapstructure:"height"`
	VideoBitrate    string `mapstructure:"video_bitrate"`
	AudioBitrate    string `mapstructure:"audio_bitrate"`
	BufferSize      string `mapstructure:"buffer_size"`
	SegmentDuration int    `mapstructure:"segment_duration"` // Seconds
}

var DefaultProfiles = []QualityProfile{
	{
		Name:            "720p",
		Width:           1280,
		Height:          720,
		VideoBitrate:    "2500k",
		AudioBitrate:    "128k",
		BufferSize:      "5000k",
		SegmentDuration: 6,
	},
}

func (p QualityProfile) validate() error {
	switch {
	case p.Name == "":
		return errors.New("profile name is empty")
	case p.Width <= 0 || p.Height <= 0:
		return fmt.Errorf("profile %s has an invalid resolution", p.Name)
	case p.SegmentDuration <= 0:
		return fmt.Errorf("profile %s has an invalid segment duration", p.Name)
	}

	for _, b := range []string{p.VideoBitrate, p.AudioBitrate, p.BufferSize} {
		if _, err := parseBitrate(b); err != nil {
			return fmt.Errorf("profile %s: %w", p.Name, err)
		}
	}

	return nil
}

// TranscodeJob is the working state of one upload
type TranscodeJob struct {
	VideoID    string
	CourseID   string
	RawPath    string
	OutputDir  string
	Duration   float64
	Candidates []string
}

type Transcoder struct {
	queue    *JobQueue
	profiles []QualityProfile
	hwaccel  string
	timeout  time.Duration
	tracker  *Tracker
}

func NewTranscoder(q *JobQueue, profiles []QualityProfile, hwaccel string, timeout time.Duration, t *Tracker) (*Transcoder, error) {
	if len(profiles) == 0 {
		profiles = DefaultProfiles
	}

	seen := map[string]bool{}
	for _, p := range profiles {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate profile %s", p.Name)
		}
		seen[p.Name] = true
	}

	return &Transcoder{
		queue:    q,
		profiles: profiles,
		hwaccel:  hwaccel,
		timeout:  timeout,
		tracker:  t,
	}, nil
}

// Transcode converts job.RawPath into a segmented stream under job.OutputDir and
// returns the path of the playlist (always <OutputDir>/index.m3u8). With more
// than one profile every rendition gets its own directory and index.m3u8 becomes
// the master playlist. Partial output is left for the caller to remove.
func (t *Transcoder) Transcode(ctx context.Context, job *TranscodeJob) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return "", &TranscodeError{Profile: t.profiles[0].Name, Err: err}
	}

	if len(t.profiles) == 1 {
		if err := t.render(ctx, job, t.profiles[0], job.OutputDir, 0); err != nil {
			return "", err
		}

		return filepath.Join(job.OutputDir, PlaylistName), nil
	}

	for i, p := range t.profiles {
		dir := filepath.Join(job.OutputDir, p.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", &TranscodeError{Profile: p.Name, Err: err}
		}

		if err := t.render(ctx, job, p, dir, i); err != nil {
			return "", err
		}
	}

	master := filepath.Join(job.OutputDir, PlaylistName)
	if err := os.WriteFile(master, []byte(MasterPlaylist(t.profiles)), 0o644); err != nil {
		return "", &TranscodeError{Profile: "master", Err: err}
	}

	return master, nil
}

func (t *Transcoder) render(ctx context.Context, job *TranscodeJob, p QualityProfile, dir string, index int) error {
	now := time.Now()
	share := 100 / float64(len(t.profiles))

	stderr := &progressWriter{
		duration: job.Duration,
		onProgress: func(pct float64) {
			if t.tracker != nil {
				t.tracker.Progress(job.VideoID, float64(index)*share+pct*share/100)
			}
		},
	}

	err := t.queue.Run(ctx, job.VideoID+"-"+p.Name, t.args(job.RawPath, dir, p), nil, stderr)
	if err != nil {
		zap.L().Error("FFmpeg failed",
			zap.String("video_id", job.VideoID),
			zap.String("profile", p.Name),
			zap.Error(err),
			zap.String("stderr", stderr.Tail()))

		return &TranscodeError{Profile: p.Name, Stderr: stderr.Tail(), Err: err}
	}

	if _, err := os.Stat(filepath.Join(dir, PlaylistName)); err != nil {
		return &TranscodeError{Profile: p.Name, Err: fmt.Errorf("playlist missing after transcode, %w", err)}
	}

	transcodeSeconds.WithLabelValues(p.Name).Observe(time.Since(now).Seconds())
	zap.L().Debug("Rendition finished", zap.String("video_id", job.VideoID), zap.String("profile", p.Name), zap.Duration("took", time.Since(now)))

	return nil
}

func (t *Transcoder) args(input, dir string, p QualityProfile) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats", "-progress", "pipe:2", "-y"}

	if t.hwaccel != "" {
		args = append(args, "-hwaccel", t.hwaccel)
	}

	seg := strconv.Itoa(p.SegmentDuration)

	args = append(args,
		"-i", input,
		"-vf", fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2", p.Width, p.Height),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-profile:v", "main",
		"-threads", strconv.Itoa(t.queue.Threads()),
		"-b:v", p.VideoBitrate,
		"-maxrate", p.VideoBitrate,
		"-bufsize", p.BufferSize,
		"-force_key_frames", "expr:gte(t,n_forced*"+seg+")",
		"-c:a", "aac",
		"-b:a", p.AudioBitrate,
		"-ac", "2",
		"-f", "hls",
		"-hls_time", seg,
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(dir, "segment_%03d.ts"),
		filepath.Join(dir, PlaylistName),
	)

	return args
}

// MasterPlaylist lists every rendition playlist, relative to the master
func MasterPlaylist(profiles []QualityProfile) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, p := range profiles {
		v, _ := parseBitrate(p.VideoBitrate)
		a, _ := parseBitrate(p.AudioBitrate)

		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=\"%s\"\n", v+a, p.Width, p.Height, p.Name)
		b.WriteString(p.Name + "/" + PlaylistName + "\n")
	}

	return b.String()
}

// parseBitrate turns "2500k" / "5M" / "128000" into bits per second
func parseBitrate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty bitrate")
	}

	mul := int64(1)
	switch strings.ToLower(s[len(s)-1:]) {
	case "k":
		mul, s = 1000, s[:len(s)-1]
	case "m":
		mul, s = 1000_000, s[:len(s)-1]
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid bitrate %q", s)
	}

	return int64(n * float64(mul)), nil
}
