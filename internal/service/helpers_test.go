package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"bitwise74/course-video-api/aws"
	"bitwise74/course-video-api/aws/s3test"
	"bitwise74/course-video-api/db"
	"bitwise74/course-video-api/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errExit = errors.New("exit status 1")

// fakeRunner stands in for ffmpeg and ffprobe. It writes the files the real
// tools would write so the rest of the pipeline runs unchanged.
type fakeRunner struct {
	mu    sync.Mutex
	calls []Command

	duration     string // ffprobe output, empty makes the probe fail
	transcodeErr error
	// frameSize decides how big the frame captured at offset is, 0 fails the capture
	frameSize func(offset string) int
	block     chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		duration: "10.000000",
		frameSize: func(offset string) int {
			return 100
		},
	}
}

func (r *fakeRunner) Run(ctx context.Context, c Command) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case strings.HasSuffix(c.Name, "ffprobe"):
		if r.duration == "" {
			io.WriteString(c.Stderr, "Invalid data found when processing input\n")
			return errExit
		}

		_, err := io.WriteString(c.Stdout, r.duration+"\n")
		return err
	case slices.Contains(c.Args, "-hls_segment_filename"):
		return r.transcode(c)
	case slices.Contains(c.Args, "-frames:v"):
		return r.frame(c)
	}

	return fmt.Errorf("unexpected command %s %v", c.Name, c.Args)
}

func (r *fakeRunner) transcode(c Command) error {
	if r.transcodeErr != nil {
		io.WriteString(c.Stderr, "out_time_ms=1000000\nprogress=continue\n")
		io.WriteString(c.Stderr, "moov atom not found\n")
		return r.transcodeErr
	}

	pattern := argValue(c.Args, "-hls_segment_filename")
	playlist := c.Args[len(c.Args)-1]

	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-PLAYLIST-TYPE:VOD\n")
	for i := range 3 {
		seg := fmt.Sprintf(pattern, i)
		if err := os.WriteFile(seg, []byte("segment"), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(&b, "#EXTINF:6.0,\n%s\n", filepath.Base(seg))
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	io.WriteString(c.Stderr, "frame=10\nout_time_ms=5000000\nprogress=continue\nout_time_ms=10000000\nprogress=end\n")

	return os.WriteFile(playlist, []byte(b.String()), 0o644)
}

func (r *fakeRunner) frame(c Command) error {
	size := r.frameSize(argValue(c.Args, "-ss"))
	if size <= 0 {
		io.WriteString(c.Stderr, "Output file is empty, nothing was encoded\n")
		return errExit
	}

	return os.WriteFile(c.Args[len(c.Args)-1], make([]byte, size), 0o644)
}

func (r *fakeRunner) callsTo(name string) []Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []Command{}
	for _, c := range r.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}

	return out
}

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}

	return ""
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	d, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := d.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(d))

	return d
}

type testEnv struct {
	m      *AssetManager
	db     *gorm.DB
	runner *fakeRunner
	s3     *s3test.Fake
	root   string
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()

	r := newFakeRunner()

	q := NewJobQueue(r, "ffmpeg", 2, 4)
	q.StartWorkerPool()
	t.Cleanup(q.Close)

	tr := NewTracker(0)

	transcoder, err := NewTranscoder(q, nil, "", time.Minute, tr)
	require.NoError(t, err)

	fake := s3test.New()
	store := aws.New(fake, aws.Config{Bucket: "media", PublicBaseURL: "https://cdn.test"})

	o := Options{
		LocalRoot:    t.TempDir(),
		LocalBaseURL: "http://localhost:8080/media",
	}
	for _, fn := range opts {
		fn(&o)
	}

	d := newTestDB(t)

	m := NewAssetManager(d, store, Pipeline{
		Prober:     NewProber(r, "ffprobe", time.Second),
		Transcoder: transcoder,
		Thumbnails: NewThumbnailExtractor(q, nil, time.Second),
		Tracker:    tr,
	}, o)

	return &testEnv{m: m, db: d, runner: r, s3: fake, root: o.LocalRoot}
}

func (e *testEnv) course(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.Course{ID: id, Title: "Course " + id}).Error)
}

func (e *testEnv) create(t *testing.T, courseID, title string) *CreateResult {
	t.Helper()

	res, err := e.m.Create(context.Background(), CreateInput{
		CourseID: courseID,
		Title:    title,
		Filename: "lecture.mp4",
		File:     strings.NewReader("raw video bytes"),
	})
	require.NoError(t, err)

	return res
}

// countRows returns the number of rows of model in the table
func countRows(t *testing.T, d *gorm.DB, m any, where ...any) int64 {
	t.Helper()

	var n int64
	q := d.Model(m)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	require.NoError(t, q.Count(&n).Error)

	return n
}
