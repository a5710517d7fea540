package service

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

type JobStage string

const (
	StageQueued       JobStage = "queued"
	StageTranscoding  JobStage = "transcoding"
	StageThumbnailing JobStage = "thumbnailing"
	StageUploading    JobStage = "uploading"
	StageReady        JobStage = "ready"
	StageFailed       JobStage = "failed"
)

// Done reports whether the stage is terminal
func (s JobStage) Done() bool {
	return s == StageReady || s == StageFailed
}

type JobStats struct {
	Stage     JobStage  `json:"stage"`
	Progress  float64   `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker keeps the in-flight state of uploads keyed by video ID. Finished
// entries stay around for a while so late pollers still see the outcome.
type Tracker struct {
	m      sync.Map
	linger time.Duration
}

func NewTracker(linger time.Duration) *Tracker {
	return &Tracker{linger: linger}
}

func (t *Tracker) Stage(id string, s JobStage) {
	progress := 0.0
	if s == StageReady {
		progress = 100
	}

	t.m.Store(id, JobStats{Stage: s, Progress: progress, UpdatedAt: time.Now()})
}

// Reserve stages a reserved id as queued. The entry is dropped after ttl if
// nothing has touched it since, so abandoned reservations don't pile up.
func (t *Tracker) Reserve(id string, ttl time.Duration) {
	st := JobStats{Stage: StageQueued, UpdatedAt: time.Now()}
	t.m.Store(id, st)

	if ttl > 0 {
		time.AfterFunc(ttl, func() {
			t.m.CompareAndDelete(id, st)
		})
	}
}

func (t *Tracker) Progress(id string, p float64) {
	p = min(max(p, 0), 100)

	v, ok := t.m.Load(id)
	if !ok {
		return
	}

	st := v.(JobStats)
	st.Progress = p
	st.UpdatedAt = time.Now()
	t.m.Store(id, st)
}

// Finish moves a job to a terminal stage and forgets it after the linger time
func (t *Tracker) Finish(id string, s JobStage) {
	t.Stage(id, s)

	if t.linger > 0 {
		time.AfterFunc(t.linger, func() {
			if v, ok := t.m.Load(id); ok && v.(JobStats).Stage.Done() {
				t.m.Delete(id)
			}
		})
	}
}

func (t *Tracker) Load(id string) (JobStats, bool) {
	v, ok := t.m.Load(id)
	if !ok {
		return JobStats{}, false
	}

	return v.(JobStats), true
}

func (t *Tracker) Forget(id string) {
	t.m.Delete(id)
}

const maxStderrTail = 4 << 10

var progressLine = regexp.MustCompile(`^[a-z0-9_]+=\S*$`)

// progressWriter reads ffmpeg's "-progress pipe:2" output. Progress keys are
// reported through onProgress, anything else is kept as the error tail.
type progressWriter struct {
	duration   float64
	onProgress func(float64)

	partial []byte
	tail    []byte
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.partial = append(w.partial, p...)

	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}

		w.line(strings.TrimSpace(string(w.partial[:i])))
		w.partial = w.partial[i+1:]
	}

	return len(p), nil
}

func (w *progressWriter) line(line string) {
	if line == "" {
		return
	}

	if !progressLine.MatchString(line) {
		w.tail = append(w.tail, line...)
		w.tail = append(w.tail, '\n')
		if len(w.tail) > maxStderrTail {
			w.tail = w.tail[len(w.tail)-maxStderrTail:]
		}
		return
	}

	if w.onProgress == nil {
		return
	}

	if line == "progress=end" {
		w.onProgress(100)
		return
	}

	// out_time_ms is in microseconds despite the name
	if after, ok := strings.CutPrefix(line, "out_time_ms="); ok && w.duration > 0 {
		outTimeMs, err := strconv.ParseFloat(after, 64)
		if err == nil {
			w.onProgress((outTimeMs / (w.duration * 1000)) / 10)
		}
	}
}

// Tail returns the collected non-progress output
func (w *progressWriter) Tail() string {
	rest := strings.TrimSpace(string(w.partial))
	if rest != "" && !progressLine.MatchString(rest) {
		return strings.TrimSpace(string(w.tail) + rest)
	}

	return strings.TrimSpace(string(w.tail))
}
