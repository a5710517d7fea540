package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker(t *testing.T) {
	tr := NewTracker(0)

	_, ok := tr.Load("v1")
	assert.False(t, ok)

	// Progress of an unknown job is ignored
	tr.Progress("v1", 50)
	_, ok = tr.Load("v1")
	assert.False(t, ok)

	tr.Stage("v1", StageTranscoding)
	tr.Progress("v1", 140)

	st, ok := tr.Load("v1")
	require.True(t, ok)
	assert.Equal(t, StageTranscoding, st.Stage)
	assert.Equal(t, float64(100), st.Progress)

	tr.Stage("v1", StageUploading)
	st, _ = tr.Load("v1")
	assert.Equal(t, float64(0), st.Progress)

	tr.Finish("v1", StageReady)
	st, _ = tr.Load("v1")
	assert.True(t, st.Stage.Done())
	assert.Equal(t, float64(100), st.Progress)

	tr.Forget("v1")
	_, ok = tr.Load("v1")
	assert.False(t, ok)
}

func TestTracker_FinishedEntriesExpire(t *testing.T) {
	tr := NewTracker(10 * time.Millisecond)

	tr.Stage("v1", StageQueued)
	tr.Finish("v1", StageFailed)

	assert.Eventually(t, func() bool {
		_, ok := tr.Load("v1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTracker_ReservationsExpire(t *testing.T) {
	tr := NewTracker(0)

	tr.Reserve("abandoned", 10*time.Millisecond)
	tr.Reserve("picked-up", 10*time.Millisecond)
	tr.Stage("picked-up", StageTranscoding)

	assert.Eventually(t, func() bool {
		_, ok := tr.Load("abandoned")
		return !ok
	}, time.Second, 5*time.Millisecond)

	st, ok := tr.Load("picked-up")
	require.True(t, ok)
	assert.Equal(t, StageTranscoding, st.Stage)
}

func TestProgressWriter(t *testing.T) {
	reported := []float64{}
	w := &progressWriter{
		duration:   20,
		onProgress: func(p float64) { reported = append(reported, p) },
	}

	// Lines split across writes are joined back together
	input := "frame=1\nout_time_ms=50000" + "00\nprogress=continue\n[hls] Opening 'x.ts'\nout_time_ms=20000000\nprogress=end\n"
	for _, chunk := range []string{input[:17], input[17:40], input[40:]} {
		n, err := w.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	assert.Equal(t, []float64{25, 100, 100}, reported)
	assert.Equal(t, "[hls] Opening 'x.ts'", w.Tail())
}

func TestProgressWriter_TailIsBounded(t *testing.T) {
	w := &progressWriter{}

	line := strings.Repeat("x", 100) + "\n"
	for range 100 {
		w.Write([]byte(line))
	}
	w.Write([]byte("last words"))

	tail := w.Tail()
	assert.LessOrEqual(t, len(tail), maxStderrTail+len("last words")+1)
	assert.True(t, strings.HasSuffix(tail, "last words"))
}
