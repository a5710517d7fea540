package service

import (
	"context"
	"io"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type FFmpegJob struct {
	ID     string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
	Ctx    context.Context
	Done   chan error
}

// JobQueue limits how many engine processes run at once. Transcodes and frame
// captures go through it, probes are cheap and run directly.
type JobQueue struct {
	jobs    chan *FFmpegJob
	runner  Runner
	bin     string
	workers int
	threads int
	running atomic.Int32

	// closed is guarded by mu so no send can race the close of jobs
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewJobQueue initializes a new job queue that limits the
// max amount of jobs that can be queued at once
func NewJobQueue(r Runner, bin string, workers, maxJobs int) *JobQueue {
	if workers < 1 {
		workers = 1
	}
	if maxJobs < 0 {
		maxJobs = 0
	}

	zap.L().Debug("Initializing job queue", zap.Int("workers", workers), zap.Int("max_jobs", maxJobs))

	return &JobQueue{
		jobs:    make(chan *FFmpegJob, maxJobs),
		done:    make(chan struct{}),
		runner:  r,
		bin:     bin,
		workers: workers,
		threads: getThreadsPerJob(workers),
	}
}

// Figures out the amount of threads to use per ffmpeg job
func getThreadsPerJob(c int) int {
	totalCores := runtime.NumCPU()
	threads := int(math.Floor(float64(totalCores) / float64(c)))

	if threads < 1 {
		threads = 1
	}

	return threads
}

func (q *JobQueue) Threads() int {
	return q.threads
}

func (q *JobQueue) StartWorkerPool() {
	for range q.workers {
		q.wg.Add(1)
		go q.worker()
	}
}

// Close stops accepting jobs and waits for the workers to drain the queue.
// Enqueue calls made afterwards, or still waiting for a slot, get ErrQueueClosed.
func (q *JobQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)

		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
	})
	q.wg.Wait()
}

func (q *JobQueue) worker() {
	defer q.wg.Done()

	for job := range q.jobs {
		q.running.Add(1)

		err := q.runner.Run(job.Ctx, Command{
			Name:   q.bin,
			Args:   job.Args,
			Stdout: job.Stdout,
			Stderr: job.Stderr,
		})

		q.running.Add(-1)

		job.Done <- err
		close(job.Done)
	}
}

// Enqueue waits for a free slot in the queue until the job's context ends
func (q *JobQueue) Enqueue(job *FFmpegJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		zap.L().Debug("New ffmpeg job enqueued", zap.String("job_id", job.ID), zap.Int32("running", q.running.Load()))
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-job.Ctx.Done():
		return ErrQueueFull
	}
}

// Run enqueues a job and waits for it to finish
func (q *JobQueue) Run(ctx context.Context, id string, args []string, stdout, stderr io.Writer) error {
	job := &FFmpegJob{
		ID:     id,
		Args:   args,
		Stdout: stdout,
		Stderr: stderr,
		Ctx:    ctx,
		Done:   make(chan error, 1),
	}

	if err := q.Enqueue(job); err != nil {
		return err
	}

	return <-job.Done
}
