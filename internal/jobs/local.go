package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dravenops/hashhive/backend/pkg/debug"
)

const (
	localMaxAttempts = 3
	localRetryDelay  = 2 * time.Second
)

// Local runs jobs on an in-process goroutine pool. It is the default
// runner for single-instance deployments.
type Local struct {
	mux     *Mux
	queue   chan Job
	workers int

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewLocal creates a local runner backed by the given mux.
func NewLocal(mux *Mux, workers, queueSize int) *Local {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	return &Local{
		mux:     mux,
		queue:   make(chan Job, queueSize),
		workers: workers,
		done:    make(chan struct{}),
	}
}

// Start launches the worker pool. Safe to call once.
func (l *Local) Start() {
	l.startOnce.Do(func() {
		for i := 0; i < l.workers; i++ {
			l.wg.Add(1)
			go l.work()
		}
		debug.Info("Local job runner started with %d workers", l.workers)
	})
}

// Stop drains the queue and waits for in-flight jobs to finish.
func (l *Local) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		debug.Info("Local job runner stopped")
	})
}

// Enqueue submits a job to the pool. It blocks while the queue is full
// and fails if the runner is stopped or the context is cancelled.
func (l *Local) Enqueue(ctx context.Context, jobType Type, payload string) error {
	select {
	case <-l.done:
		return fmt.Errorf("job runner stopped, dropping %s job", jobType)
	default:
	}
	job := Job{Type: jobType, Payload: payload}
	select {
	case l.queue <- job:
		return nil
	case <-l.done:
		return fmt.Errorf("job runner stopped, dropping %s job", jobType)
	case <-ctx.Done():
		return fmt.Errorf("failed to enqueue %s job: %w", jobType, ctx.Err())
	}
}

func (l *Local) work() {
	defer l.wg.Done()
	for {
		select {
		case job := <-l.queue:
			l.run(job)
		case <-l.done:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case job := <-l.queue:
					l.run(job)
				default:
					return
				}
			}
		}
	}
}

func (l *Local) run(job Job) {
	ctx := context.Background()
	for attempt := 1; attempt <= localMaxAttempts; attempt++ {
		err := l.mux.Dispatch(ctx, job)
		if err == nil {
			return
		}
		if attempt == localMaxAttempts {
			debug.Error("Job %s (%s) failed after %d attempts: %v", job.Type, job.Payload, attempt, err)
			return
		}
		debug.Warning("Job %s (%s) attempt %d failed, retrying: %v", job.Type, job.Payload, attempt, err)
		select {
		case <-time.After(localRetryDelay):
		case <-l.done:
			debug.Warning("Job %s (%s) abandoned during shutdown", job.Type, job.Payload)
			return
		}
	}
}
