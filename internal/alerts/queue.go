package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/securewatch/securewatch/internal/metrics"
)

const (
	DefaultWorkers    = 4
	DefaultQueueSize  = 256
	DefaultJobTimeout = 30 * time.Second
)

// Job is one unit of out-of-band notification work.
type Job struct {
	Channel    string // "email" or "webhook"; used for metrics and logs
	IncidentID string
	Run        func(ctx context.Context) error
}

// Queue runs notification jobs on a fixed pool of workers. Submission never
// blocks: when the buffer is full the job is dropped and counted.
type Queue struct {
	jobs    chan Job
	workers int
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	dropped   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewQueue creates a queue. Non-positive arguments use the defaults.
func NewQueue(workers, size int, timeout time.Duration, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:    make(chan Job, size),
		workers: workers,
		timeout: timeout,
		logger:  logger,
	}
}

// Start launches the workers. Jobs run with a per-job timeout derived from
// ctx; pending jobs are still drained after Close.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				metrics.NotificationQueueDepth.Set(float64(len(q.jobs)))
				q.run(context.WithoutCancel(ctx), job)
			}
		}()
	}
}

// Submit enqueues job and reports whether it was accepted.
func (q *Queue) Submit(job Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(job, "closed")
		return false
	}
	select {
	case q.jobs <- job:
		metrics.NotificationQueueDepth.Set(float64(len(q.jobs)))
		return true
	default:
		q.drop(job, "full")
		return false
	}
}

func (q *Queue) drop(job Job, why string) {
	q.dropped.Add(1)
	metrics.NotificationQueueDropped.Inc()
	q.logger.Warn("notification dropped", "channel", job.Channel, "incident_id", job.IncidentID, "queue", why)
}

// Close stops accepting jobs and waits for queued ones to finish or ctx to
// expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification queue drain: %w", ctx.Err())
	}
}

// Stats reports cumulative job outcomes.
func (q *Queue) Stats() map[string]int64 {
	return map[string]int64{
		"pending":   int64(len(q.jobs)),
		"succeeded": q.succeeded.Load(),
		"failed":    q.failed.Load(),
		"dropped":   q.dropped.Load(),
	}
}

func (q *Queue) run(parent context.Context, job Job) {
	ctx, cancel := context.WithTimeout(parent, q.timeout)
	defer cancel()

	err := q.safeRun(ctx, job)
	if err != nil {
		q.failed.Add(1)
		metrics.NotificationsTotal.WithLabelValues(job.Channel, "failure").Inc()
		q.logger.Error("notification failed", "channel", job.Channel, "incident_id", job.IncidentID, "error", err)
		return
	}
	q.succeeded.Add(1)
	metrics.NotificationsTotal.WithLabelValues(job.Channel, "success").Inc()
	q.logger.Debug("notification delivered", "channel", job.Channel, "incident_id", job.IncidentID)
}

func (q *Queue) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in notification job: %v", r)
		}
	}()
	return job.Run(ctx)
}
