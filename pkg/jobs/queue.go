package jobs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the target worker buffer has no room.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueStopped is returned once the queue no longer accepts work.
	ErrQueueStopped = errors.New("queue stopped")
)

// Job represents a queued background task. Jobs sharing a Key are processed
// by the same worker in submission order.
type Job struct {
	ID       string
	Type     string
	Key      string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// DiscardFunc observes jobs that leave the queue without succeeding.
type DiscardFunc func(job Job, err error)

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers int
	// BufferSize is the per-worker backlog.
	BufferSize int
	// MaxRetries bounds inline retries after the first attempt. Zero disables retries.
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	OnDiscard  DiscardFunc
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Queue is a bounded in-memory dispatcher. Each worker owns a buffered channel
// and jobs are routed by key, so per-key ordering holds without global locks.
type Queue struct {
	name    string
	handler Handler

	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
	onDiscard  DiscardFunc

	shards []chan Job
	next   atomic.Uint32
	depth  atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewQueue builds a new queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	shards := make([]chan Job, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan Job, cfg.BufferSize)
	}

	return &Queue{
		name:       name,
		handler:    handler,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		onDiscard:  cfg.OnDiscard,
		shards:     shards,
	}
}

// Start begins worker consumption. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i, ch := range q.shards {
		q.wg.Add(1)
		go q.worker(i+1, ch)
	}
	q.started = true
	q.logger.Info("queue started", zap.String("queue", q.name), zap.Int("workers", len(q.shards)))
}

// TryEnqueue hands the job to its worker without blocking.
func (q *Queue) TryEnqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.started || q.stopped {
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueStopped)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	select {
	case q.shards[q.shardFor(job.Key)] <- job:
		q.depth.Add(1)
		return nil
	default:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueFull)
	}
}

// Shutdown stops intake and drains buffered jobs until ctx expires. Jobs
// still buffered at the deadline are discarded.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.stopped = true
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	for _, ch := range q.shards {
		close(ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.logger.Info("queue drained", zap.String("queue", q.name))
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		q.logger.Warn("queue shutdown deadline exceeded", zap.String("queue", q.name))
		return ctx.Err()
	}
}

// Depth reports how many jobs are buffered or in flight.
func (q *Queue) Depth() int {
	return int(q.depth.Load())
}

func (q *Queue) shardFor(key string) int {
	if key == "" {
		return int(q.next.Add(1) % uint32(len(q.shards)))
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(q.shards)))
}

func (q *Queue) worker(workerID int, jobs <-chan Job) {
	defer q.wg.Done()
	for job := range jobs {
		q.process(workerID, job)
		q.depth.Add(-1)
	}
}

func (q *Queue) process(workerID int, job Job) {
	for {
		if err := q.ctx.Err(); err != nil {
			q.discard(job, fmt.Errorf("queue %s: %w", q.name, ErrQueueStopped))
			return
		}

		err := q.handler(q.ctx, job)
		if err == nil {
			return
		}
		if IsPermanent(err) || job.Attempt >= q.maxRetries {
			q.logger.Error("job failed",
				zap.String("queue", q.name),
				zap.String("job_id", job.ID),
				zap.String("type", job.Type),
				zap.String("key", job.Key),
				zap.Int("attempt", job.Attempt),
				zap.Int("worker", workerID),
				zap.Error(err),
			)
			q.discard(job, err)
			return
		}

		job.Attempt++
		q.logger.Warn("job failed, retrying",
			zap.String("queue", q.name),
			zap.String("job_id", job.ID),
			zap.String("key", job.Key),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)

		timer := time.NewTimer(q.retryDelay)
		select {
		case <-q.ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue) discard(job Job, err error) {
	if q.onDiscard != nil {
		q.onDiscard(job, err)
	}
}
