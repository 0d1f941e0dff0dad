package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-service/internal/client"
	"github.com/noah-isme/enrollment-service/internal/models"
	"github.com/noah-isme/enrollment-service/pkg/config"
	"github.com/noah-isme/enrollment-service/pkg/jobs"
)

const capacityJobType = "capacity.set_enrolled"

// Sync outcomes reported to metrics.
const (
	SyncOutcomeOK          = "ok"
	SyncOutcomeSuperseded  = "superseded"
	SyncOutcomeNotFound    = "not_found"
	SyncOutcomeRejected    = "rejected"
	SyncOutcomeUnavailable = "unavailable"
	SyncOutcomeQueueFull   = "queue_full"
	SyncOutcomeDiscarded   = "discarded"
)

type capacityWriter interface {
	SetEnrolled(ctx context.Context, id models.CourseID, count int) client.WriteResult
}

// CapacityJob asks the catalog to set a course's enrolled counter to Target.
type CapacityJob struct {
	CourseID models.CourseID
	Target   int
	Reason   string
	Seq      uint64
}

// CapacitySyncService pushes enrolled counts to the catalog off the request
// path. Jobs for one course run in submission order on a single worker.
type CapacitySyncService struct {
	catalog capacityWriter
	queue   *jobs.Queue
	strict  bool
	metrics *MetricsService
	logger  *zap.Logger

	mu     sync.Mutex
	seq    uint64
	latest map[models.CourseID]uint64
}

// NewCapacitySyncService builds the dispatcher. In strict mode stale jobs are
// coalesced and unavailable write-backs are retried; otherwise each job gets
// one attempt.
func NewCapacitySyncService(catalog capacityWriter, cfg config.CapacitySyncConfig, strict bool, metrics *MetricsService, logger *zap.Logger) *CapacitySyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CapacitySyncService{
		catalog: catalog,
		strict:  strict,
		metrics: metrics,
		logger:  logger,
		latest:  make(map[models.CourseID]uint64),
	}
	retries := cfg.MaxRetries
	if !strict {
		retries = 0
	}
	s.queue = jobs.NewQueue("capacity-sync", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.QueueSize,
		MaxRetries: retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnDiscard:  s.discarded,
	})
	metrics.RegisterQueueDepth("capacity-sync", s.queue.Depth)
	return s
}

// Start launches the workers.
func (s *CapacitySyncService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Shutdown stops intake and drains pending jobs until ctx expires.
func (s *CapacitySyncService) Shutdown(ctx context.Context) error {
	return s.queue.Shutdown(ctx)
}

// Depth reports buffered plus in-flight jobs.
func (s *CapacitySyncService) Depth() int {
	return s.queue.Depth()
}

// Submit schedules a write-back without blocking. A full queue drops the job.
func (s *CapacitySyncService) Submit(courseID models.CourseID, target int, reason string) error {
	if target < 0 {
		target = 0
	}
	s.mu.Lock()
	s.seq++
	job := CapacityJob{CourseID: courseID, Target: target, Reason: reason, Seq: s.seq}
	s.latest[courseID] = job.Seq
	s.mu.Unlock()

	err := s.queue.TryEnqueue(jobs.Job{
		ID:      fmt.Sprintf("%s-%d", courseID, job.Seq),
		Type:    capacityJobType,
		Key:     courseID.String(),
		Payload: job,
	})
	if err != nil {
		s.settle(job)
		if errors.Is(err, jobs.ErrQueueFull) {
			s.metrics.RecordCapacitySync(SyncOutcomeQueueFull)
		} else {
			s.metrics.RecordCapacitySync(SyncOutcomeDiscarded)
		}
		s.logger.Warn("capacity job not queued",
			zap.String("course_id", courseID.String()),
			zap.Int("target", target),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *CapacitySyncService) handle(ctx context.Context, j jobs.Job) error {
	job, ok := j.Payload.(CapacityJob)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T", j.Payload))
	}
	if s.superseded(job) {
		s.settle(job)
		s.metrics.RecordCapacitySync(SyncOutcomeSuperseded)
		return nil
	}

	res := s.catalog.SetEnrolled(ctx, job.CourseID, job.Target)
	if res.Outcome == client.WriteOK {
		s.settle(job)
		s.metrics.RecordCapacitySync(SyncOutcomeOK)
		s.logger.Debug("capacity synced",
			zap.String("course_id", job.CourseID.String()),
			zap.Int("target", job.Target),
			zap.String("reason", job.Reason),
		)
		return nil
	}

	failure := &writeFailure{outcome: syncOutcomeFor(res.Outcome), err: res.Err}
	// Parity mode makes a single attempt.
	if res.Retryable() && s.strict {
		return failure
	}
	return jobs.Permanent(failure)
}

func syncOutcomeFor(outcome client.WriteOutcome) string {
	switch outcome {
	case client.WriteUnavailable:
		return SyncOutcomeUnavailable
	case client.WriteNotFound:
		return SyncOutcomeNotFound
	default:
		return SyncOutcomeRejected
	}
}

func (s *CapacitySyncService) discarded(j jobs.Job, err error) {
	job, ok := j.Payload.(CapacityJob)
	if !ok {
		return
	}
	s.settle(job)

	outcome := SyncOutcomeDiscarded
	var failure *writeFailure
	if errors.As(err, &failure) {
		outcome = failure.outcome
	}
	s.metrics.RecordCapacitySync(outcome)
	s.logger.Error("capacity write-back abandoned, catalog counter may drift",
		zap.String("course_id", job.CourseID.String()),
		zap.Int("target", job.Target),
		zap.String("reason", job.Reason),
		zap.Int("attempts", j.Attempt+1),
		zap.String("outcome", outcome),
		zap.Error(err),
	)
}

func (s *CapacitySyncService) superseded(job CapacityJob) bool {
	if !s.strict {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	latest, ok := s.latest[job.CourseID]
	return ok && latest > job.Seq
}

// settle forgets the course's sequence once its newest job is done.
func (s *CapacitySyncService) settle(job CapacityJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest[job.CourseID] == job.Seq {
		delete(s.latest, job.CourseID)
	}
}

// writeFailure carries the metrics outcome of a failed write-back.
type writeFailure struct {
	outcome string
	err     error
}

func (w *writeFailure) Error() string {
	if w.err == nil {
		return w.outcome
	}
	return w.err.Error()
}

func (w *writeFailure) Unwrap() error { return w.err }
