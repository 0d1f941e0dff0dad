package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-service/internal/client"
	"github.com/noah-isme/enrollment-service/internal/models"
	"github.com/noah-isme/enrollment-service/internal/repository"
	appErrors "github.com/noah-isme/enrollment-service/pkg/errors"
	"github.com/noah-isme/enrollment-service/pkg/lock"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	ListByCourse(ctx context.Context, courseID models.CourseID) ([]models.Enrollment, error)
	ListByUser(ctx context.Context, userID models.UserID) ([]models.Enrollment, error)
	ListByStatus(ctx context.Context, status models.EnrollmentStatus) ([]models.Enrollment, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindActive(ctx context.Context, courseID models.CourseID, userID models.UserID) (*models.Enrollment, error)
	ExistsActive(ctx context.Context, courseID models.CourseID, userID models.UserID) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, id string, from, to models.EnrollmentStatus, at time.Time) (*models.Enrollment, error)
	DeleteActive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (*models.Enrollment, error)
	CountActiveByCourse(ctx context.Context, courseID models.CourseID) (int, error)
	CountSeatsByCourse(ctx context.Context, courseID models.CourseID) (int, error)
	CountActiveByUser(ctx context.Context, userID models.UserID) (int, error)
	CountByStatus(ctx context.Context, courseID models.CourseID) ([]models.StatusCount, error)
}

type userReader interface {
	GetUser(ctx context.Context, id models.UserID) client.Result[models.UserProfile]
}

type courseReader interface {
	GetCourse(ctx context.Context, id models.CourseID) client.Result[models.CourseSnapshot]
}

type capacitySubmitter interface {
	Submit(courseID models.CourseID, target int, reason string) error
}

// EnrollRequest describes an enrollment creation request.
type EnrollRequest struct {
	CourseID string `json:"courseId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
}

// ResyncResult reports the write-back scheduled by Resync.
type ResyncResult struct {
	CourseID models.CourseID `json:"courseId"`
	Target   int             `json:"target"`
}

// EnrollmentService coordinates local enrollment records with the catalog's
// capacity counter.
//
// In strict mode every capacity-affecting operation holds a course lock from
// the capacity read until the write-back is queued, the seat check counts
// local seat-holding rows (ACTIVE and COMPLETED), and write-backs carry that
// count. In parity mode none of that happens and targets are derived from the
// snapshot, so concurrent enrolls can over-commit a course.
type EnrollmentService struct {
	repo      enrollmentRepository
	users     userReader
	courses   courseReader
	sync      capacitySubmitter
	locker    lock.Locker
	strict    bool
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, users userReader, courses courseReader, sync capacitySubmitter, locker lock.Locker, strict bool, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil || !strict {
		locker = lock.NoopLocker{}
	}
	return &EnrollmentService{
		repo:      repo,
		users:     users,
		courses:   courses,
		sync:      sync,
		locker:    locker,
		strict:    strict,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page, size := models.NormalisePage(filter.Page, filter.PageSize)
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single enrollment.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.Enrollment, error) {
	return s.load(ctx, id)
}

// ListByCourse returns every enrollment of a course.
func (s *EnrollmentService) ListByCourse(ctx context.Context, rawCourseID string) ([]models.Enrollment, error) {
	courseID, err := parseCourse(rawCourseID)
	if err != nil {
		return nil, err
	}
	enrollments, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list course enrollments")
	}
	return enrollments, nil
}

// ListByUser returns every enrollment of a user.
func (s *EnrollmentService) ListByUser(ctx context.Context, rawUserID string) ([]models.Enrollment, error) {
	userID, err := parseUser(rawUserID)
	if err != nil {
		return nil, err
	}
	enrollments, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list user enrollments")
	}
	return enrollments, nil
}

// ListByStatus returns every enrollment in the given status.
func (s *EnrollmentService) ListByStatus(ctx context.Context, rawStatus string) ([]models.Enrollment, error) {
	status, err := models.ParseEnrollmentStatus(rawStatus)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment status")
	}
	enrollments, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments by status")
	}
	return enrollments, nil
}

// Stats aggregates a course's enrollments by status.
func (s *EnrollmentService) Stats(ctx context.Context, rawCourseID string) (*models.EnrollmentStats, error) {
	courseID, err := parseCourse(rawCourseID)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountByStatus(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute enrollment stats")
	}
	stats := &models.EnrollmentStats{CourseID: courseID}
	for _, c := range counts {
		stats.Total += c.Count
		switch c.Status {
		case models.EnrollmentStatusActive:
			stats.Active = c.Count
		case models.EnrollmentStatusCompleted:
			stats.Completed = c.Count
		case models.EnrollmentStatusDropped:
			stats.Dropped = c.Count
		}
	}
	return stats, nil
}

// CountActiveByCourse counts ACTIVE enrollments of a course.
func (s *EnrollmentService) CountActiveByCourse(ctx context.Context, rawCourseID string) (int, error) {
	courseID, err := parseCourse(rawCourseID)
	if err != nil {
		return 0, err
	}
	count, err := s.repo.CountActiveByCourse(ctx, courseID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count course enrollments")
	}
	return count, nil
}

// CountActiveByUser counts ACTIVE enrollments of a user.
func (s *EnrollmentService) CountActiveByUser(ctx context.Context, rawUserID string) (int, error) {
	userID, err := parseUser(rawUserID)
	if err != nil {
		return 0, err
	}
	count, err := s.repo.CountActiveByUser(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count user enrollments")
	}
	return count, nil
}

// Enroll registers a user in a course. The catalog counter is updated
// asynchronously; a successful return does not mean it has been written.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (enrollment *models.Enrollment, err error) {
	defer s.observe("enroll", &err)

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	courseID, err := parseCourse(req.CourseID)
	if err != nil {
		return nil, err
	}
	userID, err := parseUser(req.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	ctx, release, err := s.lockCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	defer release()

	snapshot, err := s.snapshot(ctx, courseID)
	if err != nil {
		return nil, err
	}

	enrolled := snapshot.Enrolled
	if s.strict {
		seats, err := s.repo.CountSeatsByCourse(ctx, courseID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count course seats")
		}
		enrolled = max(enrolled, seats)
	}
	if !snapshot.HasSeat(enrolled) {
		return nil, appErrors.Clone(appErrors.ErrCourseFull, "")
	}

	exists, err := s.repo.ExistsActive(ctx, courseID, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
	}

	now := s.now()
	enrollment = &models.Enrollment{
		CourseID:   courseID,
		UserID:     userID,
		Status:     models.EnrollmentStatusActive,
		EnrolledAt: now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicateActive) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.syncCapacity(ctx, courseID, snapshot.Enrolled+1, "enroll")
	s.logger.Info("enrollment created",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("course_id", courseID.String()),
		zap.String("user_id", userID.String()),
	)
	return enrollment, nil
}

// Drop moves an ACTIVE enrollment to DROPPED and releases its seat.
func (s *EnrollmentService) Drop(ctx context.Context, id string) (enrollment *models.Enrollment, err error) {
	defer s.observe("drop", &err)

	current, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.drop(ctx, current)
}

// DropByUserAndCourse drops the single ACTIVE enrollment of a pair.
func (s *EnrollmentService) DropByUserAndCourse(ctx context.Context, rawUserID, rawCourseID string) (enrollment *models.Enrollment, err error) {
	defer s.observe("drop", &err)

	userID, err := parseUser(rawUserID)
	if err != nil {
		return nil, err
	}
	courseID, err := parseCourse(rawCourseID)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.FindActive(ctx, courseID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrEnrollmentNotFound, "no active enrollment for user in course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return s.drop(ctx, current)
}

func (s *EnrollmentService) drop(ctx context.Context, current *models.Enrollment) (*models.Enrollment, error) {
	ctx, release, err := s.lockCourse(ctx, current.CourseID)
	if err != nil {
		return nil, err
	}
	defer release()

	snapshot, err := s.snapshot(ctx, current.CourseID)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, current.ID, models.EnrollmentStatusActive, models.EnrollmentStatusDropped, s.now())
	if err != nil {
		return nil, s.transitionError(err, "failed to drop enrollment")
	}

	s.syncCapacity(ctx, current.CourseID, snapshot.Enrolled-1, "drop")
	s.logger.Info("enrollment dropped",
		zap.String("enrollment_id", updated.ID),
		zap.String("course_id", updated.CourseID.String()),
		zap.String("user_id", updated.UserID.String()),
	)
	return updated, nil
}

// Unenroll deletes an ACTIVE enrollment and releases its seat.
func (s *EnrollmentService) Unenroll(ctx context.Context, id string) (err error) {
	defer s.observe("unenroll", &err)

	current, err := s.loadActive(ctx, id)
	if err != nil {
		return err
	}

	ctx, release, err := s.lockCourse(ctx, current.CourseID)
	if err != nil {
		return err
	}
	defer release()

	snapshot, err := s.snapshot(ctx, current.CourseID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteActive(ctx, current.ID); err != nil {
		return s.transitionError(err, "failed to delete enrollment")
	}

	s.syncCapacity(ctx, current.CourseID, snapshot.Enrolled-1, "unenroll")
	s.logger.Info("enrollment removed",
		zap.String("enrollment_id", current.ID),
		zap.String("course_id", current.CourseID.String()),
	)
	return nil
}

// Complete marks an ACTIVE enrollment as COMPLETED. The seat stays taken, so
// the catalog is not touched.
func (s *EnrollmentService) Complete(ctx context.Context, id string) (enrollment *models.Enrollment, err error) {
	defer s.observe("complete", &err)

	current, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateStatus(ctx, current.ID, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted, s.now())
	if err != nil {
		return nil, s.transitionError(err, "failed to complete enrollment")
	}
	return updated, nil
}

// Cancel hard-deletes an enrollment in any status. Removing a seat-holding row
// in strict mode schedules a write-back of the new local seat count.
func (s *EnrollmentService) Cancel(ctx context.Context, id string) (err error) {
	defer s.observe("cancel", &err)

	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	ctx, release, err := s.lockCourse(ctx, current.CourseID)
	if err != nil {
		return err
	}
	defer release()

	removed, err := s.repo.Delete(ctx, current.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrEnrollmentNotFound, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}

	if removed.Status.HoldsSeat() && s.strict {
		if count, err := s.repo.CountSeatsByCourse(ctx, removed.CourseID); err != nil {
			s.logger.Warn("capacity resync skipped after cancel", zap.String("course_id", removed.CourseID.String()), zap.Error(err))
		} else {
			_ = s.sync.Submit(removed.CourseID, count, "cancel")
		}
	}
	s.logger.Info("enrollment cancelled",
		zap.String("enrollment_id", removed.ID),
		zap.String("course_id", removed.CourseID.String()),
		zap.String("status", string(removed.Status)),
	)
	return nil
}

// Resync schedules a write-back of the local seat count (ACTIVE plus
// COMPLETED) for a course, repairing drift left by lost write-backs.
func (s *EnrollmentService) Resync(ctx context.Context, rawCourseID string) (result *ResyncResult, err error) {
	defer s.observe("resync", &err)

	courseID, err := parseCourse(rawCourseID)
	if err != nil {
		return nil, err
	}
	ctx, release, err := s.lockCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.snapshot(ctx, courseID); err != nil {
		return nil, err
	}
	count, err := s.repo.CountSeatsByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count course seats")
	}
	if err := s.sync.Submit(courseID, count, "resync"); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "capacity sync queue is full")
	}
	return &ResyncResult{CourseID: courseID, Target: count}, nil
}

// syncCapacity queues a write-back. parityTarget is the snapshot-derived
// count; strict mode replaces it with the local seat count.
func (s *EnrollmentService) syncCapacity(ctx context.Context, courseID models.CourseID, parityTarget int, reason string) {
	target := max(parityTarget, 0)
	if s.strict {
		count, err := s.repo.CountSeatsByCourse(ctx, courseID)
		if err != nil {
			s.logger.Warn("local count unavailable, using snapshot target",
				zap.String("course_id", courseID.String()),
				zap.Error(err),
			)
		} else {
			target = count
		}
	}
	// Submit logs and meters its own failures; the caller's commit stands.
	_ = s.sync.Submit(courseID, target, reason)
}

func (s *EnrollmentService) requireUser(ctx context.Context, userID models.UserID) error {
	res := s.users.GetUser(ctx, userID)
	switch res.Outcome {
	case client.OutcomeOK:
		return nil
	case client.OutcomeNotFound:
		return appErrors.Clone(appErrors.ErrUserNotFound, "")
	default:
		return s.unavailable(res.Degraded, res.Err, "identity service unavailable")
	}
}

func (s *EnrollmentService) snapshot(ctx context.Context, courseID models.CourseID) (models.CourseSnapshot, error) {
	res := s.courses.GetCourse(ctx, courseID)
	switch res.Outcome {
	case client.OutcomeOK:
		return res.Value, nil
	case client.OutcomeNotFound:
		return models.CourseSnapshot{}, appErrors.Clone(appErrors.ErrCourseNotFound, "")
	default:
		return models.CourseSnapshot{}, s.unavailable(res.Degraded, res.Err, "catalog service unavailable")
	}
}

func (s *EnrollmentService) unavailable(d *client.Degraded, cause error, message string) error {
	if d != nil && d.Message != "" {
		message = d.Message
	}
	return appErrors.WithCause(appErrors.Clone(appErrors.ErrServiceUnavailable, message), cause)
}

// lockCourse acquires the course lock. When the lock is a lease, the returned
// context expires with it so the locked section cannot outlive the hold.
// release must be called once the section is done.
func (s *EnrollmentService) lockCourse(ctx context.Context, courseID models.CourseID) (context.Context, func(), error) {
	unlock, err := s.locker.Acquire(ctx, courseID.String())
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, nil, appErrors.WithCause(appErrors.Clone(appErrors.ErrServiceUnavailable, "course is busy, retry later"), err)
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "course lock unavailable")
	}

	locked, cancel := ctx, context.CancelFunc(func() {})
	if leased, ok := s.locker.(lock.Leased); ok && leased.TTL() > 0 {
		locked, cancel = context.WithTimeout(ctx, leased.TTL())
	}
	release := func() {
		cancel()
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release course lock", zap.String("course_id", courseID.String()), zap.Error(err))
		}
	}
	return locked, release, nil
}

func (s *EnrollmentService) load(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrEnrollmentNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *EnrollmentService) loadActive(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidEnrollmentOperation, "enrollment is "+string(enrollment.Status))
	}
	return enrollment, nil
}

func (s *EnrollmentService) transitionError(err error, message string) error {
	if errors.Is(err, repository.ErrStatusConflict) {
		return appErrors.Clone(appErrors.ErrInvalidEnrollmentOperation, "enrollment is no longer active")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *EnrollmentService) observe(operation string, err *error) {
	result := "ok"
	if *err != nil {
		result = appErrors.FromError(*err).Code
	}
	s.metrics.RecordEnrollmentOperation(operation, result)
}

func parseCourse(raw string) (models.CourseID, error) {
	id, err := models.ParseCourseID(raw)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	return id, nil
}

func parseUser(raw string) (models.UserID, error) {
	id, err := models.ParseUserID(raw)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	return id, nil
}
