package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/enrollment-service/internal/models"
)

var (
	// ErrDuplicateActive is returned when a second ACTIVE row for the same
	// (course, user) pair would be created.
	ErrDuplicateActive = errors.New("active enrollment already exists")
	// ErrStatusConflict is returned when a conditional transition matched no
	// row because the enrollment is gone or no longer in the expected status.
	ErrStatusConflict = errors.New("enrollment status changed")
)

const (
	uniqueViolation      = "23505"
	activePairConstraint = "uq_enrollments_active_pair"
	enrollmentColumns    = "id, course_id, user_id, status, enrolled_at, updated_at"
)

// EnrollmentRepository handles persistence of enrollments in PostgreSQL.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	orderBy, order := sortClause(filter)
	page, size := models.NormalisePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM enrollments%s ORDER BY %s %s, id LIMIT %d OFFSET %d",
		enrollmentColumns, clause, orderBy, order, size, offset)

	enrollments := []models.Enrollment{}
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollments"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// ListByCourse returns every enrollment of a course, oldest first.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID models.CourseID) ([]models.Enrollment, error) {
	return r.selectWhere(ctx, "list course enrollments", "course_id = $1", courseID)
}

// ListByUser returns every enrollment of a user, oldest first.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID models.UserID) ([]models.Enrollment, error) {
	return r.selectWhere(ctx, "list user enrollments", "user_id = $1", userID)
}

// ListByStatus returns every enrollment in the given status.
func (r *EnrollmentRepository) ListByStatus(ctx context.Context, status models.EnrollmentStatus) ([]models.Enrollment, error) {
	return r.selectWhere(ctx, "list enrollments by status", "status = $1", status)
}

func (r *EnrollmentRepository) selectWhere(ctx context.Context, op, where string, args ...interface{}) ([]models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE %s ORDER BY enrolled_at, id", enrollmentColumns, where)
	enrollments := []models.Enrollment{}
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return enrollments, nil
}

// FindByID returns an enrollment by its ID. Missing rows yield sql.ErrNoRows.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := "SELECT " + enrollmentColumns + " FROM enrollments WHERE id = $1"
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindActive returns the ACTIVE enrollment for a pair. Missing rows yield sql.ErrNoRows.
func (r *EnrollmentRepository) FindActive(ctx context.Context, courseID models.CourseID, userID models.UserID) (*models.Enrollment, error) {
	query := "SELECT " + enrollmentColumns + " FROM enrollments WHERE course_id = $1 AND user_id = $2 AND status = $3"
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, courseID, userID, models.EnrollmentStatusActive); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsActive checks if an active enrollment exists for the pair.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, courseID models.CourseID, userID models.UserID) (bool, error) {
	const query = "SELECT 1 FROM enrollments WHERE course_id = $1 AND user_id = $2 AND status = $3 LIMIT 1"
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, courseID, userID, models.EnrollmentStatusActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record. The partial unique index turns a
// racing duplicate into ErrDuplicateActive.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	if enrollment.UpdatedAt.IsZero() {
		enrollment.UpdatedAt = enrollment.EnrolledAt
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO enrollments (id, course_id, user_id, status, enrolled_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query,
		enrollment.ID, enrollment.CourseID, enrollment.UserID, enrollment.Status, enrollment.EnrolledAt, enrollment.UpdatedAt)
	if err != nil {
		if isActivePairViolation(err) {
			return ErrDuplicateActive
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateStatus moves an enrollment from one status to another only if it is
// still in the expected status, returning the updated row.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, from, to models.EnrollmentStatus, at time.Time) (*models.Enrollment, error) {
	query := `UPDATE enrollments SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2 RETURNING ` + enrollmentColumns
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id, from, to, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("update enrollment status: %w", err)
	}
	return &enrollment, nil
}

// DeleteActive removes an enrollment only while it is ACTIVE.
func (r *EnrollmentRepository) DeleteActive(ctx context.Context, id string) error {
	const query = "DELETE FROM enrollments WHERE id = $1 AND status = $2"
	res, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusActive)
	if err != nil {
		return fmt.Errorf("delete active enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete active enrollment: %w", err)
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// Delete removes an enrollment in any status and returns what was removed.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) (*models.Enrollment, error) {
	query := "DELETE FROM enrollments WHERE id = $1 RETURNING " + enrollmentColumns
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("delete enrollment: %w", err)
	}
	return &enrollment, nil
}

// CountActiveByCourse counts ACTIVE rows for a course.
func (r *EnrollmentRepository) CountActiveByCourse(ctx context.Context, courseID models.CourseID) (int, error) {
	const query = "SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2"
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID, models.EnrollmentStatusActive); err != nil {
		return 0, fmt.Errorf("count course enrollments: %w", err)
	}
	return count, nil
}

// CountSeatsByCourse counts rows that hold a seat in a course: ACTIVE and
// COMPLETED.
func (r *EnrollmentRepository) CountSeatsByCourse(ctx context.Context, courseID models.CourseID) (int, error) {
	const query = "SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status IN ($2, $3)"
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted); err != nil {
		return 0, fmt.Errorf("count course seats: %w", err)
	}
	return count, nil
}

// ListCourseIDs returns every course that has at least one enrollment row,
// whatever its status.
func (r *EnrollmentRepository) ListCourseIDs(ctx context.Context) ([]models.CourseID, error) {
	const query = "SELECT DISTINCT course_id FROM enrollments ORDER BY course_id"
	ids := []models.CourseID{}
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list enrolled courses: %w", err)
	}
	return ids, nil
}

// CountActiveByUser counts ACTIVE rows for a user.
func (r *EnrollmentRepository) CountActiveByUser(ctx context.Context, userID models.UserID) (int, error) {
	const query = "SELECT COUNT(*) FROM enrollments WHERE user_id = $1 AND status = $2"
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, models.EnrollmentStatusActive); err != nil {
		return 0, fmt.Errorf("count user enrollments: %w", err)
	}
	return count, nil
}

// CountByStatus groups a course's enrollments by status.
func (r *EnrollmentRepository) CountByStatus(ctx context.Context, courseID models.CourseID) ([]models.StatusCount, error) {
	const query = "SELECT status, COUNT(*) AS count FROM enrollments WHERE course_id = $1 GROUP BY status"
	counts := []models.StatusCount{}
	if err := r.db.SelectContext(ctx, &counts, query, courseID); err != nil {
		return nil, fmt.Errorf("count enrollments by status: %w", err)
	}
	return counts, nil
}

func isActivePairViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == uniqueViolation && pqErr.Constraint == activePairConstraint
}

func sortClause(filter models.EnrollmentFilter) (string, string) {
	allowedSorts := map[string]string{
		"enrolledAt": "enrolled_at",
		"updatedAt":  "updated_at",
		"status":     "status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	return orderBy, order
}
