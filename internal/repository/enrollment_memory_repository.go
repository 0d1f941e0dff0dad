package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/enrollment-service/internal/models"
)

type activeKey struct {
	course models.CourseID
	user   models.UserID
}

// MemoryEnrollmentRepository keeps enrollments in process memory. It honours
// the same uniqueness and conditional-transition contract as the Postgres
// repository and is used for local development and tests.
type MemoryEnrollmentRepository struct {
	mu     sync.RWMutex
	rows   map[string]models.Enrollment
	active map[activeKey]string
}

// NewMemoryEnrollmentRepository builds an empty store.
func NewMemoryEnrollmentRepository() *MemoryEnrollmentRepository {
	return &MemoryEnrollmentRepository{
		rows:   make(map[string]models.Enrollment),
		active: make(map[activeKey]string),
	}
}

// List returns enrollments filtered by the provided criteria.
func (r *MemoryEnrollmentRepository) List(_ context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	matched := r.filter(func(e models.Enrollment) bool {
		if filter.CourseID != "" && e.CourseID != filter.CourseID {
			return false
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			return false
		}
		return filter.Status == "" || e.Status == filter.Status
	})

	orderBy, order := sortClause(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		if order == "DESC" {
			return memoryLess(matched[j], matched[i], orderBy)
		}
		return memoryLess(matched[i], matched[j], orderBy)
	})

	page, size := models.NormalisePage(filter.Page, filter.PageSize)
	total := len(matched)
	start := (page - 1) * size
	if start >= total {
		return []models.Enrollment{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// ListByCourse returns every enrollment of a course, oldest first.
func (r *MemoryEnrollmentRepository) ListByCourse(_ context.Context, courseID models.CourseID) ([]models.Enrollment, error) {
	return r.filter(func(e models.Enrollment) bool { return e.CourseID == courseID }), nil
}

// ListByUser returns every enrollment of a user, oldest first.
func (r *MemoryEnrollmentRepository) ListByUser(_ context.Context, userID models.UserID) ([]models.Enrollment, error) {
	return r.filter(func(e models.Enrollment) bool { return e.UserID == userID }), nil
}

// ListByStatus returns every enrollment in the given status.
func (r *MemoryEnrollmentRepository) ListByStatus(_ context.Context, status models.EnrollmentStatus) ([]models.Enrollment, error) {
	return r.filter(func(e models.Enrollment) bool { return e.Status == status }), nil
}

// FindByID returns an enrollment by its ID.
func (r *MemoryEnrollmentRepository) FindByID(_ context.Context, id string) (*models.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

// FindActive returns the ACTIVE enrollment for a pair.
func (r *MemoryEnrollmentRepository) FindActive(_ context.Context, courseID models.CourseID, userID models.UserID) (*models.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[activeKey{courseID, userID}]
	if !ok {
		return nil, sql.ErrNoRows
	}
	e := r.rows[id]
	return &e, nil
}

// ExistsActive checks if an active enrollment exists for the pair.
func (r *MemoryEnrollmentRepository) ExistsActive(_ context.Context, courseID models.CourseID, userID models.UserID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[activeKey{courseID, userID}]
	return ok, nil
}

// Create persists a new enrollment record.
func (r *MemoryEnrollmentRepository) Create(_ context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.UpdatedAt.IsZero() {
		enrollment.UpdatedAt = enrollment.EnrolledAt
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := activeKey{enrollment.CourseID, enrollment.UserID}
	if enrollment.Status == models.EnrollmentStatusActive {
		if _, exists := r.active[key]; exists {
			return ErrDuplicateActive
		}
		r.active[key] = enrollment.ID
	}
	r.rows[enrollment.ID] = *enrollment
	return nil
}

// UpdateStatus moves an enrollment from one status to another only if it is
// still in the expected status.
func (r *MemoryEnrollmentRepository) UpdateStatus(_ context.Context, id string, from, to models.EnrollmentStatus, at time.Time) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok || e.Status != from {
		return nil, ErrStatusConflict
	}
	key := activeKey{e.CourseID, e.UserID}
	if to == models.EnrollmentStatusActive {
		if _, exists := r.active[key]; exists {
			return nil, ErrDuplicateActive
		}
		r.active[key] = id
	} else if from == models.EnrollmentStatusActive {
		delete(r.active, key)
	}
	e.Status = to
	e.UpdatedAt = at
	r.rows[id] = e
	return &e, nil
}

// DeleteActive removes an enrollment only while it is ACTIVE.
func (r *MemoryEnrollmentRepository) DeleteActive(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok || e.Status != models.EnrollmentStatusActive {
		return ErrStatusConflict
	}
	delete(r.active, activeKey{e.CourseID, e.UserID})
	delete(r.rows, id)
	return nil
}

// Delete removes an enrollment in any status.
func (r *MemoryEnrollmentRepository) Delete(_ context.Context, id string) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if e.Status == models.EnrollmentStatusActive {
		delete(r.active, activeKey{e.CourseID, e.UserID})
	}
	delete(r.rows, id)
	return &e, nil
}

// CountActiveByCourse counts ACTIVE rows for a course.
func (r *MemoryEnrollmentRepository) CountActiveByCourse(_ context.Context, courseID models.CourseID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for key := range r.active {
		if key.course == courseID {
			count++
		}
	}
	return count, nil
}

// CountSeatsByCourse counts ACTIVE and COMPLETED rows for a course.
func (r *MemoryEnrollmentRepository) CountSeatsByCourse(_ context.Context, courseID models.CourseID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, e := range r.rows {
		if e.CourseID == courseID && e.Status.HoldsSeat() {
			count++
		}
	}
	return count, nil
}

// ListCourseIDs returns every course with at least one row, sorted.
func (r *MemoryEnrollmentRepository) ListCourseIDs(_ context.Context) ([]models.CourseID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[models.CourseID]struct{})
	ids := []models.CourseID{}
	for _, e := range r.rows {
		if _, ok := seen[e.CourseID]; ok {
			continue
		}
		seen[e.CourseID] = struct{}{}
		ids = append(ids, e.CourseID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// CountActiveByUser counts ACTIVE rows for a user.
func (r *MemoryEnrollmentRepository) CountActiveByUser(_ context.Context, userID models.UserID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for key := range r.active {
		if key.user == userID {
			count++
		}
	}
	return count, nil
}

// CountByStatus groups a course's enrollments by status.
func (r *MemoryEnrollmentRepository) CountByStatus(_ context.Context, courseID models.CourseID) ([]models.StatusCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[models.EnrollmentStatus]int{}
	for _, e := range r.rows {
		if e.CourseID == courseID {
			counts[e.Status]++
		}
	}
	result := make([]models.StatusCount, 0, len(counts))
	for status, count := range counts {
		result = append(result, models.StatusCount{Status: status, Count: count})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Status < result[j].Status })
	return result, nil
}

func (r *MemoryEnrollmentRepository) filter(keep func(models.Enrollment) bool) []models.Enrollment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := []models.Enrollment{}
	for _, e := range r.rows {
		if keep(e) {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return memoryLess(result[i], result[j], "enrolled_at") })
	return result
}

func memoryLess(a, b models.Enrollment, orderBy string) bool {
	switch orderBy {
	case "updated_at":
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
	case "status":
		if a.Status != b.Status {
			return a.Status < b.Status
		}
	default:
		if !a.EnrolledAt.Equal(b.EnrolledAt) {
			return a.EnrolledAt.Before(b.EnrolledAt)
		}
	}
	return a.ID < b.ID
}
