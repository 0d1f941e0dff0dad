package repository

import (
	"context"
	"time"

	"github.com/noah-isme/enrollment-service/internal/models"
)

// EnrollmentStore is implemented by the Postgres and in-memory repositories.
type EnrollmentStore interface {
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
	ListCourseIDs(ctx context.Context) ([]models.CourseID, error)
	CountActiveByUser(ctx context.Context, userID models.UserID) (int, error)
	CountByStatus(ctx context.Context, courseID models.CourseID) ([]models.StatusCount, error)
}

var (
	_ EnrollmentStore = (*EnrollmentRepository)(nil)
	_ EnrollmentStore = (*MemoryEnrollmentRepository)(nil)
)
