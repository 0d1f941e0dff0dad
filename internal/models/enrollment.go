package models

import (
	"fmt"
	"strings"
	"time"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. DROPPED and COMPLETED are terminal.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusDropped   EnrollmentStatus = "DROPPED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// ParseEnrollmentStatus accepts any casing of a known status.
func ParseEnrollmentStatus(raw string) (EnrollmentStatus, error) {
	status := EnrollmentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case EnrollmentStatusActive, EnrollmentStatusDropped, EnrollmentStatusCompleted:
		return status, nil
	default:
		return "", fmt.Errorf("unknown enrollment status %q", raw)
	}
}

// Terminal reports whether no further transitions are allowed.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusDropped || s == EnrollmentStatusCompleted
}

// HoldsSeat reports whether the enrollment occupies a seat in the course.
// Completing a course keeps the seat; only dropping or removal frees it.
func (s EnrollmentStatus) HoldsSeat() bool {
	return s == EnrollmentStatusActive || s == EnrollmentStatusCompleted
}

// Page size bounds for enrollment listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalisePage applies the listing defaults: page starts at 1, a missing
// size falls back to DefaultPageSize and larger sizes are capped at MaxPageSize.
func NormalisePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}

// Enrollment is a user's registration in a course.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	CourseID   CourseID         `db:"course_id" json:"courseId"`
	UserID     UserID           `db:"user_id" json:"userId"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolledAt"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updatedAt"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	CourseID  CourseID
	UserID    UserID
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// EnrollmentStats aggregates enrollment counts for one course.
type EnrollmentStats struct {
	CourseID  CourseID `json:"courseId"`
	Total     int      `json:"total"`
	Active    int      `json:"active"`
	Completed int      `json:"completed"`
	Dropped   int      `json:"dropped"`
}

// StatusCount is a grouped row used to build EnrollmentStats.
type StatusCount struct {
	Status EnrollmentStatus `db:"status"`
	Count  int              `db:"count"`
}
