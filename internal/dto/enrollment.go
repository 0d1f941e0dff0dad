package dto

import "github.com/noah-isme/enrollment-service/internal/models"

// EnrollmentListQuery mirrors the filters accepted by GET /enrollments.
type EnrollmentListQuery struct {
	CourseID string `form:"courseId"`
	UserID   string `form:"userId"`
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
	Sort     string `form:"sort"`
	Order    string `form:"order"`
}

// Filter converts the query into a repository filter. An unknown status is
// reported to the caller rather than silently ignored.
func (q EnrollmentListQuery) Filter() (models.EnrollmentFilter, error) {
	filter := models.EnrollmentFilter{
		CourseID:  models.CourseID(q.CourseID),
		UserID:    models.UserID(q.UserID),
		Page:      q.Page,
		PageSize:  q.PageSize,
		SortBy:    q.Sort,
		SortOrder: q.Order,
	}
	if q.Status != "" {
		status, err := models.ParseEnrollmentStatus(q.Status)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	return filter, nil
}

// DropQuery identifies the enrollment removed by DELETE /enrollments/drop.
type DropQuery struct {
	UserID   string `form:"userId" binding:"required"`
	CourseID string `form:"courseId" binding:"required"`
}
