package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-service/internal/dto"
	"github.com/noah-isme/enrollment-service/internal/service"
	"github.com/noah-isme/enrollment-service/pkg/circuit"
	appErrors "github.com/noah-isme/enrollment-service/pkg/errors"
	"github.com/noah-isme/enrollment-service/pkg/response"
)

// BreakerStatus reports the circuit state of a remote dependency.
type BreakerStatus interface {
	Status() circuit.Snapshot
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	rosters     *service.RosterService
	breakers    []BreakerStatus
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, rosters *service.RosterService, breakers ...BreakerStatus) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, rosters: rosters, breakers: breakers}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param userId query string false "Filter by user"
// @Param status query string false "Filter by status (ACTIVE, DROPPED, COMPLETED)"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size (max 100)"
// @Param sort query string false "enrolledAt, updatedAt or status"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var query dto.EnrollmentListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	filter, err := query.Filter()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment status"))
		return
	}
	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, "", enrollments, pagination)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", enrollment)
}

// Create godoc
// @Summary Enroll a user in a course
// @Description The catalog's enrolled counter is updated asynchronously; a 201 does not mean it has been written.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "Enrollment created", enrollment)
}

// Drop godoc
// @Summary Drop an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /enrollments/{id}/drop [post]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	enrollment, err := h.enrollments.Drop(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Enrollment dropped", enrollment)
}

// DropByUserAndCourse godoc
// @Summary Drop the active enrollment of a user in a course
// @Tags Enrollments
// @Produce json
// @Param userId query string true "User ID"
// @Param courseId query string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /enrollments/drop [delete]
func (h *EnrollmentHandler) DropByUserAndCourse(c *gin.Context) {
	var query dto.DropQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "userId and courseId are required"))
		return
	}
	enrollment, err := h.enrollments.DropByUserAndCourse(c.Request.Context(), query.UserID, query.CourseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Enrollment dropped", enrollment)
}

// Delete godoc
// @Summary Unenroll
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	if err := h.enrollments.Unenroll(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Enrollment removed", nil)
}

// Complete godoc
// @Summary Complete an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/complete [put]
func (h *EnrollmentHandler) Complete(c *gin.Context) {
	enrollment, err := h.enrollments.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Enrollment completed", enrollment)
}

// ListByCourse godoc
// @Summary List enrollments of a course
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/course/{courseId} [get]
func (h *EnrollmentHandler) ListByCourse(c *gin.Context) {
	enrollments, err := h.enrollments.ListByCourse(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", enrollments)
}

// ListByUser godoc
// @Summary List enrollments of a user
// @Tags Enrollments
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/user/{userId} [get]
func (h *EnrollmentHandler) ListByUser(c *gin.Context) {
	enrollments, err := h.enrollments.ListByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", enrollments)
}

// ListByStatus godoc
// @Summary List enrollments by status
// @Tags Enrollments
// @Produce json
// @Param status path string true "ACTIVE, DROPPED or COMPLETED"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollments/status/{status} [get]
func (h *EnrollmentHandler) ListByStatus(c *gin.Context) {
	enrollments, err := h.enrollments.ListByStatus(c.Request.Context(), c.Param("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", enrollments)
}

// Stats godoc
// @Summary Enrollment counts of a course by status
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/stats/course/{courseId} [get]
func (h *EnrollmentHandler) Stats(c *gin.Context) {
	stats, err := h.enrollments.Stats(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", stats)
}

// CountActiveByCourse godoc
// @Summary Count active enrollments of a course
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/count/active/course/{courseId} [get]
func (h *EnrollmentHandler) CountActiveByCourse(c *gin.Context) {
	count, err := h.enrollments.CountActiveByCourse(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", count)
}

// CountActiveByUser godoc
// @Summary Count active enrollments of a user
// @Tags Enrollments
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/count/active/user/{userId} [get]
func (h *EnrollmentHandler) CountActiveByUser(c *gin.Context) {
	count, err := h.enrollments.CountActiveByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", count)
}

// Roster godoc
// @Summary Download a course roster
// @Tags Enrollments
// @Produce text/csv
// @Produce application/pdf
// @Param courseId path string true "Course ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /enrollments/course/{courseId}/roster [get]
func (h *EnrollmentHandler) Roster(c *gin.Context) {
	file, err := h.rosters.Export(c.Request.Context(), c.Param("courseId"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// Cancel godoc
// @Summary Delete an enrollment in any status (admin)
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/cancel/{id} [delete]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	if err := h.enrollments.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Enrollment cancelled", nil)
}

// Resync godoc
// @Summary Push the local active count of a course to the catalog (admin)
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 202 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /enrollments/sync/course/{courseId} [post]
func (h *EnrollmentHandler) Resync(c *gin.Context) {
	result, err := h.enrollments.Resync(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, "Capacity sync scheduled", result)
}

// CircuitBreakerStatus godoc
// @Summary Circuit breaker state of the remote dependencies
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments/circuit-breaker/status [get]
func (h *EnrollmentHandler) CircuitBreakerStatus(c *gin.Context) {
	statuses := make([]circuit.Snapshot, 0, len(h.breakers))
	for _, b := range h.breakers {
		statuses = append(statuses, b.Status())
	}
	response.OK(c, "", statuses)
}
