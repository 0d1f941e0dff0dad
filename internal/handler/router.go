package handler

import (
	"github.com/gin-gonic/gin"
)

// RegisterEnrollmentRoutes mounts the enrollment API on group. admin guards
// the operations reserved to administrators.
func RegisterEnrollmentRoutes(group *gin.RouterGroup, h *EnrollmentHandler, admin gin.HandlerFunc) {
	enrollments := group.Group("/enrollments")
	enrollments.GET("", h.List)
	enrollments.POST("", h.Create)
	enrollments.GET("/:id", h.Get)
	enrollments.DELETE("/:id", h.Delete)
	enrollments.POST("/:id/drop", h.Drop)
	enrollments.PUT("/:id/complete", h.Complete)
	enrollments.DELETE("/drop", h.DropByUserAndCourse)

	enrollments.GET("/course/:courseId", h.ListByCourse)
	enrollments.GET("/course/:courseId/roster", h.Roster)
	enrollments.GET("/user/:userId", h.ListByUser)
	enrollments.GET("/status/:status", h.ListByStatus)
	enrollments.GET("/stats/course/:courseId", h.Stats)
	enrollments.GET("/count/active/course/:courseId", h.CountActiveByCourse)
	enrollments.GET("/count/active/user/:userId", h.CountActiveByUser)
	enrollments.GET("/circuit-breaker/status", h.CircuitBreakerStatus)

	enrollments.DELETE("/cancel/:id", admin, h.Cancel)
	enrollments.POST("/sync/course/:courseId", admin, h.Resync)
}

// RegisterOpsRoutes mounts health, readiness and metrics at the root.
func RegisterOpsRoutes(r gin.IRoutes, h *MetricsHandler) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
}
