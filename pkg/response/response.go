package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-service/internal/models"
	appErrors "github.com/noah-isme/enrollment-service/pkg/errors"
)

// Envelope represents the common response contract shared with the other
// campus services: an HTTP-like code, a human message and the payload.
type Envelope struct {
	Code       int                `json:"code"`
	Message    string             `json:"message"`
	Data       interface{}        `json:"data"`
	Error      string             `json:"error,omitempty"`
	Pagination *models.Pagination `json:"pagination,omitempty"`
}

// JSON sends a success response with optional pagination metadata.
func JSON(c *gin.Context, status int, message string, data interface{}, pagination *models.Pagination) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	if message == "" {
		message = http.StatusText(status)
	}
	c.JSON(status, Envelope{Code: status, Message: message, Data: data, Pagination: pagination})
}

// OK responds with HTTP 200.
func OK(c *gin.Context, message string, data interface{}) {
	JSON(c, http.StatusOK, message, data, nil)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, message string, data interface{}) {
	JSON(c, http.StatusCreated, message, data, nil)
}

// Accepted responds with HTTP 202 Accepted.
func Accepted(c *gin.Context, message string, data interface{}) {
	JSON(c, http.StatusAccepted, message, data, nil)
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, Envelope{Code: appErr.Status, Message: appErr.Message, Error: appErr.Code})
}

// Abort writes the error envelope and stops the middleware chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
