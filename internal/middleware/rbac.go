package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-service/internal/models"
	appErrors "github.com/noah-isme/enrollment-service/pkg/errors"
	"github.com/noah-isme/enrollment-service/pkg/response"
)

// RequireRoles only lets callers with one of the given roles through.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		principal := CurrentPrincipal(c)
		if principal == nil {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := allowed[principal.Role]; !ok {
			response.Abort(c, appErrors.ErrForbidden)
			return
		}
		c.Next()
	}
}
