package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/enrollment-service/internal/models"
	"github.com/noah-isme/enrollment-service/pkg/config"
	appErrors "github.com/noah-isme/enrollment-service/pkg/errors"
	"github.com/noah-isme/enrollment-service/pkg/logger"
	"github.com/noah-isme/enrollment-service/pkg/response"
)

// ContextUserKey is the gin context key storing the authenticated *models.Principal.
const ContextUserKey = "currentUser"

// Headers injected by the gateway after it has validated the caller's token.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUsername = "X-Username"
	HeaderUserRole = "X-User-Role"
)

// Authenticate resolves the caller according to the configured mode.
func Authenticate(cfg config.AuthConfig) gin.HandlerFunc {
	switch cfg.Mode {
	case config.AuthModeJWT:
		return bearer([]byte(cfg.JWTSecret))
	case config.AuthModeNone:
		return func(c *gin.Context) {
			setPrincipal(c, &models.Principal{UserID: "anonymous", Username: "anonymous", Role: models.RoleAdmin})
			c.Next()
		}
	default:
		return gateway()
	}
}

// CurrentPrincipal returns the caller attached by Authenticate.
func CurrentPrincipal(c *gin.Context) *models.Principal {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	principal, _ := value.(*models.Principal)
	return principal
}

func gateway() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing gateway identity"))
			return
		}
		setPrincipal(c, &models.Principal{
			UserID:   userID,
			Username: c.GetHeader(HeaderUsername),
			Role:     models.UserRole(strings.ToUpper(c.GetHeader(HeaderUserRole))),
		})
		c.Next()
	}
}

func bearer(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			return
		}

		claims, err := parseToken(parts[1], secret)
		if err != nil {
			response.Abort(c, err)
			return
		}
		setPrincipal(c, claims.Principal())
		c.Next()
	}
}

func parseToken(raw string, secret []byte) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &models.TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok || !token.Valid || claims.Principal().UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func setPrincipal(c *gin.Context, principal *models.Principal) {
	c.Set(ContextUserKey, principal)
	c.Set(logger.PrincipalKey, principal.UserID)
}
