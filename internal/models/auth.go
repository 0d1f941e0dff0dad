package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the access token payload issued by the identity service.
// The subject carries the user id; userId is kept for older tokens.
type TokenClaims struct {
	UserID   string   `json:"userId,omitempty"`
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Principal resolves the caller described by the claims.
func (c *TokenClaims) Principal() *Principal {
	id := c.Subject
	if id == "" {
		id = c.UserID
	}
	return &Principal{UserID: id, Username: c.Username, Role: c.Role}
}
