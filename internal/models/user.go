package models

// UserRole represents the roles propagated by the gateway.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleInstructor UserRole = "INSTRUCTOR"
	RoleStudent UserRole = "STUDENT"
)

// UserProfile is the identity service's view of a user.
type UserProfile struct {
	ID       UserID   `json:"id"`
	Username string   `json:"username"`
	Name     string   `json:"name,omitempty"`
	Role     UserRole `json:"role,omitempty"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   string
	Username string
	Role     UserRole
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
}
