package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/noah-isme/enrollment-service/internal/models"
	"github.com/noah-isme/enrollment-service/pkg/config"
)

// IdentityService is the breaker name used for the identity client.
const IdentityService = "identity"

type userData struct {
	ID       remoteID `json:"id"`
	UserID   string   `json:"userId"`
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Role     string   `json:"role"`
}

// IdentityClient checks that users exist.
type IdentityClient struct {
	*remote
}

// NewIdentityClient builds an identity client guarded by its own breaker.
func NewIdentityClient(cfg config.RemoteServiceConfig, opts Options) *IdentityClient {
	if cfg.PathTemplate == "" {
		cfg.PathTemplate = "/users/%s"
	}
	return &IdentityClient{remote: newRemote(IdentityService, cfg, opts)}
}

// GetUser fetches a user profile.
func (c *IdentityClient) GetUser(ctx context.Context, id models.UserID) Result[models.UserProfile] {
	fallback := models.UserProfile{ID: models.UserID(strconv.Itoa(DegradedID)), Username: "unavailable"}

	resp, err := c.call(ctx, "get_user", http.MethodGet, c.resourceURL(id.String(), "", nil))
	if err != nil {
		return degraded(fallback, IdentityService, err.Error(), err)
	}

	switch {
	case resp.status == http.StatusNotFound, resp.body.Code == http.StatusNotFound:
		return notFound[models.UserProfile]()
	case resp.status >= 300:
		err := fmt.Errorf("identity returned status %d", resp.status)
		return degraded(fallback, IdentityService, err.Error(), err)
	case resp.body.Code >= http.StatusInternalServerError:
		err := fmt.Errorf("identity reported code %d: %s", resp.body.Code, resp.body.Message)
		return degraded(fallback, IdentityService, err.Error(), err)
	}

	if len(resp.body.Data) == 0 || string(resp.body.Data) == "null" {
		return notFound[models.UserProfile]()
	}
	var data userData
	if err := json.Unmarshal(resp.body.Data, &data); err != nil {
		err = fmt.Errorf("decode user: %w", err)
		return degraded(fallback, IdentityService, err.Error(), err)
	}
	if data.ID == "" && data.UserID == "" {
		return notFound[models.UserProfile]()
	}
	if data.ID.degraded() {
		err := fmt.Errorf("identity returned a fallback payload")
		return degraded(fallback, IdentityService, err.Error(), err)
	}

	return found(models.UserProfile{
		ID:       id,
		Username: data.Username,
		Name:     data.Name,
		Role:     models.UserRole(data.Role),
	})
}
