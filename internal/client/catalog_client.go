package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-service/internal/models"
	"github.com/noah-isme/enrollment-service/pkg/config"
)

// CatalogService is the breaker name used for the catalog client.
const CatalogService = "catalog"

type courseData struct {
	ID       remoteID `json:"id"`
	Code     string   `json:"code"`
	Title    string   `json:"title"`
	Capacity *int     `json:"capacity"`
	Enrolled *int     `json:"enrolled"`
}

// CatalogClient reads course capacity snapshots and writes enrolled counts.
type CatalogClient struct {
	*remote
	now func() time.Time
}

// NewCatalogClient builds a catalog client guarded by its own breaker.
func NewCatalogClient(cfg config.RemoteServiceConfig, opts Options) *CatalogClient {
	if cfg.PathTemplate == "" {
		cfg.PathTemplate = "/courses/%s"
	}
	return &CatalogClient{remote: newRemote(CatalogService, cfg, opts), now: time.Now}
}

// GetCourse fetches the current capacity snapshot of a course.
func (c *CatalogClient) GetCourse(ctx context.Context, id models.CourseID) Result[models.CourseSnapshot] {
	fallback := models.CourseSnapshot{CourseID: models.CourseID(strconv.Itoa(DegradedID))}

	resp, err := c.call(ctx, "get_course", http.MethodGet, c.resourceURL(id.String(), "", nil))
	if err != nil {
		return degraded(fallback, CatalogService, err.Error(), err)
	}

	switch {
	case resp.status == http.StatusNotFound:
		return notFound[models.CourseSnapshot]()
	case resp.status >= 300:
		err := fmt.Errorf("catalog returned status %d", resp.status)
		return degraded(fallback, CatalogService, err.Error(), err)
	case resp.body.Code == http.StatusNotFound:
		return notFound[models.CourseSnapshot]()
	case resp.body.Code >= http.StatusInternalServerError:
		err := fmt.Errorf("catalog reported code %d: %s", resp.body.Code, resp.body.Message)
		return degraded(fallback, CatalogService, err.Error(), err)
	}

	if len(resp.body.Data) == 0 || string(resp.body.Data) == "null" {
		return notFound[models.CourseSnapshot]()
	}
	var data courseData
	if err := json.Unmarshal(resp.body.Data, &data); err != nil {
		err = fmt.Errorf("decode course: %w", err)
		return degraded(fallback, CatalogService, err.Error(), err)
	}
	if data.ID == "" {
		return notFound[models.CourseSnapshot]()
	}
	if data.ID.degraded() {
		err := fmt.Errorf("catalog returned a fallback payload")
		return degraded(fallback, CatalogService, err.Error(), err)
	}
	if data.Capacity == nil || data.Enrolled == nil || *data.Capacity < 0 || *data.Enrolled < 0 {
		err := fmt.Errorf("course %s has no usable capacity counter", id)
		return degraded(fallback, CatalogService, err.Error(), err)
	}

	return found(models.CourseSnapshot{
		CourseID:  id,
		Code:      data.Code,
		Title:     data.Title,
		Capacity:  *data.Capacity,
		Enrolled:  *data.Enrolled,
		FetchedAt: c.now().UTC(),
	})
}

// SetEnrolled overwrites the catalog's enrolled counter with an absolute value.
func (c *CatalogClient) SetEnrolled(ctx context.Context, id models.CourseID, count int) WriteResult {
	query := url.Values{"count": []string{strconv.Itoa(count)}}
	resp, err := c.call(ctx, "set_enrolled", http.MethodPut, c.resourceURL(id.String(), "/enrolled", query))
	if err != nil {
		c.logger.Warn("capacity write-back unavailable",
			zap.String("course_id", id.String()),
			zap.Int("count", count),
			zap.Error(err),
		)
		return WriteResult{Outcome: WriteUnavailable, Err: err}
	}

	switch {
	case resp.status == http.StatusNotFound:
		return WriteResult{Outcome: WriteNotFound, StatusCode: resp.status, Err: fmt.Errorf("course %s not found", id)}
	case resp.status >= 400:
		return WriteResult{Outcome: WriteRejected, StatusCode: resp.status, Err: fmt.Errorf("catalog rejected count %d: %s", count, resp.body.Message)}
	case resp.body.Code >= http.StatusInternalServerError:
		return WriteResult{Outcome: WriteUnavailable, StatusCode: resp.status, Err: fmt.Errorf("catalog reported code %d", resp.body.Code)}
	}
	return WriteResult{Outcome: WriteOK, StatusCode: resp.status}
}
