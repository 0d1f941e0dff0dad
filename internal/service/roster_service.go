package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-service/internal/client"
	"github.com/noah-isme/enrollment-service/internal/models"
	appErrors "github.com/noah-isme/enrollment-service/pkg/errors"
	"github.com/noah-isme/enrollment-service/pkg/export"
)

type rosterSource interface {
	ListByCourse(ctx context.Context, courseID models.CourseID) ([]models.Enrollment, error)
}

// RosterFile is a rendered course roster.
type RosterFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// RosterService renders course rosters as downloadable documents.
type RosterService struct {
	repo    rosterSource
	courses courseReader
	logger  *zap.Logger
	now     func() time.Time
}

// NewRosterService constructs a RosterService. courses is optional and only
// used to title the document.
func NewRosterService(repo rosterSource, courses courseReader, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{repo: repo, courses: courses, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Export renders every enrollment of a course in the requested format.
func (s *RosterService) Export(ctx context.Context, rawCourseID, format string) (*RosterFile, error) {
	courseID, err := parseCourse(rawCourseID)
	if err != nil {
		return nil, err
	}
	renderer, err := export.ForFormat(format)
	if err != nil {
		if errors.Is(err, export.ErrUnsupportedFormat) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
		}
		return nil, err
	}

	enrollments, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	table := export.Table{
		Title:   fmt.Sprintf("Course roster %s", courseID),
		Columns: []string{"Enrollment ID", "User ID", "Status", "Enrolled At", "Updated At"},
		Rows:    make([][]string, 0, len(enrollments)),
	}
	table.Subtitle = s.subtitle(ctx, courseID, len(enrollments))
	for _, e := range enrollments {
		table.Rows = append(table.Rows, []string{
			e.ID,
			e.UserID.String(),
			string(e.Status),
			e.EnrolledAt.UTC().Format(time.RFC3339),
			e.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	data, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	return &RosterFile{
		Filename:    fmt.Sprintf("roster_%s_%s.%s", sanitizeFilename(courseID.String()), s.now().Format("20060102_150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Data:        data,
	}, nil
}

// subtitle names the course when the catalog answers. A degraded catalog
// only costs the title.
func (s *RosterService) subtitle(ctx context.Context, courseID models.CourseID, rows int) string {
	parts := []string{fmt.Sprintf("%d enrollments", rows)}
	if s.courses != nil {
		res := s.courses.GetCourse(ctx, courseID)
		if res.Outcome == client.OutcomeOK && res.Value.Title != "" {
			parts = append([]string{res.Value.Title}, parts...)
		} else if res.Outcome == client.OutcomeUnavailable {
			s.logger.Debug("roster rendered without course title", zap.String("course_id", courseID.String()))
		}
	}
	parts = append(parts, "generated "+s.now().Format("2006-01-02 15:04 MST"))
	return strings.Join(parts, " | ")
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
