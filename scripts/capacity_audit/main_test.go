package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-service/internal/client"
	"github.com/noah-isme/enrollment-service/internal/models"
	"github.com/noah-isme/enrollment-service/internal/repository"
)

type stubCatalog struct {
	enrolled map[models.CourseID]int
	down     bool
	writes   map[models.CourseID]int
}

func (s *stubCatalog) GetCourse(_ context.Context, id models.CourseID) client.Result[models.CourseSnapshot] {
	if s.down {
		return client.Result[models.CourseSnapshot]{
			Outcome:  client.OutcomeUnavailable,
			Degraded: &client.Degraded{Service: client.CatalogService, Reason: "connection refused"},
			Err:      errors.New("connection refused"),
		}
	}
	n, ok := s.enrolled[id]
	if !ok {
		return client.Result[models.CourseSnapshot]{Outcome: client.OutcomeNotFound}
	}
	return client.Result[models.CourseSnapshot]{
		Outcome: client.OutcomeOK,
		Value:   models.CourseSnapshot{CourseID: id, Capacity: 30, Enrolled: n},
	}
}

func (s *stubCatalog) SetEnrolled(_ context.Context, id models.CourseID, count int) client.WriteResult {
	if s.writes == nil {
		s.writes = make(map[models.CourseID]int)
	}
	s.writes[id] = count
	return client.WriteResult{Outcome: client.WriteOK}
}

func seededStore(t *testing.T) *repository.MemoryEnrollmentRepository {
	t.Helper()
	store := repository.NewMemoryEnrollmentRepository()
	rows := []struct {
		id     string
		course models.CourseID
		user   models.UserID
		status models.EnrollmentStatus
	}{
		{"e-1", "CS101", "alice", models.EnrollmentStatusActive},
		{"e-2", "CS101", "bob", models.EnrollmentStatusActive},
		{"e-3", "MA201", "alice", models.EnrollmentStatusActive},
		{"e-4", "MA201", "bob", models.EnrollmentStatusCompleted},
		{"e-5", "PH100", "carol", models.EnrollmentStatusDropped},
	}
	for _, r := range rows {
		require.NoError(t, store.Create(context.Background(), &models.Enrollment{
			ID: r.id, CourseID: r.course, UserID: r.user, Status: r.status,
		}))
	}
	return store
}

func TestCourseIDsFromEveryEnrollmentRecord(t *testing.T) {
	ids, err := courseIDs(context.Background(), seededStore(t), "")
	require.NoError(t, err)
	assert.Equal(t, []models.CourseID{"CS101", "MA201", "PH100"}, ids)

	ids, err = courseIDs(context.Background(), seededStore(t), "PH100, CS101")
	require.NoError(t, err)
	assert.Equal(t, []models.CourseID{"PH100", "CS101"}, ids)
}

func TestAuditReportsDriftWithoutFixing(t *testing.T) {
	remote := &stubCatalog{enrolled: map[models.CourseID]int{"CS101": 5, "MA201": 2}}

	findings := audit(context.Background(), seededStore(t), remote, []models.CourseID{"CS101", "MA201", "PH100"}, false)
	require.Len(t, findings, 3)

	assert.True(t, findings[0].drift())
	assert.Equal(t, 2, findings[0].Local)
	assert.Equal(t, 5, findings[0].Catalog)
	assert.False(t, findings[1].drift())
	assert.Error(t, findings[2].Err)
	assert.Empty(t, remote.writes)
}

func TestAuditFixWritesLocalCount(t *testing.T) {
	remote := &stubCatalog{enrolled: map[models.CourseID]int{"CS101": 5, "MA201": 1}}

	findings := audit(context.Background(), seededStore(t), remote, []models.CourseID{"CS101", "MA201"}, true)

	assert.True(t, findings[0].Fixed)
	assert.True(t, findings[1].Fixed)
	assert.Equal(t, 2, findings[1].Local, "completed rows keep their seat")
	assert.Equal(t, map[models.CourseID]int{"CS101": 2, "MA201": 2}, remote.writes)
}

func TestAuditFixesCourseWithOnlyDroppedRows(t *testing.T) {
	store := seededStore(t)
	remote := &stubCatalog{enrolled: map[models.CourseID]int{"CS101": 2, "MA201": 2, "PH100": 1}}

	ids, err := courseIDs(context.Background(), store, "")
	require.NoError(t, err)
	findings := audit(context.Background(), store, remote, ids, true)

	require.Len(t, findings, 3)
	assert.Equal(t, models.CourseID("PH100"), findings[2].CourseID)
	assert.Equal(t, 0, findings[2].Local)
	assert.True(t, findings[2].Fixed)
	assert.Equal(t, map[models.CourseID]int{"PH100": 0}, remote.writes)
}

func TestAuditCatalogDown(t *testing.T) {
	remote := &stubCatalog{down: true}

	findings := audit(context.Background(), seededStore(t), remote, []models.CourseID{"CS101"}, true)

	require.Len(t, findings, 1)
	assert.ErrorContains(t, findings[0].Err, "catalog unavailable")
	assert.Empty(t, remote.writes)
}
