package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-service/internal/models"
	"github.com/noah-isme/enrollment-service/internal/repository"
	appErrors "github.com/noah-isme/enrollment-service/pkg/errors"
)

func seededRoster(t *testing.T) *repository.MemoryEnrollmentRepository {
	t.Helper()
	repo := repository.NewMemoryEnrollmentRepository()
	at := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	for i, user := range []models.UserID{"alice", "bob"} {
		require.NoError(t, repo.Create(context.Background(), &models.Enrollment{
			ID:         []string{"e-1", "e-2"}[i],
			CourseID:   "CS101",
			UserID:     user,
			Status:     models.EnrollmentStatusActive,
			EnrolledAt: at.Add(time.Duration(i) * time.Hour),
		}))
	}
	return repo
}

func TestRosterExportCSV(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("CS101", 30, 2)
	svc := NewRosterService(seededRoster(t), catalog, nil)
	svc.now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }

	file, err := svc.Export(context.Background(), "CS101", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "roster_CS101_20261001_120000.csv", file.Filename)

	records, err := csv.NewReader(bytes.NewReader(file.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "User ID", records[0][1])

	users := []string{records[1][1], records[2][1]}
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)
}

func TestRosterExportPDFWithDegradedCatalog(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.unavailable = true
	svc := NewRosterService(seededRoster(t), catalog, nil)

	file, err := svc.Export(context.Background(), "CS101", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Data, []byte("%PDF")))
}

func TestRosterExportRejectsUnknownFormat(t *testing.T) {
	svc := NewRosterService(seededRoster(t), nil, nil)

	_, err := svc.Export(context.Background(), "CS101", "xlsx")
	assertCode(t, err, appErrors.ErrValidation)

	_, err = svc.Export(context.Background(), " ", "csv")
	assertCode(t, err, appErrors.ErrValidation)
}
