//go:build integration

package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/noah-isme/enrollment-service/internal/models"
)

type PostgresEnrollmentSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	db        *sqlx.DB
	repo      *EnrollmentRepository
}

func TestPostgresEnrollmentSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresEnrollmentSuite))
}

func (s *PostgresEnrollmentSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("enrollment_service"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.db, err = sqlx.Connect("postgres", dsn)
	s.Require().NoError(err)
	s.Require().NoError(EnsureSchema(ctx, s.db))
	s.repo = NewEnrollmentRepository(s.db)
}

func (s *PostgresEnrollmentSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = testcontainers.TerminateContainer(s.container)
	}
}

func (s *PostgresEnrollmentSuite) SetupTest() {
	_, err := s.db.Exec("TRUNCATE enrollments")
	s.Require().NoError(err)
}

func (s *PostgresEnrollmentSuite) TestConcurrentDuplicateEnrollsYieldOneRow() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	var created, duplicates atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.repo.Create(ctx, &models.Enrollment{CourseID: "CS101", UserID: "alice"})
			if err == nil {
				created.Add(1)
			} else if err == ErrDuplicateActive {
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())
	s.Equal(int32(goroutines-1), duplicates.Load())

	count, err := s.repo.CountActiveByCourse(ctx, "CS101")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *PostgresEnrollmentSuite) TestDropThenReenroll() {
	ctx := context.Background()
	first := &models.Enrollment{CourseID: "CS101", UserID: "bob"}
	s.Require().NoError(s.repo.Create(ctx, first))

	_, err := s.repo.UpdateStatus(ctx, first.ID, models.EnrollmentStatusActive, models.EnrollmentStatusDropped, time.Now().UTC())
	s.Require().NoError(err)

	_, err = s.repo.UpdateStatus(ctx, first.ID, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted, time.Now().UTC())
	s.ErrorIs(err, ErrStatusConflict)

	s.Require().NoError(s.repo.Create(ctx, &models.Enrollment{CourseID: "CS101", UserID: "bob"}))

	counts, err := s.repo.CountByStatus(ctx, "CS101")
	s.Require().NoError(err)
	s.Len(counts, 2)
}

func (s *PostgresEnrollmentSuite) TestCompletedRowsKeepTheirSeat() {
	ctx := context.Background()
	done := &models.Enrollment{CourseID: "PH100", UserID: "alice"}
	s.Require().NoError(s.repo.Create(ctx, done))
	s.Require().NoError(s.repo.Create(ctx, &models.Enrollment{CourseID: "PH100", UserID: "bob"}))
	gone := &models.Enrollment{CourseID: "MA201", UserID: "carol"}
	s.Require().NoError(s.repo.Create(ctx, gone))

	_, err := s.repo.UpdateStatus(ctx, done.ID, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted, time.Now().UTC())
	s.Require().NoError(err)
	_, err = s.repo.UpdateStatus(ctx, gone.ID, models.EnrollmentStatusActive, models.EnrollmentStatusDropped, time.Now().UTC())
	s.Require().NoError(err)

	seats, err := s.repo.CountSeatsByCourse(ctx, "PH100")
	s.Require().NoError(err)
	s.Equal(2, seats)

	ids, err := s.repo.ListCourseIDs(ctx)
	s.Require().NoError(err)
	s.Equal([]models.CourseID{"MA201", "PH100"}, ids)
}
