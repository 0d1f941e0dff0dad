package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-service/internal/client"
	"github.com/noah-isme/enrollment-service/internal/models"
	"github.com/noah-isme/enrollment-service/internal/repository"
	"github.com/noah-isme/enrollment-service/pkg/config"
	"github.com/noah-isme/enrollment-service/pkg/database"
	"github.com/noah-isme/enrollment-service/pkg/logger"
)

// seatCounter is the slice of the enrollment store the audit reads. Seats are
// ACTIVE plus COMPLETED rows, the count the catalog is expected to hold.
type seatCounter interface {
	CountSeatsByCourse(ctx context.Context, courseID models.CourseID) (int, error)
	ListCourseIDs(ctx context.Context) ([]models.CourseID, error)
}

type catalog interface {
	GetCourse(ctx context.Context, id models.CourseID) client.Result[models.CourseSnapshot]
	SetEnrolled(ctx context.Context, id models.CourseID, count int) client.WriteResult
}

type finding struct {
	CourseID models.CourseID
	Local    int
	Catalog  int
	Capacity int
	Err      error
	Fixed    bool
}

func (f finding) drift() bool {
	return f.Err == nil && f.Local != f.Catalog
}

func main() {
	var (
		courses string
		fix     bool
		timeout time.Duration
	)
	flag.StringVar(&courses, "courses", "", "Comma separated course IDs; defaults to every course with an enrollment record")
	flag.BoolVar(&fix, "fix", false, "Overwrite drifting catalog counters with the local seat count")
	flag.DurationVar(&timeout, "timeout", time.Minute, "Overall audit timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	store := repository.NewEnrollmentRepository(db)
	remote := client.NewCatalogClient(cfg.Catalog, client.Options{Logger: logr})

	ids, err := courseIDs(ctx, store, courses)
	if err != nil {
		logr.Fatal("failed to resolve courses", zap.Error(err))
	}

	findings := audit(ctx, store, remote, ids, fix)
	printReport(findings)

	var unresolved int
	for _, f := range findings {
		if f.Err != nil || (f.drift() && !f.Fixed) {
			unresolved++
		}
	}
	fmt.Printf("Courses: %d, unresolved: %d\n", len(findings), unresolved)
	if unresolved > 0 {
		os.Exit(1)
	}
}

func courseIDs(ctx context.Context, store seatCounter, raw string) ([]models.CourseID, error) {
	if strings.TrimSpace(raw) != "" {
		var ids []models.CourseID
		for _, part := range strings.Split(raw, ",") {
			id, err := models.ParseCourseID(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	// Courses whose rows were all dropped still need auditing: the catalog
	// may hold a stale count for them.
	return store.ListCourseIDs(ctx)
}

func audit(ctx context.Context, store seatCounter, remote catalog, ids []models.CourseID, fix bool) []finding {
	findings := make([]finding, 0, len(ids))
	for _, id := range ids {
		f := finding{CourseID: id}
		local, err := store.CountSeatsByCourse(ctx, id)
		if err != nil {
			f.Err = fmt.Errorf("count local: %w", err)
			findings = append(findings, f)
			continue
		}
		f.Local = local

		snap := remote.GetCourse(ctx, id)
		switch snap.Outcome {
		case client.OutcomeNotFound:
			f.Err = errors.New("course not in catalog")
		case client.OutcomeUnavailable:
			f.Err = fmt.Errorf("catalog unavailable: %s", snap.Degraded.Reason)
		default:
			f.Catalog = snap.Value.Enrolled
			f.Capacity = snap.Value.Capacity
		}

		if fix && f.drift() {
			res := remote.SetEnrolled(ctx, id, f.Local)
			if res.Outcome == client.WriteOK {
				f.Fixed = true
			} else {
				f.Err = fmt.Errorf("write-back %s: %v", res.Outcome, res.Err)
			}
		}
		findings = append(findings, f)
	}
	return findings
}

func printReport(findings []finding) {
	fmt.Println("Capacity Audit Report")
	fmt.Println("=====================")
	for _, f := range findings {
		status := "OK"
		switch {
		case f.Err != nil:
			status = "ERROR"
		case f.Fixed:
			status = "FIXED"
		case f.drift():
			status = "DRIFT"
		}
		fmt.Printf("[%s] %s\n", status, f.CourseID)
		if f.Err != nil {
			fmt.Printf("  Error: %v\n", f.Err)
			continue
		}
		fmt.Printf("  Local seats: %d | Catalog enrolled: %d | Capacity: %d\n", f.Local, f.Catalog, f.Capacity)
	}
}
