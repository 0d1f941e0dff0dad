package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema is the enrollment table DDL. The partial unique index is what
// guarantees at most one ACTIVE row per (course, user) pair under concurrency.
const Schema = `
CREATE TABLE IF NOT EXISTS enrollments (
    id          UUID PRIMARY KEY,
    course_id   VARCHAR(64) NOT NULL,
    user_id     VARCHAR(64) NOT NULL,
    status      VARCHAR(16) NOT NULL CHECK (status IN ('ACTIVE', 'DROPPED', 'COMPLETED')),
    enrolled_at TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_enrollments_active_pair
    ON enrollments (course_id, user_id) WHERE status = 'ACTIVE';

CREATE INDEX IF NOT EXISTS idx_enrollments_course_status ON enrollments (course_id, status);
CREATE INDEX IF NOT EXISTS idx_enrollments_user_status ON enrollments (user_id, status);
`

// EnsureSchema applies Schema. It is idempotent and meant for development
// bootstraps and integration tests.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure enrollment schema: %w", err)
	}
	return nil
}
