package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCourseID(t *testing.T) {
	id, err := ParseCourseID("  CS101 ")
	require.NoError(t, err)
	assert.Equal(t, CourseID("CS101"), id)

	for _, raw := range []string{"", "   ", "CS 101", "cs/101", strings.Repeat("x", 65)} {
		_, err := ParseCourseID(raw)
		assert.ErrorIs(t, err, ErrInvalidID, raw)
	}
}

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID("4f1c2a9e-0b7d-4e55-9d1e-2f4b8f3c6a10")
	require.NoError(t, err)
	assert.Equal(t, "4f1c2a9e-0b7d-4e55-9d1e-2f4b8f3c6a10", id.String())

	_, err = ParseUserID("alice@example")
	assert.ErrorContains(t, err, "userId")
}

func TestParseEnrollmentStatus(t *testing.T) {
	status, err := ParseEnrollmentStatus("dropped")
	require.NoError(t, err)
	assert.Equal(t, EnrollmentStatusDropped, status)
	assert.True(t, status.Terminal())
	assert.False(t, EnrollmentStatusActive.Terminal())

	_, err = ParseEnrollmentStatus("PENDING")
	assert.Error(t, err)
}

func TestHoldsSeat(t *testing.T) {
	assert.True(t, EnrollmentStatusActive.HoldsSeat())
	assert.True(t, EnrollmentStatusCompleted.HoldsSeat())
	assert.False(t, EnrollmentStatusDropped.HoldsSeat())
}

func TestNormalisePage(t *testing.T) {
	cases := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, DefaultPageSize},
		{3, 50, 3, 50},
		{1, 500, 1, MaxPageSize},
		{-2, -1, 1, DefaultPageSize},
	}
	for _, tc := range cases {
		page, size := NormalisePage(tc.page, tc.size)
		assert.Equal(t, tc.wantPage, page)
		assert.Equal(t, tc.wantSize, size)
	}
}
