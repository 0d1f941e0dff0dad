package models

import (
	"errors"
	"fmt"
	"strings"
)

const maxIDLength = 64

// ErrInvalidID is wrapped by the Parse functions.
var ErrInvalidID = errors.New("invalid identifier")

// CourseID identifies a course owned by the catalog service.
type CourseID string

// UserID identifies a user owned by the identity service.
type UserID string

// ParseCourseID validates and normalises a course identifier.
func ParseCourseID(raw string) (CourseID, error) {
	v, err := parseID("courseId", raw)
	return CourseID(v), err
}

// ParseUserID validates and normalises a user identifier.
func ParseUserID(raw string) (UserID, error) {
	v, err := parseID("userId", raw)
	return UserID(v), err
}

func (id CourseID) String() string { return string(id) }

func (id UserID) String() string { return string(id) }

func parseID(field, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidID, field)
	}
	if len(v) > maxIDLength {
		return "", fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidID, field, maxIDLength)
	}
	for _, r := range v {
		if !validIDRune(r) {
			return "", fmt.Errorf("%w: %s contains %q", ErrInvalidID, field, r)
		}
	}
	return v, nil
}

func validIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.', r == ':':
		return true
	}
	return false
}
