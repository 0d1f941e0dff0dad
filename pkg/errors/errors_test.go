package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMatchesSentinel(t *testing.T) {
	err := Clone(ErrCourseFull, "course CS101 is full")

	assert.True(t, stdErrors.Is(err, ErrCourseFull))
	assert.False(t, stdErrors.Is(err, ErrDuplicateEnrollment))
	assert.Equal(t, "course CS101 is full", err.Message)
	assert.Equal(t, "course has reached maximum capacity", ErrCourseFull.Message)
}

func TestWrappedMatchesThroughFmt(t *testing.T) {
	err := fmt.Errorf("enroll: %w", Clone(ErrServiceUnavailable, ""))

	assert.True(t, stdErrors.Is(err, ErrServiceUnavailable))
	appErr := FromError(err)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.Status)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	appErr := FromError(stdErrors.New("boom"))

	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Nil(t, FromError(nil))
}

func TestWithCause(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := WithCause(ErrServiceUnavailable, cause)

	assert.ErrorIs(t, err, cause)
	assert.Nil(t, ErrServiceUnavailable.Err)
	assert.Contains(t, err.Error(), "refused")
}
