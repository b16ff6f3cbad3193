package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Predicates(t *testing.T) {
	notFound := WrapError("grade", "FetchStudentRecord", ErrNotFound, "student s1", errors.New("no rows"))
	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsValidation(notFound))
	assert.Equal(t, "grade.FetchStudentRecord: student s1: no rows", notFound.Error())

	wrapped := fmt.Errorf("simulate: %w", WrapError("simulation", "ApplyOverrides", ErrInvalidOverride, "unknown subject", nil))
	assert.True(t, IsInvalidOverride(wrapped))
	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsNotFound(wrapped))

	assert.True(t, IsValidation(ErrInvalidGrade))
	assert.True(t, IsNotFound(ErrStudentRecordNotFound))
}
