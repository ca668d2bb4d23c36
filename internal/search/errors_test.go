package search

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexErrorTruncatesMessage(t *testing.T) {
	err := NewIndexError(strings.Repeat("x", 5000), nil)
	assert.Len(t, err.Error(), MaxErrorMessage)
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := strings.Repeat("a", 999) + "é"
	out := truncate(s, MaxErrorMessage)
	assert.Equal(t, strings.Repeat("a", 999), out)
}

func TestErrorKindsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("index organization: %w", NewIndexError("boom", ErrUnavailable))
	assert.True(t, IsIndexError(wrapped))
	assert.True(t, errors.Is(wrapped, ErrUnavailable))

	assert.True(t, IsValidationError(fmt.Errorf("x: %w", NewValidationError("id", "Missing value"))))
	assert.True(t, IsQueryError(QueryError{Message: "Invalid search parameters", Keys: []string{"bogus"}}))
	assert.True(t, IsNotFoundError(NotFoundError{Type: "group", ID: "g"}))
	assert.True(t, IsEngineError(EngineError{Message: "failed"}))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "Invalid search parameters: bogus, other",
		QueryError{Message: "Invalid search parameters", Keys: []string{"bogus", "other"}}.Error())
	assert.Equal(t, "validation failed: id: Missing value",
		NewValidationError("id", "Missing value").Error())
	assert.Equal(t, "search failed: boom (query: q=*:*)",
		EngineError{Message: "search failed", Query: "q=*:*", Err: errors.New("boom")}.Error())
}
