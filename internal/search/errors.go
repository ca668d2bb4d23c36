package search

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxErrorMessage bounds engine messages carried by IndexError.
const MaxErrorMessage = 1000

// ErrUnavailable marks connection-level failures reported by a backend.
var ErrUnavailable = errors.New("search backend unavailable")

// ValidationError reports malformed or missing input, keyed by field.
type ValidationError struct {
	Fields map[string][]string
}

func (e ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) ValidationError {
	return ValidationError{Fields: map[string][]string{field: {message}}}
}

// IsValidationError checks if err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// QueryError rejects a query before it reaches the store: disallowed
// parameter names or syntax.
type QueryError struct {
	Message string
	Keys    []string
}

func (e QueryError) Error() string {
	if len(e.Keys) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Keys, ", "))
	}
	return e.Message
}

// IsQueryError checks if err is, or wraps, a QueryError.
func IsQueryError(err error) bool {
	var qe QueryError
	return errors.As(err, &qe)
}

// EngineError is a failure reported by, or while talking to, the store
// during a query. Query holds the request for diagnosis.
type EngineError struct {
	Message string
	Query   string
	Err     error
}

func (e EngineError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Query != "" {
		msg = fmt.Sprintf("%s (query: %s)", msg, e.Query)
	}
	return msg
}

func (e EngineError) Unwrap() error { return e.Err }

// IsEngineError checks if err is, or wraps, an EngineError.
func IsEngineError(err error) bool {
	var ee EngineError
	return errors.As(err, &ee)
}

// IndexError is a failure while writing to, deleting from or committing the
// store.
type IndexError struct {
	Message string
	Err     error
}

// NewIndexError truncates the message to MaxErrorMessage bytes.
func NewIndexError(message string, err error) IndexError {
	return IndexError{Message: truncate(message, MaxErrorMessage), Err: err}
}

func (e IndexError) Error() string {
	return e.Message
}

func (e IndexError) Unwrap() error { return e.Err }

// IsIndexError checks if err is, or wraps, an IndexError.
func IsIndexError(err error) bool {
	var ie IndexError
	return errors.As(err, &ie)
}

// NotFoundError reports an entity that does not resolve to a record.
type NotFoundError struct {
	Type string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Type, e.ID)
}

// IsNotFoundError checks if err is, or wraps, a NotFoundError.
func IsNotFoundError(err error) bool {
	var ne NotFoundError
	return errors.As(err, &ne)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
