package news

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors surfaced across package boundaries. Handlers map these to
// HTTP statuses at the request boundary.
var (
	ErrNotFound         = errors.New("record not found")
	ErrForbidden        = errors.New("operation forbidden")
	ErrUnreachable      = errors.New("url is not reachable")
	ErrQueueUnavailable = errors.New("task queue unavailable")
)

// ValidationError reports field-level validation failures. The request is
// rejected before any side effects.
type ValidationError struct {
	Fields map[string]string
}

// Error renders the field errors in a stable order.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
