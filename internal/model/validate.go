package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// orNil returns e as an error only when it carries field errors, so callers
// never hand back a typed nil.
func (e *ValidationError) orNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

func requireName(ve *ValidationError, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		ve.add("name", "is required")
	} else if len([]rune(name)) > 255 {
		ve.add("name", "must be 255 characters or fewer")
	}
}

func validateLifecycle(ve *ValidationError, l Lifecycle) {
	switch l {
	case "", LifecycleActive, LifecycleDeleting:
	default:
		ve.add("lifecycle", "invalid value %q", l)
	}
}
