package osi

import (
	"fmt"
	"strings"
)

// FieldError is a single validation violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

// Result is the uniform outcome of every validator in this package.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors"`
}

// Fields returns the distinct field names carried by r, in order of first appearance.
func (r Result) Fields() []string {
	seen := make(map[string]bool, len(r.Errors))
	var out []string
	for _, e := range r.Errors {
		if seen[e.Field] {
			continue
		}
		seen[e.Field] = true
		out = append(out, e.Field)
	}
	return out
}

// Has reports whether r carries an error for field.
func (r Result) Has(field string) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Err converts a failed result into a *ValidationError. It returns nil for a
// valid result.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Errors: r.Errors}
}

type collector struct {
	errs []FieldError
}

func (c *collector) add(field, message string, value any) {
	c.errs = append(c.errs, FieldError{Field: field, Message: message, Value: value})
}

func (c *collector) result() Result {
	if len(c.errs) == 0 {
		return Result{Valid: true, Errors: []FieldError{}}
	}
	return Result{Valid: false, Errors: c.errs}
}

// ValidationError carries the full list of violations of a rejected record.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if fe.Field == "" {
			parts = append(parts, fe.Message)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return fmt.Sprintf("validation failed (%d errors): %s", len(e.Errors), strings.Join(parts, "; "))
}
