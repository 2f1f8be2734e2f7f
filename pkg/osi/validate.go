package osi

import (
	"fmt"
	"time"
)

// Mode selects which validation contract applies to a record.
type Mode int

const (
	// Final runs the schema validator and, when it passes, the business rules.
	Final Mode = iota
	// Draft runs only the lenient draft checks.
	Draft
)

func (m Mode) String() string {
	switch m {
	case Final:
		return "final"
	case Draft:
		return "draft"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeFor maps the draft flag used by callers onto a Mode.
func ModeFor(isDraft bool) Mode {
	if isDraft {
		return Draft
	}
	return Final
}

// Validator dispatches a record to the validators of the requested mode.
// The zero value is ready to use and reads the wall clock.
type Validator struct {
	Now func() time.Time
}

func (v Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now().UTC()
}

// Validate is the single entry point for record validation.
func (v Validator) Validate(doc any, mode Mode) Result {
	switch mode {
	case Draft:
		return ValidateDraft(doc)
	case Final:
		res := ValidateSchema(doc)
		if !res.Valid {
			return res
		}
		rec, err := Decode(doc)
		if err != nil {
			return Result{Errors: []FieldError{{Message: err.Error()}}}
		}
		return ValidateBusinessRules(rec, v.now())
	default:
		return Result{Errors: []FieldError{{Message: "unknown validation mode " + mode.String()}}}
	}
}

// Validate runs the validator for isDraft against the wall clock.
func Validate(doc any, isDraft bool) Result {
	return Validator{}.Validate(doc, ModeFor(isDraft))
}
