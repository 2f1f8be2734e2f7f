package storage

import (
	"errors"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound reports that the addressed submission or certificate does not exist
	// (or is not in a state that makes it addressable by the operation).
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a business-state conflict such as a double submit or a
	// second active certificate.
	ErrConflict = errors.New("conflict")
)

// StoreError wraps an unexpected datastore failure. Its message may contain
// driver detail and must not be shown to untrusted callers.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// uniqueViolation reports whether err is a UNIQUE constraint failure, and if
// so which table.column (or index columns) it hit.
func uniqueViolation(err error) (string, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return "", false
	}
	if se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE && se.Code() != sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
		return "", false
	}
	msg := se.Error()
	if i := strings.Index(msg, "UNIQUE constraint failed: "); i >= 0 {
		return msg[i+len("UNIQUE constraint failed: "):], true
	}
	return msg, true
}
