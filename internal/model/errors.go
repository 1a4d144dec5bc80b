package model

import (
	"errors"
	"fmt"
)

// ParseError reports a line the parser could not split into fields. It is
// counted and skipped.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse line %d: %v", e.Line, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError wraps a rejection produced by the validator.
type ValidationError struct {
	Rejection
}

func (e *ValidationError) Error() string { return "validation: " + e.Rejection.String() }

// ConflictError reports a constraint violation while writing a batch. The
// batch is rolled back and the run continues.
type ConflictError struct {
	FirstLine, LastLine int
	Records             int
	Err                 error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict in batch lines %d-%d (%d records): %v", e.FirstLine, e.LastLine, e.Records, e.Err)
}
func (e *ConflictError) Unwrap() error { return e.Err }

// StorageError reports a connectivity or transaction failure. A batch that
// fails this way twice aborts the run; the line range tells the operator
// where to resume.
type StorageError struct {
	FirstLine, LastLine int
	Records             int
	Err                 error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure in batch lines %d-%d (%d records): %v", e.FirstLine, e.LastLine, e.Records, e.Err)
}
func (e *StorageError) Unwrap() error { return e.Err }

// IsFatal reports whether err should stop the run.
func IsFatal(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
