package storage

import (
	"errors"
	"fmt"
)

// Sentinels produced by backend error classifiers. Backends wrap the driver
// error so both the sentinel and the original remain reachable via errors.Is
// and errors.As.
var (
	// ErrUniqueViolation reports a duplicate key.
	ErrUniqueViolation = errors.New("unique violation")
	// ErrConstraint reports any other integrity violation (foreign key,
	// check, not null).
	ErrConstraint = errors.New("constraint violation")
	// ErrNoRows reports an empty single-row result.
	ErrNoRows = errors.New("no rows")
)

// Classifier maps a driver error to a sentinel, or returns nil when the error
// is not an integrity error.
type Classifier func(err error) error

// Wrap returns err annotated with the sentinel chosen by classify.
func Wrap(classify Classifier, err error) error {
	if err == nil {
		return nil
	}
	if s := classify(err); s != nil {
		return fmt.Errorf("%w: %w", s, err)
	}
	return err
}

// IsIntegrity reports whether err is a unique or constraint violation.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrUniqueViolation) || errors.Is(err, ErrConstraint)
}
