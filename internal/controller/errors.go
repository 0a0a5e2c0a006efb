package controller

import (
	"errors"
	"fmt"

	"github.com/roach88/harmony/internal/record"
)

// ErrStopped is returned when work is submitted after Stop.
var ErrStopped = errors.New("controller: stopped")

// ErrConflicted is returned when an operation needs a record that is not
// flagged as conflicted.
var ErrConflicted = errors.New("controller: record is conflicted")

// OperationError describes a failed record operation.
type OperationError struct {
	// Op names the operation, e.g. "restore" or "keep local".
	Op string

	// ID identifies the record.
	ID record.RecordID

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsOperationError reports whether err is an OperationError for op.
// An empty op matches any operation.
func IsOperationError(err error, op string) bool {
	var oe *OperationError
	if errors.As(err, &oe) {
		return op == "" || oe.Op == op
	}
	return false
}

func opError(op string, id record.RecordID, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, ID: id, Err: err}
}
