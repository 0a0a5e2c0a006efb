package merge

import (
	"errors"
	"fmt"
)

// Error reports a conflict the policy refuses to settle silently.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Kind and Key identify the conflicting row.
	Kind Kind
	Key  string
}

// ErrorCode categorizes merge errors.
type ErrorCode string

const (
	// ErrCodeContextLevelConflict indicates two in-flight writers raced on an
	// engine record that has no stored copy to arbitrate against.
	ErrCodeContextLevelConflict ErrorCode = "CONTEXT_LEVEL_CONFLICT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (kind=%s, key=%s)", e.Code, e.Message, e.Kind, e.Key)
}

// IsContextLevelConflict returns true if err wraps a context-level conflict.
func IsContextLevelConflict(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == ErrCodeContextLevelConflict
	}
	return false
}

func newContextLevelError(kind Kind, key string) *Error {
	return &Error{
		Code:    ErrCodeContextLevelConflict,
		Message: "merge policy only arbitrates conflicts against stored rows",
		Kind:    kind,
		Key:     key,
	}
}
