package record

import (
	"errors"
	"fmt"
)

// ValidationError reports a record that cannot be tracked or decoded.
//
// Validation errors are always local and never retryable: the offending
// record is discarded and any speculative entity insertion is rolled back.
type ValidationError struct {
	// Code identifies the error category.
	Code ValidationErrorCode

	// Message is a human-readable description.
	Message string

	// RecordType is the entity type involved, when known.
	RecordType string

	// Details contains additional context (for example offending metadata).
	Details map[string]string
}

// ValidationErrorCode categorizes validation errors.
type ValidationErrorCode string

const (
	// ErrCodeUnknownRecordType indicates a payload type with no registered entity type.
	ErrCodeUnknownRecordType ValidationErrorCode = "UNKNOWN_RECORD_TYPE"

	// ErrCodeNonSyncableRecordType indicates an entity type that is not syncable-capable.
	ErrCodeNonSyncableRecordType ValidationErrorCode = "NON_SYNCABLE_RECORD_TYPE"

	// ErrCodeMissingIdentifier indicates an entity with no syncable identifier yet.
	ErrCodeMissingIdentifier ValidationErrorCode = "MISSING_IDENTIFIER"

	// ErrCodeInvalidMetadata indicates remote metadata lacking required keys.
	ErrCodeInvalidMetadata ValidationErrorCode = "INVALID_METADATA"

	// ErrCodeMissingContext indicates a decode attempted without a unit of work.
	ErrCodeMissingContext ValidationErrorCode = "MISSING_CONTEXT"
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.RecordType != "" {
		return fmt.Sprintf("%s: %s (type=%s)", e.Code, e.Message, e.RecordType)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasValidationCode(err error, code ValidationErrorCode) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// IsValidationError returns true if err wraps any ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUnknownRecordType returns true if the error is an unknown-record-type error.
func IsUnknownRecordType(err error) bool {
	return hasValidationCode(err, ErrCodeUnknownRecordType)
}

// IsNonSyncable returns true if the error is a non-syncable-record-type error.
func IsNonSyncable(err error) bool {
	return hasValidationCode(err, ErrCodeNonSyncableRecordType)
}

// IsInvalidMetadata returns true if the error is an invalid-metadata error.
func IsInvalidMetadata(err error) bool {
	return hasValidationCode(err, ErrCodeInvalidMetadata)
}

// IsMissingIdentifier returns true if the error is a missing-identifier error.
func IsMissingIdentifier(err error) bool {
	return hasValidationCode(err, ErrCodeMissingIdentifier)
}

// NewUnknownRecordTypeError creates a ValidationError for an unregistered type.
func NewUnknownRecordTypeError(recordType string) *ValidationError {
	return &ValidationError{
		Code:       ErrCodeUnknownRecordType,
		Message:    "record type is not registered",
		RecordType: recordType,
	}
}

// NewNonSyncableError creates a ValidationError for a non-syncable type.
func NewNonSyncableError(recordType string) *ValidationError {
	return &ValidationError{
		Code:       ErrCodeNonSyncableRecordType,
		Message:    "record type does not implement the syncable capability",
		RecordType: recordType,
	}
}

// NewMissingIdentifierError creates a ValidationError for an entity without identifier.
func NewMissingIdentifierError(recordType string) *ValidationError {
	return &ValidationError{
		Code:       ErrCodeMissingIdentifier,
		Message:    "entity has no syncable identifier",
		RecordType: recordType,
	}
}

// NewInvalidMetadataError creates a ValidationError for incomplete remote metadata.
func NewInvalidMetadataError(missingKey string, metadata map[string]string) *ValidationError {
	details := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		details[k] = v
	}
	details["missing_key"] = missingKey
	return &ValidationError{
		Code:    ErrCodeInvalidMetadata,
		Message: fmt.Sprintf("metadata is missing %q", missingKey),
		Details: details,
	}
}

// ErrMissingContext is returned when a decode is attempted outside a unit of work.
var ErrMissingContext = &ValidationError{
	Code:    ErrCodeMissingContext,
	Message: "decoding requires an open transaction",
}
