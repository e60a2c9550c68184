package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Error codes for different categories
const (
	// Identity errors (1xxx)
	ErrCodeInvalidKey ErrorCode = "KEY_1001"

	// Classification errors (2xxx)
	ErrCodeClassification ErrorCode = "CLASSIFY_2001"

	// Persistence errors (3xxx)
	ErrCodePersistenceConflict ErrorCode = "STORE_3001"
	ErrCodeDatabaseError       ErrorCode = "STORE_3002"

	// Annotation errors (4xxx)
	ErrCodeAnnotationConflict ErrorCode = "ANNOTATION_4001"

	// Input errors (5xxx)
	ErrCodeInvalidInput ErrorCode = "INPUT_5001"
)

// AppError represents a structured application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// ErrDatabaseError wraps a storage failure that is not a conflict.
func ErrDatabaseError(operation string, cause error) *AppError {
	return NewAppError(ErrCodeDatabaseError, "Database operation failed", fmt.Sprintf("Operation: %s", operation), cause)
}

// ErrInvalidInput reports malformed collaborator input.
func ErrInvalidInput(details string) *AppError {
	return NewAppError(ErrCodeInvalidInput, "Invalid input", details, nil)
}

// InvalidKeyError reports an empty or malformed identity segment. It is fatal
// to one entity only; the pass skips the entity and reports it.
type InvalidKeyError struct {
	Segment int
	Parts   []string
	Reason  string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid entity key segment %d in %q: %s", e.Segment, e.Parts, e.Reason)
}

// Code returns the catalog code
func (e *InvalidKeyError) Code() ErrorCode { return ErrCodeInvalidKey }

// ClassificationError means a state pair reached the classifier that the
// transition table does not cover. The pass must abort.
type ClassificationError struct {
	EntityKey EntityKey
	Prior     string
	Next      string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("unclassifiable transition %q -> %q for %q", e.Prior, e.Next, e.EntityKey)
}

// Code returns the catalog code
func (e *ClassificationError) Code() ErrorCode { return ErrCodeClassification }

// PersistenceConflictError means another writer recorded the same dedup key or
// holds the writer lock. The caller may retry the whole pass.
type PersistenceConflictError struct {
	Operation string
	EntityKey EntityKey
	Cause     error
}

func (e *PersistenceConflictError) Error() string {
	if e.EntityKey != "" {
		return fmt.Sprintf("persistence conflict during %s for %q: %v", e.Operation, e.EntityKey, e.Cause)
	}
	return fmt.Sprintf("persistence conflict during %s: %v", e.Operation, e.Cause)
}

func (e *PersistenceConflictError) Unwrap() error { return e.Cause }

// Code returns the catalog code
func (e *PersistenceConflictError) Code() ErrorCode { return ErrCodePersistenceConflict }

// AnnotationConflictError is recorded, never returned from a pass: the entity
// is flagged review-required and the stored value is kept.
type AnnotationConflictError struct {
	EntityKey  EntityKey
	Field      string
	StoreValue string
	Report     string
}

func (e *AnnotationConflictError) Error() string {
	return fmt.Sprintf("conflicting edits on %s of %q: store=%q report=%q", e.Field, e.EntityKey, e.StoreValue, e.Report)
}

// Code returns the catalog code
func (e *AnnotationConflictError) Code() ErrorCode { return ErrCodeAnnotationConflict }

// IsPersistenceConflict reports whether err (or anything it wraps) is a
// PersistenceConflictError.
func IsPersistenceConflict(err error) bool {
	var conflict *PersistenceConflictError
	return errors.As(err, &conflict)
}

// CodeOf extracts the catalog code from any error in the chain.
func CodeOf(err error) ErrorCode {
	var coded interface{ Code() ErrorCode }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// DomainError represents a domain-specific error
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewDomainError(message string) *DomainError {
	return &DomainError{Message: message}
}

// Custom errors
var (
	ErrRunNotFound       = NewDomainError("audit run not found")
	ErrActionNotFound    = NewDomainError("action not found")
	ErrExceptionNotFound = NewDomainError("exception not found")
	ErrNoCompletedRun    = NewDomainError("no completed audit run")
	ErrUnknownField      = NewDomainError("field is not user-editable")
)
