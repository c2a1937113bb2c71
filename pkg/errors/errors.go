// Package errors provides structured error handling for MemU
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/memtensor/memu/pkg/types"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"
	ErrCodeDepthExceeded ErrorCode = "DEPTH_EXCEEDED"
	ErrCodeNodesExceeded ErrorCode = "NODES_EXCEEDED"

	// Resource errors
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// Storage errors
	ErrCodeStorage     ErrorCode = "STORAGE_ERROR"
	ErrCodeCorruptData ErrorCode = "CORRUPT_DATA"

	// Configuration errors
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// System errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeClosed   ErrorCode = "STORAGE_CLOSED"
)

// MemUError represents a structured error in MemU
type MemUError struct {
	Type       types.ErrorType        `json:"type"`
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"stack_trace,omitempty"`
}

// Error implements the error interface
func (e *MemUError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *MemUError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *MemUError) WithDetail(key string, value interface{}) *MemUError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithStackTrace adds a stack trace to the error
func (e *MemUError) WithStackTrace() *MemUError {
	e.StackTrace = getStackTrace()
	return e
}

// NewMemUError creates a new MemU error
func NewMemUError(errType types.ErrorType, code ErrorCode, message string) *MemUError {
	return &MemUError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// NewMemUErrorWithCause creates a new MemU error with a cause
func NewMemUErrorWithCause(errType types.ErrorType, code ErrorCode, message string, cause error) *MemUError {
	return &MemUError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Validation error constructors

func NewInvalidInputError(message string) *MemUError {
	return NewMemUError(types.ErrorTypeValidation, ErrCodeInvalidInput, message)
}

func NewMissingFieldError(field string) *MemUError {
	return NewMemUError(types.ErrorTypeValidation, ErrCodeMissingField,
		fmt.Sprintf("missing required field: %s", field)).WithDetail("field", field)
}

func NewDepthExceededError(maxDepth, attempted int) *MemUError {
	return NewMemUError(types.ErrorTypeValidation, ErrCodeDepthExceeded,
		fmt.Sprintf("node level %d exceeds max depth %d", attempted, maxDepth)).
		WithDetail("max_depth", maxDepth).WithDetail("attempted_level", attempted)
}

func NewNodesExceededError(maxNodes int) *MemUError {
	return NewMemUError(types.ErrorTypeValidation, ErrCodeNodesExceeded,
		fmt.Sprintf("tree already holds the maximum of %d nodes", maxNodes)).
		WithDetail("max_nodes", maxNodes)
}

// Resource error constructors

func NewCandidateNotFoundError(candidateID string) *MemUError {
	return NewMemUError(types.ErrorTypeNotFound, ErrCodeNotFound,
		fmt.Sprintf("candidate not found: %s", candidateID)).WithDetail("candidate_id", candidateID)
}

func NewNodeNotFoundError(nodeID string) *MemUError {
	return NewMemUError(types.ErrorTypeNotFound, ErrCodeNotFound,
		fmt.Sprintf("memory node not found: %s", nodeID)).WithDetail("node_id", nodeID)
}

func NewAlreadyExistsError(candidateID string) *MemUError {
	return NewMemUError(types.ErrorTypeConflict, ErrCodeAlreadyExists,
		fmt.Sprintf("candidate already exists: %s", candidateID)).WithDetail("candidate_id", candidateID)
}

// Storage error constructors

func NewStorageError(operation string, cause error) *MemUError {
	return NewMemUErrorWithCause(types.ErrorTypeStorage, ErrCodeStorage,
		fmt.Sprintf("storage %s failed", operation), cause).WithDetail("operation", operation)
}

func NewCorruptDataError(candidateID string, cause error) *MemUError {
	return NewMemUErrorWithCause(types.ErrorTypeStorage, ErrCodeCorruptData,
		fmt.Sprintf("persisted document corrupt: %s", candidateID), cause).
		WithDetail("candidate_id", candidateID)
}

// Configuration error constructors

func NewConfigInvalidError(message string) *MemUError {
	return NewMemUError(types.ErrorTypeValidation, ErrCodeConfigInvalid, message)
}

// System error constructors

func NewInternalError(message string) *MemUError {
	return NewMemUError(types.ErrorTypeInternal, ErrCodeInternal, message)
}

func NewStorageClosedError() *MemUError {
	return NewMemUError(types.ErrorTypeInternal, ErrCodeClosed, "storage is closed")
}

// Helper functions

func getStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var trace strings.Builder
	for {
		frame, more := frames.Next()
		if !more {
			break
		}
		trace.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
	}

	return trace.String()
}

// GetMemUError extracts a MemUError from an error chain
func GetMemUError(err error) *MemUError {
	var memuErr *MemUError
	if errors.As(err, &memuErr) {
		return memuErr
	}
	return nil
}

// WrapError wraps an error as a MemUError
func WrapError(err error, errType types.ErrorType, code ErrorCode, message string) *MemUError {
	return NewMemUErrorWithCause(errType, code, message, err)
}

// hasCode reports whether err carries the given MemU error code
func hasCode(err error, code ErrorCode) bool {
	memuErr := GetMemUError(err)
	return memuErr != nil && memuErr.Code == code
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsAlreadyExists reports whether err is an already-exists error
func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrCodeAlreadyExists)
}

// IsDepthExceeded reports whether err is a depth-limit error
func IsDepthExceeded(err error) bool {
	return hasCode(err, ErrCodeDepthExceeded)
}

// IsInvalidInput reports whether err is an invalid-input error
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput) || hasCode(err, ErrCodeMissingField)
}

// IsCorruptData reports whether err is a corrupt-document error
func IsCorruptData(err error) bool {
	return hasCode(err, ErrCodeCorruptData)
}

// IsStorageError reports whether err is an I/O-level storage error
func IsStorageError(err error) bool {
	return hasCode(err, ErrCodeStorage)
}
