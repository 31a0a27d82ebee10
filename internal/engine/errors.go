package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeDuplicateTracking: a second live instance with an already
	// tracked (type, key). The session is left unmodified.
	ErrCodeDuplicateTracking ErrorCode = "DUPLICATE_TRACKING"

	// ErrCodeCyclicDependency: the batch cannot be linearized without
	// deferred constraints. Nothing was executed.
	ErrCodeCyclicDependency ErrorCode = "CYCLIC_DEPENDENCY"

	// ErrCodeStorage: the storage collaborator rejected the batch. Nothing
	// was applied and tracked state is unchanged.
	ErrCodeStorage ErrorCode = "STORAGE_FAILURE"

	ErrCodeUnknownEntity ErrorCode = "UNKNOWN_ENTITY"
	ErrCodeInvalidKey    ErrorCode = "INVALID_KEY"
	ErrCodeKeyModified   ErrorCode = "KEY_MODIFIED"
	ErrCodeInvalidValue  ErrorCode = "INVALID_VALUE"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInvalidGraph  ErrorCode = "INVALID_GRAPH"
	ErrCodeNotTracked    ErrorCode = "NOT_TRACKED"
	ErrCodeNoExecutor    ErrorCode = "NO_EXECUTOR"
)

// Error is the engine's error type. Callers distinguish errors by Code.
type Error struct {
	Code    ErrorCode
	Message string
	Entity  string
	Key     string

	// Details holds extra context, e.g. the cycle path for
	// CYCLIC_DEPENDENCY.
	Details map[string]string

	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	switch {
	case e.Entity != "" && e.Key != "":
		fmt.Fprintf(&b, " (entity=%s, key=%s)", e.Entity, e.Key)
	case e.Entity != "":
		fmt.Fprintf(&b, " (entity=%s)", e.Entity)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HasCode reports whether err is or wraps an *Error with code.
func HasCode(err error, code ErrorCode) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsDuplicateTracking reports whether err is a DUPLICATE_TRACKING error.
func IsDuplicateTracking(err error) bool {
	return HasCode(err, ErrCodeDuplicateTracking)
}

// IsCyclicDependency reports whether err is a CYCLIC_DEPENDENCY error.
func IsCyclicDependency(err error) bool {
	return HasCode(err, ErrCodeCyclicDependency)
}

// IsStorageError reports whether err is a STORAGE_FAILURE error.
func IsStorageError(err error) bool {
	return HasCode(err, ErrCodeStorage)
}

func newDuplicateTrackingError(entity, key string) *Error {
	return &Error{
		Code:    ErrCodeDuplicateTracking,
		Message: "another instance with the same key is already tracked",
		Entity:  entity,
		Key:     key,
	}
}
