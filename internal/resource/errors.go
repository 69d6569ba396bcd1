package resource

import (
	"errors"
	"fmt"

	"github.com/roach88/resync/internal/ir"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeUnknownResource indicates the rid was never created or was deleted.
	ErrCodeUnknownResource ErrorCode = "UNKNOWN_RESOURCE"

	// ErrCodeUnknownResourceType indicates no reducer is registered for the type.
	ErrCodeUnknownResourceType ErrorCode = "UNKNOWN_RESOURCE_TYPE"

	// ErrCodeReducerFault indicates the reducer failed while processing an action.
	ErrCodeReducerFault ErrorCode = "REDUCER_FAULT"

	// ErrCodeDuplicateCreation indicates a create collided with a live rid.
	ErrCodeDuplicateCreation ErrorCode = "DUPLICATE_CREATION"

	// ErrCodeInvalidState indicates a state failed its schema or cannot be
	// checksummed (floats, null).
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
)

// Error is a store error with structured fields for diagnostics.
type Error struct {
	Code         ErrorCode
	Message      string
	RID          ir.RID
	ResourceType string
	ActionType   string
	Err          error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RID != "" {
		msg += fmt.Sprintf(" (rid=%s)", e.RID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsUnknownResource reports whether err is an unknown-resource error.
func IsUnknownResource(err error) bool {
	return CodeOf(err) == ErrCodeUnknownResource
}

// IsUnknownResourceType reports whether err is an unknown-resource-type error.
func IsUnknownResourceType(err error) bool {
	return CodeOf(err) == ErrCodeUnknownResourceType
}

// IsReducerFault reports whether err is a reducer fault.
func IsReducerFault(err error) bool {
	return CodeOf(err) == ErrCodeReducerFault
}

// IsDuplicateCreation reports whether err is a duplicate-creation error.
func IsDuplicateCreation(err error) bool {
	return CodeOf(err) == ErrCodeDuplicateCreation
}

// IsInvalidState reports whether err is an invalid-state error.
func IsInvalidState(err error) bool {
	return CodeOf(err) == ErrCodeInvalidState
}

// NewUnknownResourceError creates an Error for a missing rid.
func NewUnknownResourceError(rid ir.RID) *Error {
	return &Error{
		Code:    ErrCodeUnknownResource,
		Message: "resource does not exist",
		RID:     rid,
	}
}

// NewUnknownResourceTypeError creates an Error for an unregistered type.
func NewUnknownResourceTypeError(resourceType string) *Error {
	return &Error{
		Code:         ErrCodeUnknownResourceType,
		Message:      fmt.Sprintf("resource type %q is not registered", resourceType),
		ResourceType: resourceType,
	}
}

// NewReducerFaultError creates an Error wrapping a reducer failure.
func NewReducerFaultError(rid ir.RID, resourceType, actionType string, cause error) *Error {
	return &Error{
		Code:         ErrCodeReducerFault,
		Message:      fmt.Sprintf("reducer failed on action %q", actionType),
		RID:          rid,
		ResourceType: resourceType,
		ActionType:   actionType,
		Err:          cause,
	}
}

// NewDuplicateCreationError creates an Error for a rid collision.
func NewDuplicateCreationError(rid ir.RID, resourceType string) *Error {
	return &Error{
		Code:         ErrCodeDuplicateCreation,
		Message:      "resource already exists",
		RID:          rid,
		ResourceType: resourceType,
	}
}

// NewInvalidStateError creates an Error for a state rejected by validation.
func NewInvalidStateError(rid ir.RID, resourceType string, cause error) *Error {
	return &Error{
		Code:         ErrCodeInvalidState,
		Message:      "state rejected",
		RID:          rid,
		ResourceType: resourceType,
		Err:          cause,
	}
}
