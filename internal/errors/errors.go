package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Director error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"       // 400
	ErrUnknownCapability   ErrorCode = "UNKNOWN_CAPABILITY"    // 404
	ErrDuplicateCapability ErrorCode = "DUPLICATE_CAPABILITY"  // 409
	ErrSlotConflict        ErrorCode = "SLOT_CONFLICT"         // 409 (recovered inside the loop)
	ErrPayloadTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"     // 413
	ErrNoSources           ErrorCode = "NO_SOURCES"            // 422
	ErrGoalStalled         ErrorCode = "GOAL_STALLED"          // 422
	ErrCancelled           ErrorCode = "CANCELLED"             // 499
	ErrInternal            ErrorCode = "INTERNAL"              // 500
	ErrCapabilityError     ErrorCode = "CAPABILITY_ERROR"      // 502
	ErrRoundBudgetExceeded ErrorCode = "ROUND_BUDGET_EXCEEDED" // 508
)

// DirectorError represents a structured error with code, status, details and
// an optional underlying cause.
type DirectorError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *DirectorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *DirectorError) Unwrap() error {
	return e.Cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *DirectorError {
	return &DirectorError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnknownCapability creates a 404 error for a capability missing from the registry.
func NewUnknownCapability(name string) *DirectorError {
	return &DirectorError{
		Code:    ErrUnknownCapability,
		Status:  404,
		Message: fmt.Sprintf("capability not registered: %s", name),
		Details: map[string]any{"capability": name},
	}
}

// NewDuplicateCapability creates a 409 error when a capability name is registered twice.
func NewDuplicateCapability(name string) *DirectorError {
	return &DirectorError{
		Code:    ErrDuplicateCapability,
		Status:  409,
		Message: fmt.Sprintf("capability already registered: %s", name),
		Details: map[string]any{"capability": name},
	}
}

// NewSlotConflict creates a 409 error when two findings claim the same slot
// with incompatible values.
func NewSlotConflict(slot, previousSource, newSource string) *DirectorError {
	return &DirectorError{
		Code:    ErrSlotConflict,
		Status:  409,
		Message: fmt.Sprintf("slot %q redefined by %s (was %s)", slot, newSource, previousSource),
		Details: map[string]any{"slot": slot, "previous_source": previousSource, "new_source": newSource},
	}
}

// NewPayloadTooLarge creates a 413 error when required slots plus the
// instruction cannot fit the payload ceiling.
func NewPayloadTooLarge(max, actual int) *DirectorError {
	return &DirectorError{
		Code:    ErrPayloadTooLarge,
		Status:  413,
		Message: fmt.Sprintf("delegation payload exceeds maximum size: %d chars (max %d)", actual, max),
		Details: map[string]any{"max_chars": max, "actual_chars": actual},
	}
}

// NewNoSources creates a 422 error when title search found nothing and the
// configuration forbids delegating without sources.
func NewNoSources(keywords []string) *DirectorError {
	return &DirectorError{
		Code:    ErrNoSources,
		Status:  422,
		Message: fmt.Sprintf("no documents matched keywords %v", keywords),
		Details: map[string]any{"keywords": keywords},
	}
}

// NewGoalStalled creates a 422 error when unsatisfied goals remain but none
// has its prerequisites met.
func NewGoalStalled(pending []string) *DirectorError {
	return &DirectorError{
		Code:    ErrGoalStalled,
		Status:  422,
		Message: fmt.Sprintf("no eligible goal among pending goals %v", pending),
		Details: map[string]any{"pending_goals": pending},
	}
}

// NewCancelled creates a 499 error for a request cancelled by its caller.
func NewCancelled(cause error) *DirectorError {
	return &DirectorError{
		Code:    ErrCancelled,
		Status:  499,
		Message: "request cancelled",
		Cause:   cause,
	}
}

// NewCapabilityError wraps a failed capability call.
func NewCapabilityError(name string, attempts int, cause error) *DirectorError {
	return &DirectorError{
		Code:    ErrCapabilityError,
		Status:  502,
		Message: fmt.Sprintf("capability %s failed after %d attempt(s)", name, attempts),
		Details: map[string]any{"capability": name, "attempts": attempts},
		Cause:   cause,
	}
}

// NewRoundBudgetExceeded creates a 508 error when the planner keeps asking for
// invocations past the configured round limit.
func NewRoundBudgetExceeded(max int) *DirectorError {
	return &DirectorError{
		Code:    ErrRoundBudgetExceeded,
		Status:  508,
		Message: fmt.Sprintf("round budget exhausted (max %d)", max),
		Details: map[string]any{"max_rounds": max},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details and Cause for logging.
func NewInternal(err error) *DirectorError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &DirectorError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		Cause:   err,
	}
}

// Is checks if an error is (or wraps) a DirectorError with the given code.
func Is(err error, code ErrorCode) bool {
	var dErr *DirectorError
	if stderrors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost DirectorError in err's chain, or
// ErrInternal if there is none.
func CodeOf(err error) ErrorCode {
	var dErr *DirectorError
	if stderrors.As(err, &dErr) {
		return dErr.Code
	}
	return ErrInternal
}

// As returns the outermost DirectorError in err's chain.
func As(err error) (*DirectorError, bool) {
	var dErr *DirectorError
	if stderrors.As(err, &dErr) {
		return dErr, true
	}
	return nil, false
}
