package runtime

import (
	"errors"
	"fmt"
)

// ConstructionError reports a defect in program structure detected while
// building or assembling a Program. Construction errors are fatal before
// the scheduler starts; they never occur at runtime.
type ConstructionError struct {
	// Code identifies the error category.
	Code ConstructionErrorCode

	// Message is a human-readable description.
	Message string

	// Reactor names the instance involved, when known.
	Reactor string

	// Path holds the reaction cycle for CAUSALITY_CYCLE errors.
	Path []string
}

// ConstructionErrorCode categorizes construction errors.
type ConstructionErrorCode string

const (
	// ErrCodeTypeMismatch indicates a connection between ports of
	// different value types.
	ErrCodeTypeMismatch ConstructionErrorCode = "TYPE_MISMATCH"

	// ErrCodeCausalityCycle indicates a dependency cycle among reactions
	// with no logical action breaking it.
	ErrCodeCausalityCycle ConstructionErrorCode = "CAUSALITY_CYCLE"

	// ErrCodeDuplicateName indicates two elements of the same reactor
	// share a name.
	ErrCodeDuplicateName ConstructionErrorCode = "DUPLICATE_NAME"

	// ErrCodeInvalidConnection indicates a structurally invalid
	// connection (self-connection, doubly driven input, wrong direction).
	ErrCodeInvalidConnection ConstructionErrorCode = "INVALID_CONNECTION"

	// ErrCodeInvalidMode indicates a malformed mode machine (no initial
	// mode, duplicate initial, foreign reaction).
	ErrCodeInvalidMode ConstructionErrorCode = "INVALID_MODE"

	// ErrCodeNotAssembled indicates the program was used before
	// Assemble() succeeded.
	ErrCodeNotAssembled ConstructionErrorCode = "NOT_ASSEMBLED"
)

// Error implements the error interface.
func (e *ConstructionError) Error() string {
	if e.Reactor != "" {
		return fmt.Sprintf("%s: %s (reactor=%s)", e.Code, e.Message, e.Reactor)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConstructionError reports whether err is a ConstructionError with the
// given code. Uses errors.As to handle wrapped errors.
func IsConstructionError(err error, code ConstructionErrorCode) bool {
	var ce *ConstructionError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// StopError carries the reason a reaction requested termination of the
// run. The demonstrated fail-fast pattern for validation reactors uses
// Ctx.RequestStop with a descriptive error; the scheduler finishes the
// current tag, runs shutdown reactions, and returns the StopError from Run.
type StopError struct {
	// Reactor and Reaction identify the requester.
	Reactor  string
	Reaction string

	// Cause is the application-level reason, may be nil for a clean stop.
	Cause error
}

// Error implements the error interface.
func (e *StopError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("stop requested by %s.%s", e.Reactor, e.Reaction)
	}
	return fmt.Sprintf("stop requested by %s.%s: %v", e.Reactor, e.Reaction, e.Cause)
}

// Unwrap exposes the application-level cause.
func (e *StopError) Unwrap() error { return e.Cause }

// IsStopError reports whether err is a StopError.
func IsStopError(err error) bool {
	var se *StopError
	return errors.As(err, &se)
}
