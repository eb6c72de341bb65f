// Package failure provides FailureDetails, the structured, recursive error
// representation shared by activities, sub-orchestrations, and the replay
// engine. It preserves error chains across the codec boundary (so a failure
// survives being journaled and replayed) while still supporting
// errors.Is/errors.As through Unwrap.
package failure

import (
	"errors"
	"fmt"
)

// Details is an immutable, recursive record of a failure: the originating
// error type name, a human-readable message, an optional stack trace, an
// optional chained inner failure, and optional free-form properties. It is
// the wire shape the codec serializes; FailureDetails values round-trip
// through a backend's journaled representation without loss.
type Details struct {
	// ErrorType names the originating error/exception type (e.g. "TimeoutError").
	// Used by IsA for string-keyed subtype checks without reflection.
	ErrorType string
	// ErrorMessage is the human-readable summary of the failure.
	ErrorMessage string
	// StackTrace is an optional, backend- or language-specific stack capture.
	StackTrace string
	// InnerFailure links to the cause of this failure, if any, forming a
	// chain that mirrors errors.Unwrap semantics.
	InnerFailure *Details
	// Properties carries arbitrary structured metadata attached to the
	// failure (error codes, retry hints, etc.).
	Properties map[string]any
	// NonRetriable marks a failure that a retry policy must never retry,
	// regardless of what engine.RetryPolicy.Handler would otherwise decide.
	NonRetriable bool
}

// New constructs a Details value with the given error type and message.
func New(errorType, message string) *Details {
	if errorType == "" {
		errorType = "Error"
	}
	return &Details{ErrorType: errorType, ErrorMessage: message}
}

// NewNonRetriable constructs a Details value marked non-retriable. Used by
// the registry and activity executor for UnknownTask and InputTypeMismatch
// failures (spec §7), which are never recoverable by a retry policy.
func NewNonRetriable(errorType, message string) *Details {
	d := New(errorType, message)
	d.NonRetriable = true
	return d
}

// FromError converts an arbitrary Go error into a Details chain, walking
// errors.Unwrap to preserve causal context. If err already carries a
// *Details (via errors.As), that chain is returned unchanged.
func FromError(err error) *Details {
	if err == nil {
		return nil
	}
	var d *Details
	if errors.As(err, &d) {
		return d
	}
	return &Details{
		ErrorType:    typeName(err),
		ErrorMessage: err.Error(),
		InnerFailure: FromError(errors.Unwrap(err)),
	}
}

// Errorf formats according to a format specifier and returns the result as a
// non-chained Details value of type "Error".
func Errorf(format string, args ...any) *Details {
	return New("Error", fmt.Sprintf(format, args...))
}

// Error implements the error interface so Details can be returned and
// compared anywhere a standard error is expected.
func (d *Details) Error() string {
	if d == nil {
		return ""
	}
	return d.ErrorMessage
}

// Unwrap returns the inner failure, enabling errors.Is/errors.As to walk the
// chain exactly as they would for standard wrapped errors.
func (d *Details) Unwrap() error {
	if d == nil || d.InnerFailure == nil {
		return nil
	}
	return d.InnerFailure
}

// IsA reports whether this failure, or any failure in its InnerFailure
// chain, has the given ErrorType. Comparison is a direct string match; the
// core deliberately avoids reflection-based type registries (see spec §9's
// design note on string-keyed failure lookup), leaving richer typed
// resolution to a caller-supplied resolver if needed.
func (d *Details) IsA(errorType string) bool {
	for f := d; f != nil; f = f.InnerFailure {
		if f.ErrorType == errorType {
			return true
		}
	}
	return false
}

// typeName returns a best-effort type name for an arbitrary error, used when
// converting foreign errors that don't already carry a Details chain.
func typeName(err error) string {
	type named interface{ ErrorType() string }
	if n, ok := err.(named); ok {
		return n.ErrorType()
	}
	return fmt.Sprintf("%T", err)
}

// Well-known error types surfaced per the taxonomy in spec §7.
const (
	TypeUnknownTask       = "UnknownTaskError"
	TypeInputTypeMismatch = "InputTypeMismatchError"
	TypeNondeterministic  = "NondeterministicExecutionError"
	TypeEventTypeMismatch = "EventTypeMismatchError"
	TypeCancelled         = "CancelledError"
	TypeCodec             = "CodecError"
	TypeTaskFailed        = "TaskFailedError"
	TypeSubOrchestration  = "SubOrchestrationFailedError"
)
