// Package apperr defines the engine's error taxonomy. None of these errors is
// fatal: measurement failures fall back to defaults, apply and restore
// failures are reported per step, state violations are no-ops.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	KindMeasurement    Kind = "MEASUREMENT_FAILURE"
	KindApply          Kind = "APPLY_FAILURE"
	KindRestore        Kind = "RESTORE_FAILURE"
	KindStateViolation Kind = "STATE_VIOLATION"
	KindUnsupported    Kind = "UNSUPPORTED"
)

// Error carries a Kind, the operation that failed and an optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Cause)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by Kind and Message, so sentinels compare equal
// to wrapped copies carrying a different Op or Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || e.Message == t.Message)
}

// Sentinels.
var (
	ErrUnsupported   = &Error{Kind: KindUnsupported, Message: "capability not available on this platform"}
	ErrAlreadyActive = &Error{Kind: KindStateViolation, Message: "optimization already running"}
	ErrNotActive     = &Error{Kind: KindStateViolation, Message: "optimization not running"}
	ErrBaselineHeld  = &Error{Kind: KindStateViolation, Message: "baseline from an unstopped session still held"}
)

// Measurement wraps cause as a measurement failure of op.
func Measurement(op string, cause error) error {
	return wrap(KindMeasurement, op, cause)
}

// Apply wraps cause as an apply failure of op.
func Apply(op string, cause error) error {
	return wrap(KindApply, op, cause)
}

// Restore wraps cause as a restore failure of op.
func Restore(op string, cause error) error {
	return wrap(KindRestore, op, cause)
}

// Unsupported reports op as not implemented on the current platform.
func Unsupported(op string) error {
	return &Error{Kind: KindUnsupported, Op: op, Message: ErrUnsupported.Message}
}

func wrap(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) && e.Kind == KindUnsupported {
		return cause
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// IsKind reports whether any error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}
