package errors

import (
	"errors"
	"fmt"
)

// Class represents how an error should be handled by the session.
type Class int

const (
	// ClassTransient represents temporary errors that may be retried.
	ClassTransient Class = iota
	// ClassInvalid represents errors due to invalid input or configuration.
	ClassInvalid
	// ClassFatal represents unrecoverable errors that end the session.
	ClassFatal
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors for the pipeline's four error families.
var (
	// Transport errors. Terminal for the session.
	ErrTransport         = errors.New("transport failure")
	ErrConnectTimeout    = errors.New("connection establishment timed out")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrSignalingRejected = errors.New("signaling exchange rejected")

	// Protocol errors. Terminal for the session.
	ErrProtocol        = errors.New("protocol violation")
	ErrMalformedEvent  = errors.New("malformed provider event")
	ErrUnexpectedEvent = errors.New("unexpected provider event")

	// Match errors. Fatal and fail-fast.
	ErrCatalogEmpty       = errors.New("menu catalog is empty")
	ErrCatalogUnavailable = errors.New("menu catalog unavailable")

	// Submission errors. Recoverable; the draft is preserved.
	ErrSubmissionFailed   = errors.New("order submission failed")
	ErrSubmissionRejected = errors.New("order submission rejected")

	// Credential errors.
	ErrCredentialsUnavailable = errors.New("session credentials unavailable")
)

// ClassifiedError wraps an error with its handling class and the component
// context where it occurred.
type ClassifiedError struct {
	Class     Class
	Err       error
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient reports whether an error may be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassTransient
	}
	return errors.Is(err, ErrSubmissionFailed) ||
		errors.Is(err, ErrCredentialsUnavailable)
}

// IsFatal reports whether an error ends the session.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassFatal
	}
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrConnectTimeout) ||
		errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, ErrCatalogEmpty) ||
		errors.Is(err, ErrCatalogUnavailable)
}

// IsInvalid reports whether an error is due to invalid input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassInvalid
	}
	return errors.Is(err, ErrSubmissionRejected)
}

// IsMatchError reports whether an error comes from the menu-catalog family.
// Callers use this to distinguish "the catalog itself is unusable" from a
// per-item unmatched outcome, which is never reported as an error.
func IsMatchError(err error) bool {
	return errors.Is(err, ErrCatalogEmpty) || errors.Is(err, ErrCatalogUnavailable)
}

// Classify returns the handling class for an error.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassTransient
	case IsFatal(err):
		return ClassFatal
	case IsInvalid(err):
		return ClassInvalid
	default:
		return ClassTransient
	}
}

// Wrap creates a standardized error with context following the pattern
// "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func newClassified(class Class, err error, component, method, action string) error {
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ClassTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ClassFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context.
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ClassInvalid, err, component, method, action)
}

// Re-exported standard library helpers so callers only import one errors
// package.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }
