// Package errors provides the error taxonomy shared by the catalog, the gateway
// bridge and the correlation writer. It combines a handling class (transient,
// invalid, fatal) with a domain kind that maps one-to-one onto API status codes.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind is the domain-level reason an operation failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindConflict
	KindNotFound
	KindAlreadyExists
	KindUnavailable
	KindMalformedMessage
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindUnavailable:
		return "unavailable"
	case KindMalformedMessage:
		return "malformed_message"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String; unknown names give KindUnknown.
func ParseKind(name string) Kind {
	for k := KindInvalidArgument; k <= KindMalformedMessage; k++ {
		if k.String() == name {
			return k
		}
	}
	return KindUnknown
}

// Sentinel errors, one per Kind. Match with errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConflict         = errors.New("conflict")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrUnavailable      = errors.New("unavailable")
	ErrMalformedMessage = errors.New("malformed message")
)

// Lifecycle and transport errors
var (
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrNoConnection   = errors.New("no connection available")
	ErrConnectionLost = errors.New("connection lost")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
)

var kindSentinels = map[Kind]error{
	KindInvalidArgument:  ErrInvalidArgument,
	KindConflict:         ErrConflict,
	KindNotFound:         ErrNotFound,
	KindAlreadyExists:    ErrAlreadyExists,
	KindUnavailable:      ErrUnavailable,
	KindMalformedMessage: ErrMalformedMessage,
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Kind      Kind
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	if ce.Err == nil {
		return ce.Kind.String()
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is reports a match against the sentinel of the error's Kind, so
// errors.Is(err, ErrConflict) holds for any conflict regardless of wrapping.
func (ce *ClassifiedError) Is(target error) bool {
	if s, ok := kindSentinels[ce.Kind]; ok && s == target {
		return true
	}
	return false
}

// New creates a classified error of the given kind. The message is formatted
// as "component.operation: message".
func New(kind Kind, component, operation, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &ClassifiedError{
		Class:     classForKind(kind),
		Kind:      kind,
		Err:       kindSentinels[kind],
		Message:   fmt.Sprintf("%s.%s: %s", component, operation, msg),
		Component: component,
		Operation: operation,
	}
}

// WithKind wraps err with a kind, keeping err in the chain.
func WithKind(err error, kind Kind, component, operation, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, operation, action)
	return &ClassifiedError{
		Class:     classForKind(kind),
		Kind:      kind,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: operation,
	}
}

func classForKind(kind Kind) ErrorClass {
	switch kind {
	case KindUnavailable:
		return ErrorTransient
	case KindUnknown:
		return ErrorFatal
	default:
		return ErrorInvalid
	}
}

// KindOf returns the domain kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.Kind != KindUnknown {
		return ce.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrConnectionLost) {
		return KindUnavailable
	}
	return KindUnknown
}

// HTTPStatus maps err to the status code used by the request/response APIs.
// A duplicate pole is a client error (400), not a conflict.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidArgument, KindMalformedMessage, KindAlreadyExists:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus is the client-side inverse of HTTPStatus. A 400 is reported
// as InvalidArgument because the status alone cannot tell it from a duplicate.
func FromHTTPStatus(status int, component, operation, body string) error {
	var kind Kind
	switch {
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		kind = KindInvalidArgument
	case status >= 500:
		kind = KindUnavailable
	default:
		kind = KindUnknown
	}
	body = strings.TrimSpace(body)
	if kind == KindUnknown {
		return WrapFatal(fmt.Errorf("unexpected status %d: %s", status, body), component, operation, "request")
	}
	return New(kind, component, operation, "status %d: %s", status, body)
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrMalformedMessage)
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Kind:      KindOf(err),
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	ce := newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
	if ce.Kind == KindUnknown {
		ce.Kind = KindUnavailable
	}
	return ce
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	ce := newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
	if ce.Kind == KindUnknown {
		ce.Kind = KindInvalidArgument
	}
	return ce
}

// Is, As and Join re-export the standard library helpers so callers can
// import a single errors package.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)
