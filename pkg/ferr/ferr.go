// Package ferr defines Forge3D's error taxonomy: a closed set of kinds
// (not type names) that every layer of the orchestrator maps its
// failures onto, so the API surface can translate any error into the
// right HTTP status without inspecting strings.
package ferr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error classes from spec section 7. It is the unit
// every layer reasons about; nothing outside this package should invent
// a new one.
type Kind string

const (
	KindInvalidArgument   Kind = "invalid_argument"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindBusy              Kind = "busy"
	KindBridgeUnavailable Kind = "bridge_unavailable"
	KindPayloadTooLarge   Kind = "payload_too_large"
	KindTimeout           Kind = "timeout"
	KindPathViolation     Kind = "path_violation"
	KindFatal             Kind = "fatal"
)

// Error is a Kind plus a caller-facing message and an optional wrapped
// cause for logs. Callers should construct these with the helpers below
// rather than the struct literal, to keep the Kind set closed in
// practice.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new_(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func InvalidArgument(msg string) *Error          { return new_(KindInvalidArgument, msg, nil) }
func InvalidArgumentf(f string, a ...any) *Error { return new_(KindInvalidArgument, fmt.Sprintf(f, a...), nil) }
func NotFound(msg string) *Error                 { return new_(KindNotFound, msg, nil) }
func NotFoundf(f string, a ...any) *Error        { return new_(KindNotFound, fmt.Sprintf(f, a...), nil) }
func Conflict(msg string) *Error                 { return new_(KindConflict, msg, nil) }
func Busy(msg string, cause error) *Error        { return new_(KindBusy, msg, cause) }
func BridgeUnavailable(msg string) *Error        { return new_(KindBridgeUnavailable, msg, nil) }
func PayloadTooLarge(msg string) *Error          { return new_(KindPayloadTooLarge, msg, nil) }
func Timeout(msg string) *Error                  { return new_(KindTimeout, msg, nil) }
func PathViolation(msg string) *Error            { return new_(KindPathViolation, msg, nil) }
func Fatal(msg string, cause error) *Error       { return new_(KindFatal, msg, cause) }

// Wrap attaches a kind to an arbitrary error without discarding it.
func Wrap(kind Kind, msg string, cause error) *Error {
	return new_(kind, msg, cause)
}

// As extracts the *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindFatal if err does not carry one
// — an untyped error reaching the API boundary is treated as a bug, not
// an expected condition.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return KindFatal
}

// HTTPStatus maps a Kind to the status code spec section 7 assigns it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusBadRequest
	case KindBusy:
		return http.StatusServiceUnavailable
	case KindBridgeUnavailable:
		return http.StatusServiceUnavailable
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindPathViolation:
		return http.StatusInternalServerError
	case KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
