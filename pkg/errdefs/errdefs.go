// Package errdefs defines the error kinds used across the engine and
// their mapping to process exit codes.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for exit-code mapping and retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindAuth
	KindConnector
	KindProcessing
	KindInference
	KindProvider
	KindExport
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindConnector:
		return "connector"
	case KindProcessing:
		return "processing"
	case KindInference:
		return "inference"
	case KindProvider:
		return "provider"
	case KindExport:
		return "export"
	default:
		return "unknown"
	}
}

// Error is the common error carrier. StatusCode is populated for
// transport-level failures (HTTP status or provider equivalent).
type Error struct {
	kind       Kind
	msg        string
	cause      error
	StatusCode int
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func Config(format string, args ...any) *Error  { return newError(KindConfig, format, args...) }
func Auth(format string, args ...any) *Error    { return newError(KindAuth, format, args...) }
func Connector(format string, args ...any) *Error {
	return newError(KindConnector, format, args...)
}
func Processing(format string, args ...any) *Error {
	return newError(KindProcessing, format, args...)
}
func Inference(format string, args ...any) *Error {
	return newError(KindInference, format, args...)
}
func Provider(format string, args ...any) *Error { return newError(KindProvider, format, args...) }
func Export(format string, args ...any) *Error   { return newError(KindExport, format, args...) }

func WrapConfig(cause error, format string, args ...any) *Error {
	return wrapError(KindConfig, cause, format, args...)
}

func WrapConnector(cause error, format string, args ...any) *Error {
	return wrapError(KindConnector, cause, format, args...)
}

func WrapProcessing(cause error, format string, args ...any) *Error {
	return wrapError(KindProcessing, cause, format, args...)
}

func WrapInference(cause error, format string, args ...any) *Error {
	return wrapError(KindInference, cause, format, args...)
}

func WrapExport(cause error, format string, args ...any) *Error {
	return wrapError(KindExport, cause, format, args...)
}

// InferenceWithStatus builds an inference error carrying a transport
// status code for the retry predicate and streaming fallback reasons.
func InferenceWithStatus(status int, format string, args ...any) *Error {
	e := newError(KindInference, format, args...)
	e.StatusCode = status
	return e
}

// ProviderWithStatus builds a provider-capability error. Capability
// errors are terminal regardless of continue-on-error settings.
func ProviderWithStatus(status int, format string, args ...any) *Error {
	e := newError(KindProvider, format, args...)
	e.StatusCode = status
	return e
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

func IsConfig(err error) bool     { return kindOf(err) == KindConfig }
func IsAuth(err error) bool       { return kindOf(err) == KindAuth }
func IsConnector(err error) bool  { return kindOf(err) == KindConnector }
func IsProcessing(err error) bool { return kindOf(err) == KindProcessing }
func IsInference(err error) bool  { return kindOf(err) == KindInference }
func IsProvider(err error) bool   { return kindOf(err) == KindProvider }
func IsExport(err error) bool     { return kindOf(err) == KindExport }

// StatusCode extracts the transport status code from an error chain,
// or 0 when none is recorded.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// ExitCode maps an error to the process exit code contract:
// 0 ok, 1 generic, 2 config, 3 auth, 4 connector, 5 processing,
// 6 inference/provider, 7 export.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch kindOf(err) {
	case KindConfig:
		return 2
	case KindAuth:
		return 3
	case KindConnector:
		return 4
	case KindProcessing:
		return 5
	case KindInference, KindProvider:
		return 6
	case KindExport:
		return 7
	default:
		return 1
	}
}
