// Package errors provides SDK error types without CLI-specific hints.
// The CLI layer wraps these with user-facing hints.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an SDK failure.
type Kind string

// Error kinds. The string values are what the CLI prints.
const (
	KindConfiguration       Kind = "ConfigurationError"
	KindPartialCredentials  Kind = "PartialCredentialsError"
	KindTransport           Kind = "HTTPTransportError"
	KindHTTPStatus          Kind = "HTTPStatusError"
	KindJSONFormat          Kind = "JSONFormatError"
	KindServerReported      Kind = "ServerReportedError"
	KindRequiredParameter   Kind = "RequiredParameterError"
	KindUnexpectedParameter Kind = "UnexpectedParameterError"
	KindStore               Kind = "StoreError"
)

// Error is a structured error for SDK operations.
// Unlike output.Error, it does not contain CLI-specific hints.
type Error struct {
	Kind       Kind   // Failure class
	Message    string // Error message
	HTTPStatus int    // HTTP status code if applicable
	Reason     string // HTTP reason phrase if applicable
	Body       string // Response body if applicable
	Retryable  bool   // Whether the operation can be retried
	Cause      error  // Underlying error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind, so sentinel-style checks work:
// errors.Is(err, &Error{Kind: KindTransport}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Error constructors.

// ErrConfiguration creates a configuration error for bad constructor input.
func ErrConfiguration(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

// ErrConfigurationf creates a formatted configuration error.
func ErrConfigurationf(format string, args ...any) *Error {
	return ErrConfiguration(fmt.Sprintf(format, args...))
}

// ErrPartialCredentials creates a partial credentials error.
func ErrPartialCredentials(msg string) *Error {
	return &Error{Kind: KindPartialCredentials, Message: msg}
}

// ErrTransport wraps a network, DNS, or timeout failure.
func ErrTransport(cause error) *Error {
	return &Error{
		Kind:      KindTransport,
		Message:   cause.Error(),
		Retryable: true,
		Cause:     cause,
	}
}

// ErrHTTPStatus creates an error for a non-2xx response.
// The message has the form "<status> <reason>: <body>".
func ErrHTTPStatus(status int, reason, body string) *Error {
	return &Error{
		Kind:       KindHTTPStatus,
		Message:    fmt.Sprintf("%d %s: %s", status, reason, body),
		HTTPStatus: status,
		Reason:     reason,
		Body:       body,
		Retryable:  status == 429 || status >= 500,
	}
}

// ErrJSONFormat creates an error for a body that is not the JSON it claims to be,
// or that lacks a required field.
func ErrJSONFormat(msg string, cause error) *Error {
	return &Error{Kind: KindJSONFormat, Message: msg, Cause: cause}
}

// ErrInvalidJSON creates the JSONFormat error used for undecodable bodies.
func ErrInvalidJSON(cause error) *Error {
	return ErrJSONFormat("Invalid JSON: "+cause.Error(), cause)
}

// ErrServerReported passes a server-side error message through verbatim.
func ErrServerReported(msg string) *Error {
	return &Error{Kind: KindServerReported, Message: msg}
}

// ErrRequiredParameter reports a missing required parameter.
func ErrRequiredParameter(name string) *Error {
	return &Error{Kind: KindRequiredParameter, Message: fmt.Sprintf("%s is required", name)}
}

// ErrUnexpectedParameter reports parameters the callee does not accept.
func ErrUnexpectedParameter(names ...string) *Error {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return &Error{
		Kind:    KindUnexpectedParameter,
		Message: fmt.Sprintf("unexpected parameters: %s", strings.Join(sorted, ", ")),
	}
}

// ErrStore wraps a credential store failure.
func ErrStore(cause error) *Error {
	return &Error{
		Kind:    KindStore,
		Message: cause.Error(),
		Cause:   cause,
	}
}
