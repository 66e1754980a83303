package output

import (
	"errors"
	"fmt"
	"net/http"

	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

// KindUsage labels command line errors.
const KindUsage = "UsageError"

// Error is a CLI error with a code, the failure kind and an optional hint.
type Error struct {
	Code       string
	Kind       string
	Message    string
	Hint       string
	HTTPStatus int
	Cause      error

	// Reported errors were already shown to the user and only set the
	// exit status.
	Reported bool
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the process exit code for e.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Kind: KindUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Kind: KindUsage, Message: msg, Hint: hint}
}

func ErrUsagef(format string, args ...any) *Error {
	return ErrUsage(fmt.Sprintf(format, args...))
}

// ErrStatus ends a command whose non-2xx response has already been printed.
func ErrStatus(status int) *Error {
	return &Error{
		Code:       CodeHTTP,
		Kind:       string(cdlerrors.KindHTTPStatus),
		Message:    fmt.Sprintf("%d %s", status, http.StatusText(status)),
		HTTPStatus: status,
		Reported:   true,
	}
}

var kindCodes = map[cdlerrors.Kind]string{
	cdlerrors.KindConfiguration:       CodeConfig,
	cdlerrors.KindPartialCredentials:  CodeAuth,
	cdlerrors.KindTransport:           CodeNetwork,
	cdlerrors.KindHTTPStatus:          CodeHTTP,
	cdlerrors.KindJSONFormat:          CodeFormat,
	cdlerrors.KindServerReported:      CodeServer,
	cdlerrors.KindRequiredParameter:   CodeParameter,
	cdlerrors.KindUnexpectedParameter: CodeParameter,
	cdlerrors.KindStore:               CodeStore,
}

// AsError converts err to an *Error, translating SDK errors and attaching
// hints for the common failures.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var sdkErr *cdlerrors.Error
	if !errors.As(err, &sdkErr) {
		return &Error{Code: CodeAPI, Kind: "Error", Message: err.Error(), Cause: err}
	}

	out := &Error{
		Code:       kindCodes[sdkErr.Kind],
		Kind:       string(sdkErr.Kind),
		Message:    sdkErr.Message,
		HTTPStatus: sdkErr.HTTPStatus,
		Cause:      err,
	}
	if out.Code == "" {
		out.Code = CodeAPI
	}
	switch sdkErr.Kind {
	case cdlerrors.KindPartialCredentials:
		out.Hint = "Set PAN_CLIENT_ID, PAN_CLIENT_SECRET and PAN_REFRESH_TOKEN, or run: cdl credentials write"
	case cdlerrors.KindTransport:
		out.Hint = "Check --url and network connectivity"
	case cdlerrors.KindStore:
		out.Hint = "Check --store-path or PAN_CREDENTIALS_DBFILE"
	case cdlerrors.KindHTTPStatus:
		if sdkErr.HTTPStatus == http.StatusUnauthorized {
			out.Hint = "Run: cdl credentials refresh"
		}
	}
	return out
}
