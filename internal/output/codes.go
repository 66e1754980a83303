// Package output renders API responses and errors for the CLI.
package output

// Exit codes. Every failure exits 1, including non-2xx responses.
const (
	ExitOK    = 0
	ExitError = 1
)

// Error codes, one per failure class.
const (
	CodeUsage     = "usage"
	CodeConfig    = "config"
	CodeAuth      = "auth_required"
	CodeNetwork   = "network"
	CodeHTTP      = "http_status"
	CodeFormat    = "format"
	CodeServer    = "server_error"
	CodeParameter = "parameter"
	CodeStore     = "store"
	CodeAPI       = "api_error"
)

// ExitCodeFor returns the exit code for an error code.
func ExitCodeFor(code string) int {
	if code == "" {
		return ExitOK
	}
	return ExitError
}
