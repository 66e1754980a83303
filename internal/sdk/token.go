// Package sdk provides core SDK interfaces shared by the credential and
// HTTP layers.
package sdk

import (
	"context"
	"os"
)

// TokenSource provides access tokens for API authentication.
// The HTTP layer depends on this interface rather than on a concrete
// credentials type.
type TokenSource interface {
	// CurrentToken returns the access token as currently resolved,
	// without refreshing. An empty string means no token is known.
	CurrentToken(ctx context.Context) (string, error)

	// ValidToken returns an access token, refreshing first when the
	// token is absent or expired.
	ValidToken(ctx context.Context) (string, error)

	// Refresh forces a refresh on behalf of a caller holding stale.
	// An empty stale means "refresh regardless".
	Refresh(ctx context.Context, stale string) (string, error)
}

// EnvTokenSource returns a bearer token from an environment variable.
// There is nothing to exchange, so Refresh only re-reads the variable.
type EnvTokenSource struct {
	EnvVar string              // Environment variable name (default: CDL_TOKEN)
	Getenv func(string) string // Lookup function (default: os.Getenv)
}

func (s *EnvTokenSource) token() (string, error) {
	envVar := s.EnvVar
	if envVar == "" {
		envVar = "CDL_TOKEN"
	}
	getenv := s.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	token := getenv(envVar)
	if token == "" {
		return "", &TokenError{Message: "environment variable " + envVar + " not set"}
	}
	return token, nil
}

// CurrentToken returns the token from the environment variable.
func (s *EnvTokenSource) CurrentToken(ctx context.Context) (string, error) {
	return s.token()
}

// ValidToken returns the token from the environment variable.
func (s *EnvTokenSource) ValidToken(ctx context.Context) (string, error) {
	return s.token()
}

// Refresh re-reads the environment; there is nothing to exchange.
func (s *EnvTokenSource) Refresh(ctx context.Context, stale string) (string, error) {
	return s.token()
}

// TokenError indicates a token sourcing error.
type TokenError struct {
	Message string
	Cause   error
}

func (e *TokenError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *TokenError) Unwrap() error {
	return e.Cause
}
