// Package auth resolves, refreshes and revokes Cortex Data Lake OAuth2
// credentials.
package auth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/sdk"
)

// Endpoint defaults.
const (
	DefaultTokenURL               = "https://api.paloaltonetworks.com"
	DefaultAuthBaseURL            = "https://identity.paloaltonetworks.com/as/authorization.oauth2"
	DefaultDeveloperTokenProvider = "https://app.apiexplorer.rocks/request_token"
	DefaultProfile                = "default"

	requestTokenPath = "/api/oauth2/RequestToken"
	revokeTokenPath  = "/api/oauth2/RevokeToken"

	developerTokenTimeout = 30 * time.Second
)

// Environment variables consulted besides the per-field PAN_* names.
const (
	EnvDeveloperToken         = "PAN_DEVELOPER_TOKEN"
	EnvDeveloperTokenProvider = "PAN_DEVELOPER_TOKEN_PROVIDER"
)

// Precedence selects how instance, environment and store tiers combine.
type Precedence int

const (
	// PrecedenceAllOrNothing: any instance value disables the lower tiers
	// for every field, and any PAN_* credential variable selects the
	// environment tier for every field.
	PrecedenceAllOrNothing Precedence = iota

	// PrecedencePerField: each field falls through instance, environment
	// and store independently.
	PrecedencePerField
)

func (p Precedence) String() string {
	switch p {
	case PrecedenceAllOrNothing:
		return "all-or-nothing"
	case PrecedencePerField:
		return "per-field"
	}
	return fmt.Sprintf("Precedence(%d)", int(p))
}

// ParsePrecedence parses a precedence name.
func ParsePrecedence(s string) (Precedence, error) {
	switch s {
	case "", "all-or-nothing":
		return PrecedenceAllOrNothing, nil
	case "per-field":
		return PrecedencePerField, nil
	}
	return 0, fmt.Errorf("unknown precedence %q (want all-or-nothing or per-field)", s)
}

// RefreshMode selects what a caller sees when a refresh is already in flight.
type RefreshMode int

const (
	// RefreshWait blocks until the in-flight refresh finishes and returns its token.
	RefreshWait RefreshMode = iota

	// RefreshDrop returns "" immediately without a network call.
	RefreshDrop
)

func (m RefreshMode) String() string {
	switch m {
	case RefreshWait:
		return "wait"
	case RefreshDrop:
		return "drop"
	}
	return fmt.Sprintf("RefreshMode(%d)", int(m))
}

// ParseRefreshMode parses a refresh mode name.
func ParseRefreshMode(s string) (RefreshMode, error) {
	switch s {
	case "", "wait":
		return RefreshWait, nil
	case "drop":
		return RefreshDrop, nil
	}
	return 0, fmt.Errorf("unknown refresh mode %q (want wait or drop)", s)
}

// Options configures Credentials. Empty strings mean "not supplied".
type Options struct {
	AccessToken  string
	ClientID     string
	ClientSecret string
	RefreshToken string

	DeveloperToken         string
	DeveloperTokenProvider string `validate:"omitempty,url"`

	AuthBaseURL string `validate:"omitempty,url"`
	TokenURL    string `validate:"omitempty,url"`

	InstanceID  string
	Profile     string
	RedirectURI string `validate:"omitempty,url"`
	Region      string
	Scope       string

	// CacheToken persists and resolves the access token through lower
	// tiers. nil means true.
	CacheToken *bool

	Precedence  Precedence  `validate:"min=0,max=1"`
	RefreshMode RefreshMode `validate:"min=0,max=1"`

	// Store defaults to the file store at its default location.
	Store sdk.CredentialStore `validate:"-"`

	// Client sends token endpoint requests. Requests are always sent
	// without the client's own credentials.
	Client *api.Client `validate:"-"`

	Getenv func(string) string `validate:"-"`
	Now    func() time.Time    `validate:"-"`
	Logger *slog.Logger        `validate:"-"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())
