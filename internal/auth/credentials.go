package auth

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/credstore"
	"github.com/cortexlake/cdl/internal/sdk"
	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

// Verify Credentials implements sdk.TokenSource at compile time.
var _ sdk.TokenSource = (*Credentials)(nil)

// Credentials holds the live credential set for one profile and
// coordinates token refreshes for everyone sharing it.
type Credentials struct {
	mu           sync.RWMutex
	accessToken  string
	clientID     string
	clientSecret string
	refreshToken string
	jwtExp       int64
	state        string

	developerToken         string
	developerTokenProvider string
	authBaseURL            string
	tokenURL               string
	instanceID             string
	profile                string
	redirectURI            string
	region                 string
	scope                  string
	cacheToken             bool

	foundInInstance bool
	precedence      Precedence
	refreshMode     RefreshMode

	store  sdk.CredentialStore
	client *api.Client
	getenv func(string) string
	now    func() time.Time
	logger *slog.Logger

	// refreshMu serializes refreshes; group lets waiters share one.
	refreshMu sync.Mutex
	group     singleflight.Group
}

// New creates Credentials from opts.
func New(opts Options) (*Credentials, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, cdlerrors.ErrConfigurationf("invalid credentials options: %v", err)
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store := opts.Store
	if store == nil {
		fs := credstore.NewFileStore(credstore.Params{Getenv: getenv, Logger: logger})
		if err := fs.Init(); err != nil {
			return nil, err
		}
		store = fs
	}

	client := opts.Client
	if client == nil {
		var err error
		if client, err = api.NewClient(api.Options{Logger: logger}); err != nil {
			return nil, err
		}
	}

	return &Credentials{
		accessToken:            opts.AccessToken,
		clientID:               opts.ClientID,
		clientSecret:           opts.ClientSecret,
		refreshToken:           opts.RefreshToken,
		developerToken:         opts.DeveloperToken,
		developerTokenProvider: opts.DeveloperTokenProvider,
		authBaseURL:            lo.CoalesceOrEmpty(opts.AuthBaseURL, DefaultAuthBaseURL),
		tokenURL:               lo.CoalesceOrEmpty(opts.TokenURL, DefaultTokenURL),
		instanceID:             opts.InstanceID,
		profile:                lo.CoalesceOrEmpty(opts.Profile, DefaultProfile),
		redirectURI:            opts.RedirectURI,
		region:                 opts.Region,
		scope:                  opts.Scope,
		cacheToken:             lo.FromPtrOr(opts.CacheToken, true),
		foundInInstance: lo.SomeBy([]string{opts.AccessToken, opts.ClientID, opts.ClientSecret, opts.RefreshToken},
			func(s string) bool { return s != "" }),
		precedence:  opts.Precedence,
		refreshMode: opts.RefreshMode,
		store:       store,
		client:      client,
		getenv:      getenv,
		now:         now,
		logger:      logger,
	}, nil
}

// Profile returns the credential profile name.
func (c *Credentials) Profile() string { return c.profile }

// CacheToken reports whether the access token is persisted and resolved
// through lower tiers.
func (c *Credentials) CacheToken() bool { return c.cacheToken }

// Store returns the backing credential store.
func (c *Credentials) Store() sdk.CredentialStore { return c.store }

// State returns the state of the last generated authorization URL.
func (c *Credentials) State() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Credentials) resolver() Resolver {
	return Resolver{
		Mode:        c.precedence,
		AnyInstance: c.foundInInstance,
		Getenv:      c.getenv,
		Store: func(f sdk.Field) (string, error) {
			return c.store.FetchCredential(f, c.profile)
		},
	}
}

func (c *Credentials) instance(f sdk.Field) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch f {
	case sdk.FieldAccessToken:
		return c.accessToken
	case sdk.FieldClientID:
		return c.clientID
	case sdk.FieldClientSecret:
		return c.clientSecret
	case sdk.FieldRefreshToken:
		return c.refreshToken
	}
	return ""
}

// Resolve returns the authoritative value of field, or "" when absent.
// The access token only consults lower tiers when token caching is on.
func (c *Credentials) Resolve(field sdk.Field) (string, error) {
	v := c.instance(field)
	if field == sdk.FieldAccessToken && !c.cacheToken {
		return v, nil
	}
	return c.resolver().Resolve(field, v)
}

// AccessToken resolves the access token.
func (c *Credentials) AccessToken() (string, error) { return c.Resolve(sdk.FieldAccessToken) }

// ClientID resolves the client ID.
func (c *Credentials) ClientID() (string, error) { return c.Resolve(sdk.FieldClientID) }

// ClientSecret resolves the client secret.
func (c *Credentials) ClientSecret() (string, error) { return c.Resolve(sdk.FieldClientSecret) }

// RefreshToken resolves the refresh token.
func (c *Credentials) RefreshToken() (string, error) { return c.Resolve(sdk.FieldRefreshToken) }

// DeveloperToken returns the instance developer token or PAN_DEVELOPER_TOKEN.
func (c *Credentials) DeveloperToken() string {
	return lo.CoalesceOrEmpty(c.developerToken, c.getenv(EnvDeveloperToken))
}

// DeveloperTokenProvider returns the developer token exchange URL.
func (c *Credentials) DeveloperTokenProvider() string {
	return lo.CoalesceOrEmpty(c.developerTokenProvider, c.getenv(EnvDeveloperTokenProvider), DefaultDeveloperTokenProvider)
}

// Snapshot resolves all four fields.
func (c *Credentials) Snapshot() (sdk.Snapshot, error) {
	var snap sdk.Snapshot
	for _, f := range sdk.Fields {
		v, err := c.Resolve(f)
		if err != nil {
			return sdk.Snapshot{}, err
		}
		switch f {
		case sdk.FieldAccessToken:
			snap.AccessToken = v
		case sdk.FieldClientID:
			snap.ClientID = v
		case sdk.FieldClientSecret:
			snap.ClientSecret = v
		case sdk.FieldRefreshToken:
			snap.RefreshToken = v
		}
	}
	return snap, nil
}

// WriteCredentials persists the resolved credentials under the profile.
func (c *Credentials) WriteCredentials() (int, error) {
	snap, err := c.Snapshot()
	if err != nil {
		return 0, err
	}
	return c.store.WriteCredentials(snap, c.profile, c.cacheToken)
}

// RemoveProfile deletes profile from the store.
func (c *Credentials) RemoveProfile(profile string) (int, error) {
	return c.store.RemoveProfile(profile)
}

func (c *Credentials) setTokens(access string, exp int64, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = access
	c.jwtExp = exp
	if refresh != "" {
		c.refreshToken = refresh
	}
}

// String masks secrets.
func (c *Credentials) String() string {
	mask := func(s string) string {
		if s == "" {
			return "<nil>"
		}
		return "******"
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	fields := []string{
		"access_token=" + mask(c.accessToken),
		"client_id=" + lo.CoalesceOrEmpty(c.clientID, "<nil>"),
		"client_secret=" + mask(c.clientSecret),
		"refresh_token=" + mask(c.refreshToken),
		"developer_token=" + mask(c.developerToken),
		"profile=" + c.profile,
		"token_url=" + c.tokenURL,
		fmt.Sprintf("cache_token=%t", c.cacheToken),
		"precedence=" + c.precedence.String(),
		"refresh_mode=" + c.refreshMode.String(),
	}
	return "Credentials(" + strings.Join(fields, ", ") + ")"
}
