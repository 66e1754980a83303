package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
)

// AuthorizationRequest overrides the values used to build an authorization URL.
type AuthorizationRequest struct {
	ClientID    string
	InstanceID  string
	RedirectURI string
	Region      string
	Scope       string
	State       string
}

// AuthorizationURL builds the identity provider URL that starts the
// authorization-code flow. The state defaults to a random UUID and is
// remembered on c.
func (c *Credentials) AuthorizationURL(req AuthorizationRequest) (string, string, error) {
	clientID := req.ClientID
	if clientID == "" {
		var err error
		if clientID, err = c.ClientID(); err != nil {
			return "", "", err
		}
	}
	state := lo.CoalesceOrEmpty(req.State, uuid.NewString())
	scope := lo.CoalesceOrEmpty(req.Scope, c.scope)

	cfg := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: lo.CoalesceOrEmpty(req.RedirectURI, c.redirectURI),
		Scopes:      lo.Compact([]string{scope}),
		Endpoint:    oauth2.Endpoint{AuthURL: c.authBaseURL},
	}
	var opts []oauth2.AuthCodeOption
	if v := lo.CoalesceOrEmpty(req.InstanceID, c.instanceID); v != "" {
		opts = append(opts, oauth2.SetAuthURLParam("instance_id", v))
	}
	if v := lo.CoalesceOrEmpty(req.Region, c.region); v != "" {
		opts = append(opts, oauth2.SetAuthURLParam("region", v))
	}

	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	return cfg.AuthCodeURL(state, opts...), state, nil
}

// FetchTokensRequest carries an authorization code to exchange.
type FetchTokensRequest struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
}

// FetchTokens exchanges an authorization code for tokens, stores them on c
// and persists the profile.
func (c *Credentials) FetchTokens(ctx context.Context, req FetchTokensRequest) (map[string]any, error) {
	clientID, clientSecret := req.ClientID, req.ClientSecret
	var err error
	if clientID == "" {
		if clientID, err = c.ClientID(); err != nil {
			return nil, err
		}
	}
	if clientSecret == "" {
		if clientSecret, err = c.ClientSecret(); err != nil {
			return nil, err
		}
	}

	resp, err := c.tokenEndpoint(ctx, requestTokenPath, map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     clientID,
		"client_secret": clientSecret,
		"code":          req.Code,
		"redirect_uri":  lo.CoalesceOrEmpty(req.RedirectURI, c.redirectURI),
	})
	if err != nil {
		return nil, err
	}
	body, err := tokenResponse(resp)
	if err != nil {
		return nil, err
	}

	access := stringField(body, "access_token")
	exp, err := DecodeExp(access)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.accessToken = access
	c.jwtExp = exp
	c.refreshToken = stringField(body, "refresh_token")
	if req.ClientID != "" {
		c.clientID = req.ClientID
	}
	if req.ClientSecret != "" {
		c.clientSecret = req.ClientSecret
	}
	c.mu.Unlock()

	if _, err := c.WriteCredentials(); err != nil {
		return nil, err
	}
	return body, nil
}

// RevokeAccessToken revokes the current access token.
func (c *Credentials) RevokeAccessToken(ctx context.Context) (map[string]any, error) {
	token, err := c.AccessToken()
	if err != nil {
		return nil, err
	}
	return c.revoke(ctx, token, "access_token")
}

// RevokeRefreshToken revokes the current refresh token.
func (c *Credentials) RevokeRefreshToken(ctx context.Context) (map[string]any, error) {
	token, err := c.RefreshToken()
	if err != nil {
		return nil, err
	}
	return c.revoke(ctx, token, "refresh_token")
}

func (c *Credentials) revoke(ctx context.Context, token, hint string) (map[string]any, error) {
	snap, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	resp, err := c.tokenEndpoint(ctx, revokeTokenPath, map[string]string{
		"client_id":       snap.ClientID,
		"client_secret":   snap.ClientSecret,
		"token":           token,
		"token_type_hint": hint,
	})
	if err != nil {
		return nil, err
	}
	return tokenResponse(resp)
}

// TokenSource adapts c for golang.org/x/oauth2 consumers.
func (c *Credentials) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &oauthSource{ctx: ctx, creds: c}
}

type oauthSource struct {
	ctx   context.Context
	creds *Credentials
}

func (s *oauthSource) Token() (*oauth2.Token, error) {
	token, err := s.creds.ValidToken(s.ctx)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
	if exp, err := DecodeExp(token); err == nil {
		tok.Expiry = time.Unix(exp, 0)
	}
	return tok, nil
}
