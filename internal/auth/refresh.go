package auth

import (
	"context"
	"net/http"

	"github.com/samber/lo"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/hostutil"
	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

// CurrentToken returns the resolved access token without refreshing.
func (c *Credentials) CurrentToken(ctx context.Context) (string, error) {
	return c.AccessToken()
}

// ValidToken returns the access token, refreshing first when it is absent
// or its JWT has expired.
func (c *Credentials) ValidToken(ctx context.Context) (string, error) {
	token, err := c.AccessToken()
	if err != nil {
		return "", err
	}
	if token != "" {
		expired, err := c.JWTIsExpired(token, 0)
		if err != nil {
			return "", err
		}
		if !expired {
			return token, nil
		}
		c.logger.Debug("access token expired, refreshing", "profile", c.profile)
	} else {
		c.logger.Debug("no access token, refreshing", "profile", c.profile)
	}

	fresh, err := c.refresh(ctx, token, false)
	if err != nil {
		return "", err
	}
	if fresh == "" {
		return c.AccessToken()
	}
	return fresh, nil
}

// Refresh exchanges credentials for a new access token on behalf of a
// caller holding stale. An empty stale refreshes unconditionally.
//
// A caller whose stale token no longer matches the current one is skipped.
// In RefreshWait mode skipped and concurrent callers receive the current
// token; in RefreshDrop mode they receive "" with no error.
func (c *Credentials) Refresh(ctx context.Context, stale string) (string, error) {
	return c.refresh(ctx, stale, stale == "")
}

func (c *Credentials) refresh(ctx context.Context, stale string, force bool) (string, error) {
	if c.refreshMode == RefreshDrop {
		if !c.refreshMu.TryLock() {
			c.logger.Debug("refresh in flight, dropping request", "profile", c.profile)
			return "", nil
		}
		defer c.refreshMu.Unlock()
		if !force && !c.matchesCurrent(stale) {
			return "", nil
		}
		return c.refreshLocked(ctx)
	}

	if !force && !c.matchesCurrent(stale) {
		c.logger.Debug("stale token already refreshed", "profile", c.profile)
		return c.AccessToken()
	}

	ch := c.group.DoChan("refresh", func() (any, error) {
		c.refreshMu.Lock()
		defer c.refreshMu.Unlock()
		if !force && !c.matchesCurrent(stale) {
			return c.AccessToken()
		}
		return c.refreshLocked(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Credentials) matchesCurrent(token string) bool {
	current, err := c.AccessToken()
	if err != nil {
		return false
	}
	return current == token
}

// refreshLocked performs the exchange. Caller must hold refreshMu.
func (c *Credentials) refreshLocked(ctx context.Context) (string, error) {
	resp, err := c.requestNewToken(ctx)
	if err != nil {
		return "", err
	}
	body, err := tokenResponse(resp)
	if err != nil {
		return "", err
	}

	access := stringField(body, "access_token")
	exp, err := DecodeExp(access)
	if err != nil {
		return "", err
	}
	c.setTokens(access, exp, stringField(body, "refresh_token"))

	if _, err := c.WriteCredentials(); err != nil {
		return "", err
	}
	c.logger.Debug("access token refreshed", "profile", c.profile, "exp", exp)
	return access, nil
}

func (c *Credentials) useDeveloperToken() bool {
	return c.DeveloperToken() != "" && c.getenv("PAN_ACCESS_TOKEN") == "" && !c.foundInInstance
}

func (c *Credentials) requestNewToken(ctx context.Context) (*api.Response, error) {
	if c.useDeveloperToken() {
		origin, path, err := hostutil.SplitOrigin(c.DeveloperTokenProvider())
		if err != nil {
			return nil, cdlerrors.ErrConfigurationf("invalid developer token provider: %v", err)
		}
		return c.client.Send(ctx, api.Request{
			Method:         http.MethodPost,
			URL:            origin,
			Endpoint:       path,
			Headers:        map[string]string{"Authorization": "Bearer " + c.DeveloperToken()},
			Timeout:        developerTokenTimeout,
			Anonymous:      true,
			RaiseForStatus: lo.ToPtr(true),
		})
	}

	snap, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	if snap.ClientID == "" || snap.ClientSecret == "" || snap.RefreshToken == "" {
		return nil, cdlerrors.ErrPartialCredentials("Missing one or more required credentials")
	}
	return c.tokenEndpoint(ctx, requestTokenPath, map[string]string{
		"client_id":     snap.ClientID,
		"client_secret": snap.ClientSecret,
		"refresh_token": snap.RefreshToken,
		"grant_type":    "refresh_token",
	})
}

func (c *Credentials) tokenEndpoint(ctx context.Context, path string, body map[string]string) (*api.Response, error) {
	return c.client.Send(ctx, api.Request{
		Method:    http.MethodPost,
		URL:       c.tokenURL,
		Endpoint:  path,
		Body:      body,
		Anonymous: true,
	})
}

// tokenResponse applies the shared token endpoint error contract.
func tokenResponse(resp *api.Response) (map[string]any, error) {
	if err := resp.StatusError(); err != nil {
		return nil, err
	}
	body, err := resp.JSON()
	if err != nil {
		return nil, err
	}
	if err := resp.ServerError(); err != nil {
		return nil, err
	}
	return body, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
