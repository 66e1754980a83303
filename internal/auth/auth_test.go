package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/credstore"
	"github.com/cortexlake/cdl/internal/sdk"
	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

func makeJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func futureJWT(t *testing.T) string {
	return makeJWT(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
}

func envFunc(env map[string]string) func(string) string {
	return func(k string) string { return env[k] }
}

// tokenServer counts requests and records the last decoded JSON body.
type tokenServer struct {
	*httptest.Server
	calls    atomic.Int32
	mu       sync.Mutex
	lastPath string
	lastBody map[string]string
	lastAuth string
}

func newTokenServer(t *testing.T, handler http.HandlerFunc) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		ts.mu.Lock()
		ts.lastPath = r.URL.Path
		ts.lastBody = body
		ts.lastAuth = r.Header.Get("Authorization")
		ts.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func jsonHandler(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
}

func newCreds(t *testing.T, opts Options) *Credentials {
	t.Helper()
	if opts.Store == nil {
		opts.Store = credstore.NewMemoryStore()
	}
	if opts.Getenv == nil {
		opts.Getenv = envFunc(nil)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestResolverAllOrNothing(t *testing.T) {
	env := envFunc(map[string]string{"PAN_CLIENT_SECRET": "env-secret"})
	store := func(f sdk.Field) (string, error) { return "store-" + string(f), nil }

	// Instance value disables every lower tier.
	r := Resolver{AnyInstance: true, Getenv: env, Store: store}
	v, err := r.Resolve(sdk.FieldClientSecret, "")
	require.NoError(t, err)
	assert.Empty(t, v)

	// Any PAN_* variable selects the env tier with no store fallthrough.
	r = Resolver{Getenv: env, Store: store}
	v, err = r.Resolve(sdk.FieldClientSecret, "")
	require.NoError(t, err)
	assert.Equal(t, "env-secret", v)
	v, err = r.Resolve(sdk.FieldRefreshToken, "")
	require.NoError(t, err)
	assert.Empty(t, v)

	// No instance or env: store.
	r = Resolver{Getenv: envFunc(nil), Store: store}
	v, err = r.Resolve(sdk.FieldRefreshToken, "")
	require.NoError(t, err)
	assert.Equal(t, "store-refresh_token", v)
}

func TestResolverPerField(t *testing.T) {
	env := envFunc(map[string]string{"PAN_CLIENT_SECRET": "env-secret"})
	store := func(f sdk.Field) (string, error) { return "store-" + string(f), nil }
	r := Resolver{Mode: PrecedencePerField, AnyInstance: true, Getenv: env, Store: store}

	v, _ := r.Resolve(sdk.FieldClientID, "inst")
	assert.Equal(t, "inst", v)
	v, _ = r.Resolve(sdk.FieldClientSecret, "")
	assert.Equal(t, "env-secret", v)
	v, _ = r.Resolve(sdk.FieldRefreshToken, "")
	assert.Equal(t, "store-refresh_token", v)
}

func TestInstanceClientIDSuppressesLowerTiers(t *testing.T) {
	store := credstore.NewMemoryStore()
	_, err := store.WriteCredentials(sdk.Snapshot{ClientID: "s", ClientSecret: "s", RefreshToken: "s"}, "default", false)
	require.NoError(t, err)

	c := newCreds(t, Options{
		ClientID: "a",
		Store:    store,
		Getenv:   envFunc(map[string]string{"PAN_CLIENT_SECRET": "e", "PAN_REFRESH_TOKEN": "e"}),
	})

	secret, err := c.ClientSecret()
	require.NoError(t, err)
	assert.Empty(t, secret)
	rt, err := c.RefreshToken()
	require.NoError(t, err)
	assert.Empty(t, rt)
}

func TestCacheTokenFalse(t *testing.T) {
	store := credstore.NewMemoryStore()
	_, err := store.WriteCredentials(sdk.Snapshot{AccessToken: "stored", ClientID: "a"}, "default", true)
	require.NoError(t, err)

	c := newCreds(t, Options{
		CacheToken: lo.ToPtr(false),
		Store:      store,
		Getenv:     envFunc(map[string]string{"PAN_ACCESS_TOKEN": "env"}),
	})
	token, err := c.AccessToken()
	require.NoError(t, err)
	assert.Empty(t, token)

	c = newCreds(t, Options{AccessToken: "inst", ClientID: "a", CacheToken: lo.ToPtr(false), Store: store})
	_, err = c.WriteCredentials()
	require.NoError(t, err)
	stored, err := store.FetchCredential(sdk.FieldAccessToken, "default")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRefreshEndToEnd(t *testing.T) {
	token := futureJWT(t)
	srv := newTokenServer(t, jsonHandler(200, map[string]string{"access_token": token}))
	store := credstore.NewMemoryStore()

	c := newCreds(t, Options{ClientID: "a", ClientSecret: "b", RefreshToken: "c", TokenURL: srv.URL, Store: store})

	got, err := c.Refresh(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, token, got)

	expired, err := c.JWTIsExpired("", 0)
	require.NoError(t, err)
	assert.False(t, expired)

	assert.Equal(t, "/api/oauth2/RequestToken", srv.lastPath)
	assert.Equal(t, map[string]string{
		"client_id":     "a",
		"client_secret": "b",
		"refresh_token": "c",
		"grant_type":    "refresh_token",
	}, srv.lastBody)

	// Refresh token not rotated; profile persisted.
	rt, err := store.FetchCredential(sdk.FieldRefreshToken, "default")
	require.NoError(t, err)
	assert.Equal(t, "c", rt)
	at, err := store.FetchCredential(sdk.FieldAccessToken, "default")
	require.NoError(t, err)
	assert.Equal(t, token, at)
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	srv := newTokenServer(t, jsonHandler(200, map[string]string{
		"access_token":  futureJWT(t),
		"refresh_token": "rotated",
	}))
	c := newCreds(t, Options{ClientID: "a", ClientSecret: "b", RefreshToken: "c", TokenURL: srv.URL})

	_, err := c.Refresh(context.Background(), "")
	require.NoError(t, err)
	rt, err := c.RefreshToken()
	require.NoError(t, err)
	assert.Equal(t, "rotated", rt)
}

func TestRefreshPartialCredentials(t *testing.T) {
	c := newCreds(t, Options{ClientID: "a", ClientSecret: "b"})

	_, err := c.Refresh(context.Background(), "")
	require.Error(t, err)
	assert.True(t, cdlerrors.IsKind(err, cdlerrors.KindPartialCredentials))
	assert.Equal(t, "Missing one or more required credentials", err.Error())
}

func TestRefreshErrorContract(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    cdlerrors.Kind
		message string
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant"}`))
			},
			kind:    cdlerrors.KindHTTPStatus,
			message: `400 Bad Request: {"error":"invalid_grant"}`,
		},
		{
			name: "malformed JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
			kind: cdlerrors.KindJSONFormat,
		},
		{
			name: "error field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"error_description":"refresh token revoked"}`))
			},
			kind:    cdlerrors.KindServerReported,
			message: `{"error_description":"refresh token revoked"}`,
		},
		{
			name: "missing exp",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"access_token": makeJWT(t, jwt.MapClaims{"sub": "x"})})
			},
			kind:    cdlerrors.KindJSONFormat,
			message: "No exp field found in payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTokenServer(t, tt.handler)
			c := newCreds(t, Options{ClientID: "a", ClientSecret: "b", RefreshToken: "c", TokenURL: srv.URL})

			_, err := c.Refresh(context.Background(), "")
			require.Error(t, err)
			assert.True(t, cdlerrors.IsKind(err, tt.kind), "got %v", err)
			if tt.message != "" {
				assert.Equal(t, tt.message, err.Error())
			}
		})
	}
}

func TestRefreshDropModeCoalesces(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	token := futureJWT(t)
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		json.NewEncoder(w).Encode(map[string]string{"access_token": token})
	})
	c := newCreds(t, Options{ClientID: "a", ClientSecret: "b", RefreshToken: "c", TokenURL: srv.URL, RefreshMode: RefreshDrop})

	var first string
	var wg sync.WaitGroup
	wg.Go(func() {
		var err error
		first, err = c.Refresh(context.Background(), "")
		assert.NoError(t, err)
	})

	<-started
	second, err := c.Refresh(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, second)

	close(release)
	wg.Wait()
	assert.Equal(t, token, first)
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestRefreshWaitModeSharesResult(t *testing.T) {
	release := make(chan struct{})
	token := futureJWT(t)
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(map[string]string{"access_token": token})
	})
	c := newCreds(t, Options{ClientID: "a", ClientSecret: "b", RefreshToken: "c", TokenURL: srv.URL})

	results := make([]string, 5)
	var wg sync.WaitGroup
	for i := range results {
		wg.Go(func() {
			tok, err := c.ValidToken(context.Background())
			assert.NoError(t, err)
			results[i] = tok
		})
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, token, r)
	}
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestRefreshSkipsStaleCaller(t *testing.T) {
	current := futureJWT(t)
	srv := newTokenServer(t, jsonHandler(200, map[string]string{"access_token": futureJWT(t)}))

	c := newCreds(t, Options{AccessToken: current, ClientID: "a", ClientSecret: "b", RefreshToken: "c", TokenURL: srv.URL})
	got, err := c.Refresh(context.Background(), "superseded")
	require.NoError(t, err)
	assert.Equal(t, current, got)
	assert.Equal(t, int32(0), srv.calls.Load())

	c = newCreds(t, Options{AccessToken: current, ClientID: "a", ClientSecret: "b", RefreshToken: "c", TokenURL: srv.URL, RefreshMode: RefreshDrop})
	got, err = c.Refresh(context.Background(), "superseded")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(0), srv.calls.Load())
}

func TestValidTokenRefreshesExpired(t *testing.T) {
	fresh := futureJWT(t)
	srv := newTokenServer(t, jsonHandler(200, map[string]string{"access_token": fresh}))
	old := makeJWT(t, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})

	c := newCreds(t, Options{AccessToken: old, ClientID: "a", ClientSecret: "b", RefreshToken: "c", TokenURL: srv.URL})
	got, err := c.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	got, err = c.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestDeveloperTokenExchange(t *testing.T) {
	token := futureJWT(t)
	srv := newTokenServer(t, jsonHandler(200, map[string]string{"access_token": token}))

	c := newCreds(t, Options{Getenv: envFunc(map[string]string{
		EnvDeveloperToken:         "dev-123",
		EnvDeveloperTokenProvider: srv.URL + "/request_token",
	})})

	got, err := c.Refresh(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, token, got)
	assert.Equal(t, "/request_token", srv.lastPath)
	assert.Equal(t, "Bearer dev-123", srv.lastAuth)
}

func TestDeveloperTokenIgnoredWithInstanceCredentials(t *testing.T) {
	srv := newTokenServer(t, jsonHandler(200, map[string]string{"access_token": futureJWT(t)}))

	c := newCreds(t, Options{
		ClientID: "a", ClientSecret: "b", RefreshToken: "c",
		DeveloperToken:         "dev",
		DeveloperTokenProvider: srv.URL + "/request_token",
		TokenURL:               srv.URL,
	})
	_, err := c.Refresh(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "/api/oauth2/RequestToken", srv.lastPath)
}

func TestDeveloperTokenProviderDefaults(t *testing.T) {
	c := newCreds(t, Options{})
	assert.Equal(t, DefaultDeveloperTokenProvider, c.DeveloperTokenProvider())
	assert.Empty(t, c.DeveloperToken())

	c = newCreds(t, Options{DeveloperTokenProvider: "https://tokens.example.com/x"})
	assert.Equal(t, "https://tokens.example.com/x", c.DeveloperTokenProvider())
}

func TestRevokeTokens(t *testing.T) {
	srv := newTokenServer(t, jsonHandler(200, map[string]string{"status": "revoked"}))
	c := newCreds(t, Options{AccessToken: "at", ClientID: "a", ClientSecret: "b", RefreshToken: "rt", TokenURL: srv.URL})

	body, err := c.RevokeAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "revoked", body["status"])
	assert.Equal(t, "/api/oauth2/RevokeToken", srv.lastPath)
	assert.Equal(t, "at", srv.lastBody["token"])
	assert.Equal(t, "access_token", srv.lastBody["token_type_hint"])

	_, err = c.RevokeRefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rt", srv.lastBody["token"])
	assert.Equal(t, "refresh_token", srv.lastBody["token_type_hint"])
}

func TestFetchTokens(t *testing.T) {
	token := futureJWT(t)
	srv := newTokenServer(t, jsonHandler(200, map[string]string{"access_token": token, "refresh_token": "new-rt"}))
	store := credstore.NewMemoryStore()
	c := newCreds(t, Options{ClientID: "a", ClientSecret: "b", RedirectURI: "https://app.example.com/cb", TokenURL: srv.URL, Store: store})

	body, err := c.FetchTokens(context.Background(), FetchTokensRequest{Code: "xyz"})
	require.NoError(t, err)
	assert.Equal(t, token, body["access_token"])
	assert.Equal(t, "authorization_code", srv.lastBody["grant_type"])
	assert.Equal(t, "xyz", srv.lastBody["code"])
	assert.Equal(t, "https://app.example.com/cb", srv.lastBody["redirect_uri"])

	rt, err := store.FetchCredential(sdk.FieldRefreshToken, "default")
	require.NoError(t, err)
	assert.Equal(t, "new-rt", rt)
}

func TestAuthorizationURL(t *testing.T) {
	c := newCreds(t, Options{ClientID: "app", InstanceID: "123", Region: "americas", Scope: "logging-service:read"})

	raw, state, err := c.AuthorizationURL(AuthorizationRequest{RedirectURI: "https://app.example.com/cb"})
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Equal(t, state, c.State())

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, DefaultAuthBaseURL+"?"))
	q := u.Query()
	assert.Equal(t, "app", q.Get("client_id"))
	assert.Equal(t, "123", q.Get("instance_id"))
	assert.Equal(t, "americas", q.Get("region"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "logging-service:read", q.Get("scope"))
	assert.Equal(t, "https://app.example.com/cb", q.Get("redirect_uri"))
	assert.Equal(t, state, q.Get("state"))

	_, state, err = c.AuthorizationURL(AuthorizationRequest{State: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", state)
}

func TestDecodeExp(t *testing.T) {
	exp, err := DecodeExp(makeJWT(t, jwt.MapClaims{"exp": 1700000000}))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), exp)

	exp, err = DecodeExp(makeJWT(t, jwt.MapClaims{"exp": "1700000001"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000001), exp)

	_, err = DecodeExp(makeJWT(t, jwt.MapClaims{"exp": "soon"}))
	require.Error(t, err)
	assert.Equal(t, "Expiration time (exp) must be an integer", err.Error())

	_, err = DecodeExp("not-a-jwt")
	require.Error(t, err)
	assert.True(t, cdlerrors.IsKind(err, cdlerrors.KindJSONFormat))
}

func TestDecodeExpIgnoresHeaderAlg(t *testing.T) {
	seg := func(v string) string { return base64.RawURLEncoding.EncodeToString([]byte(v)) }
	payload := seg(`{"exp":4102444800}`)

	tests := []struct {
		name  string
		token string
	}{
		{"unknown alg", seg(`{"alg":"XX512","typ":"JWT"}`) + "." + payload + ".sig"},
		{"no alg", seg(`{"typ":"JWT"}`) + "." + payload + ".sig"},
		{"padded payload", seg(`{"alg":"none"}`) + "." + base64.URLEncoding.EncodeToString([]byte(`{"exp": 4102444800}`)) + "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, err := DecodeExp(tt.token)
			require.NoError(t, err)
			assert.Equal(t, int64(4102444800), exp)
		})
	}

	t.Run("bad payload", func(t *testing.T) {
		_, err := DecodeJWTPayload(seg(`{}`) + ".!!!." + "sig")
		assert.True(t, cdlerrors.IsKind(err, cdlerrors.KindJSONFormat), "got %v", err)

		_, err = DecodeJWTPayload(seg(`{}`) + "." + seg("not json") + ".sig")
		assert.True(t, cdlerrors.IsKind(err, cdlerrors.KindJSONFormat), "got %v", err)
	})
}

func TestJWTIsExpiredLeeway(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := newCreds(t, Options{Now: func() time.Time { return now }})
	token := makeJWT(t, jwt.MapClaims{"exp": now.Add(-30 * time.Second).Unix()})

	expired, err := c.JWTIsExpired(token, 0)
	require.NoError(t, err)
	assert.True(t, expired)

	expired, err = c.JWTIsExpired(token, time.Minute)
	require.NoError(t, err)
	assert.False(t, expired)

	_, err = c.JWTIsExpired(makeJWT(t, jwt.MapClaims{"sub": "x"}), 0)
	assert.Error(t, err)
}

func TestTokenSourceAdapter(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := makeJWT(t, jwt.MapClaims{"exp": exp.Unix()})
	c := newCreds(t, Options{AccessToken: token})

	tok, err := c.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, token, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, exp.Equal(tok.Expiry))
}

func TestStringMasksSecrets(t *testing.T) {
	c := newCreds(t, Options{AccessToken: "secret-at", ClientID: "app", ClientSecret: "secret-cs", RefreshToken: "secret-rt"})
	s := c.String()
	assert.NotContains(t, s, "secret-")
	assert.Contains(t, s, "client_id=app")
	assert.Contains(t, s, "******")
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{TokenURL: "::bad", Store: credstore.NewMemoryStore()})
	require.Error(t, err)
	assert.True(t, cdlerrors.IsKind(err, cdlerrors.KindConfiguration))
}

func TestParseModes(t *testing.T) {
	p, err := ParsePrecedence("per-field")
	require.NoError(t, err)
	assert.Equal(t, PrecedencePerField, p)
	_, err = ParsePrecedence("random")
	assert.Error(t, err)

	m, err := ParseRefreshMode("drop")
	require.NoError(t, err)
	assert.Equal(t, RefreshDrop, m)
	assert.Equal(t, "wait", RefreshWait.String())
}

func TestClientRetriesAfter401WithRefresh(t *testing.T) {
	fresh := futureJWT(t)
	tokens := newTokenServer(t, jsonHandler(200, map[string]string{"access_token": fresh}))

	var apiCalls atomic.Int32
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+fresh {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer apiSrv.Close()

	c := newCreds(t, Options{
		AccessToken:  makeJWT(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix(), "sub": "revoked-session"}),
		ClientID:     "a",
		ClientSecret: "b",
		RefreshToken: "c",
		TokenURL:     tokens.URL,
	})
	client, err := api.NewClient(api.Options{URL: apiSrv.URL, Credentials: c})
	require.NoError(t, err)

	resp, err := client.Send(context.Background(), api.Request{Method: "GET", Endpoint: "/query/v2/jobs"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, int32(2), apiCalls.Load())
	assert.Equal(t, int32(1), tokens.calls.Load())
}
