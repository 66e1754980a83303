// Package api provides the HTTP request layer for the Cortex Data Lake APIs.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/cortexlake/cdl/internal/hostutil"
	"github.com/cortexlake/cdl/internal/sdk"
	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
	"github.com/cortexlake/cdl/internal/version"
)

const (
	// DefaultURL is the US region Cortex Data Lake API endpoint.
	DefaultURL = "https://api.us.cdl.paloaltonetworks.com"

	// DefaultPort is appended to URLs that do not name a port.
	DefaultPort = 443

	defaultTimeout    = 60 * time.Second
	defaultRetryDelay = 500 * time.Millisecond
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	URL string `validate:"omitempty,url"`

	// Port appended to URL. nil selects DefaultPort; 0 disables.
	Port *int `validate:"omitempty,min=0,max=65535"`

	// Session-level headers and query parameters.
	Headers map[string]string
	Params  map[string]string

	Timeout time.Duration `validate:"min=0"`

	// ForceTrace asks the gateway to trace the request and return x-request-id.
	ForceTrace bool

	AutoRefresh    *bool // default true
	AutoRetry      *bool // default true
	RaiseForStatus bool
	EnforceJSON    bool // reject bodies that do not parse when Accept asks for JSON

	Credentials sdk.TokenSource `validate:"-"`

	MaxIdleConns        int `validate:"min=0"`
	MaxIdleConnsPerHost int `validate:"min=0"`

	// MaxRetries retries transport failures only. HTTP statuses are never retried here.
	MaxRetries uint
	RetryDelay time.Duration `validate:"min=0"`

	InsecureSkipVerify bool
	Proxy              string `validate:"omitempty,url"`

	HTTPClient *http.Client `validate:"-"`
	Hooks      Hooks        `validate:"-"`
	Logger     *slog.Logger `validate:"-"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Client sends requests to the Cortex Data Lake APIs.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	url        string
	port       int
	headers    map[string]string
	params     map[string]string
	timeout    time.Duration

	autoRefresh    bool
	autoRetry      bool
	raiseForStatus bool
	enforceJSON    bool

	credentials sdk.TokenSource
	maxRetries  uint
	retryDelay  time.Duration

	hooks  Hooks
	logger *slog.Logger
	stats  *Stats
}

// NewClient creates a new API client.
func NewClient(opts Options) (*Client, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, cdlerrors.ErrConfigurationf("invalid client options: %v", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        lo.CoalesceOrEmpty(opts.MaxIdleConns, 100),
			MaxIdleConnsPerHost: lo.CoalesceOrEmpty(opts.MaxIdleConnsPerHost, 10),
			IdleConnTimeout:     90 * time.Second,
		}
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // G402: opt-in for lab gateways
		}
		if opts.Proxy != "" {
			proxyURL, err := url.Parse(opts.Proxy)
			if err != nil {
				return nil, cdlerrors.ErrConfigurationf("invalid proxy: %v", err)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		httpClient = &http.Client{Transport: transport}
	}

	headers := map[string]string{
		"Accept":     "application/json",
		"User-Agent": version.UserAgent(),
	}
	maps.Copy(headers, opts.Headers)
	if opts.ForceTrace {
		headers["x-envoy-force-trace"] = ""
	}

	var hooks Hooks = NoopHooks{}
	if opts.Hooks != nil {
		hooks = opts.Hooks
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		httpClient:     httpClient,
		url:            hostutil.Normalize(lo.CoalesceOrEmpty(opts.URL, DefaultURL)),
		port:           lo.FromPtrOr(opts.Port, DefaultPort),
		headers:        headers,
		params:         maps.Clone(opts.Params),
		timeout:        lo.CoalesceOrEmpty(opts.Timeout, defaultTimeout),
		autoRefresh:    lo.FromPtrOr(opts.AutoRefresh, true),
		autoRetry:      lo.FromPtrOr(opts.AutoRetry, true),
		raiseForStatus: opts.RaiseForStatus,
		enforceJSON:    opts.EnforceJSON,
		credentials:    opts.Credentials,
		maxRetries:     opts.MaxRetries,
		retryDelay:     lo.CoalesceOrEmpty(opts.RetryDelay, defaultRetryDelay),
		hooks:          hooks,
		logger:         logger,
		stats:          NewStats(StatTransactions),
	}, nil
}

// URL returns the base URL requests are sent to.
func (c *Client) URL() string { return c.url }

// Stats returns the client's usage counters.
func (c *Client) Stats() *Stats { return c.stats }

// Hooks returns the configured observer.
func (c *Client) Hooks() Hooks { return c.hooks }

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Credentials returns the session-level token source, if any.
func (c *Client) Credentials() sdk.TokenSource { return c.credentials }

// SetCredentials replaces the session-level token source.
// It must not be called concurrently with Send.
func (c *Client) SetCredentials(ts sdk.TokenSource) { c.credentials = ts }

// Request is a single call. Unset fields fall back to the client's
// session-level values.
type Request struct {
	Method   string
	URL      string // overrides the client URL
	Endpoint string

	Headers map[string]string
	Params  map[string]string

	// Body is JSON-encoded. Form, when set, is sent url-encoded instead.
	Body any
	Form url.Values

	Timeout time.Duration

	Credentials sdk.TokenSource
	// Anonymous sends the request without an Authorization header even
	// when the client holds credentials.
	Anonymous bool

	AutoRefresh    *bool
	AutoRetry      *bool
	RaiseForStatus *bool
	EnforceJSON    *bool
}

// Observe reports an operation to the hooks. The returned func must be
// called with the operation's outcome.
func (c *Client) Observe(ctx context.Context, service, operation string) (context.Context, func(error)) {
	op := OperationInfo{Service: service, Operation: operation}
	start := time.Now()
	ctx = c.hooks.OnOperationStart(ctx, op)
	return ctx, func(err error) {
		c.hooks.OnOperationEnd(ctx, op, err, time.Since(start))
	}
}

// Send issues req. On a 401 with credentials and auto-refresh enabled, the
// token is refreshed and, when auto-retry is enabled, the request is resent
// exactly once. A second 401 is returned as-is.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		return nil, cdlerrors.ErrRequiredParameter("method")
	}
	method := strings.ToUpper(req.Method)

	target := hostutil.Join(hostutil.Normalize(lo.CoalesceOrEmpty(req.URL, c.url)), c.port, req.Endpoint)
	autoRefresh := lo.FromPtrOr(req.AutoRefresh, c.autoRefresh)
	autoRetry := lo.FromPtrOr(req.AutoRetry, c.autoRetry)
	raiseForStatus := lo.FromPtrOr(req.RaiseForStatus, c.raiseForStatus)
	enforceJSON := lo.FromPtrOr(req.EnforceJSON, c.enforceJSON)

	var creds sdk.TokenSource
	if !req.Anonymous {
		creds = lo.CoalesceOrEmpty(req.Credentials, c.credentials)
	}

	headers := maps.Clone(c.headers)
	maps.Copy(headers, req.Headers)
	params := maps.Clone(c.params)
	if params == nil {
		params = make(map[string]string, len(req.Params))
	}
	maps.Copy(params, req.Params)

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = contentType
		}
	}

	timeout := lo.CoalesceOrEmpty(req.Timeout, c.timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var token string
	if creds != nil {
		if token, err = c.applyCredentials(ctx, creds, autoRefresh, headers); err != nil {
			return nil, err
		}
	}

	resp, err := c.do(ctx, method, target, params, headers, body, 1)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && creds != nil && autoRefresh {
		c.logger.Debug("unauthorized, refreshing token", "method", method, "url", target)
		fresh, err := creds.Refresh(ctx, token)
		if err != nil {
			return nil, err
		}
		if fresh == "" {
			// Another caller refreshed; pick up whatever it stored.
			if fresh, err = creds.CurrentToken(ctx); err != nil {
				return nil, err
			}
		}
		headers["Authorization"] = "Bearer " + fresh
		if autoRetry {
			if resp, err = c.do(ctx, method, target, params, headers, body, 2); err != nil {
				return nil, err
			}
		}
	}

	if raiseForStatus {
		if err := resp.StatusError(); err != nil {
			return nil, err
		}
	}
	if enforceJSON && strings.Contains(headers["Accept"], "application/json") {
		var v any
		if err := json.Unmarshal(resp.Body, &v); err != nil {
			return nil, cdlerrors.ErrInvalidJSON(err)
		}
	}
	return resp, nil
}

// applyCredentials sets the Authorization header, refreshing first when
// autoRefresh is set and the token is absent or expired.
func (c *Client) applyCredentials(ctx context.Context, creds sdk.TokenSource, autoRefresh bool, headers map[string]string) (string, error) {
	var (
		token string
		err   error
	)
	if autoRefresh {
		token, err = creds.ValidToken(ctx)
	} else {
		token, err = creds.CurrentToken(ctx)
	}
	if err != nil {
		return "", err
	}
	headers["Authorization"] = "Bearer " + token
	return token, nil
}

func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case req.Form != nil:
		return []byte(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	case req.Body != nil:
		if raw, ok := req.Body.(json.RawMessage); ok {
			return raw, "application/json", nil
		}
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, "", cdlerrors.ErrJSONFormat(fmt.Sprintf("failed to encode body: %v", err), err)
		}
		return data, "application/json", nil
	}
	return nil, "", nil
}

// do performs one logical send, retrying transport failures up to maxRetries.
func (c *Client) do(ctx context.Context, method, target string, params, headers map[string]string, body []byte, attempt int) (*Response, error) {
	info := RequestInfo{Method: method, URL: target, Attempt: attempt}

	var (
		out     *Response
		lastErr error
	)
	tries := 0
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(c.maxRetries+1),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return cdlerrors.IsKind(err, cdlerrors.KindTransport)
		}),
	).Do(func() error {
		tries++
		if tries > 1 {
			c.hooks.OnRetry(ctx, info, tries, lastErr)
		}
		resp, err := c.roundTrip(ctx, info, params, headers, body)
		if err != nil {
			lastErr = err
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		if !cdlerrors.IsKind(err, cdlerrors.KindTransport) {
			return nil, cdlerrors.ErrTransport(err)
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) roundTrip(ctx context.Context, info RequestInfo, params, headers map[string]string, body []byte) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, info.Method, info.URL, bodyReader)
	if err != nil {
		return nil, cdlerrors.ErrTransport(err)
	}
	if len(params) > 0 {
		q := httpReq.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	ctx = c.hooks.OnRequestStart(ctx, info)
	c.logger.Debug("request", "method", info.Method, "url", info.URL, "attempt", info.Attempt)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		terr := cdlerrors.ErrTransport(err)
		c.hooks.OnRequestEnd(ctx, info, RequestResult{Duration: time.Since(start), Retryable: true, Error: terr})
		return nil, terr
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		terr := cdlerrors.ErrTransport(err)
		c.hooks.OnRequestEnd(ctx, info, RequestResult{StatusCode: resp.StatusCode, Duration: time.Since(start), Error: terr})
		return nil, terr
	}

	c.stats.Inc(StatTransactions)
	c.hooks.OnRequestEnd(ctx, info, RequestResult{StatusCode: resp.StatusCode, Duration: time.Since(start)})
	c.logger.Debug("response", "status", resp.StatusCode, "bytes", len(respBody))

	return &Response{
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp),
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

func reasonPhrase(resp *http.Response) string {
	if reason, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); ok {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
