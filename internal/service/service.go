// Package service wraps the Cortex Data Lake REST services on top of the
// api request layer.
//
// Each wrapper method validates its path parameters, builds the endpoint,
// sends the request through a shared *api.Client and counts the call in the
// client's stats. Responses are returned as-is; a non-2xx status is not an
// error unless the caller asks for it with WithRaiseForStatus.
package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/sdk"
	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

// StatRecords accumulates rowsInPage across job result pages.
const StatRecords = "records"

// CallOption adjusts a single request.
type CallOption func(*api.Request)

// WithHeaders adds request headers on top of the client defaults.
func WithHeaders(h map[string]string) CallOption {
	return func(r *api.Request) { r.Headers = lo.Assign(r.Headers, h) }
}

// WithParams adds query parameters.
func WithParams(p map[string]string) CallOption {
	return func(r *api.Request) { r.Params = lo.Assign(r.Params, p) }
}

// WithTimeout overrides the client timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(r *api.Request) { r.Timeout = d }
}

// WithEnforceJSON rejects responses whose body does not parse as JSON.
func WithEnforceJSON(v bool) CallOption {
	return func(r *api.Request) { r.EnforceJSON = lo.ToPtr(v) }
}

// WithRaiseForStatus turns non-2xx responses into errors.
func WithRaiseForStatus(v bool) CallOption {
	return func(r *api.Request) { r.RaiseForStatus = lo.ToPtr(v) }
}

// WithAutoRetry controls the resend after a 401 refresh.
func WithAutoRetry(v bool) CallOption {
	return func(r *api.Request) { r.AutoRetry = lo.ToPtr(v) }
}

// WithAutoRefresh controls token refresh for one call.
func WithAutoRefresh(v bool) CallOption {
	return func(r *api.Request) { r.AutoRefresh = lo.ToPtr(v) }
}

// WithCredentials uses ts instead of the client's token source.
func WithCredentials(ts sdk.TokenSource) CallOption {
	return func(r *api.Request) { r.Credentials = ts }
}

// base is embedded by every service wrapper.
type base struct {
	client  *api.Client
	service string
}

func newBase(client *api.Client, service string, ops ...string) base {
	client.Stats().Register(ops...)
	return base{client: client, service: service}
}

// Client returns the underlying request client.
func (b base) Client() *api.Client { return b.client }

// Stats returns the shared usage counters.
func (b base) Stats() *api.Stats { return b.client.Stats() }

// call sends req and counts it under stat when it succeeds.
func (b base) call(ctx context.Context, stat string, req api.Request, opts []CallOption) (*api.Response, error) {
	ctx, done := b.client.Observe(ctx, b.service, stat)
	for _, opt := range opts {
		opt(&req)
	}
	resp, err := b.client.Send(ctx, req)
	done(err)
	if err != nil {
		return nil, err
	}
	b.client.Stats().Inc(stat)
	return resp, nil
}

// segment escapes a path parameter, rejecting empty values.
func segment(name, value string) (string, error) {
	if value == "" {
		return "", cdlerrors.ErrRequiredParameter(name)
	}
	return url.PathEscape(value), nil
}

func joinPath(parts ...string) string {
	return strings.Join(parts, "/")
}

// stringify renders a query parameter value.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// lookup walks nested objects by key.
func lookup(m map[string]any, keys ...string) (any, bool) {
	var cur any = m
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}
