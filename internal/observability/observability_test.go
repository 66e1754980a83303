package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cortexlake/cdl/internal/api"
)

var (
	testOp  = api.OperationInfo{Service: "query", Operation: "get_job"}
	testReq = api.RequestInfo{Method: "GET", URL: "https://api.us.cdl.paloaltonetworks.com:443/query/v2/jobs/j1", Attempt: 1}
)

func drive(h *CLIHooks) {
	ctx := h.OnOperationStart(context.Background(), testOp)
	ctx = h.OnRequestStart(ctx, testReq)
	h.OnRequestEnd(ctx, testReq, api.RequestResult{StatusCode: 200, Duration: 45 * time.Millisecond})
	h.OnOperationEnd(ctx, testOp, nil, 50*time.Millisecond)
}

func TestCLIHooksSetLevel(t *testing.T) {
	h := NewCLIHooks(0, nil, nil)
	assert.Equal(t, 0, h.Level())
	h.SetLevel(2)
	assert.Equal(t, 2, h.Level())
}

func TestCLIHooksLevels(t *testing.T) {
	tests := []struct {
		level      int
		operations bool
		requests   bool
	}{
		{level: 0},
		{level: 1, operations: true},
		{level: 2, operations: true, requests: true},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		collector := NewSessionCollector()
		drive(NewCLIHooks(tt.level, collector, NewTraceWriterTo(&buf)))

		out := buf.String()
		assert.Equal(t, tt.operations, strings.Contains(out, "Calling query.get_job"), "level %d", tt.level)
		assert.Equal(t, tt.operations, strings.Contains(out, "Completed query.get_job (50ms)"), "level %d", tt.level)
		assert.Equal(t, tt.requests, strings.Contains(out, "-> GET https://api.us.cdl.paloaltonetworks.com:443/query/v2/jobs/j1"), "level %d", tt.level)
		assert.Equal(t, tt.requests, strings.Contains(out, "<- 200 (45ms)"), "level %d", tt.level)

		summary := collector.Summary()
		assert.Equal(t, 1, summary.TotalOperations)
		assert.Equal(t, 1, summary.TotalRequests)
	}
}

func TestCLIHooksNilSinks(t *testing.T) {
	h := NewCLIHooks(2, nil, nil)
	assert.NotPanics(t, func() {
		drive(h)
		h.OnRetry(context.Background(), testReq, 2, errors.New("reset"))
	})
}

func TestCollectorCounts(t *testing.T) {
	c := NewSessionCollector()
	h := NewCLIHooks(0, c, nil)
	ctx := context.Background()

	h.OnRequestEnd(ctx, testReq, api.RequestResult{StatusCode: 401, Duration: time.Millisecond})
	h.OnRequestEnd(ctx, testReq, api.RequestResult{StatusCode: 503, Duration: time.Millisecond})
	h.OnRequestEnd(ctx, testReq, api.RequestResult{Error: errors.New("dial tcp: refused")})
	h.OnRetry(ctx, testReq, 2, errors.New("dial tcp: refused"))
	h.OnOperationEnd(ctx, testOp, errors.New("boom"), time.Millisecond)

	s := c.Summary()
	assert.Equal(t, 3, s.TotalRequests)
	assert.Equal(t, 1, s.Unauthorized)
	assert.Equal(t, 1, s.ServerErrors)
	assert.Equal(t, 1, s.FailedRequests)
	assert.Equal(t, 1, s.TotalRetries)
	assert.Equal(t, 1, s.FailedOps)
	assert.Equal(t, 2*time.Millisecond, s.TotalLatency)
	assert.False(t, s.EndTime.Before(s.StartTime))

	c.Reset()
	assert.Zero(t, c.Summary().TotalRequests)
}

func TestTraceWriterFailures(t *testing.T) {
	var buf bytes.Buffer
	w := NewTraceWriterTo(&buf)

	w.WriteOperationEnd(testOp, errors.New("401 Unauthorized: expired"), time.Millisecond)
	w.WriteRequestEnd(testReq, api.RequestResult{Error: errors.New("connection reset")})
	w.WriteRetry(testReq, 2, errors.New("connection reset"))
	w.WriteRequestStart(api.RequestInfo{Method: "GET", URL: "https://host/x", Attempt: 2})

	out := buf.String()
	assert.Contains(t, out, "Failed query.get_job: 401 Unauthorized: expired")
	assert.Contains(t, out, "<- ERROR: connection reset")
	assert.Contains(t, out, "RETRY #2: connection reset")
	assert.Contains(t, out, "-> GET https://host/x (attempt 2)")
	assert.True(t, strings.HasPrefix(out, "["))
}

func TestScrubURL(t *testing.T) {
	tests := []struct {
		in       string
		redacted []string
		kept     []string
	}{
		{in: "https://api.example.com/jobs?pageSize=10", kept: []string{"pageSize=10"}},
		{in: "https://api.example.com/oauth?access_token=abc&state=x", redacted: []string{"access_token"}, kept: []string{"state=x"}},
		{in: "https://api.example.com/oauth?Client_Secret=s&refresh_token=r", redacted: []string{"Client_Secret", "refresh_token"}},
		{in: "https://api.example.com/cb?code=xyz", redacted: []string{"code"}},
	}
	for _, tt := range tests {
		got := scrubURL(tt.in)
		for _, k := range tt.redacted {
			assert.Contains(t, got, k+"=%5BREDACTED%5D", tt.in)
		}
		for _, k := range tt.kept {
			assert.Contains(t, got, k, tt.in)
		}
	}
	assert.Equal(t, "[unparseable URL]", scrubURL("http://[::1"))
}
