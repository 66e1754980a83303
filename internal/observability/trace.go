package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cortexlake/cdl/internal/api"
)

// sensitiveParams are scrubbed from traced URLs.
var sensitiveParams = map[string]bool{
	"access_token":    true,
	"refresh_token":   true,
	"client_secret":   true,
	"developer_token": true,
	"token":           true,
	"code":            true,
	"password":        true,
	"secret":          true,
}

// TraceWriter writes trace lines stamped with the time since it started.
type TraceWriter struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time
}

// NewTraceWriter writes to stderr.
func NewTraceWriter() *TraceWriter {
	return NewTraceWriterTo(os.Stderr)
}

// NewTraceWriterTo writes to w.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{w: w, start: time.Now()}
}

func (t *TraceWriter) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.start).Seconds()
	fmt.Fprintf(t.w, "[%.3fs] "+format+"\n", append([]any{elapsed}, args...)...)
}

// WriteOperationStart: [0.012s] Calling query.get_job_results
func (t *TraceWriter) WriteOperationStart(op api.OperationInfo) {
	t.printf("Calling %s.%s", op.Service, op.Operation)
}

// WriteOperationEnd: [0.240s] Completed query.get_job_results (228ms)
func (t *TraceWriter) WriteOperationEnd(op api.OperationInfo, err error, d time.Duration) {
	if err != nil {
		t.printf("Failed %s.%s: %v", op.Service, op.Operation, err)
		return
	}
	t.printf("Completed %s.%s (%dms)", op.Service, op.Operation, d.Milliseconds())
}

// WriteRequestStart: [0.013s]   -> GET https://host:443/query/v2/jobs/j1
func (t *TraceWriter) WriteRequestStart(info api.RequestInfo) {
	if info.Attempt > 1 {
		t.printf("  -> %s %s (attempt %d)", info.Method, scrubURL(info.URL), info.Attempt)
		return
	}
	t.printf("  -> %s %s", info.Method, scrubURL(info.URL))
}

// WriteRequestEnd: [0.239s]   <- 200 (226ms)
func (t *TraceWriter) WriteRequestEnd(_ api.RequestInfo, result api.RequestResult) {
	if result.Error != nil {
		t.printf("  <- ERROR: %v", result.Error)
		return
	}
	t.printf("  <- %d (%dms)", result.StatusCode, result.Duration.Milliseconds())
}

// WriteRetry: [0.513s]   RETRY #2: connection reset
func (t *TraceWriter) WriteRetry(_ api.RequestInfo, attempt int, err error) {
	t.printf("  RETRY #%d: %v", attempt, err)
}

// Reset restarts the relative clock.
func (t *TraceWriter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = time.Now()
}

// scrubURL redacts sensitive query parameters. Unparseable URLs are not echoed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[unparseable URL]"
	}
	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}
	if !modified {
		return rawURL
	}
	u.RawQuery = query.Encode()
	return u.String()
}
