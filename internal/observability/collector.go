// Package observability collects session metrics and writes trace output
// for the CLI.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/cortexlake/cdl/internal/api"
)

// SessionMetrics summarizes API activity for one CLI invocation.
type SessionMetrics struct {
	StartTime       time.Time
	EndTime         time.Time
	TotalRequests   int
	FailedRequests  int // transport errors
	Unauthorized    int // 401 responses
	ServerErrors    int // 5xx responses
	TotalOperations int
	FailedOps       int
	TotalRetries    int
	TotalLatency    time.Duration
}

// SessionCollector accumulates metrics. It is safe for concurrent use.
type SessionCollector struct {
	mu sync.Mutex
	m  SessionMetrics
}

// NewSessionCollector creates a collector starting now.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{m: SessionMetrics{StartTime: time.Now()}}
}

// RecordRequest records one HTTP round trip.
func (c *SessionCollector) RecordRequest(_ api.RequestInfo, result api.RequestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.TotalRequests++
	c.m.TotalLatency += result.Duration
	switch {
	case result.Error != nil:
		c.m.FailedRequests++
	case result.StatusCode == http.StatusUnauthorized:
		c.m.Unauthorized++
	case result.StatusCode >= 500:
		c.m.ServerErrors++
	}
}

// RecordOperation records one service operation.
func (c *SessionCollector) RecordOperation(_ api.OperationInfo, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.TotalOperations++
	if err != nil {
		c.m.FailedOps++
	}
}

// RecordRetry records a transport retry.
func (c *SessionCollector) RecordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.TotalRetries++
}

// Summary returns the metrics so far.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.m
	s.EndTime = time.Now()
	return s
}

// Reset clears the metrics and restarts the clock.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = SessionMetrics{StartTime: time.Now()}
}
