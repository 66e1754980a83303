package api

import (
	"context"
	"time"
)

// OperationInfo describes a semantic service operation, e.g. logging.Query.
type OperationInfo struct {
	Service   string
	Operation string
}

// RequestInfo describes one outbound HTTP request.
type RequestInfo struct {
	Method  string
	URL     string
	Attempt int
}

// RequestResult describes the outcome of one HTTP request.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	Retryable  bool
	Error      error
}

// Hooks observes client activity. Implementations must be safe for
// concurrent use.
type Hooks interface {
	OnOperationStart(ctx context.Context, op OperationInfo) context.Context
	OnOperationEnd(ctx context.Context, op OperationInfo, err error, duration time.Duration)
	OnRequestStart(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult)
	OnRetry(ctx context.Context, info RequestInfo, attempt int, err error)
}

// NoopHooks ignores every event.
type NoopHooks struct{}

func (NoopHooks) OnOperationStart(ctx context.Context, _ OperationInfo) context.Context { return ctx }
func (NoopHooks) OnOperationEnd(context.Context, OperationInfo, error, time.Duration)  {}
func (NoopHooks) OnRequestStart(ctx context.Context, _ RequestInfo) context.Context    { return ctx }
func (NoopHooks) OnRequestEnd(context.Context, RequestInfo, RequestResult)             {}
func (NoopHooks) OnRetry(context.Context, RequestInfo, int, error)                     {}
