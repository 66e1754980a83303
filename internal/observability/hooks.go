package observability

import (
	"context"
	"sync"
	"time"

	"github.com/cortexlake/cdl/internal/api"
)

// Verify CLIHooks implements api.Hooks at compile time.
var _ api.Hooks = (*CLIHooks)(nil)

// CLIHooks reports API activity for the CLI. Verbosity levels:
//   - 0: collect only
//   - 1: service operations
//   - 2: operations and HTTP requests
type CLIHooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	writer    *TraceWriter
}

// NewCLIHooks creates CLIHooks. A nil collector or writer disables that sink.
func NewCLIHooks(level int, collector *SessionCollector, writer *TraceWriter) *CLIHooks {
	return &CLIHooks{
		level:     level,
		collector: collector,
		writer:    writer,
	}
}

// SetLevel changes the verbosity level.
func (h *CLIHooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Level returns the verbosity level.
func (h *CLIHooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *CLIHooks) sinks() (int, *SessionCollector, *TraceWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, h.collector, h.writer
}

func (h *CLIHooks) OnOperationStart(ctx context.Context, op api.OperationInfo) context.Context {
	if level, _, w := h.sinks(); level >= 1 && w != nil {
		w.WriteOperationStart(op)
	}
	return ctx
}

func (h *CLIHooks) OnOperationEnd(_ context.Context, op api.OperationInfo, err error, d time.Duration) {
	level, c, w := h.sinks()
	if c != nil {
		c.RecordOperation(op, err)
	}
	if level >= 1 && w != nil {
		w.WriteOperationEnd(op, err, d)
	}
}

func (h *CLIHooks) OnRequestStart(ctx context.Context, info api.RequestInfo) context.Context {
	if level, _, w := h.sinks(); level >= 2 && w != nil {
		w.WriteRequestStart(info)
	}
	return ctx
}

func (h *CLIHooks) OnRequestEnd(_ context.Context, info api.RequestInfo, result api.RequestResult) {
	level, c, w := h.sinks()
	if c != nil {
		c.RecordRequest(info, result)
	}
	if level >= 2 && w != nil {
		w.WriteRequestEnd(info, result)
	}
}

func (h *CLIHooks) OnRetry(_ context.Context, info api.RequestInfo, attempt int, err error) {
	level, c, w := h.sinks()
	if c != nil {
		c.RecordRetry()
	}
	if level >= 2 && w != nil {
		w.WriteRetry(info, attempt, err)
	}
}
