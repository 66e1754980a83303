package service

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cortexlake/cdl/internal/api"
	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

const loggingPath = "/logging-service/v1"

// Logging query statuses.
const (
	StatusRunning     = "RUNNING"
	StatusFinished    = "FINISHED"
	StatusJobFinished = "JOB_FINISHED"
	StatusJobFailed   = "JOB_FAILED"
)

// Logging stat counters.
const (
	StatLoggingQuery  = "logging_query"
	StatLoggingPoll   = "logging_poll"
	StatLoggingDelete = "logging_delete"
	StatLoggingWrite  = "logging_write"
)

// Logging wraps the Logging Service.
type Logging struct {
	base
	policy PollPolicy
}

// NewLogging creates a Logging Service wrapper sharing client.
func NewLogging(client *api.Client, policy PollPolicy) *Logging {
	return &Logging{
		base:   newBase(client, "logging", StatLoggingQuery, StatLoggingPoll, StatLoggingDelete, StatLoggingWrite),
		policy: policy,
	}
}

// Query creates a query job. The response carries the queryId.
func (l *Logging) Query(ctx context.Context, body any, opts ...CallOption) (*api.Response, error) {
	return l.call(ctx, StatLoggingQuery, api.Request{
		Method:   http.MethodPost,
		Endpoint: loggingPath + "/queries",
		Body:     body,
	}, opts)
}

// Poll fetches one result page of a query job.
func (l *Logging) Poll(ctx context.Context, queryID string, sequenceNo int, params map[string]string, opts ...CallOption) (*api.Response, error) {
	id, err := segment("queryId", queryID)
	if err != nil {
		return nil, err
	}
	return l.call(ctx, StatLoggingPoll, api.Request{
		Method:   http.MethodGet,
		Endpoint: joinPath(loggingPath, "queries", id, strconv.Itoa(sequenceNo)),
		Params:   params,
	}, opts)
}

// Delete removes a query job.
func (l *Logging) Delete(ctx context.Context, queryID string, opts ...CallOption) (*api.Response, error) {
	id, err := segment("queryId", queryID)
	if err != nil {
		return nil, err
	}
	return l.call(ctx, StatLoggingDelete, api.Request{
		Method:   http.MethodDelete,
		Endpoint: joinPath(loggingPath, "queries", id),
	}, opts)
}

// Write sends log records of logType on behalf of vendorID.
func (l *Logging) Write(ctx context.Context, vendorID, logType string, body any, opts ...CallOption) (*api.Response, error) {
	vendor, err := segment("vendorId", vendorID)
	if err != nil {
		return nil, err
	}
	lt, err := segment("logType", logType)
	if err != nil {
		return nil, err
	}
	return l.call(ctx, StatLoggingWrite, api.Request{
		Method:   http.MethodPost,
		Endpoint: joinPath(loggingPath, "logs", vendor, lt),
		Body:     body,
	}, opts)
}

// IterPoll polls queryID from sequenceNo and passes every response to fn.
// A FINISHED page advances to the next sequence number immediately,
// JOB_FINISHED and JOB_FAILED end the iteration and any other status is
// polled again after the policy interval.
func (l *Logging) IterPoll(ctx context.Context, queryID string, sequenceNo int, params map[string]string, fn func(*api.Response) error, opts ...CallOption) error {
	policy := l.pollPolicy(params)
	seq := sequenceNo
	return policy.run(ctx, func() (pollStep, error) {
		resp, err := l.Poll(ctx, queryID, seq, params, opts...)
		if err != nil {
			return stepDone, err
		}
		status, err := queryStatus(resp)
		if err != nil {
			return stepDone, err
		}
		if stop, err := visit(fn, resp); err != nil || stop {
			return stepDone, err
		}
		switch status {
		case StatusFinished:
			seq++
			return stepNext, nil
		case StatusJobFinished, StatusJobFailed:
			return stepDone, nil
		}
		return stepWait, nil
	})
}

// PollAll collects every response of IterPoll.
func (l *Logging) PollAll(ctx context.Context, queryID string, sequenceNo int, params map[string]string, opts ...CallOption) ([]*api.Response, error) {
	var pages []*api.Response
	err := l.IterPoll(ctx, queryID, sequenceNo, params, func(r *api.Response) error {
		pages = append(pages, r)
		return nil
	}, opts...)
	return pages, err
}

// XPoll polls queryID and passes each log record (the _source of every
// hit) to fn. When the job finishes and deleteQuery is set, the query is
// deleted.
func (l *Logging) XPoll(ctx context.Context, queryID string, sequenceNo int, params map[string]string, deleteQuery bool, fn func(map[string]any) error, opts ...CallOption) error {
	policy := l.pollPolicy(params)
	seq := sequenceNo
	return policy.run(ctx, func() (pollStep, error) {
		resp, err := l.Poll(ctx, queryID, seq, params, opts...)
		if err != nil {
			return stepDone, err
		}
		body, err := resp.JSON()
		if err != nil {
			return stepDone, err
		}
		if !resp.OK() {
			return stepDone, messageError(resp, body)
		}
		status, ok := body["queryStatus"].(string)
		if !ok {
			l.client.Logger().Debug("poll response without queryStatus", "body", resp.Text())
			return stepDone, cdlerrors.ErrJSONFormat(`no "queryStatus" in response`, nil)
		}
		l.client.Logger().Debug("poll", "queryId", queryID, "sequenceNo", seq, "queryStatus", status)

		switch status {
		case StatusFinished, StatusJobFinished:
			raw, ok := lookup(body, "result", "esResult", "hits", "hits")
			hits, isList := raw.([]any)
			if !ok || !isList {
				return stepDone, cdlerrors.ErrJSONFormat(`no "hits" in response`, nil)
			}
			for _, h := range hits {
				hit, _ := h.(map[string]any)
				source, _ := hit["_source"].(map[string]any)
				if stop, err := visit(fn, source); err != nil || stop {
					return stepDone, err
				}
			}
			if status == StatusJobFinished {
				if deleteQuery {
					return stepDone, l.deleteChecked(ctx, queryID, opts)
				}
				return stepDone, nil
			}
			seq++
			return stepNext, nil
		case StatusJobFailed:
			return stepDone, cdlerrors.ErrServerReported(fmt.Sprint(orDefault(body["status"], status)))
		case StatusRunning:
			return stepWait, nil
		}
		return stepDone, cdlerrors.ErrJSONFormat(fmt.Sprintf("Bad status: %s", status), nil)
	})
}

func (l *Logging) deleteChecked(ctx context.Context, queryID string, opts []CallOption) error {
	resp, err := l.Delete(ctx, queryID, opts...)
	if err != nil {
		return err
	}
	body, err := resp.JSON()
	if err != nil {
		return err
	}
	if !resp.OK() {
		return messageError(resp, body)
	}
	v, present := body["ok"]
	if !present {
		return cdlerrors.ErrJSONFormat(`no "ok" in response`, nil)
	}
	if v != true {
		return cdlerrors.ErrServerReported(fmt.Sprintf("delete: ok: %v", v))
	}
	return nil
}

// pollPolicy skips the pause when the server is asked to wait (maxWaitTime).
func (l *Logging) pollPolicy(params map[string]string) PollPolicy {
	if _, ok := params["maxWaitTime"]; ok {
		return l.policy.immediate()
	}
	return l.policy
}

func queryStatus(resp *api.Response) (string, error) {
	body, err := resp.JSON()
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", messageError(resp, body)
	}
	status, ok := body["queryStatus"].(string)
	if !ok {
		return "", cdlerrors.ErrJSONFormat(`no "queryStatus" in response`, nil)
	}
	return status, nil
}

// messageError reports a non-2xx response, preferring the service's message.
func messageError(resp *api.Response, body map[string]any) error {
	if msg, ok := body["message"]; ok {
		return cdlerrors.ErrServerReported(fmt.Sprint(msg))
	}
	return cdlerrors.ErrHTTPStatus(resp.StatusCode, resp.Reason, resp.Text())
}

func orDefault(v any, def string) any {
	if v == nil {
		return def
	}
	return v
}
