package service

import (
	"context"
	"fmt"
	"maps"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/cortexlake/cdl/internal/api"
	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
	"github.com/cortexlake/cdl/internal/version"
)

const queryPath = "/query/v2"

// Job states.
const (
	StateRunning = "RUNNING"
	StatePending = "PENDING"
	StateDone    = "DONE"
	StateFailed  = "FAILED"
)

// Query stat counters.
const (
	StatCancelJob     = "cancel_job"
	StatCreateQuery   = "create_query"
	StatGetJob        = "get_job"
	StatListJobs      = "list_jobs"
	StatGetJobResults = "get_job_results"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ResultsOptions selects a page of job results.
type ResultsOptions struct {
	// MaxWait is how long, in milliseconds, the server waits for the job.
	MaxWait      *int   `mapstructure:"maxWait" validate:"omitempty,min=0,max=2000"`
	Offset       *int   `mapstructure:"offset" validate:"omitempty,min=0"`
	PageCursor   string `mapstructure:"pageCursor"`
	PageNumber   *int   `mapstructure:"pageNumber" validate:"omitempty,min=0"`
	PageSize     *int   `mapstructure:"pageSize" validate:"omitempty,min=1"`
	ResultFormat string `mapstructure:"resultFormat" validate:"omitempty,oneof=valuesArray valuesDictionary valuesJson"`
}

func (o ResultsOptions) params() map[string]string {
	p := make(map[string]string)
	setInt(p, "maxWait", o.MaxWait)
	setInt(p, "offset", o.Offset)
	setString(p, "pageCursor", o.PageCursor)
	setInt(p, "pageNumber", o.PageNumber)
	setInt(p, "pageSize", o.PageSize)
	setString(p, "resultFormat", o.ResultFormat)
	return p
}

// ListJobsOptions filters Query.ListJobs.
type ListJobsOptions struct {
	MaxJobs *int `mapstructure:"maxJobs" validate:"omitempty,min=1"`
	// CreatedAfter is a unix epoch in seconds.
	CreatedAfter *int64 `mapstructure:"createdAfter" validate:"omitempty,min=0"`
	State        string `mapstructure:"state" validate:"omitempty,oneof=RUNNING PENDING FAILED DONE CANCELLED"`
	Type         string `mapstructure:"type"`
	TenantID     string `mapstructure:"tenantId"`
}

func (o ListJobsOptions) params() map[string]string {
	p := make(map[string]string)
	setInt(p, "maxJobs", o.MaxJobs)
	if o.CreatedAfter != nil {
		p["createdAfter"] = stringify(*o.CreatedAfter)
	}
	setString(p, "state", o.State)
	setString(p, "type", o.Type)
	setString(p, "tenantId", o.TenantID)
	return p
}

// JobRequest describes a query job to create.
type JobRequest struct {
	// JobID is optional; the service assigns one when empty.
	JobID string
	// Params holds the query, e.g. {"query": "SELECT ..."}.
	Params map[string]any
	// Body carries additional top-level fields.
	Body map[string]any
}

// Query wraps the Query Service job API.
type Query struct {
	base
	policy PollPolicy
}

// NewQuery creates a Query Service wrapper sharing client.
func NewQuery(client *api.Client, policy PollPolicy) *Query {
	return &Query{
		base: newBase(client, "query",
			StatCancelJob, StatCreateQuery, StatGetJob, StatListJobs, StatGetJobResults, StatRecords),
		policy: policy,
	}
}

// CreateQuery submits a query job. A successful submission returns 201
// with the jobId.
func (q *Query) CreateQuery(ctx context.Context, job JobRequest, opts ...CallOption) (*api.Response, error) {
	body := maps.Clone(job.Body)
	if body == nil {
		body = make(map[string]any)
	}
	if job.JobID != "" {
		body["jobId"] = job.JobID
	}
	if job.Params != nil {
		body["params"] = job.Params
	}
	body["clientType"] = version.ClientType
	body["clientVersion"] = version.Version
	return q.call(ctx, StatCreateQuery, api.Request{
		Method:   http.MethodPost,
		Endpoint: queryPath + "/jobs",
		Body:     body,
	}, opts)
}

// GetJob returns the status of jobID.
func (q *Query) GetJob(ctx context.Context, jobID string, opts ...CallOption) (*api.Response, error) {
	id, err := segment("jobId", jobID)
	if err != nil {
		return nil, err
	}
	return q.call(ctx, StatGetJob, api.Request{
		Method:   http.MethodGet,
		Endpoint: joinPath(queryPath, "jobs", id),
	}, opts)
}

// ListJobs returns the jobs matching filter.
func (q *Query) ListJobs(ctx context.Context, filter ListJobsOptions, opts ...CallOption) (*api.Response, error) {
	if err := validate.Struct(filter); err != nil {
		return nil, cdlerrors.ErrConfigurationf("invalid list options: %v", err)
	}
	return q.call(ctx, StatListJobs, api.Request{
		Method:   http.MethodGet,
		Endpoint: queryPath + "/jobs",
		Params:   filter.params(),
	}, opts)
}

// CancelJob cancels jobID.
func (q *Query) CancelJob(ctx context.Context, jobID string, opts ...CallOption) (*api.Response, error) {
	id, err := segment("jobId", jobID)
	if err != nil {
		return nil, err
	}
	return q.call(ctx, StatCancelJob, api.Request{
		Method:   http.MethodDelete,
		Endpoint: joinPath(queryPath, "jobs", id),
	}, opts)
}

// GetJobResults fetches one page of results for jobID and adds its
// rowsInPage to the records counter.
func (q *Query) GetJobResults(ctx context.Context, jobID string, ro ResultsOptions, opts ...CallOption) (*api.Response, error) {
	id, err := segment("jobId", jobID)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(ro); err != nil {
		return nil, cdlerrors.ErrConfigurationf("invalid results options: %v", err)
	}
	resp, err := q.call(ctx, StatGetJobResults, api.Request{
		Method:   http.MethodGet,
		Endpoint: joinPath(queryPath, "jobResults", id),
		Params:   ro.params(),
	}, opts)
	if err != nil {
		return nil, err
	}
	if body, err := resp.JSON(); err == nil {
		if rows, ok := body["rowsInPage"].(float64); ok {
			q.client.Stats().Add(StatRecords, int64(rows))
		}
	}
	return resp, nil
}

// IterJobResults fetches result pages of jobID and passes every response
// to fn. A DONE page with a pageCursor is followed immediately, RUNNING
// and PENDING are polled again after the policy interval, and DONE
// without a cursor or FAILED ends the iteration.
func (q *Query) IterJobResults(ctx context.Context, jobID string, ro ResultsOptions, fn func(*api.Response) error, opts ...CallOption) error {
	return q.policy.run(ctx, func() (pollStep, error) {
		resp, err := q.GetJobResults(ctx, jobID, ro, opts...)
		if err != nil {
			return stepDone, err
		}
		if !resp.OK() {
			return stepDone, resp.StatusError()
		}
		body, err := resp.JSON()
		if err != nil {
			return stepDone, err
		}
		state, ok := body["state"].(string)
		if !ok {
			return stepDone, cdlerrors.ErrJSONFormat(`no "state" in response`, nil)
		}

		var next pollStep
		switch state {
		case StateDone:
			next = stepDone
			if cursor, ok := lookup(body, "page", "pageCursor"); ok {
				if s, _ := cursor.(string); s != "" {
					ro.PageCursor = s
					next = stepNext
				}
			}
		case StateRunning, StatePending:
			next = stepWait
		case StateFailed:
			next = stepDone
		default:
			return stepDone, cdlerrors.ErrJSONFormat(fmt.Sprintf("Bad state: %s", state), nil)
		}
		if stop, err := visit(fn, resp); err != nil || stop {
			return stepDone, err
		}
		return next, nil
	})
}

func setInt(p map[string]string, key string, v *int) {
	if v != nil {
		p[key] = stringify(*v)
	}
}

func setString(p map[string]string, key, v string) {
	if v != "" {
		p[key] = v
	}
}
