package commands

import (
	"context"
	"encoding/json"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/appctx"
	"github.com/cortexlake/cdl/internal/output"
	"github.com/cortexlake/cdl/internal/service"
)

// NewQueryCmd creates the query command group.
func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run SQL query jobs (Query Service)",
		Long: `Create query jobs, follow their state and page through their results.

run creates a job and prints every result page until the job is done.`,
	}

	cmd.AddCommand(
		newQueryCreateCmd(),
		newQueryGetJobCmd(),
		newQueryListJobsCmd(),
		newQueryCancelJobCmd(),
		newQueryGetJobResultsCmd(),
		newQueryIterJobResultsCmd(),
		newQueryRunCmd(),
	)
	return cmd
}

// jobFlags build a JobRequest.
type jobFlags struct {
	rf     requestFlags
	jobID  string
	query  string
	params string
}

func (j *jobFlags) bind(cmd *cobra.Command) {
	j.rf.bindData(cmd)
	j.rf.bindHeaders(cmd)
	j.rf.bindParams(cmd)
	cmd.Flags().StringVar(&j.jobID, "job-id", "", "Job ID (default: assigned by the service)")
	cmd.Flags().StringVarP(&j.query, "query", "q", "", "SQL query text (params.query)")
	cmd.Flags().StringVar(&j.params, "params", "", "JSON object of job params")
}

func (j *jobFlags) request() (service.JobRequest, error) {
	body, err := j.rf.object()
	if err != nil {
		return service.JobRequest{}, err
	}
	req := service.JobRequest{JobID: j.jobID, Body: body}
	if p, ok := body["params"].(map[string]any); ok {
		req.Params = p
		delete(body, "params")
	}
	if j.params != "" {
		var p map[string]any
		if err := json.Unmarshal([]byte(j.params), &p); err != nil {
			return service.JobRequest{}, invalidJSON("--params", err)
		}
		req.Params = lo.Assign(req.Params, p)
	}
	if j.query != "" {
		req.Params = lo.Assign(req.Params, map[string]any{"query": j.query})
	}
	return req, nil
}

func newQueryCreateCmd() *cobra.Command {
	var jf jobFlags

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a query job",
		Example: `  cdl query create -q "SELECT * FROM firewall.traffic LIMIT 10"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := jf.request()
			if err != nil {
				return err
			}
			opts, err := jf.rf.callOptions()
			if err != nil {
				return err
			}
			return respond(cmd, output.ServiceQuery, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Query().CreateQuery(ctx, req, opts...)
			})
		},
	}
	jf.bind(cmd)
	return cmd
}

func newQueryGetJobCmd() *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:   "get-job <jobId>",
		Short: "Show the state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := rf.callOptions()
			if err != nil {
				return err
			}
			return respond(cmd, output.ServiceQuery, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Query().GetJob(ctx, args[0], opts...)
			})
		},
	}
	rf.bindHeaders(cmd)
	rf.bindParams(cmd)
	return cmd
}

func newQueryCancelJobCmd() *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:   "cancel-job <jobId>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := rf.callOptions()
			if err != nil {
				return err
			}
			return respond(cmd, output.ServiceQuery, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Query().CancelJob(ctx, args[0], opts...)
			})
		},
	}
	rf.bindHeaders(cmd)
	rf.bindParams(cmd)
	return cmd
}

func newQueryListJobsCmd() *cobra.Command {
	var (
		rf           requestFlags
		maxJobs      int
		createdAfter int64
		state        string
		jobType      string
		tenantID     string
	)

	cmd := &cobra.Command{
		Use:   "list-jobs",
		Short: "List jobs",
		Long: `List jobs, optionally filtered. --options takes a JSON object with
maxJobs, createdAfter, state, type and tenantId; typed flags override it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter service.ListJobsOptions
			if err := rf.decodeOptions(&filter); err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("max-jobs") {
				filter.MaxJobs = lo.ToPtr(maxJobs)
			}
			if flags.Changed("created-after") {
				filter.CreatedAfter = lo.ToPtr(createdAfter)
			}
			filter.State = lo.CoalesceOrEmpty(state, filter.State)
			filter.Type = lo.CoalesceOrEmpty(jobType, filter.Type)
			filter.TenantID = lo.CoalesceOrEmpty(tenantID, filter.TenantID)

			opts, err := rf.callOptions()
			if err != nil {
				return err
			}
			return respond(cmd, output.ServiceQuery, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Query().ListJobs(ctx, filter, opts...)
			})
		},
	}

	rf.bindOptions(cmd)
	rf.bindHeaders(cmd)
	rf.bindParams(cmd)
	cmd.Flags().IntVar(&maxJobs, "max-jobs", 0, "Maximum number of jobs")
	cmd.Flags().Int64Var(&createdAfter, "created-after", 0, "Only jobs created after this epoch second")
	cmd.Flags().StringVar(&state, "state", "", "Job state: RUNNING, PENDING, FAILED, DONE or CANCELLED")
	cmd.Flags().StringVar(&jobType, "type", "", "Job type")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "Tenant ID")
	return cmd
}

// resultsFlags select a page of job results.
type resultsFlags struct {
	rf           requestFlags
	maxWait      int
	offset       int
	pageCursor   string
	pageNumber   int
	pageSize     int
	resultFormat string
}

func (r *resultsFlags) bind(cmd *cobra.Command) {
	r.rf.bindOptions(cmd)
	r.rf.bindHeaders(cmd)
	r.rf.bindParams(cmd)
	cmd.Flags().IntVar(&r.maxWait, "max-wait", 0, "Milliseconds the server waits for the job (0-2000)")
	cmd.Flags().IntVar(&r.offset, "offset", 0, "Row offset")
	cmd.Flags().StringVar(&r.pageCursor, "page-cursor", "", "Page cursor from a previous page")
	cmd.Flags().IntVar(&r.pageNumber, "page-number", 0, "Page number")
	cmd.Flags().IntVar(&r.pageSize, "page-size", 0, "Rows per page")
	cmd.Flags().StringVar(&r.resultFormat, "result-format", "", "valuesArray, valuesDictionary or valuesJson")
}

// options decodes --options and applies the typed flags over them.
func (r *resultsFlags) options(cmd *cobra.Command) (service.ResultsOptions, error) {
	var ro service.ResultsOptions
	if err := r.rf.decodeOptions(&ro); err != nil {
		return ro, err
	}
	flags := cmd.Flags()
	if flags.Changed("max-wait") {
		ro.MaxWait = lo.ToPtr(r.maxWait)
	}
	if flags.Changed("offset") {
		ro.Offset = lo.ToPtr(r.offset)
	}
	if flags.Changed("page-number") {
		ro.PageNumber = lo.ToPtr(r.pageNumber)
	}
	if flags.Changed("page-size") {
		ro.PageSize = lo.ToPtr(r.pageSize)
	}
	ro.PageCursor = lo.CoalesceOrEmpty(r.pageCursor, ro.PageCursor)
	ro.ResultFormat = lo.CoalesceOrEmpty(r.resultFormat, ro.ResultFormat)
	return ro, nil
}

func newQueryGetJobResultsCmd() *cobra.Command {
	var rsf resultsFlags

	cmd := &cobra.Command{
		Use:   "get-job-results <jobId>",
		Short: "Fetch one page of job results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ro, err := rsf.options(cmd)
			if err != nil {
				return err
			}
			opts, err := rsf.rf.callOptions()
			if err != nil {
				return err
			}
			return respond(cmd, output.ServiceQuery, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Query().GetJobResults(ctx, args[0], ro, opts...)
			})
		},
	}
	rsf.bind(cmd)
	return cmd
}

func newQueryIterJobResultsCmd() *cobra.Command {
	var rsf resultsFlags

	cmd := &cobra.Command{
		Use:   "iter-job-results <jobId>",
		Short: "Fetch every page of job results",
		Long: `Fetch result pages until the job is done, following page cursors and
waiting while the job is pending or running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ro, err := rsf.options(cmd)
			if err != nil {
				return err
			}
			opts, err := rsf.rf.callOptions()
			if err != nil {
				return err
			}
			return iterResults(cmd, app, args[0], ro, opts)
		},
	}
	rsf.bind(cmd)
	return cmd
}

func iterResults(cmd *cobra.Command, app *appctx.App, jobID string, ro service.ResultsOptions, opts []service.CallOption) error {
	op := opName(cmd)
	return app.Query().IterJobResults(cmd.Context(), jobID, ro, func(resp *api.Response) error {
		return app.Respond(op, output.ServiceQuery, resp)
	}, opts...)
}

func newQueryRunCmd() *cobra.Command {
	var (
		jf  jobFlags
		rsf resultsFlags
	)

	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Create a job and print every page of its results",
		Example: `  cdl query run -q "SELECT * FROM firewall.traffic LIMIT 10" --page-size 5`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			req, err := jf.request()
			if err != nil {
				return err
			}
			ro, err := rsf.options(cmd)
			if err != nil {
				return err
			}
			opts, err := jf.rf.callOptions()
			if err != nil {
				return err
			}
			resp, err := app.Query().CreateQuery(cmd.Context(), req, opts...)
			if err != nil {
				return err
			}
			if err := app.Respond(opName(cmd), output.ServiceQuery, resp); err != nil {
				return err
			}
			jobID, err := responseID(resp, "jobId")
			if err != nil {
				return err
			}
			return iterResults(cmd, app, jobID, ro, opts)
		},
	}

	jf.bind(cmd)
	cmd.Flags().IntVar(&rsf.maxWait, "max-wait", 0, "Milliseconds the server waits for the job (0-2000)")
	cmd.Flags().IntVar(&rsf.pageSize, "page-size", 0, "Rows per page")
	cmd.Flags().StringVar(&rsf.resultFormat, "result-format", "", "valuesArray, valuesDictionary or valuesJson")
	return cmd
}
