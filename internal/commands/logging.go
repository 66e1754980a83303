package commands

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/appctx"
	"github.com/cortexlake/cdl/internal/dateparse"
	"github.com/cortexlake/cdl/internal/output"
	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
	"github.com/cortexlake/cdl/internal/service"
)

// NewLoggingCmd creates the logging command group.
func NewLoggingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logging",
		Short: "Query and write logs (Logging Service)",
		Long: `Run query jobs against the Logging Service, read their results and
write log records.

Query results are read one sequence number at a time. xpoll follows the
job to completion and prints each log record.`,
	}

	cmd.AddCommand(
		newLoggingQueryCmd(),
		newLoggingPollCmd(),
		newLoggingXPollCmd(),
		newLoggingDeleteCmd(),
		newLoggingWriteCmd(),
	)
	return cmd
}

// pollFlags are shared by the commands that read query results.
type pollFlags struct {
	seq         int
	maxWaitTime int
}

func (p *pollFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.seq, "seq", 0, "Sequence number to start from")
	cmd.Flags().IntVar(&p.maxWaitTime, "max-wait-time", 0, "Milliseconds the server waits for results (maxWaitTime)")
}

// params merges --param with the typed poll flags.
func (p *pollFlags) params(cmd *cobra.Command, rf *requestFlags) (map[string]string, error) {
	params, err := rf.query()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("max-wait-time") {
		if p.maxWaitTime < 0 {
			return nil, output.ErrUsage("--max-wait-time must not be negative")
		}
		params["maxWaitTime"] = strconv.Itoa(p.maxWaitTime)
	}
	return params, nil
}

func newLoggingQueryCmd() *cobra.Command {
	var (
		rf          requestFlags
		pf          pollFlags
		query       string
		rng         dateparse.RangeOptions
		xpoll       bool
		deleteQuery bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Create a query job",
		Long: `Create a query job and print the response with its queryId.

The body is built from --data objects; --query sets the "query" field.
--start, --end, --window and --midpoint fill startTime and endTime when
the body does not set them. Times accept epoch seconds, RFC3339,
YYYY-MM-DD, now, today, yesterday and relative values such as -1h.`,
		Example: `  cdl logging query --query "SELECT * FROM panw.traffic LIMIT 5" --start -1h
  cdl logging query -d '{"query":"SELECT * FROM panw.threat"}' --window 1d --xpoll --delete`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			body, err := rf.object()
			if err != nil {
				return err
			}
			if query != "" {
				body["query"] = query
			}
			if rng != (dateparse.RangeOptions{}) {
				r, err := dateparse.ResolveRange(rng, time.Now())
				if err != nil {
					return output.ErrUsage(err.Error())
				}
				for _, w := range r.Warnings {
					app.Output.Warn("%s", w)
				}
				setIfAbsent(body, "startTime", r.Start)
				setIfAbsent(body, "endTime", r.End)
			}
			opts, err := rf.callOptions()
			if err != nil {
				return err
			}

			logging := app.Logging()
			resp, err := logging.Query(cmd.Context(), body, opts...)
			if err != nil {
				return err
			}
			if err := app.Respond(opName(cmd), output.ServiceLogging, resp); err != nil {
				return err
			}
			hopts, err := rf.headerOptions()
			if err != nil {
				return err
			}
			if !xpoll {
				if deleteQuery {
					return deleteAfter(cmd, app, resp, hopts)
				}
				return nil
			}
			queryID, err := responseID(resp, "queryId")
			if err != nil {
				return err
			}
			params, err := pf.params(cmd, &requestFlags{})
			if err != nil {
				return err
			}
			return logging.XPoll(cmd.Context(), queryID, pf.seq, params, deleteQuery, printRecord(app), hopts...)
		},
	}

	rf.bindData(cmd)
	rf.bindHeaders(cmd)
	rf.bindParams(cmd)
	cmd.Flags().StringVarP(&query, "query", "q", "", "SQL query text")
	cmd.Flags().StringVar(&rng.Start, "start", "", "Start time (startTime)")
	cmd.Flags().StringVar(&rng.End, "end", "", "End time (endTime, default now)")
	cmd.Flags().StringVar(&rng.Window, "window", "", "Range length, e.g. 15m, 1h, 7d")
	cmd.Flags().StringVar(&rng.Midpoint, "midpoint", "", "Center the --window on this time")
	cmd.Flags().BoolVar(&xpoll, "xpoll", false, "Follow the job and print each log record")
	cmd.Flags().BoolVar(&deleteQuery, "delete", false, "Delete the query job afterwards")
	pf.bind(cmd)
	return cmd
}

// deleteAfter deletes the job created by resp and reports the deletion.
func deleteAfter(cmd *cobra.Command, app *appctx.App, resp *api.Response, opts []service.CallOption) error {
	queryID, err := responseID(resp, "queryId")
	if err != nil {
		return err
	}
	del, err := app.Logging().Delete(cmd.Context(), queryID, opts...)
	if err != nil {
		return err
	}
	return app.Respond("logging delete", output.ServiceLogging, del)
}

// printRecord prints each record passed to an xpoll visitor.
func printRecord(app *appctx.App) func(map[string]any) error {
	return func(rec map[string]any) error { return app.OK(rec) }
}

func setIfAbsent(body map[string]any, key string, v *int64) {
	if v == nil {
		return
	}
	if _, ok := body[key]; !ok {
		body[key] = *v
	}
}

// responseID reads a string id field from a JSON response.
func responseID(resp *api.Response, key string) (string, error) {
	body, err := resp.JSON()
	if err != nil {
		return "", err
	}
	id, _ := body[key].(string)
	if id == "" {
		return "", cdlerrors.ErrJSONFormat(`no "`+key+`" in response`, nil)
	}
	return id, nil
}

func newLoggingPollCmd() *cobra.Command {
	var (
		rf  requestFlags
		pf  pollFlags
		all bool
	)

	cmd := &cobra.Command{
		Use:   "poll <queryId>",
		Short: "Fetch query results by sequence number",
		Long: `Fetch one page of results for a query job. With --all, keep polling
until the job finishes and print every response.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			params, err := pf.params(cmd, &rf)
			if err != nil {
				return err
			}
			opts, err := rf.headerOptions()
			if err != nil {
				return err
			}
			op := opName(cmd)
			logging := app.Logging()
			if all {
				return logging.IterPoll(cmd.Context(), args[0], pf.seq, params, func(resp *api.Response) error {
					return app.Respond(op, output.ServiceLogging, resp)
				}, opts...)
			}
			resp, err := logging.Poll(cmd.Context(), args[0], pf.seq, params, opts...)
			if err != nil {
				return err
			}
			return app.Respond(op, output.ServiceLogging, resp)
		},
	}

	rf.bindParams(cmd)
	rf.bindHeaders(cmd)
	pf.bind(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Poll until the job finishes")
	return cmd
}

func newLoggingXPollCmd() *cobra.Command {
	var (
		rf          requestFlags
		pf          pollFlags
		deleteQuery bool
	)

	cmd := &cobra.Command{
		Use:   "xpoll <queryId>",
		Short: "Follow a query job and print each log record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			params, err := pf.params(cmd, &rf)
			if err != nil {
				return err
			}
			opts, err := rf.headerOptions()
			if err != nil {
				return err
			}
			return app.Logging().XPoll(cmd.Context(), args[0], pf.seq, params, deleteQuery, printRecord(app), opts...)
		},
	}

	rf.bindParams(cmd)
	rf.bindHeaders(cmd)
	pf.bind(cmd)
	cmd.Flags().BoolVar(&deleteQuery, "delete", false, "Delete the query job when it finishes")
	return cmd
}

func newLoggingDeleteCmd() *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:   "delete <queryId>",
		Short: "Delete a query job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := rf.callOptions()
			if err != nil {
				return err
			}
			return respond(cmd, output.ServiceLogging, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Logging().Delete(ctx, args[0], opts...)
			})
		},
	}

	rf.bindHeaders(cmd)
	rf.bindParams(cmd)
	return cmd
}

func newLoggingWriteCmd() *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:   "write <vendorId> <logType>",
		Short: "Write log records",
		Long: `Write log records of logType for vendorId. --data takes a JSON array
of records or an object.`,
		Example: `  cdl logging write paloaltonetworks test -d '[{"generatedTime": 0}]'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := rf.body()
			if err != nil {
				return err
			}
			if body == nil {
				return output.ErrUsage("--data is required")
			}
			opts, err := rf.callOptions()
			if err != nil {
				return err
			}
			return respond(cmd, output.ServiceLogging, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Logging().Write(ctx, args[0], args[1], body, opts...)
			})
		},
	}

	rf.bindData(cmd)
	rf.bindHeaders(cmd)
	rf.bindParams(cmd)
	return cmd
}
