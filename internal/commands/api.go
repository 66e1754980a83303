package commands

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/appctx"
	"github.com/cortexlake/cdl/internal/hostutil"
)

// NewAPICmd creates the api command for raw API access.
func NewAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api <verb> <endpoint>",
		Short: "Raw API access",
		Long: `Make raw requests to any Cortex Data Lake endpoint. Useful for
operations not covered by dedicated commands.

The endpoint is a path on the configured --url, or a full URL.`,
	}

	cmd.AddCommand(
		newAPIVerbCmd(http.MethodGet, false),
		newAPIVerbCmd(http.MethodPost, true),
		newAPIVerbCmd(http.MethodPut, true),
		newAPIVerbCmd(http.MethodDelete, true),
	)
	return cmd
}

func newAPIVerbCmd(method string, withBody bool) *cobra.Command {
	var (
		rf        requestFlags
		anonymous bool
		noRefresh bool
	)
	verb := strings.ToLower(method)

	cmd := &cobra.Command{
		Use:     verb + " <endpoint>",
		Short:   method + " request to the API",
		Example: "  cdl api " + verb + " /query/v2/jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseEndpoint(args[0])
			if err != nil {
				return err
			}
			req.Method = method
			if req.Body, err = rf.body(); err != nil {
				return err
			}
			params, err := rf.query()
			if err != nil {
				return err
			}
			req.Params = lo.Assign(req.Params, params)
			if req.Headers, err = parsePairs(rf.headers, "--header"); err != nil {
				return err
			}
			req.Anonymous = anonymous
			if noRefresh {
				req.AutoRefresh = lo.ToPtr(false)
			}
			return respond(cmd, "", func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Client.Send(ctx, req)
			})
		},
	}

	if withBody {
		rf.bindData(cmd)
	}
	rf.bindParams(cmd)
	rf.bindHeaders(cmd)
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "Send without an Authorization header")
	cmd.Flags().BoolVar(&noRefresh, "no-refresh", false, "Do not refresh the token on 401")
	return cmd
}

// parseEndpoint splits a path or full URL into a request. Query string
// values become params.
func parseEndpoint(raw string) (api.Request, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return api.Request{}, err
	}
	var req api.Request
	if u.IsAbs() {
		if req.URL, req.Endpoint, err = hostutil.SplitOrigin(raw); err != nil {
			return api.Request{}, err
		}
	} else {
		req.Endpoint = u.EscapedPath()
	}
	if !strings.HasPrefix(req.Endpoint, "/") {
		req.Endpoint = "/" + req.Endpoint
	}
	if q := u.Query(); len(q) > 0 {
		req.Params = make(map[string]string, len(q))
		for k := range q {
			req.Params[k] = q.Get(k)
		}
	}
	return req, nil
}
