package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/appctx"
	"github.com/cortexlake/cdl/internal/output"
	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
	"github.com/cortexlake/cdl/internal/service"
)

// requestFlags are the body, query and header flags shared by operations.
type requestFlags struct {
	data    []string
	params  []string
	headers []string
	options []string
}

func (f *requestFlags) bindData(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.data, "data", "d", nil, "JSON request body; repeated objects are merged left to right")
}

func (f *requestFlags) bindParams(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.params, "param", nil, "Query parameter as key=value (repeatable)")
}

func (f *requestFlags) bindHeaders(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "Request header as key=value (repeatable)")
}

func (f *requestFlags) bindOptions(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.options, "options", nil, "JSON object of operation options; repeated objects are merged")
}

// body returns the merged --data value, nil when none was given.
func (f *requestFlags) body() (any, error) {
	return parseBody(f.data, "--data")
}

// object returns the merged --data objects, empty when none was given.
func (f *requestFlags) object() (map[string]any, error) {
	return mergeJSON(f.data, "--data")
}

func (f *requestFlags) query() (map[string]string, error) {
	return parsePairs(f.params, "--param")
}

// callOptions turns --header and --param into per-call overrides.
func (f *requestFlags) callOptions() ([]service.CallOption, error) {
	var opts []service.CallOption
	headers, err := parsePairs(f.headers, "--header")
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		opts = append(opts, service.WithHeaders(headers))
	}
	params, err := f.query()
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		opts = append(opts, service.WithParams(params))
	}
	return opts, nil
}

// headerOptions is callOptions without the query parameters, for calls
// that take their parameters as an argument.
func (f *requestFlags) headerOptions() ([]service.CallOption, error) {
	headers, err := parsePairs(f.headers, "--header")
	if err != nil || len(headers) == 0 {
		return nil, err
	}
	return []service.CallOption{service.WithHeaders(headers)}, nil
}

// decodeOptions merges --options and decodes them into out.
func (f *requestFlags) decodeOptions(out any) error {
	merged, err := mergeJSON(f.options, "--options")
	if err != nil {
		return err
	}
	return decodeInto(merged, out)
}

// parseBody accepts a single JSON value of any kind, or several objects
// to merge.
func parseBody(docs []string, flag string) (any, error) {
	switch len(docs) {
	case 0:
		return nil, nil
	case 1:
		var v any
		if err := json.Unmarshal([]byte(docs[0]), &v); err != nil {
			return nil, invalidJSON(flag, err)
		}
		return v, nil
	}
	return mergeJSON(docs, flag)
}

// mergeJSON decodes each doc as a JSON object and merges them, later keys
// winning.
func mergeJSON(docs []string, flag string) (map[string]any, error) {
	objs := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		var obj map[string]any
		if err := json.Unmarshal([]byte(doc), &obj); err != nil {
			return nil, invalidJSON(flag, err)
		}
		objs = append(objs, obj)
	}
	return lo.Assign(objs...), nil
}

func invalidJSON(flag string, err error) error {
	return output.ErrUsageHint(fmt.Sprintf("Invalid JSON in %s", flag), fmt.Sprintf("JSON parse error: %v", err))
}

// parsePairs parses key=value arguments.
func parsePairs(pairs []string, flag string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, output.ErrUsagef("%s %q: expected key=value", flag, p)
		}
		out[k] = v
	}
	return out, nil
}

// decodeInto decodes m into the struct pointed to by out. Keys with no
// matching field are reported as unexpected parameters.
func decodeInto(m map[string]any, out any) error {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(m); err != nil {
		return cdlerrors.ErrConfigurationf("invalid options: %v", err)
	}
	if len(md.Unused) > 0 {
		return cdlerrors.ErrUnexpectedParameter(md.Unused...)
	}
	return nil
}

// opName is the command path without the binary name, e.g. "logging poll".
func opName(cmd *cobra.Command) string {
	return strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()+" ")
}

// appFrom fetches the App stored by the root command.
func appFrom(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	return app, nil
}

// respond runs call and prints its response with the status line for svc.
func respond(cmd *cobra.Command, svc string, call func(ctx context.Context, app *appctx.App) (*api.Response, error)) error {
	app, err := appFrom(cmd)
	if err != nil {
		return err
	}
	resp, err := call(cmd.Context(), app)
	if err != nil {
		return err
	}
	return app.Respond(opName(cmd), svc, resp)
}
