// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/auth"
	"github.com/cortexlake/cdl/internal/config"
	"github.com/cortexlake/cdl/internal/credstore"
	"github.com/cortexlake/cdl/internal/observability"
	"github.com/cortexlake/cdl/internal/output"
	"github.com/cortexlake/cdl/internal/prompt"
	"github.com/cortexlake/cdl/internal/sdk"
	"github.com/cortexlake/cdl/internal/service"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// Environment variables read by the CLI only.
const (
	EnvToken     = "CDL_TOKEN"
	EnvNoKeyring = "CDL_NO_KEYRING"
)

// App holds the shared application context for all commands.
type App struct {
	Config      *config.Config
	Store       sdk.CredentialStore
	Credentials *auth.Credentials
	Client      *api.Client
	Output      *output.Writer
	Logger      *slog.Logger
	Policy      service.PollPolicy

	// Prompter is nil unless stdin and stderr are terminals.
	Prompter prompt.Prompter

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	authOpts auth.Options
	getenv   func(string) string
}

// GlobalFlags holds values for global CLI flags not carried by config.
type GlobalFlags struct {
	JMESPath string
	JQ       string
	Stats    bool

	In  io.Reader // default os.Stdin
	Out io.Writer // default os.Stdout
	Err io.Writer // default os.Stderr
}

// NewApp wires the credential store, credentials, API client and output
// writer described by cfg.
func NewApp(cfg *config.Config, flags GlobalFlags, getenv func(string) string) (*App, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	errOut := lo.Ternary[io.Writer](flags.Err != nil, flags.Err, os.Stderr)

	logger := slog.New(slog.DiscardHandler)
	if cfg.Verbose > 0 {
		logger = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	// Collector always runs to gather stats; the level controls trace output.
	collector := observability.NewSessionCollector()
	hooks := observability.NewCLIHooks(cfg.Verbose, collector, observability.NewTraceWriterTo(errOut))

	writer, err := newWriter(cfg, flags, errOut)
	if err != nil {
		return nil, err
	}

	storeName := cfg.Store
	if storeName == "keyring" && getenv(EnvNoKeyring) != "" {
		writer.Warn("%s is set, using the file credential store", EnvNoKeyring)
		storeName = credstore.DefaultAdapter
	}
	store, err := credstore.Builtin().Open(storeName, credstore.Params{
		Path:   cfg.StorePath,
		Getenv: getenv,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	// Token endpoint calls go to their own host and never carry the CDL port.
	tokenClient, err := api.NewClient(api.Options{
		Timeout: cfg.Timeout,
		Hooks:   hooks,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	precedence, err := auth.ParsePrecedence(cfg.Precedence)
	if err != nil {
		return nil, output.ErrUsage(err.Error())
	}
	refreshMode, err := auth.ParseRefreshMode(cfg.RefreshMode)
	if err != nil {
		return nil, output.ErrUsage(err.Error())
	}

	authOpts := auth.Options{
		AuthBaseURL: cfg.AuthURL,
		TokenURL:    cfg.TokenURL,
		Profile:     cfg.Profile,
		CacheToken:  lo.ToPtr(cfg.CacheToken),
		Precedence:  precedence,
		RefreshMode: refreshMode,
		Store:       store,
		Client:      tokenClient,
		Getenv:      getenv,
		Logger:      logger,
	}
	creds, err := auth.New(authOpts)
	if err != nil {
		return nil, err
	}

	var ts sdk.TokenSource = creds
	if getenv(EnvToken) != "" {
		logger.Debug("using static bearer token", "env", EnvToken)
		ts = &sdk.EnvTokenSource{EnvVar: EnvToken, Getenv: getenv}
	}

	client, err := api.NewClient(api.Options{
		URL:         cfg.URL,
		Port:        cfg.Port,
		Timeout:     cfg.Timeout,
		ForceTrace:  cfg.ForceTrace,
		Credentials: ts,
		Hooks:       hooks,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Config:      cfg,
		Store:       store,
		Credentials: creds,
		Client:      client,
		Output:      writer,
		Logger:      logger,
		Prompter:    prompt.Detect(lo.Ternary[io.Reader](flags.In != nil, flags.In, os.Stdin), errOut),
		Policy: service.PollPolicy{
			Interval:    cfg.PollInterval,
			MaxAttempts: cfg.PollMaxAttempts,
			Backoff:     cfg.PollBackoff,
		},
		Collector: collector,
		Hooks:     hooks,
		Flags:     flags,
		authOpts:  authOpts,
		getenv:    getenv,
	}, nil
}

// IsInteractive reports whether the user can be prompted.
func (a *App) IsInteractive() bool {
	return a.Prompter != nil
}

func newWriter(cfg *config.Config, flags GlobalFlags, errOut io.Writer) (*output.Writer, error) {
	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	var filters []output.Filter
	if flags.JMESPath != "" {
		f, err := output.NewJMESPath(flags.JMESPath)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if flags.JQ != "" {
		f, err := output.NewJQ(flags.JQ)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return output.New(output.Options{
		Format:  format,
		Out:     flags.Out,
		Err:     errOut,
		Filters: filters,
	}), nil
}

// NewCredentials builds credentials sharing the app's store and token
// client, with mutate applied to a copy of the app's options.
func (a *App) NewCredentials(mutate func(*auth.Options)) (*auth.Credentials, error) {
	opts := a.authOpts
	if mutate != nil {
		mutate(&opts)
	}
	return auth.New(opts)
}

// Logging returns a Logging Service wrapper on the shared client.
func (a *App) Logging() *service.Logging { return service.NewLogging(a.Client, a.Policy) }

// Event returns an Event Service wrapper on the shared client.
func (a *App) Event() *service.Event { return service.NewEvent(a.Client) }

// Directory returns a Directory Sync Service wrapper on the shared client.
func (a *App) Directory() *service.Directory { return service.NewDirectory(a.Client) }

// Query returns a Query Service wrapper on the shared client.
func (a *App) Query() *service.Query { return service.NewQuery(a.Client, a.Policy) }

// Getenv reads the environment the app was built with.
func (a *App) Getenv(key string) string { return a.getenv(key) }

// Respond prints the status line for resp and its body. A non-2xx
// status fails the command after printing.
func (a *App) Respond(op, svc string, resp *api.Response) error {
	a.Output.Status(op, svc, resp)
	switch v := resp.Value(); {
	case v != nil:
		if err := a.Output.Print(v); err != nil {
			return err
		}
	case len(resp.Body) > 0 && !resp.IsJSON():
		a.Output.Warn("Response Content-Type: %s", resp.Headers.Get("Content-Type"))
		a.Output.Text(resp.Text())
	}
	if !resp.OK() {
		return output.ErrStatus(resp.StatusCode)
	}
	return nil
}

// OK prints data to stdout.
func (a *App) OK(data any) error {
	return a.Output.Print(data)
}

// Err reports err for op on stderr.
func (a *App) Err(op string, err error) {
	a.Output.Exception(op, err)
}

// Finish prints usage stats to stderr if --stats is set.
func (a *App) Finish() {
	if !a.Flags.Stats {
		return
	}
	a.printStats(a.Output.Err())
}

// printStats outputs the API counters and a compact session line.
func (a *App) printStats(w io.Writer) {
	counters := a.Client.Stats().Snapshot()
	names := lo.Keys(counters)
	slices.Sort(names)
	pairs := lo.Map(names, func(name string, _ int) string {
		return fmt.Sprintf("%s=%d", name, counters[name])
	})
	fmt.Fprintf(w, "stats: %s\n", strings.Join(pairs, " "))

	stats := a.Collector.Summary()
	var parts []string

	duration := stats.EndTime.Sub(stats.StartTime)
	if duration < time.Second {
		parts = append(parts, fmt.Sprintf("%dms", duration.Milliseconds()))
	} else {
		parts = append(parts, fmt.Sprintf("%.1fs", duration.Seconds()))
	}
	if stats.TotalRequests == 1 {
		parts = append(parts, "1 request")
	} else {
		parts = append(parts, fmt.Sprintf("%d requests", stats.TotalRequests))
	}
	if stats.Unauthorized > 0 {
		parts = append(parts, fmt.Sprintf("%d unauthorized", stats.Unauthorized))
	}
	if stats.TotalRetries > 0 {
		parts = append(parts, fmt.Sprintf("%d retried", stats.TotalRetries))
	}
	if stats.FailedOps > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", stats.FailedOps))
	}
	fmt.Fprintf(w, "session: %s\n", strings.Join(parts, " | "))
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
