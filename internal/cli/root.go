package cli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cortexlake/cdl/internal/appctx"
	"github.com/cortexlake/cdl/internal/commands"
	"github.com/cortexlake/cdl/internal/config"
	"github.com/cortexlake/cdl/internal/output"
	"github.com/cortexlake/cdl/internal/version"
)

// rootFlags holds the persistent flag values of a single invocation.
type rootFlags struct {
	global    appctx.GlobalFlags
	overrides config.FlagOverrides

	port            int
	pollMaxAttempts uint
	pollBackoff     bool
}

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var rf rootFlags

	cmd := &cobra.Command{
		Use:   "cdl",
		Short: "Command-line interface for Cortex Data Lake",
		Long: `cdl talks to the Cortex Data Lake REST APIs: the Logging, Event,
Directory Sync and Query services.

Credentials are read from the environment (PAN_ACCESS_TOKEN, PAN_CLIENT_ID,
PAN_CLIENT_SECRET, PAN_REFRESH_TOKEN) or from the credential store, and the
access token is refreshed once when the API answers 401.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipSetup(cmd) {
				return nil
			}

			cfg, err := config.Load(rf.resolveOverrides(cmd.Flags()))
			if err != nil {
				return err
			}
			for _, w := range cfg.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}

			rf.global.In = cmd.InOrStdin()
			rf.global.Out = cmd.OutOrStdout()
			rf.global.Err = cmd.ErrOrStderr()
			app, err := appctx.NewApp(cfg, rf.global, os.Getenv)
			if err != nil {
				return err
			}

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	pf := cmd.PersistentFlags()

	// Endpoint flags
	pf.StringVar(&rf.overrides.URL, "url", "", "API base URL (default: $CDL_URL or https://api.us.cdl.paloaltonetworks.com)")
	pf.IntVar(&rf.port, "port", 0, "API port")
	pf.StringVar(&rf.overrides.TokenURL, "token-url", "", "OAuth2 token endpoint")
	pf.DurationVar(&rf.overrides.Timeout, "timeout", 0, "HTTP request timeout (e.g. 30s)")
	pf.BoolVar(&rf.overrides.ForceTrace, "force-trace", false, "Ask the API to trace requests")

	// Credential flags
	pf.StringVar(&rf.overrides.Profile, "profile", "", "Credential profile")
	pf.StringVar(&rf.overrides.Store, "store", "", "Credential store: file, keyring or memory")
	pf.StringVar(&rf.overrides.StorePath, "store-path", "", "Credential file path (file store)")
	pf.BoolVar(&rf.overrides.NoCacheToken, "no-cache-token", false, "Do not write refreshed access tokens to the store")
	pf.StringVar(&rf.overrides.Precedence, "precedence", "", "Credential resolution: all-or-nothing or per-field")
	pf.StringVar(&rf.overrides.RefreshMode, "refresh-mode", "", "Concurrent refresh handling: wait or drop")

	// Polling flags
	pf.DurationVar(&rf.overrides.PollInterval, "poll-interval", 0, "Pause between polls")
	pf.UintVar(&rf.pollMaxAttempts, "poll-max-attempts", 0, "Maximum polls per operation (0 for no limit)")
	pf.BoolVar(&rf.pollBackoff, "poll-backoff", false, "Double the pause between polls")

	// Output flags
	pf.StringVar(&rf.overrides.Format, "format", "", "Output format: json or yaml")
	pf.StringVarP(&rf.global.JMESPath, "jmespath", "J", "", "JMESPath expression applied to output")
	pf.StringVar(&rf.global.JQ, "jq", "", "jq expression applied to output")
	pf.CountVarP(&rf.overrides.Verbose, "verbose", "v", "Verbose output (-v for requests, -vv for bodies)")
	pf.BoolVar(&rf.global.Stats, "stats", false, "Show request statistics")

	_ = cmd.RegisterFlagCompletionFunc("store", cobra.FixedCompletions([]string{"file", "keyring", "memory"}, cobra.ShellCompDirectiveNoFileComp))
	_ = cmd.RegisterFlagCompletionFunc("precedence", cobra.FixedCompletions([]string{"all-or-nothing", "per-field"}, cobra.ShellCompDirectiveNoFileComp))
	_ = cmd.RegisterFlagCompletionFunc("refresh-mode", cobra.FixedCompletions([]string{"wait", "drop"}, cobra.ShellCompDirectiveNoFileComp))
	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions([]string{"json", "yaml"}, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

// resolveOverrides fills the pointer overrides for flags set on the
// command line.
func (rf *rootFlags) resolveOverrides(flags *pflag.FlagSet) config.FlagOverrides {
	o := rf.overrides
	if flags.Changed("port") {
		port := rf.port
		o.Port = &port
	}
	if flags.Changed("poll-max-attempts") {
		n := rf.pollMaxAttempts
		o.PollMaxAttempts = &n
	}
	if flags.Changed("poll-backoff") {
		b := rf.pollBackoff
		o.PollBackoff = &b
	}
	return o
}

// skipSetup reports whether cmd runs without config and credentials.
func skipSetup(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "version", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return cmd.HasParent() && cmd.Parent().Name() == "completion"
}

// addCommands registers every subcommand on root.
func addCommands(root *cobra.Command) {
	root.AddCommand(commands.NewLoggingCmd())
	root.AddCommand(commands.NewEventCmd())
	root.AddCommand(commands.NewDirectoryCmd())
	root.AddCommand(commands.NewQueryCmd())
	root.AddCommand(commands.NewCredentialsCmd())
	root.AddCommand(commands.NewConfigCmd())
	root.AddCommand(commands.NewDoctorCmd())
	root.AddCommand(commands.NewAPICmd())
	root.AddCommand(commands.NewCommandsCmd())
	root.AddCommand(commands.NewCompletionCmd())
}

// Execute runs the root command and exits with its status.
func Execute() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run executes the CLI with args and returns the exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd()
	addCommands(cmd)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteC()

	var app *appctx.App
	if executedCmd != nil && executedCmd.Context() != nil {
		app = appctx.FromContext(executedCmd.Context())
	}
	if app != nil {
		defer app.Finish()
	}
	if err == nil {
		return 0
	}

	err = transformCobraError(err)
	op := commandOp(cmd, executedCmd)
	if app != nil {
		app.Err(op, err)
	} else {
		// Setup failed before the app existed.
		output.New(output.Options{Out: stdout, Err: stderr}).Exception(op, err)
	}
	return output.AsError(err).ExitCode()
}

// commandOp names the failed operation by its command path below root.
func commandOp(root, executed *cobra.Command) string {
	if executed == nil || executed == root {
		return root.Name()
	}
	return strings.TrimPrefix(executed.CommandPath(), root.Name()+" ")
}

var (
	shorthandRe    = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)
	requiredFlagRe = regexp.MustCompile(`required flag\(s\) (.+) not set`)
)

// transformCobraError turns Cobra's parse errors into usage errors.
func transformCobraError(err error) error {
	msg := err.Error()

	switch {
	case strings.HasPrefix(msg, "flag needs an argument: "):
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")

	case strings.HasPrefix(msg, "unknown flag: "):
		return output.ErrUsage("Unknown option: " + strings.TrimPrefix(msg, "unknown flag: "))

	case strings.HasPrefix(msg, "unknown shorthand flag: "):
		if m := shorthandRe.FindStringSubmatch(msg); len(m) > 1 {
			return output.ErrUsage("Unknown option: " + m[1])
		}
		return output.ErrUsage(msg)

	case strings.HasPrefix(msg, "unknown command "):
		return output.ErrUsageHint(msg, "Run: cdl commands")

	case strings.Contains(msg, "invalid argument"):
		return output.ErrUsage(msg)

	case strings.Contains(msg, "arg(s), received"), strings.Contains(msg, "requires at least"):
		return output.ErrUsage(msg)

	case strings.HasPrefix(msg, "required flag(s) "):
		if m := requiredFlagRe.FindStringSubmatch(msg); len(m) > 1 {
			flags := strings.ReplaceAll(m[1], `"`, "")
			return output.ErrUsage("--" + strings.ReplaceAll(flags, ", ", ", --") + " required")
		}
	}

	return err
}
