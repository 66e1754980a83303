package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/cortexlake/cdl/internal/appctx"
	"github.com/cortexlake/cdl/internal/auth"
	"github.com/cortexlake/cdl/internal/config"
	"github.com/cortexlake/cdl/internal/credstore"
	"github.com/cortexlake/cdl/internal/service"
	"github.com/cortexlake/cdl/internal/version"
)

// Check represents a single diagnostic check result.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "fail", "skip", "warn"
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// DoctorResult holds the complete diagnostic results.
type DoctorResult struct {
	Checks  []Check `json:"checks"`
	Passed  int     `json:"passed"`
	Failed  int     `json:"failed"`
	Warned  int     `json:"warned"`
	Skipped int     `json:"skipped"`
}

// Summary returns a human-readable summary of the results.
func (r *DoctorResult) Summary() string {
	if r.Failed == 0 && r.Warned == 0 && r.Passed > 0 {
		if r.Skipped > 0 {
			return fmt.Sprintf("All %d checks passed, %d skipped", r.Passed, r.Skipped)
		}
		return fmt.Sprintf("All %d checks passed", r.Passed)
	}
	parts := []string{}
	if r.Passed > 0 {
		parts = append(parts, fmt.Sprintf("%d passed", r.Passed))
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	if r.Warned > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", r.Warned, pluralize(r.Warned, "warning", "warnings")))
	}
	if r.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", r.Skipped))
	}
	return strings.Join(parts, ", ")
}

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	var (
		verbose bool
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check CLI health and diagnose issues",
		Long: `Run diagnostic checks on configuration, credentials and API connectivity.

The doctor command checks:
  - CLI version
  - Configuration files (validity)
  - Credential store
  - Credentials for the selected profile
  - Access token expiration
  - API connectivity (skipped with --offline)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			checks := runDoctorChecks(cmd.Context(), app, verbose, offline)
			result := summarizeChecks(checks)
			fmt.Fprintf(app.Output.Err(), "%s: %s\n", opName(cmd), result.Summary())
			return app.OK(result)
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show additional debug information")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip checks that contact the API")
	return cmd
}

func runDoctorChecks(ctx context.Context, app *appctx.App, verbose, offline bool) []Check {
	checks := []Check{checkVersion(verbose)}
	if verbose {
		checks = append(checks, checkRuntime())
	}
	checks = append(checks, checkConfigFiles(verbose)...)
	checks = append(checks, checkStore(app))

	credCheck := checkCredentials(app)
	checks = append(checks, credCheck)

	var canTestAPI bool
	if credCheck.Status == "pass" || credCheck.Status == "warn" {
		authCheck := checkAuthentication(ctx, app, verbose, offline)
		checks = append(checks, authCheck)
		canTestAPI = authCheck.Status == "pass" || authCheck.Status == "warn"
	} else {
		checks = append(checks, Check{
			Name:    "Authentication",
			Status:  "skip",
			Message: "Skipped (no credentials)",
			Hint:    "Run: cdl credentials write --client-id ... --client-secret ... --refresh-token ...",
		})
	}

	switch {
	case offline:
		checks = append(checks, Check{Name: "API Connectivity", Status: "skip", Message: "Skipped (--offline)"})
	case canTestAPI:
		checks = append(checks, checkAPIConnectivity(ctx, app, verbose))
	default:
		checks = append(checks, Check{Name: "API Connectivity", Status: "skip", Message: "Skipped (not authenticated)"})
	}
	return checks
}

func checkVersion(verbose bool) Check {
	check := Check{Name: "CLI Version", Status: "pass", Message: version.Version}
	if version.IsDev() {
		check.Message = "dev (built from source)"
	}
	if verbose {
		check.Message += fmt.Sprintf(" [commit: %s, date: %s]", version.Commit, version.Date)
	}
	return check
}

func checkRuntime() Check {
	return Check{
		Name:    "Runtime",
		Status:  "pass",
		Message: fmt.Sprintf("Go %s (%s/%s)", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

// checkConfigFiles validates every existing config file.
func checkConfigFiles(verbose bool) []Check {
	var checks []Check
	for _, f := range config.Files() {
		if !f.Exists {
			continue
		}
		name := lo.Capitalize(string(f.Source)) + " Config"
		checks = append(checks, validateConfigFile(f.Path, name, verbose))
	}
	if len(checks) == 0 {
		checks = append(checks, Check{
			Name:    "Config",
			Status:  "pass",
			Message: "No config files (using defaults)",
		})
	}
	return checks
}

func validateConfigFile(path, name string, verbose bool) Check {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config location
	if err != nil {
		return Check{
			Name:    name,
			Status:  "fail",
			Message: fmt.Sprintf("Cannot read: %s", path),
			Hint:    fmt.Sprintf("Check file permissions: %v", err),
		}
	}

	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Check{
			Name:    name,
			Status:  "fail",
			Message: fmt.Sprintf("Invalid JSON: %s", path),
			Hint:    fmt.Sprintf("JSON error: %v", err),
		}
	}

	msg := path
	if verbose {
		msg = fmt.Sprintf("%s (%d keys)", path, len(cfg))
	}
	return Check{Name: name, Status: "pass", Message: msg}
}

func checkStore(app *appctx.App) Check {
	check := Check{Name: "Credential Store", Status: "pass", Message: app.Config.Store}
	if fs, ok := app.Store.(*credstore.FileStore); ok {
		check.Message = fs.Path()
	}
	if err := app.Store.Init(); err != nil {
		check.Status = "fail"
		check.Hint = err.Error()
	}
	return check
}

func checkCredentials(app *appctx.App) Check {
	check := Check{Name: "Credentials"}

	if app.Getenv(appctx.EnvToken) != "" {
		check.Status = "pass"
		check.Message = "Using " + appctx.EnvToken + " environment variable"
		return check
	}

	snap, err := app.Credentials.Snapshot()
	if err != nil {
		check.Status = "fail"
		check.Message = "Cannot resolve credentials"
		check.Hint = err.Error()
		return check
	}

	refreshable := snap.ClientID != "" && snap.ClientSecret != "" && snap.RefreshToken != ""
	switch {
	case refreshable:
		check.Status = "pass"
		check.Message = fmt.Sprintf("Profile %q (client %s)", app.Credentials.Profile(), snap.ClientID)
	case app.Credentials.DeveloperToken() != "":
		check.Status = "pass"
		check.Message = "Using developer token"
	case snap.AccessToken != "":
		check.Status = "warn"
		check.Message = "Access token only; it cannot be refreshed"
		check.Hint = "Add client_id, client_secret and refresh_token to refresh automatically"
	default:
		check.Status = "fail"
		check.Message = fmt.Sprintf("No credentials for profile %q", app.Credentials.Profile())
		check.Hint = "Set PAN_CLIENT_ID, PAN_CLIENT_SECRET and PAN_REFRESH_TOKEN or run: cdl credentials write"
	}
	return check
}

// checkAuthentication checks access token expiry, refreshing an expired
// token unless offline.
func checkAuthentication(ctx context.Context, app *appctx.App, verbose, offline bool) Check {
	check := Check{Name: "Authentication"}

	if app.Getenv(appctx.EnvToken) != "" {
		check.Status = "pass"
		check.Message = "Valid (via " + appctx.EnvToken + ")"
		return check
	}

	token, err := app.Credentials.AccessToken()
	if err != nil || token == "" {
		if offline {
			check.Status = "skip"
			check.Message = "No access token (refresh skipped with --offline)"
			return check
		}
		return refreshCheck(ctx, app, check, "Valid (fetched)")
	}

	exp, err := auth.DecodeExp(token)
	if err != nil {
		check.Status = "fail"
		check.Message = "Access token is not a valid JWT"
		check.Hint = err.Error()
		return check
	}

	expiresIn := time.Until(time.Unix(exp, 0))
	switch {
	case expiresIn < 0 && offline:
		check.Status = "warn"
		check.Message = "Token expired"
		check.Hint = "Token will be refreshed on the next API call"
	case expiresIn < 0:
		return refreshCheck(ctx, app, check, "Valid (auto-refreshed)")
	case expiresIn < 5*time.Minute:
		check.Status = "warn"
		check.Message = fmt.Sprintf("Token expires in %s", expiresIn.Round(time.Second))
		check.Hint = "Token will auto-refresh on next API call"
	default:
		check.Status = "pass"
		check.Message = "Valid"
		if verbose {
			check.Message = fmt.Sprintf("Valid (expires in %s)", expiresIn.Round(time.Minute))
		}
	}
	return check
}

func refreshCheck(ctx context.Context, app *appctx.App, check Check, ok string) Check {
	if _, err := app.Credentials.ValidToken(ctx); err != nil {
		check.Status = "fail"
		check.Message = "Token refresh failed"
		check.Hint = err.Error()
		return check
	}
	check.Status = "pass"
	check.Message = ok
	return check
}

// checkAPIConnectivity lists at most one query job.
func checkAPIConnectivity(ctx context.Context, app *appctx.App, verbose bool) Check {
	check := Check{Name: "API Connectivity"}

	start := time.Now()
	resp, err := app.Query().ListJobs(ctx, service.ListJobsOptions{MaxJobs: lo.ToPtr(1)})
	latency := time.Since(start)

	switch {
	case err != nil:
		check.Status = "fail"
		check.Message = "Cannot connect to " + app.Client.URL()
		check.Hint = fmt.Sprintf("Error: %v", err)
	case !resp.OK():
		check.Status = "fail"
		check.Message = fmt.Sprintf("%s returned %d %s", app.Client.URL(), resp.StatusCode, resp.Reason)
		if serr := resp.ServerError(); serr != nil {
			check.Hint = serr.Error()
		}
	default:
		check.Status = "pass"
		check.Message = app.Client.URL() + " reachable"
		if verbose {
			check.Message = fmt.Sprintf("%s reachable (%dms)", app.Client.URL(), latency.Milliseconds())
		}
	}
	return check
}

func summarizeChecks(checks []Check) *DoctorResult {
	result := &DoctorResult{Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case "pass":
			result.Passed++
		case "fail":
			result.Failed++
		case "warn":
			result.Warned++
		case "skip":
			result.Skipped++
		}
	}
	return result
}

// pluralize returns singular or plural form based on count.
func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
