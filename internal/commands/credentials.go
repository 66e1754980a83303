package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/cortexlake/cdl/internal/appctx"
	"github.com/cortexlake/cdl/internal/auth"
	"github.com/cortexlake/cdl/internal/credstore"
	"github.com/cortexlake/cdl/internal/output"
	"github.com/cortexlake/cdl/internal/prompt"
	"github.com/cortexlake/cdl/internal/sdk"
)

// NewCredentialsCmd creates the credentials command group.
func NewCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage stored credentials and tokens",
		Long: `Manage OAuth2 credentials for the selected profile.

Credentials resolve from command values, PAN_* environment variables and
the credential store, in the order selected by --precedence.`,
	}

	cmd.AddCommand(
		newCredentialsInitCmd(),
		newCredentialsWriteCmd(),
		newCredentialsShowCmd(),
		newCredentialsRefreshCmd(),
		newCredentialsRevokeCmd(),
		newCredentialsAuthorizationURLCmd(),
		newCredentialsFetchTokensCmd(),
		newCredentialsRemoveCmd(),
		newCredentialsJWTCmd(),
	)
	return cmd
}

func newCredentialsInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the credential store if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := app.Store.Init(); err != nil {
				return err
			}
			result := map[string]any{"store": app.Config.Store}
			if fs, ok := app.Store.(*credstore.FileStore); ok {
				result["store"] = credstore.DefaultAdapter
				result["path"] = fs.Path()
			}
			return app.OK(result)
		},
	}
}

func newCredentialsWriteCmd() *cobra.Command {
	var (
		accessToken, clientID, clientSecret, refreshToken string
		yes                                               bool
	)

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write credentials to the store",
		Long: `Resolve credentials and write them under the selected profile.

Values given as flags take part in resolution as command values; the
access token is only written when token caching is enabled.

On a terminal, client credentials that are neither passed as flags nor
set in the environment are prompted for (secrets are not echoed), and
the write is confirmed unless --yes is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if app.IsInteractive() {
				err := promptCredentials(app, []credentialInput{
					{sdk.FieldClientID, "Client ID", false, &clientID},
					{sdk.FieldClientSecret, "Client secret", true, &clientSecret},
					{sdk.FieldRefreshToken, "Refresh token", true, &refreshToken},
				})
				if err != nil {
					return err
				}
			}

			creds, err := app.NewCredentials(func(o *auth.Options) {
				o.AccessToken = accessToken
				o.ClientID = clientID
				o.ClientSecret = clientSecret
				o.RefreshToken = refreshToken
			})
			if err != nil {
				return err
			}

			if app.IsInteractive() && !yes {
				ok, err := confirm(app, fmt.Sprintf("Write credentials to profile %q?", creds.Profile()), false)
				if err != nil {
					return err
				}
				if !ok {
					return app.OK(map[string]any{"profile": creds.Profile(), "aborted": true})
				}
			}

			id, err := creds.WriteCredentials()
			if err != nil {
				return err
			}
			return app.OK(map[string]any{
				"profile": creds.Profile(),
				"id":      id,
			})
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "Access token")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth2 client ID")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth2 client secret")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth2 refresh token")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Write without asking for confirmation")
	return cmd
}

// credentialInput is one client credential that may be prompted for.
type credentialInput struct {
	field  sdk.Field
	title  string
	secret bool
	value  *string
}

// promptCredentials asks for the inputs that are empty and not set in the
// environment. When anything is asked for, environment values are copied
// into the remaining empty inputs, since a command value hides the
// environment under all-or-nothing precedence.
func promptCredentials(app *appctx.App, inputs []credentialInput) error {
	missing := lo.Filter(inputs, func(in credentialInput, _ int) bool {
		return *in.value == "" && app.Getenv(in.field.EnvName()) == ""
	})
	if len(missing) == 0 {
		return nil
	}

	for _, in := range inputs {
		if *in.value == "" {
			*in.value = app.Getenv(in.field.EnvName())
		}
	}
	for _, in := range missing {
		v, err := app.Prompter.Input(in.title, in.secret)
		if err != nil {
			return err
		}
		*in.value = v
	}
	return nil
}

// confirm asks a yes/no question. Cancelling the prompt counts as no.
func confirm(app *appctx.App, title string, dangerous bool) (bool, error) {
	ok, err := app.Prompter.Confirm(title, dangerous)
	if errors.Is(err, prompt.ErrAborted) {
		return false, nil
	}
	return ok, err
}

func newCredentialsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show resolved credentials with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			snap, err := app.Credentials.Snapshot()
			if err != nil {
				return err
			}
			result := map[string]any{
				"profile":         app.Credentials.Profile(),
				"store":           app.Config.Store,
				"cache_token":     app.Credentials.CacheToken(),
				"access_token":    mask(snap.AccessToken),
				"client_id":       snap.ClientID,
				"client_secret":   mask(snap.ClientSecret),
				"refresh_token":   mask(snap.RefreshToken),
				"developer_token": mask(app.Credentials.DeveloperToken()),
			}
			if snap.AccessToken != "" {
				if exp, err := auth.DecodeExp(snap.AccessToken); err == nil {
					result["exp"] = exp
					result["expires_at"] = time.Unix(exp, 0).UTC().Format(time.RFC3339)
				}
			}
			return app.OK(result)
		},
	}
}

func mask(s string) any {
	if s == "" {
		return nil
	}
	return "******"
}

func newCredentialsRefreshCmd() *cobra.Command {
	var showToken bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Long: `Request a new access token and cache it in the store.

Uses the developer token provider when a developer token is set and no
access token or command credentials are supplied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			token, err := app.Credentials.Refresh(cmd.Context(), "")
			if err != nil {
				return err
			}
			result := map[string]any{"profile": app.Credentials.Profile()}
			if exp, err := app.Credentials.JWTExp(); err == nil {
				result["exp"] = exp
				result["expires_at"] = time.Unix(exp, 0).UTC().Format(time.RFC3339)
			}
			if showToken {
				result["access_token"] = token
			}
			return app.OK(result)
		},
	}

	cmd.Flags().BoolVar(&showToken, "show-token", false, "Include the new access token in the output")
	return cmd
}

func newCredentialsRevokeCmd() *cobra.Command {
	var tokenType string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the access or refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			var result map[string]any
			switch tokenType {
			case "access":
				result, err = app.Credentials.RevokeAccessToken(cmd.Context())
			case "refresh":
				result, err = app.Credentials.RevokeRefreshToken(cmd.Context())
			default:
				return output.ErrUsagef("--token %q: expected access or refresh", tokenType)
			}
			if err != nil {
				return err
			}
			return app.OK(result)
		},
	}

	cmd.Flags().StringVar(&tokenType, "token", "access", "Token to revoke: access or refresh")
	return cmd
}

func newCredentialsAuthorizationURLCmd() *cobra.Command {
	var req auth.AuthorizationRequest

	cmd := &cobra.Command{
		Use:   "authorization-url",
		Short: "Print the URL that starts the authorization-code flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			url, state, err := app.Credentials.AuthorizationURL(req)
			if err != nil {
				return err
			}
			return app.OK(map[string]any{"url": url, "state": state})
		},
	}

	cmd.Flags().StringVar(&req.ClientID, "client-id", "", "OAuth2 client ID (default: resolved client ID)")
	cmd.Flags().StringVar(&req.InstanceID, "instance-id", "", "Cortex instance ID")
	cmd.Flags().StringVar(&req.RedirectURI, "redirect-uri", "", "Redirect URI registered for the client")
	cmd.Flags().StringVar(&req.Region, "region", "", "Instance region")
	cmd.Flags().StringVar(&req.Scope, "scope", "", "Requested scope")
	cmd.Flags().StringVar(&req.State, "state", "", "State value (default: random UUID)")
	return cmd
}

func newCredentialsFetchTokensCmd() *cobra.Command {
	var req auth.FetchTokensRequest

	cmd := &cobra.Command{
		Use:   "fetch-tokens",
		Short: "Exchange an authorization code for tokens",
		Long: `Exchange an authorization code for access and refresh tokens and
write them to the store under the selected profile.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if req.Code == "" {
				return output.ErrUsage("--code is required")
			}
			body, err := app.Credentials.FetchTokens(cmd.Context(), req)
			if err != nil {
				return err
			}
			return app.OK(lo.MapValues(body, func(v any, k string) any {
				if k == "access_token" || k == "refresh_token" {
					return mask(toString(v))
				}
				return v
			}))
		},
	}

	cmd.Flags().StringVar(&req.Code, "code", "", "Authorization code (required)")
	cmd.Flags().StringVar(&req.ClientID, "client-id", "", "OAuth2 client ID (default: resolved client ID)")
	cmd.Flags().StringVar(&req.ClientSecret, "client-secret", "", "OAuth2 client secret (default: resolved client secret)")
	cmd.Flags().StringVar(&req.RedirectURI, "redirect-uri", "", "Redirect URI used for the authorization request")
	return cmd
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func newCredentialsRemoveCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove [profile]",
		Short: "Remove a profile from the store",
		Long: `Remove a profile from the credential store.

The removal is confirmed on a terminal. Without a terminal, --yes is
required.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			profile := app.Credentials.Profile()
			if len(args) > 0 {
				profile = args[0]
			}

			if !yes {
				if !app.IsInteractive() {
					return output.ErrUsageHint("Removing profile "+profile+" needs confirmation", "Pass --yes to remove without prompting")
				}
				ok, err := confirm(app, fmt.Sprintf("Delete profile %q?", profile), true)
				if err != nil {
					return err
				}
				if !ok {
					return app.OK(map[string]any{"profile": profile, "removed": 0, "aborted": true})
				}
			}

			n, err := app.Credentials.RemoveProfile(profile)
			if err != nil {
				return err
			}
			return app.OK(map[string]any{"profile": profile, "removed": n})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Remove without asking for confirmation")
	return cmd
}

func newCredentialsJWTCmd() *cobra.Command {
	var leeway time.Duration

	cmd := &cobra.Command{
		Use:   "jwt [token]",
		Short: "Decode a JWT payload without verifying it",
		Long: `Decode the claims of token, or of the resolved access token when no
token is given, and report whether it has expired.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			var token string
			if len(args) > 0 {
				token = args[0]
			} else if token, err = app.Credentials.AccessToken(); err != nil {
				return err
			}
			if token == "" {
				return output.ErrUsage("no access token; pass a token or set one for the profile")
			}
			claims, err := auth.DecodeJWTPayload(token)
			if err != nil {
				return err
			}
			expired, err := app.Credentials.JWTIsExpired(token, leeway)
			if err != nil {
				return err
			}
			return app.OK(map[string]any{
				"claims":  map[string]any(claims),
				"expired": expired,
			})
		},
	}

	cmd.Flags().DurationVar(&leeway, "leeway", 0, "Clock skew allowed past exp")
	return cmd
}
