package appctx

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/auth"
	"github.com/cortexlake/cdl/internal/config"
	"github.com/cortexlake/cdl/internal/credstore"
	"github.com/cortexlake/cdl/internal/output"
	"github.com/cortexlake/cdl/internal/sdk"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func newTestApp(t *testing.T, mutate func(*config.Config), flags GlobalFlags, env map[string]string) (*App, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Store = "memory"
	if mutate != nil {
		mutate(cfg)
	}
	var stdout, stderr bytes.Buffer
	flags.Out = &stdout
	flags.Err = &stderr
	app, err := NewApp(cfg, flags, envMap(env))
	require.NoError(t, err)
	return app, &stdout, &stderr
}

func TestNewApp(t *testing.T) {
	app, _, _ := newTestApp(t, nil, GlobalFlags{}, nil)

	assert.NotNil(t, app.Config)
	assert.IsType(t, &credstore.MemoryStore{}, app.Store)
	require.NotNil(t, app.Credentials)
	assert.Equal(t, "default", app.Credentials.Profile())
	assert.Same(t, app.Credentials, app.Client.Credentials())
	assert.Equal(t, api.DefaultURL, app.Client.URL())
	assert.NotNil(t, app.Output)
	assert.NotNil(t, app.Collector)
	assert.Equal(t, 0, app.Hooks.Level())
}

func TestNewAppAppliesConfig(t *testing.T) {
	app, _, _ := newTestApp(t, func(c *config.Config) {
		c.URL = "https://api.eu.cdl.paloaltonetworks.com"
		c.Profile = "lab"
		c.CacheToken = false
		c.Verbose = 2
		c.PollMaxAttempts = 5
		c.PollBackoff = true
	}, GlobalFlags{}, nil)

	assert.Equal(t, "https://api.eu.cdl.paloaltonetworks.com", app.Client.URL())
	assert.Equal(t, "lab", app.Credentials.Profile())
	assert.False(t, app.Credentials.CacheToken())
	assert.Equal(t, 2, app.Hooks.Level())
	assert.Equal(t, uint(5), app.Policy.MaxAttempts)
	assert.True(t, app.Policy.Backoff)
}

func TestNewAppStaticToken(t *testing.T) {
	app, _, _ := newTestApp(t, nil, GlobalFlags{}, map[string]string{EnvToken: "static"})

	ts, ok := app.Client.Credentials().(*sdk.EnvTokenSource)
	require.True(t, ok)
	assert.Equal(t, EnvToken, ts.EnvVar)
	tok, err := ts.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static", tok)
	assert.NotNil(t, app.Credentials, "credentials commands still work")
}

func TestNewAppNoKeyringFallsBackToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	app, _, stderr := newTestApp(t, func(c *config.Config) {
		c.Store = "keyring"
		c.StorePath = path
	}, GlobalFlags{}, map[string]string{EnvNoKeyring: "1"})

	fs, ok := app.Store.(*credstore.FileStore)
	require.True(t, ok)
	assert.Equal(t, path, fs.Path())
	assert.FileExists(t, path)
	assert.Contains(t, stderr.String(), EnvNoKeyring)
}

func TestNewAppErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		flags  GlobalFlags
	}{
		{"unknown store", func(c *config.Config) { c.Store = "vault" }, GlobalFlags{}},
		{"bad precedence", func(c *config.Config) { c.Precedence = "sometimes" }, GlobalFlags{}},
		{"bad refresh mode", func(c *config.Config) { c.RefreshMode = "later" }, GlobalFlags{}},
		{"bad format", func(c *config.Config) { c.Format = "xml" }, GlobalFlags{}},
		{"bad jmespath", nil, GlobalFlags{JMESPath: "[[["}},
		{"bad jq", nil, GlobalFlags{JQ: ".["}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store = "memory"
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			var stderr bytes.Buffer
			tt.flags.Err = &stderr
			_, err := NewApp(cfg, tt.flags, envMap(nil))
			assert.Error(t, err)
		})
	}
}

func TestRespond(t *testing.T) {
	app, stdout, stderr := newTestApp(t, nil, GlobalFlags{}, nil)

	resp := &api.Response{
		StatusCode: http.StatusOK,
		Reason:     "OK",
		Headers:    http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"queryId":"q1","queryStatus":"RUNNING"}`),
	}
	require.NoError(t, app.Respond("logging query", output.ServiceLogging, resp))

	assert.Equal(t, "{\n  \"queryId\": \"q1\",\n  \"queryStatus\": \"RUNNING\"\n}\n", stdout.String())
	assert.Contains(t, stderr.String(), "logging query: 200 OK")
	assert.Contains(t, stderr.String(), "queryStatus=RUNNING")
}

func TestRespondFilters(t *testing.T) {
	app, stdout, _ := newTestApp(t, nil, GlobalFlags{JMESPath: "queryId"}, nil)

	resp := &api.Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"queryId":"q1"}`),
	}
	require.NoError(t, app.Respond("logging query", output.ServiceLogging, resp))
	assert.Equal(t, "\"q1\"\n", stdout.String())
}

func TestRespondNonJSON(t *testing.T) {
	app, stdout, stderr := newTestApp(t, nil, GlobalFlags{}, nil)

	resp := &api.Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte("hello\n"),
	}
	require.NoError(t, app.Respond("api get", "", resp))
	assert.Equal(t, "hello\n", stdout.String())
	assert.Contains(t, stderr.String(), "Warning: Response Content-Type: text/plain")
}

func TestRespondNon2xx(t *testing.T) {
	app, stdout, _ := newTestApp(t, nil, GlobalFlags{}, nil)

	resp := &api.Response{
		StatusCode: http.StatusNotFound,
		Reason:     "Not Found",
		Headers:    http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"errorCode":"E404","errorMessage":"no such job"}`),
	}
	err := app.Respond("query get-job", output.ServiceQuery, resp)
	require.Error(t, err)

	e := output.AsError(err)
	assert.True(t, e.Reported)
	assert.Equal(t, output.ExitError, e.ExitCode())
	assert.Contains(t, stdout.String(), "no such job")
}

func TestFinishPrintsStats(t *testing.T) {
	app, _, stderr := newTestApp(t, nil, GlobalFlags{Stats: true}, nil)
	app.Query()
	app.Client.Stats().Add("records", 7)

	app.Finish()

	out := stderr.String()
	assert.Contains(t, out, "stats: ")
	assert.Contains(t, out, "records=7")
	assert.Contains(t, out, "transactions=0")
	assert.Contains(t, out, "session: ")
	assert.Contains(t, out, "0 requests")
}

func TestFinishWithoutStats(t *testing.T) {
	app, _, stderr := newTestApp(t, nil, GlobalFlags{}, nil)
	app.Finish()
	assert.Empty(t, stderr.String())
}

func TestErrWritesException(t *testing.T) {
	app, _, stderr := newTestApp(t, nil, GlobalFlags{}, nil)
	app.Err("credentials refresh", output.ErrUsage("no refresh token"))
	assert.Equal(t, "credentials refresh: UsageError: \"no refresh token\"\n", stderr.String())
}

func TestServiceWrappersShareClient(t *testing.T) {
	app, _, _ := newTestApp(t, nil, GlobalFlags{}, nil)

	assert.Same(t, app.Client, app.Logging().Client())
	assert.Same(t, app.Client, app.Event().Client())
	assert.Same(t, app.Client, app.Directory().Client())
	assert.Same(t, app.Client, app.Query().Client())
}

func TestPrecedenceFromConfig(t *testing.T) {
	app, _, _ := newTestApp(t, func(c *config.Config) {
		c.Precedence = auth.PrecedencePerField.String()
	}, GlobalFlags{}, map[string]string{"PAN_CLIENT_ID": "env-id"})

	id, err := app.Credentials.ClientID()
	require.NoError(t, err)
	assert.Equal(t, "env-id", id)
}

func TestWithAppAndFromContext(t *testing.T) {
	app, _, _ := newTestApp(t, nil, GlobalFlags{}, nil)

	ctx := WithApp(context.Background(), app)
	assert.Same(t, app, FromContext(ctx))
}

func TestFromContextEmpty(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}
