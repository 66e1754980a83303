package commands

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlake/cdl/internal/appctx"
	"github.com/cortexlake/cdl/internal/config"
	"github.com/cortexlake/cdl/internal/sdk"
)

func TestDoctorResultSummary(t *testing.T) {
	tests := []struct {
		name     string
		result   DoctorResult
		expected string
	}{
		{
			name:     "all passed",
			result:   DoctorResult{Passed: 5},
			expected: "All 5 checks passed",
		},
		{
			name:     "all passed with skips",
			result:   DoctorResult{Passed: 5, Skipped: 1},
			expected: "All 5 checks passed, 1 skipped",
		},
		{
			name:     "some failed",
			result:   DoctorResult{Passed: 3, Failed: 2},
			expected: "3 passed, 2 failed",
		},
		{
			name:     "with warnings",
			result:   DoctorResult{Passed: 4, Warned: 1},
			expected: "4 passed, 1 warning",
		},
		{
			name:     "with multiple warnings",
			result:   DoctorResult{Passed: 4, Warned: 3},
			expected: "4 passed, 3 warnings",
		},
		{
			name: "mixed results",
			result: DoctorResult{
				Passed:  3,
				Failed:  1,
				Warned:  1,
				Skipped: 2,
			},
			expected: "3 passed, 1 failed, 1 warning, 2 skipped",
		},
		{
			name:     "only skipped",
			result:   DoctorResult{Skipped: 3},
			expected: "3 skipped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.Summary())
		})
	}
}

func TestSummarizeChecks(t *testing.T) {
	checks := []Check{
		{Name: "Check1", Status: "pass"},
		{Name: "Check2", Status: "pass"},
		{Name: "Check3", Status: "fail"},
		{Name: "Check4", Status: "warn"},
		{Name: "Check5", Status: "skip"},
		{Name: "Check6", Status: "skip"},
	}

	result := summarizeChecks(checks)

	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Warned)
	assert.Equal(t, 2, result.Skipped)
	assert.Len(t, result.Checks, 6)
}

func TestCheckVersion(t *testing.T) {
	check := checkVersion(false)
	assert.Equal(t, "CLI Version", check.Name)
	assert.Equal(t, "pass", check.Status)
	assert.Contains(t, check.Message, "dev")

	// Verbose includes commit info
	assert.Contains(t, checkVersion(true).Message, "commit")
}

func TestValidateConfigFile(t *testing.T) {
	tmpDir := t.TempDir()

	validPath := filepath.Join(tmpDir, "valid.json")
	require.NoError(t, os.WriteFile(validPath, []byte(`{"profile": "lab"}`), 0644))

	check := validateConfigFile(validPath, "Global Config", false)
	assert.Equal(t, "pass", check.Status)
	assert.Equal(t, validPath, check.Message)

	// Verbose shows key count
	assert.Contains(t, validateConfigFile(validPath, "Global Config", true).Message, "1 keys")

	invalidPath := filepath.Join(tmpDir, "invalid.json")
	require.NoError(t, os.WriteFile(invalidPath, []byte(`{invalid`), 0644))

	checkInvalid := validateConfigFile(invalidPath, "Global Config", false)
	assert.Equal(t, "fail", checkInvalid.Status)
	assert.Contains(t, checkInvalid.Message, "Invalid JSON")

	checkMissing := validateConfigFile(filepath.Join(tmpDir, "missing.json"), "Global Config", false)
	assert.Equal(t, "fail", checkMissing.Status)
	assert.Contains(t, checkMissing.Message, "Cannot read")
}

func newDoctorApp(t *testing.T, env map[string]string) *appctx.App {
	t.Helper()
	cfg := config.Default()
	cfg.Store = "memory"
	app, err := appctx.NewApp(cfg, appctx.GlobalFlags{Out: io.Discard, Err: io.Discard}, func(k string) string { return env[k] })
	require.NoError(t, err)
	return app
}

func TestCheckCredentials(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		status string
	}{
		{"none", nil, "fail"},
		{"static token", map[string]string{appctx.EnvToken: "tok"}, "pass"},
		{"refreshable", map[string]string{
			sdk.FieldClientID.EnvName():     "cid",
			sdk.FieldClientSecret.EnvName(): "secret",
			sdk.FieldRefreshToken.EnvName(): "rt",
		}, "pass"},
		{"access only", map[string]string{sdk.FieldAccessToken.EnvName(): "at"}, "warn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := checkCredentials(newDoctorApp(t, tt.env))
			assert.Equal(t, "Credentials", check.Name)
			assert.Equal(t, tt.status, check.Status, check.Message)
		})
	}
}

func TestCheckAuthenticationExpiry(t *testing.T) {
	sign := func(exp time.Time) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
		require.NoError(t, err)
		return s
	}
	env := func(token string) map[string]string {
		return map[string]string{sdk.FieldAccessToken.EnvName(): token}
	}
	ctx := context.Background()

	check := checkAuthentication(ctx, newDoctorApp(t, env(sign(time.Now().Add(time.Hour)))), false, true)
	assert.Equal(t, "pass", check.Status)

	check = checkAuthentication(ctx, newDoctorApp(t, env(sign(time.Now().Add(time.Minute)))), false, true)
	assert.Equal(t, "warn", check.Status)
	assert.Contains(t, check.Message, "expires in")

	check = checkAuthentication(ctx, newDoctorApp(t, env(sign(time.Now().Add(-time.Hour)))), false, true)
	assert.Equal(t, "warn", check.Status)
	assert.Equal(t, "Token expired", check.Message)

	check = checkAuthentication(ctx, newDoctorApp(t, env("not-a-jwt")), false, true)
	assert.Equal(t, "fail", check.Status)
}

func TestCheckStore(t *testing.T) {
	check := checkStore(newDoctorApp(t, nil))
	assert.Equal(t, "Credential Store", check.Name)
	assert.Equal(t, "pass", check.Status)
	assert.Equal(t, "memory", check.Message)
}
