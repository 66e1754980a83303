// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

// Config holds the resolved configuration.
type Config struct {
	// API settings
	URL      string `json:"url"`
	Port     *int   `json:"port,omitempty" validate:"omitempty,min=0,max=65535"`
	TokenURL string `json:"token_url,omitempty"`
	AuthURL  string `json:"auth_url,omitempty"`

	// Credential settings
	Profile     string `json:"profile"`
	Store       string `json:"store"`
	StorePath   string `json:"store_path,omitempty"`
	CacheToken  bool   `json:"cache_token"`
	Precedence  string `json:"precedence" validate:"oneof=all-or-nothing per-field"`
	RefreshMode string `json:"refresh_mode" validate:"oneof=wait drop"`

	// Transport settings
	ForceTrace bool          `json:"force_trace"`
	Timeout    time.Duration `json:"timeout" validate:"min=0"`

	// Polling
	PollInterval    time.Duration `json:"poll_interval" validate:"min=0"`
	PollMaxAttempts uint          `json:"poll_max_attempts"`
	PollBackoff     bool          `json:"poll_backoff"`

	// Output settings
	Format  string `json:"format" validate:"oneof=json yaml"`
	Verbose int    `json:"verbose" validate:"min=0,max=2"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-"`

	// Warnings lists config entries that were skipped or ignored.
	Warnings []string `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceLocal   Source = "local"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// Authority keys decide where credentials are sent. They are never taken
// from local config.
var authorityKeys = []string{"url", "token_url", "auth_url"}

// FlagOverrides holds command-line flag values. Zero values and nil
// pointers leave the config untouched.
type FlagOverrides struct {
	URL             string
	Port            *int
	TokenURL        string
	Profile         string
	Store           string
	StorePath       string
	NoCacheToken    bool
	ForceTrace      bool
	Timeout         time.Duration
	Format          string
	Verbose         int
	Precedence      string
	RefreshMode     string
	PollInterval    time.Duration
	PollMaxAttempts *uint
	PollBackoff     *bool
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Profile:         "default",
		Store:           "file",
		CacheToken:      true,
		Precedence:      "all-or-nothing",
		RefreshMode:     "wait",
		Timeout:         60 * time.Second,
		PollInterval:    time.Second,
		PollMaxAttempts: 600,
		Format:          "json",
		Sources:         make(map[string]string),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks enumerated and ranged values.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return cdlerrors.ErrConfigurationf("invalid configuration: %v", err)
	}
	return nil
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > local > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, systemConfigPath(), SourceSystem)
	loadFromFile(cfg, globalConfigPath(), SourceGlobal)

	// Closer directories override their ancestors.
	for _, path := range localConfigPaths() {
		loadFromFile(cfg, path, SourceLocal)
	}

	LoadFromEnv(cfg, os.Getenv)
	ApplyOverrides(cfg, overrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) warnf(format string, args ...any) {
	cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(format, args...))
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		cfg.warnf("skipping malformed config at %s: %v", path, err)
		return
	}

	if source == SourceLocal {
		for _, key := range authorityKeys {
			if v, ok := fileCfg[key]; ok {
				cfg.warnf("ignoring %s %v from local config at %s (authority keys are not trusted from local config)", key, v, path)
				delete(fileCfg, key)
			}
		}
	}

	set := func(key string) { cfg.Sources[key] = string(source) }

	if v, ok := fileCfg["url"].(string); ok && v != "" {
		cfg.URL = v
		set("url")
	}
	if v, ok := getInt(fileCfg, "port"); ok {
		cfg.Port = &v
		set("port")
	}
	if v, ok := fileCfg["token_url"].(string); ok && v != "" {
		cfg.TokenURL = v
		set("token_url")
	}
	if v, ok := fileCfg["auth_url"].(string); ok && v != "" {
		cfg.AuthURL = v
		set("auth_url")
	}
	if v, ok := fileCfg["profile"].(string); ok && v != "" {
		cfg.Profile = v
		set("profile")
	}
	if v, ok := fileCfg["store"].(string); ok && v != "" {
		cfg.Store = v
		set("store")
	}
	if v, ok := fileCfg["store_path"].(string); ok && v != "" {
		cfg.StorePath = v
		set("store_path")
	}
	if v, ok := fileCfg["cache_token"].(bool); ok {
		cfg.CacheToken = v
		set("cache_token")
	}
	if v, ok := fileCfg["precedence"].(string); ok && v != "" {
		cfg.Precedence = v
		set("precedence")
	}
	if v, ok := fileCfg["refresh_mode"].(string); ok && v != "" {
		cfg.RefreshMode = v
		set("refresh_mode")
	}
	if v, ok := fileCfg["force_trace"].(bool); ok {
		cfg.ForceTrace = v
		set("force_trace")
	}
	if v, ok := getDuration(fileCfg, "timeout"); ok {
		cfg.Timeout = v
		set("timeout")
	}
	if v, ok := getDuration(fileCfg, "poll_interval"); ok {
		cfg.PollInterval = v
		set("poll_interval")
	}
	if v, ok := getInt(fileCfg, "poll_max_attempts"); ok && v >= 0 {
		cfg.PollMaxAttempts = uint(v)
		set("poll_max_attempts")
	}
	if v, ok := fileCfg["poll_backoff"].(bool); ok {
		cfg.PollBackoff = v
		set("poll_backoff")
	}
	if v, ok := fileCfg["format"].(string); ok && v != "" {
		cfg.Format = v
		set("format")
	}
	if v, ok := getInt(fileCfg, "verbose"); ok && v >= 0 && v <= 2 {
		cfg.Verbose = v
		set("verbose")
	}
}

// LoadFromEnv loads configuration from CDL_* environment variables.
func LoadFromEnv(cfg *Config, getenv func(string) string) {
	str := func(env, key string, dst *string) {
		if v := getenv(env); v != "" {
			*dst = v
			cfg.Sources[key] = string(SourceEnv)
		}
	}
	str("CDL_URL", "url", &cfg.URL)
	str("CDL_TOKEN_URL", "token_url", &cfg.TokenURL)
	str("CDL_AUTH_URL", "auth_url", &cfg.AuthURL)
	str("CDL_PROFILE", "profile", &cfg.Profile)
	str("CDL_STORE", "store", &cfg.Store)
	str("CDL_FORMAT", "format", &cfg.Format)

	if v := getenv("CDL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = &port
			cfg.Sources["port"] = string(SourceEnv)
		} else {
			cfg.warnf("ignoring CDL_PORT=%q: %v", v, err)
		}
	}
	if v := getenv("CDL_DEBUG"); v != "" {
		if level, ok := parseDebug(v); ok {
			cfg.Verbose = level
			cfg.Sources["verbose"] = string(SourceEnv)
		}
	}
}

// parseDebug maps CDL_DEBUG to a verbosity level.
func parseDebug(v string) (int, bool) {
	switch strings.ToLower(v) {
	case "1", "true":
		return 1, true
	case "2":
		return 2, true
	case "0", "false":
		return 0, true
	}
	return 0, false
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	str := func(v, key string, dst *string) {
		if v != "" {
			*dst = v
			cfg.Sources[key] = string(SourceFlag)
		}
	}
	str(o.URL, "url", &cfg.URL)
	str(o.TokenURL, "token_url", &cfg.TokenURL)
	str(o.Profile, "profile", &cfg.Profile)
	str(o.Store, "store", &cfg.Store)
	str(o.StorePath, "store_path", &cfg.StorePath)
	str(o.Format, "format", &cfg.Format)
	str(o.Precedence, "precedence", &cfg.Precedence)
	str(o.RefreshMode, "refresh_mode", &cfg.RefreshMode)

	if o.Port != nil {
		cfg.Port = o.Port
		cfg.Sources["port"] = string(SourceFlag)
	}
	if o.NoCacheToken {
		cfg.CacheToken = false
		cfg.Sources["cache_token"] = string(SourceFlag)
	}
	if o.ForceTrace {
		cfg.ForceTrace = true
		cfg.Sources["force_trace"] = string(SourceFlag)
	}
	if o.Timeout > 0 {
		cfg.Timeout = o.Timeout
		cfg.Sources["timeout"] = string(SourceFlag)
	}
	if o.Verbose > 0 {
		cfg.Verbose = min(o.Verbose, 2)
		cfg.Sources["verbose"] = string(SourceFlag)
	}
	if o.PollInterval > 0 {
		cfg.PollInterval = o.PollInterval
		cfg.Sources["poll_interval"] = string(SourceFlag)
	}
	if o.PollMaxAttempts != nil {
		cfg.PollMaxAttempts = *o.PollMaxAttempts
		cfg.Sources["poll_max_attempts"] = string(SourceFlag)
	}
	if o.PollBackoff != nil {
		cfg.PollBackoff = *o.PollBackoff
		cfg.Sources["poll_backoff"] = string(SourceFlag)
	}
}

// SourceOf returns where key was set, "default" when it never was.
func (cfg *Config) SourceOf(key string) string {
	if s, ok := cfg.Sources[key]; ok {
		return s
	}
	return string(SourceDefault)
}

// getInt extracts a JSON number (or numeric string) as an int.
func getInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

// getDuration accepts seconds as a JSON number or a Go duration string.
func getDuration(m map[string]any, key string) (time.Duration, bool) {
	switch v := m[key].(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return time.Duration(v * float64(time.Second)), true
	case string:
		d, err := time.ParseDuration(v)
		return d, err == nil && d >= 0
	}
	return 0, false
}

// Path helpers

func systemConfigPath() string {
	return "/etc/cdl/config.json"
}

func globalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.json")
}

// localConfigPaths returns every .cdl/config.json between the filesystem
// root and the working directory, furthest ancestor first.
func localConfigPaths() []string {
	dir, err := os.Getwd()
	if err != nil {
		return nil
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	var paths []string
	for {
		cfgPath := filepath.Join(dir, ".cdl", "config.json")
		if _, err := os.Stat(cfgPath); err == nil {
			paths = append(paths, cfgPath)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	slices.Reverse(paths)
	return paths
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "cdl")
}

// File is a config file location consulted by Load.
type File struct {
	Source Source `json:"source"`
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// Files lists the config files Load consults, in load order. The working
// directory's local file is listed even when it does not exist.
func Files() []File {
	exists := func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	}
	files := []File{
		{Source: SourceSystem, Path: systemConfigPath(), Exists: exists(systemConfigPath())},
		{Source: SourceGlobal, Path: globalConfigPath(), Exists: exists(globalConfigPath())},
	}
	local := localConfigPaths()
	for _, p := range local {
		files = append(files, File{Source: SourceLocal, Path: p, Exists: true})
	}
	if cwd := LocalConfigPath(); cwd != "" && !slices.Contains(local, cwd) {
		files = append(files, File{Source: SourceLocal, Path: cwd, Exists: exists(cwd)})
	}
	return files
}

// GlobalConfigPath returns the global config file path.
func GlobalConfigPath() string { return globalConfigPath() }

// LocalConfigPath returns the .cdl/config.json path in the working directory.
func LocalConfigPath() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	return filepath.Join(dir, ".cdl", "config.json")
}

// IsAuthorityKey reports whether key is ignored in local config files.
func IsAuthorityKey(key string) bool {
	return slices.Contains(authorityKeys, key)
}
