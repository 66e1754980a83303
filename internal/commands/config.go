package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/cortexlake/cdl/internal/config"
	"github.com/cortexlake/cdl/internal/output"
)

// NewConfigCmd creates the config command for managing configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage cdl configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env > local > global > system > defaults

Config locations:
  - System: /etc/cdl/config.json
  - Global: ~/.config/cdl/config.json
  - Local:  .cdl/config.json in the working directory and its parents

Local files cannot set url, token_url or auth_url.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigPathCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
	)
	return cmd
}

type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindBool
	kindDuration
)

// configKeys maps each settable key to its value kind.
var configKeys = map[string]keyKind{
	"url":               kindString,
	"port":              kindInt,
	"token_url":         kindString,
	"auth_url":          kindString,
	"profile":           kindString,
	"store":             kindString,
	"store_path":        kindString,
	"cache_token":       kindBool,
	"precedence":        kindString,
	"refresh_mode":      kindString,
	"force_trace":       kindBool,
	"timeout":           kindDuration,
	"poll_interval":     kindDuration,
	"poll_max_attempts": kindInt,
	"poll_backoff":      kindBool,
	"format":            kindString,
	"verbose":           kindInt,
}

// enumKeys lists the accepted values of enumerated keys.
var enumKeys = map[string][]string{
	"store":        {"file", "keyring", "memory"},
	"precedence":   {"all-or-nothing", "per-field"},
	"refresh_mode": {"wait", "drop"},
	"format":       {"json", "yaml"},
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command) error {
	app, err := appFrom(cmd)
	if err != nil {
		return err
	}
	cfg := app.Config

	values := map[string]any{
		"url":               cfg.URL,
		"token_url":         cfg.TokenURL,
		"auth_url":          cfg.AuthURL,
		"profile":           cfg.Profile,
		"store":             cfg.Store,
		"store_path":        cfg.StorePath,
		"cache_token":       cfg.CacheToken,
		"precedence":        cfg.Precedence,
		"refresh_mode":      cfg.RefreshMode,
		"force_trace":       cfg.ForceTrace,
		"timeout":           cfg.Timeout.String(),
		"poll_interval":     cfg.PollInterval.String(),
		"poll_max_attempts": cfg.PollMaxAttempts,
		"poll_backoff":      cfg.PollBackoff,
		"format":            cfg.Format,
		"verbose":           cfg.Verbose,
	}
	if cfg.Port != nil {
		values["port"] = *cfg.Port
	}

	configData := make(map[string]any, len(values))
	for key, v := range values {
		if s, ok := v.(string); ok && s == "" && cfg.SourceOf(key) == "default" {
			continue
		}
		configData[key] = map[string]any{
			"value":  v,
			"source": cfg.SourceOf(key),
		}
	}
	return app.OK(configData)
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "List config file locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			return app.OK(config.Files())
		},
	}
}

// configTarget returns the file set/unset write to.
func configTarget(local bool) (path, scope string) {
	if local {
		return config.LocalConfigPath(), string(config.SourceLocal)
	}
	return config.GlobalConfigPath(), string(config.SourceGlobal)
}

func newConfigSetCmd() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the global config file, or with --local
in .cdl/config.json of the working directory.

Durations take Go syntax (30s, 2m) or seconds.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			key, value := args[0], args[1]

			kind, ok := configKeys[key]
			if !ok {
				names := lo.Keys(configKeys)
				slices.Sort(names)
				return output.ErrUsage(fmt.Sprintf("Invalid config key %q. Valid keys: %s", key, strings.Join(names, ", ")))
			}
			if local && config.IsAuthorityKey(key) {
				return output.ErrUsagef("%s cannot be set in local config", key)
			}
			typed, err := parseConfigValue(key, kind, value)
			if err != nil {
				return err
			}

			configPath, scope := configTarget(local)
			configData, err := readConfigFile(configPath)
			if err != nil {
				return err
			}
			configData[key] = typed
			if err := writeConfigFile(configPath, configData); err != nil {
				return err
			}

			return app.OK(map[string]any{
				"key":    key,
				"value":  typed,
				"scope":  scope,
				"path":   configPath,
				"status": "set",
			})
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Set in .cdl/config.json of the working directory")
	return cmd
}

func parseConfigValue(key string, kind keyKind, value string) (any, error) {
	switch kind {
	case kindBool:
		b, ok := parseBoolFlag(value)
		if !ok {
			return nil, output.ErrUsage(fmt.Sprintf("%s must be true/false (or 1/0)", key))
		}
		return b, nil
	case kindInt:
		n, err := strconv.Atoi(value)
		switch {
		case err != nil || n < 0:
			return nil, output.ErrUsagef("%s must be a non-negative integer", key)
		case key == "verbose" && n > 2:
			return nil, output.ErrUsage("verbose must be 0, 1, or 2")
		case key == "port" && n > 65535:
			return nil, output.ErrUsage("port must be at most 65535")
		}
		return n, nil
	case kindDuration:
		if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
			return secs, nil
		}
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return nil, output.ErrUsagef("%s must be a duration such as 30s", key)
		}
		return d.String(), nil
	}
	if allowed, ok := enumKeys[key]; ok && !slices.Contains(allowed, value) {
		return nil, output.ErrUsagef("%s must be one of: %s", key, strings.Join(allowed, ", "))
	}
	return value, nil
}

func parseBoolFlag(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func newConfigUnsetCmd() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Unset a configuration value",
		Long:  "Remove a configuration value from the global or local config file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			key := args[0]
			configPath, scope := configTarget(local)

			if _, err := os.Stat(configPath); err != nil {
				return app.OK(map[string]any{"key": key, "path": configPath, "status": "not_found"})
			}
			configData, err := readConfigFile(configPath)
			if err != nil {
				return err
			}
			if _, exists := configData[key]; !exists {
				return app.OK(map[string]any{"key": key, "scope": scope, "status": "not_set"})
			}
			delete(configData, key)
			if err := writeConfigFile(configPath, configData); err != nil {
				return err
			}
			return app.OK(map[string]any{"key": key, "scope": scope, "status": "unset"})
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Unset from .cdl/config.json of the working directory")
	return cmd
}

// readConfigFile loads path as a JSON object. A missing or malformed file
// reads as empty.
func readConfigFile(path string) (map[string]any, error) {
	configData := make(map[string]any)
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config location
	if err != nil {
		if os.IsNotExist(err) {
			return configData, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	_ = json.Unmarshal(data, &configData)
	return configData, nil
}

func writeConfigFile(path string, configData map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(configData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := atomicWriteFile(path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// atomicWriteFile writes data to a file atomically using temp+rename.
// Files are always created with 0600 permissions (owner read/write only).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Windows: rename fails when the destination exists.
	if err := os.Rename(tmpPath, path); err != nil && runtime.GOOS == "windows" {
		_ = os.Remove(path)
		return os.Rename(tmpPath, path)
	} else { //nolint:revive // two-branch rename fallback
		return err
	}
}
