// Package commands implements the CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

// CommandInfo describes a CLI command.
type CommandInfo struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Actions     []string `json:"actions,omitempty"`
}

// CommandCategory groups commands by category.
type CommandCategory struct {
	Name     string        `json:"name"`
	Commands []CommandInfo `json:"commands"`
}

// commandCategories returns all command categories for the catalog.
func commandCategories() []CommandCategory {
	return []CommandCategory{
		{
			Name: "Services",
			Commands: []CommandInfo{
				{Name: "logging", Category: "services", Description: "Query and write logs", Actions: []string{"query", "poll", "xpoll", "delete", "write"}},
				{Name: "event", Category: "services", Description: "Read event channels", Actions: []string{"poll", "ack", "nack", "flush", "get-filters", "set-filters", "xpoll"}},
				{Name: "directory", Category: "services", Description: "Query synced directory objects", Actions: []string{"attributes", "domains", "count", "query"}},
				{Name: "query", Category: "services", Description: "Run SQL query jobs", Actions: []string{"create", "get-job", "list-jobs", "cancel-job", "get-job-results", "iter-job-results", "run"}},
			},
		},
		{
			Name: "Auth & Config",
			Commands: []CommandInfo{
				{Name: "credentials", Category: "auth", Description: "Manage stored credentials and tokens", Actions: []string{"init", "write", "show", "refresh", "revoke", "authorization-url", "fetch-tokens", "remove", "jwt"}},
				{Name: "config", Category: "auth", Description: "Manage configuration", Actions: []string{"show", "path", "set", "unset"}},
				{Name: "doctor", Category: "auth", Description: "Check CLI health and diagnose issues"},
			},
		},
		{
			Name: "Additional Commands",
			Commands: []CommandInfo{
				{Name: "api", Category: "additional", Description: "Raw API access", Actions: []string{"get", "post", "put", "delete"}},
				{Name: "commands", Category: "additional", Description: "List all commands"},
				{Name: "completion", Category: "additional", Description: "Generate shell completions", Actions: []string{"bash", "zsh", "fish", "powershell"}},
				{Name: "help", Category: "additional", Description: "Show help"},
				{Name: "version", Category: "additional", Description: "Show version"},
			},
		},
	}
}

// CatalogCommandNames returns all command names from the catalog.
// Used by tests to verify catalog matches registered commands.
func CatalogCommandNames() []string {
	categories := commandCategories()
	total := 0
	for _, cat := range categories {
		total += len(cat.Commands)
	}
	names := make([]string, 0, total)
	for _, cat := range categories {
		for _, cmd := range cat.Commands {
			names = append(names, cmd.Name)
		}
	}
	return names
}

// NewCommandsCmd creates the commands listing command.
func NewCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "commands",
		Aliases: []string{"cmds"},
		Short:   "List all available commands",
		Long:    "List all available cdl commands organized by category.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			return app.OK(commandCategories())
		},
	}
}
