package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var completionShells = []string{"bash", "zsh", "fish", "powershell"}

// NewCompletionCmd creates the completion command group.
func NewCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [shell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for cdl.

To load completions:

Bash:
  $ source <(cdl completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ cdl completion bash > /etc/bash_completion.d/cdl
  # macOS:
  $ cdl completion bash > $(brew --prefix)/etc/bash_completion.d/cdl

Zsh:
  $ cdl completion zsh > "${fpath[1]}/_cdl"

Fish:
  $ cdl completion fish > ~/.config/fish/completions/cdl.fish

PowerShell:
  PS> cdl completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             completionShells,
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return genCompletion(cmd.Root(), cmd.OutOrStdout(), args[0])
		},
	}

	for _, shell := range completionShells {
		cmd.AddCommand(newCompletionShellCmd(shell))
	}
	return cmd
}

func newCompletionShellCmd(shell string) *cobra.Command {
	return &cobra.Command{
		Use:                   shell,
		Short:                 fmt.Sprintf("Generate %s completion script", shell),
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return genCompletion(cmd.Root(), cmd.OutOrStdout(), shell)
		},
	}
}

func genCompletion(root *cobra.Command, w io.Writer, shell string) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, true)
	case "zsh":
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, true)
	case "powershell":
		return root.GenPowerShellCompletionWithDesc(w)
	default:
		return fmt.Errorf("unknown shell: %s", shell)
	}
}
