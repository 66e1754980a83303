package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/appctx"
	"github.com/cortexlake/cdl/internal/output"
)

// NewDirectoryCmd creates the directory command group.
func NewDirectoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "directory",
		Aliases: []string{"dss"},
		Short:   "Query synced directory objects (Directory Sync Service)",
	}

	cmd.AddCommand(
		newDirectoryAttributesCmd(),
		newDirectoryDomainsCmd(),
		newDirectoryCountCmd(),
		newDirectoryQueryCmd(),
	)
	return cmd
}

func newDirectoryAttributesCmd() *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:   "attributes",
		Short: "List the attributes of each object class",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := rf.callOptions()
			if err != nil {
				return err
			}
			return respond(cmd, output.ServiceDirectory, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Directory().Attributes(ctx, opts...)
			})
		},
	}
	rf.bindHeaders(cmd)
	rf.bindParams(cmd)
	return cmd
}

func newDirectoryDomainsCmd() *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:   "domains",
		Short: "List the synced domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := rf.callOptions()
			if err != nil {
				return err
			}
			return respond(cmd, output.ServiceDirectory, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Directory().Domains(ctx, opts...)
			})
		},
	}
	rf.bindHeaders(cmd)
	rf.bindParams(cmd)
	return cmd
}

func newDirectoryCountCmd() *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:     "count <objectClass>",
		Short:   "Count the objects of a class",
		Example: `  cdl directory count users --param domain=example.com`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := rf.callOptions()
			if err != nil {
				return err
			}
			return respond(cmd, output.ServiceDirectory, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Directory().Count(ctx, args[0], opts...)
			})
		},
	}
	rf.bindHeaders(cmd)
	rf.bindParams(cmd)
	return cmd
}

func newDirectoryQueryCmd() *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:     "query <objectClass>",
		Short:   "Query the objects of a class",
		Example: `  cdl directory query users -d '{"domain":"example.com","query":{"filter":{"level":"immediate"}}}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := rf.body()
			if err != nil {
				return err
			}
			opts, err := rf.callOptions()
			if err != nil {
				return err
			}
			return respond(cmd, output.ServiceDirectory, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
				return app.Directory().Query(ctx, args[0], body, opts...)
			})
		},
	}
	rf.bindData(cmd)
	rf.bindHeaders(cmd)
	rf.bindParams(cmd)
	return cmd
}
