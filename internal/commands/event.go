package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexlake/cdl/internal/api"
	"github.com/cortexlake/cdl/internal/appctx"
	"github.com/cortexlake/cdl/internal/output"
	"github.com/cortexlake/cdl/internal/service"
)

// NewEventCmd creates the event command group.
func NewEventCmd() *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "event",
		Short: "Read event channels (Event Service)",
		Long: `Poll, acknowledge and filter Event Service channels.

Every operation works on the channel named by --channel.`,
	}
	cmd.PersistentFlags().StringVarP(&channel, "channel", "c", service.DefaultChannel, "Channel ID")

	// channelCmd builds a channel operation with an optional --data body.
	channelCmd := func(use, short string, withBody bool, call func(ctx context.Context, e *service.Event, channel string, body any, opts []service.CallOption) (*api.Response, error)) *cobra.Command {
		var rf requestFlags
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				body, err := rf.body()
				if err != nil {
					return err
				}
				opts, err := rf.callOptions()
				if err != nil {
					return err
				}
				return respond(cmd, output.ServiceEvent, func(ctx context.Context, app *appctx.App) (*api.Response, error) {
					return call(ctx, app.Event(), channel, body, opts)
				})
			},
		}
		if withBody {
			rf.bindData(c)
		}
		rf.bindHeaders(c)
		rf.bindParams(c)
		return c
	}

	cmd.AddCommand(
		channelCmd("poll", "Read the next batch of events", true,
			func(ctx context.Context, e *service.Event, ch string, body any, opts []service.CallOption) (*api.Response, error) {
				return e.Poll(ctx, ch, body, opts...)
			}),
		channelCmd("ack", "Acknowledge the events read by the last poll", false,
			func(ctx context.Context, e *service.Event, ch string, _ any, opts []service.CallOption) (*api.Response, error) {
				return e.Ack(ctx, ch, opts...)
			}),
		channelCmd("nack", "Return the events read by the last poll to the channel", false,
			func(ctx context.Context, e *service.Event, ch string, _ any, opts []service.CallOption) (*api.Response, error) {
				return e.Nack(ctx, ch, opts...)
			}),
		channelCmd("flush", "Discard all events in the channel", false,
			func(ctx context.Context, e *service.Event, ch string, _ any, opts []service.CallOption) (*api.Response, error) {
				return e.Flush(ctx, ch, opts...)
			}),
		channelCmd("get-filters", "Show the channel filters", false,
			func(ctx context.Context, e *service.Event, ch string, _ any, opts []service.CallOption) (*api.Response, error) {
				return e.GetFilters(ctx, ch, opts...)
			}),
		channelCmd("set-filters", "Replace the channel filters", true,
			func(ctx context.Context, e *service.Event, ch string, body any, opts []service.CallOption) (*api.Response, error) {
				if body == nil {
					return nil, output.ErrUsage("--data is required")
				}
				return e.SetFilters(ctx, ch, body, opts...)
			}),
		newEventXPollCmd(&channel),
	)
	return cmd
}

func newEventXPollCmd(channel *string) *cobra.Command {
	var (
		rf     requestFlags
		ack    bool
		follow bool
		pause  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "xpoll",
		Short: "Read events until the channel is empty and print each one",
		Long: `Poll the channel and print every {logType, event} entry. With --ack
each batch is acknowledged after it is printed. With --follow polling
continues after the channel is drained, pausing --pause between empty
polls.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			body, err := rf.body()
			if err != nil {
				return err
			}
			opts, err := rf.callOptions()
			if err != nil {
				return err
			}
			xo := service.XPollOptions{Ack: ack, Follow: follow, Pause: pause}
			return app.Event().XPoll(cmd.Context(), *channel, body, xo, printRecord(app), opts...)
		},
	}

	rf.bindData(cmd)
	rf.bindHeaders(cmd)
	rf.bindParams(cmd)
	cmd.Flags().BoolVar(&ack, "ack", false, "Acknowledge each batch")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep polling after the channel is empty")
	cmd.Flags().DurationVar(&pause, "pause", 0, "Pause between empty polls with --follow")
	return cmd
}
