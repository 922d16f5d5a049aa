package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"camwatch/internal/daemon"
	"camwatch/internal/ipc"
)

const eventsWaitMillis = 25_000

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var since uint64
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print camera events; --follow keeps streaming",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.withClient(func(client *ipc.Client) error {
				// Closing the client unblocks a pending long poll on Ctrl-C.
				go func() {
					<-runCtx.Done()
					_ = client.Close()
				}()
				cursor := since
				for {
					req := ipc.EventsRequest{Since: cursor}
					if follow {
						req.WaitMillis = eventsWaitMillis
					}
					resp, err := client.Events(req)
					if err != nil {
						if runCtx.Err() != nil {
							return nil
						}
						return err
					}
					for _, evt := range resp.Events {
						if ctx.jsonOutput() {
							if err := writeJSON(cmd, evt); err != nil {
								return err
							}
							continue
						}
						printEvent(cmd.OutOrStdout(), evt)
					}
					cursor = resp.Next
					if !follow || runCtx.Err() != nil {
						return nil
					}
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep waiting for new events")
	cmd.Flags().Uint64Var(&since, "since", 0, "Only show events after this sequence number")
	return cmd
}

func printEvent(out io.Writer, evt ipc.Event) {
	line := fmt.Sprintf("%s #%d %-16s", evt.Timestamp.Local().Format("15:04:05"), evt.Sequence, evt.Type)
	switch evt.Type {
	case daemon.EventDevicesRemoved:
		line += fmt.Sprintf(" %d remaining", evt.Remaining)
	case daemon.EventStateChanged:
		line += fmt.Sprintf(" %s %s", evt.Device, evt.State)
		if evt.View != nil && evt.View.Description != "" {
			line += ": " + evt.View.Description
		}
	default:
		line += fmt.Sprintf(" %s %s", evt.Device, evt.Name)
	}
	fmt.Fprintln(out, line)
}
