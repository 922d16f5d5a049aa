package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"camwatch/internal/ipc"
)

func newDestinationCommand(ctx *commandContext) *cobra.Command {
	destCmd := &cobra.Command{
		Use:   "dest",
		Short: "Show or change where a camera's files are copied",
	}

	destCmd.AddCommand(&cobra.Command{
		Use:   "get <device>",
		Short: "Show the destination directory for a camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DestinationGet(args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Path)
				return nil
			})
		},
	})

	destCmd.AddCommand(&cobra.Command{
		Use:   "set <device> <path>",
		Short: "Store a destination for every camera of this model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DestinationSet(args[0], args[1])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Destination for %s set to %s\n", resp.Device, resp.Path)
				return nil
			})
		},
	})

	return destCmd
}
