package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"camwatch/internal/ipc"
	"camwatch/internal/presentation"
)

func newDeviceCommands(ctx *commandContext) []*cobra.Command {
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List attached cameras",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Devices()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Devices)
				}
				if len(resp.Devices) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No cameras attached")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderDevices(resp.Devices))
				return nil
			})
		},
	}

	filesCmd := &cobra.Command{
		Use:   "files <device>",
		Short: "List the files found on a camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Files(args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Files)
				}
				if len(resp.Files) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No files listed for %s\n", resp.Device)
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderFiles(resp.Files, time.Now()))
				return nil
			})
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-detect attached cameras",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Refresh()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s attached\n", plural(resp.Devices, "camera", "cameras"))
				return nil
			})
		},
	}

	return []*cobra.Command{
		devicesCmd,
		filesCmd,
		newTransferCommand(ctx, false),
		newTransferCommand(ctx, true),
		newActionCommand(ctx, presentation.ActionConfirm, "Start the staged copy or move", (*ipc.Client).Confirm),
		newActionCommand(ctx, presentation.ActionDecline, "Abandon the staged copy or move", (*ipc.Client).Decline),
		newActionCommand(ctx, presentation.ActionCancel, "Cancel a running transfer", (*ipc.Client).Cancel),
		newActionCommand(ctx, presentation.ActionAck, "Dismiss a finished or failed transfer and re-list files", (*ipc.Client).Ack),
		refreshCmd,
	}
}

// newTransferCommand builds `copy` and `move`. Both stage the transfer;
// --yes confirms it in the same invocation.
func newTransferCommand(ctx *commandContext, move bool) *cobra.Command {
	use, short := presentation.ActionCopy, "Copy all files from a camera"
	if move {
		use, short = presentation.ActionMove, "Move all files from a camera, deleting the originals"
	}
	var confirm bool
	cmd := &cobra.Command{
		Use:   use + " <device>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				staged, err := client.Transfer(args[0], move)
				if err != nil {
					return err
				}
				if !confirm {
					if ctx.jsonOutput() {
						return writeJSON(cmd, staged)
					}
					return printStaged(cmd.OutOrStdout(), client, staged)
				}
				started, err := client.Confirm(staged.Device)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, started)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Transfer %s started for %s\n", started.JobID, started.Device)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm immediately instead of staging")
	return cmd
}

func printStaged(out io.Writer, client *ipc.Client, staged *ipc.ActionResponse) error {
	resp, err := client.Device(staged.Device)
	if err != nil {
		return err
	}
	view := resp.Device.View
	fmt.Fprintf(out, "%s: %s\n", view.Title, view.Description)
	fmt.Fprintf(out, "Run `camwatch confirm %s` to start or `camwatch decline %s` to abandon.\n", staged.Device, staged.Device)
	return nil
}

type actionFunc func(*ipc.Client, string) (*ipc.ActionResponse, error)

func newActionCommand(ctx *commandContext, action, short string, fn actionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <device>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := fn(client, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				line := fmt.Sprintf("%s: %s accepted (now %s)", resp.Device, resp.Action, resp.State)
				if resp.JobID != "" {
					line += ", job " + resp.JobID
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
				return nil
			})
		},
	}
}

func renderDevices(views []ipc.DeviceView) string {
	rows := make([][]string, 0, len(views))
	for _, view := range views {
		status := view.View.Description
		if view.View.Percent >= 0 {
			status = fmt.Sprintf("%s (%.0f%%)", status, view.View.Percent)
		}
		rows = append(rows, []string{
			view.PortPath,
			view.Name,
			view.State,
			strconv.Itoa(view.FileCount),
			presentation.FormatKB(view.TotalKB),
			view.Destination,
			status,
		})
	}
	return renderTable(
		[]string{"Port", "Camera", "State", "Files", "Size", "Destination", "Status"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	)
}

func renderFiles(files []ipc.File, now time.Time) string {
	rows := make([][]string, 0, len(files))
	for _, file := range files {
		taken := ""
		if file.Timestamp > 0 {
			taken = humanize.RelTime(time.Unix(file.Timestamp, 0), now, "ago", "from now")
		}
		rows = append(rows, []string{
			strconv.Itoa(file.Index),
			file.Folder,
			file.Name,
			presentation.FormatKB(file.SizeKB),
			file.MediaType,
			taken,
		})
	}
	return renderTable(
		[]string{"#", "Folder", "Name", "Size", "Type", "Taken"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}
