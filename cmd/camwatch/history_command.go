package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"camwatch/internal/ipc"
	"camwatch/internal/presentation"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Records)
				}
				if len(resp.Records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No transfers recorded")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderHistory(resp.Records, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of transfers to show")
	return cmd
}

func renderHistory(records []ipc.TransferRecord, now time.Time) string {
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		mode := presentation.ActionCopy
		if record.Move {
			mode = presentation.ActionMove
		}
		jobID := record.JobID
		if len(jobID) > 8 {
			jobID = jobID[:8]
		}
		outcome := record.Outcome
		if record.Message != "" {
			outcome += ": " + record.Message
		}
		rows = append(rows, []string{
			jobID,
			record.DeviceName,
			mode,
			fmt.Sprintf("%d/%d", record.CopiedFiles, record.TotalFiles),
			presentation.FormatKB(record.CopiedKB),
			humanize.RelTime(record.FinishedAt, now, "ago", "from now"),
			record.FinishedAt.Sub(record.StartedAt).Round(time.Second).String(),
			outcome,
		})
	}
	return renderTable(
		[]string{"Job", "Camera", "Mode", "Files", "Size", "Finished", "Took", "Outcome"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignLeft},
	)
}
