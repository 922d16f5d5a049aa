// Package presentation maps a device's state and payload to what a client
// should display: a headline, a description, and the actions it may offer.
package presentation

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"camwatch/internal/device"
)

// Action identifiers understood by the daemon's device endpoints.
const (
	ActionCopy    = "copy"
	ActionMove    = "move"
	ActionConfirm = "confirm"
	ActionDecline = "decline"
	ActionCancel  = "cancel"
	ActionAck     = "ack"
)

// Action is one user choice offered for the current state.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// View is the rendered presentation of a device.
type View struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Actions     []Action `json:"actions,omitempty"`
	// Percent is transfer progress in [0, 100], or -1 outside a transfer.
	Percent float64 `json:"percent"`
}

// Render produces the view for state and payload. fileCount is the number of
// transferable files currently listed on the device.
func Render(state device.State, payload device.Payload, fileCount int) View {
	view := View{Percent: -1}
	switch state {
	case device.Init:
		view.Title = "Initializing"
		view.Description = messageOr(payload, "Initializing...")
	case device.Idle:
		view.Title = "Ready"
		if fileCount == 0 {
			view.Description = "No files found"
			break
		}
		view.Description = fmt.Sprintf("Found %d %s", fileCount, plural(fileCount, "file", "files"))
		view.Actions = []Action{{ActionCopy, "Copy"}, {ActionMove, "Move"}}
	case device.VerifyTransfer:
		verb := "Copy"
		if payload.Kind == device.PayloadRemoveOriginals && payload.RemoveOriginals {
			verb = "Move"
		}
		view.Title = "Confirm " + strings.ToLower(verb)
		view.Description = fmt.Sprintf("%s %d %s to the destination?", verb, fileCount, plural(fileCount, "file", "files"))
		view.Actions = []Action{{ActionConfirm, "Yes"}, {ActionDecline, "No"}}
	case device.Transferring:
		view = renderTransfer(payload)
		view.Actions = []Action{{ActionCancel, "Cancel"}}
	case device.Done:
		view.Title = "Done"
		view.Description = messageOr(payload, "Transfer finished")
		view.Actions = []Action{{ActionAck, "Okay"}}
	case device.Error:
		view.Title = "Error"
		view.Description = "Error: " + messageOr(payload, "unknown failure")
		view.Actions = []Action{{ActionAck, "Retry"}}
	case device.Cancel:
		view.Title = "Cancelling"
		view.Description = "Cancelling..."
	case device.Removed:
		view.Title = "Removed"
		view.Description = "Removed"
	default:
		view.Title = state.String()
	}
	return view
}

func renderTransfer(payload device.Payload) View {
	switch payload.Kind {
	case device.PayloadStats:
		stats := payload.Stats
		verb := "Copying"
		if stats.Move {
			verb = "Moving"
		}
		parts := []string{
			fmt.Sprintf("%s %d of %d files", verb, min(stats.CopiedFiles+1, stats.TotalFiles), stats.TotalFiles),
			fmt.Sprintf("%s of %s", kb(stats.CopiedKB), kb(stats.TotalKB)),
		}
		if stats.KBps > 0 {
			parts = append(parts, kb(stats.KBps)+"/s")
		}
		if stats.ETA > 0 {
			parts = append(parts, "about "+stats.ETA.Round(time.Second).String()+" left")
		}
		return View{
			Title:       verb,
			Description: strings.Join(parts, ", "),
			Percent:     stats.Percent(),
		}
	case device.PayloadRemoveOriginals:
		if payload.RemoveOriginals {
			return View{Title: "Moving", Description: "Moving files...", Percent: 0}
		}
		return View{Title: "Copying", Description: "Copying files...", Percent: 0}
	default:
		return View{Title: "Transferring", Description: messageOr(payload, "Transferring files..."), Percent: 0}
	}
}

// FormatKB renders a kilobyte count for display.
func FormatKB(value int64) string {
	return kb(value)
}

func kb(value int64) string {
	if value < 0 {
		value = 0
	}
	return humanize.IBytes(uint64(value) * 1024)
}

func messageOr(payload device.Payload, fallback string) string {
	if payload.Kind == device.PayloadMessage && strings.TrimSpace(payload.Message) != "" {
		return payload.Message
	}
	return fallback
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
