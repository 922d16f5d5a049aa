package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"camwatch/internal/deps"
	"camwatch/internal/ipc"
	"camwatch/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// daemonLines summarizes the daemon section of `camwatch status`.
func daemonLines(status ipc.Status, now time.Time, colorize bool) []string {
	if !status.Running {
		return []string{renderStatusLine("Daemon", statusError, "Not running", colorize)}
	}
	lines := []string{
		renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d, started %s)", status.PID, humanize.RelTime(status.StartedAt, now, "ago", "from now")), colorize),
	}
	if status.DevicesError != "" {
		lines = append(lines, renderStatusLine("Cameras", statusError, status.DevicesError, colorize))
	} else {
		lines = append(lines, renderStatusLine("Cameras", statusInfo, fmt.Sprintf("%d attached, %d transferring", status.Devices, status.Transferring), colorize))
	}
	switch {
	case status.RefreshError != "":
		lines = append(lines, renderStatusLine("Last refresh", statusError, status.RefreshError, colorize))
	case !status.LastRefresh.IsZero():
		lines = append(lines, renderStatusLine("Last refresh", statusOK, humanize.RelTime(status.LastRefresh, now, "ago", "from now"), colorize))
	}

	hotplug := status.Hotplug
	switch {
	case hotplug.Error != "":
		lines = append(lines, renderStatusLine("Hotplug", statusError, fmt.Sprintf("%s: %s", hotplug.Source, hotplug.Error), colorize))
	case hotplug.Running:
		lines = append(lines, renderStatusLine("Hotplug", statusOK, fmt.Sprintf("%s (%d events, %d refreshes)", hotplug.Source, hotplug.Events, hotplug.Triggers), colorize))
	default:
		lines = append(lines, renderStatusLine("Hotplug", statusWarn, "disabled; run `camwatch refresh` after plugging a camera", colorize))
	}
	if status.APIAddress != "" {
		lines = append(lines, renderStatusLine("HTTP API", statusInfo, "http://"+status.APIAddress, colorize))
	}
	return lines
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(statuses)+1)
	missing := deps.MissingRequired(statuses)
	switch {
	case len(missing) > 0:
		lines = append(lines, renderStatusLine("Summary", statusError, fmt.Sprintf("%d required missing", len(missing)), colorize))
	default:
		lines = append(lines, renderStatusLine("Summary", statusOK, "All required dependencies available", colorize))
	}
	for _, dep := range statuses {
		if dep.Available {
			lines = append(lines, renderStatusLine(dep.Name, statusOK, fmt.Sprintf("Ready (%s)", dep.Path), colorize))
			continue
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		detail := dep.Detail
		if detail == "" {
			detail = "not available"
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}

func preflightLines(results []preflight.Result, colorize bool) []string {
	lines := make([]string, 0, len(results))
	for _, result := range results {
		kind := statusOK
		if !result.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
	}
	return lines
}
