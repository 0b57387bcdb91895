package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"visualia/internal/api"
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
	statusLabelWidth = 16
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func renderValueLine(label, value string) string {
	return fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", value)
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

// renderStatus formats the daemon status report.
func renderStatus(st api.Status, colorize bool) []string {
	lines := renderSectionHeader("Engine", colorize)

	switch st.State {
	case "attached":
		lines = append(lines, renderStatusLine("Channel", statusOK, fmt.Sprintf("attached (pid %d)", st.PID), colorize))
	case "closed":
		kind, msg := statusWarn, "closed"
		if st.LastExit != nil && !st.LastExit.Requested {
			kind, msg = statusError, "closed after unexpected exit"
		}
		lines = append(lines, renderStatusLine("Channel", kind, msg, colorize))
	default:
		lines = append(lines, renderStatusLine("Channel", statusInfo, st.State, colorize))
	}

	lines = append(lines,
		renderValueLine("Model", orDash(st.Launch.Model)),
		renderValueLine("Language", orDash(st.Launch.SourceLanguage)),
		renderValueLine("Model file", orDash(st.Launch.ModelPath)),
	)
	if st.StartedAt != "" {
		lines = append(lines, renderValueLine("Started", st.StartedAt))
	}

	phaseKind := statusInfo
	phaseMsg := st.RestartPhase
	if st.Pending != nil {
		phaseKind = statusWarn
		phaseMsg = fmt.Sprintf("%s, pending %s (%s)", st.RestartPhase, st.Pending.Model, st.Pending.SourceLanguage)
	}
	lines = append(lines, renderStatusLine("Restart", phaseKind, phaseMsg, colorize))

	if st.LastExit != nil {
		kind := statusInfo
		if !st.LastExit.Requested {
			kind = statusError
		}
		lines = append(lines, renderStatusLine("Last exit", kind, st.LastExit.Detail, colorize))
	}
	if st.DroppedLines > 0 {
		lines = append(lines, renderStatusLine("Dropped lines", statusWarn, fmt.Sprintf("%d malformed", st.DroppedLines), colorize))
	}
	if st.DroppedSends > 0 {
		lines = append(lines, renderStatusLine("Dropped sends", statusWarn, fmt.Sprintf("%d undelivered", st.DroppedSends), colorize))
	}
	if st.LastCaption != "" {
		lines = append(lines, renderValueLine("Last caption", truncate(st.LastCaption, 80)))
	}
	lines = append(lines,
		renderValueLine("Hotplug", yesNo(st.Hotplug)),
		renderValueLine("Session", st.SessionID),
	)
	return lines
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
