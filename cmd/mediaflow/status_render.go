package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const ansiReset = "\x1b[0m"

var statusStyles = map[statusKind]struct{ tag, color string }{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

const (
	statusLabelWidth = 24
	statusIndent     = "  "
)

// renderStatusLine formats "  Label:   [TAG] message", coloured by kind when
// colorize is set.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := statusStyles[kind]
	tag := "[" + style.tag + "]"
	if message != "" {
		tag += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", tag)
	return paint(line, style.color, colorize)
}

// renderSectionHeader returns a title followed by an underline, newline terminated.
func renderSectionHeader(title string, colorize bool) string {
	title = strings.TrimSpace(title)
	rule := strings.Repeat("─", len([]rune(title)))
	color := statusStyles[statusInfo].color
	return paint(title, color, colorize) + "\n" + paint(rule, color, colorize) + "\n"
}

func paint(s, color string, colorize bool) string {
	if !colorize || color == "" {
		return s
	}
	return color + s + ansiReset
}

// displayLabel turns identifiers such as "extract_audio" into "Extract Audio".
func displayLabel(value string) string {
	value = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(value))
	if value == "" {
		return ""
	}
	return cases.Title(language.English).String(value)
}

func jobStatusKind(status string) statusKind {
	switch status {
	case "completed":
		return statusOK
	case "failed":
		return statusError
	case "cancelled":
		return statusWarn
	default:
		return statusInfo
	}
}

func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
