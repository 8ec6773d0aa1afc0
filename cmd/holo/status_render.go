package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"holo/internal/queue"
)

// tone picks the bracketed tag and terminal color of a status line.
type tone int

const (
	toneInfo tone = iota
	toneOK
	toneWarn
	toneError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var tones = [...]struct{ tag, color string }{
	toneInfo:  {"INFO", ansiBlue},
	toneOK:    {"OK", ansiGreen},
	toneWarn:  {"WARN", ansiYellow},
	toneError: {"ERROR", ansiRed},
}

const labelWidth = 20

var titleCaser = cases.Title(language.English)

func paint(s string, t tone, colorize bool) string {
	if !colorize {
		return s
	}
	return tones[t].color + s + ansiReset
}

// statusLine renders "  label:    [TAG] message" padded to a fixed label column.
func statusLine(label string, t tone, message string, colorize bool) string {
	tag := "[" + tones[t].tag + "]"
	if message != "" {
		tag += " " + message
	}
	return paint(fmt.Sprintf("  %-*s %s", labelWidth, label+":", tag), t, colorize)
}

func printSection(w io.Writer, title string, colorize bool) {
	head := "== " + strings.TrimSpace(title) + " =="
	fmt.Fprintln(w, paint(head, toneInfo, colorize))
	fmt.Fprintln(w, paint(strings.Repeat("-", len(head)), toneInfo, colorize))
}

func jobTone(status string) tone {
	switch queue.Status(status) {
	case queue.StatusDone:
		return toneOK
	case queue.StatusError:
		return toneError
	case queue.StatusRunning:
		return toneWarn
	default:
		return toneInfo
	}
}

// jobStatusLabel title-cases a job status for tables.
func jobStatusLabel(status string, colorize bool) string {
	label := titleCaser.String(strings.TrimSpace(status))
	if label == "" {
		label = "Unknown"
	}
	return paint(label, jobTone(status), colorize)
}

func formatProgress(progress float64) string {
	return fmt.Sprintf("%3.0f%%", min(max(progress, 0), 1)*100)
}

// shouldColorize is true for terminals unless NO_COLOR is set.
func shouldColorize(w io.Writer) bool {
	if _, off := os.LookupEnv("NO_COLOR"); off {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
