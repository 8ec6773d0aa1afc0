package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"holo/internal/api"
	"holo/internal/client"
	"holo/internal/preflight"
	"holo/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, worker and job status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				status, err := cl.Status(cmd.Context())
				if err != nil && !client.IsUnreachable(err) {
					return err
				}
				if ctx.jsonOutput() {
					if err != nil {
						return writeJSON(cmd, api.DaemonStatus{Running: false})
					}
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				if err != nil {
					printSection(out, "Daemon", colorize)
					fmt.Fprintln(out, statusLine("holod", toneError, "Not running ("+cl.BaseURL()+")", colorize))
					return nil
				}
				printDaemonStatus(out, status, colorize)
				return nil
			})
		},
	}
}

func printDaemonStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	printSection(out, "Daemon", colorize)
	detail := fmt.Sprintf("Running (pid %d", status.PID)
	if status.Version != "" {
		detail += ", " + status.Version
	}
	detail += ")"
	fmt.Fprintln(out, statusLine("holod", toneOK, detail, colorize))
	fmt.Fprintln(out, statusLine("Started", toneInfo, status.StartedAt, colorize))
	fmt.Fprintln(out, statusLine("Bind", toneInfo, status.Bind, colorize))
	fmt.Fprintln(out, statusLine("Job store", toneInfo, status.StoreBackend+" "+status.StorePath, colorize))
	fmt.Fprintln(out, statusLine("Blob store", toneInfo, status.BlobBackend, colorize))
	fmt.Fprintln(out, statusLine("Runner", toneInfo, status.Runner, colorize))

	wf := status.Workflow
	workersKind := toneOK
	if !wf.Running {
		workersKind = toneError
	}
	fmt.Fprintln(out, statusLine("Workers", workersKind,
		fmt.Sprintf("%d busy of %d, running: %s", wf.Busy, wf.Workers, yesNo(wf.Running)), colorize))
	if wf.LastError != "" {
		fmt.Fprintln(out, statusLine("Last error", toneWarn, wf.LastError, colorize))
	}
	fmt.Fprintln(out)

	printSection(out, "Stages", colorize)
	for _, stage := range wf.StageHealth {
		kind := toneOK
		detail := stage.Detail
		if !stage.Ready {
			kind = toneError
		}
		if detail == "" {
			detail = "Ready"
		}
		fmt.Fprintln(out, statusLine(stage.Name, kind, detail, colorize))
	}
	fmt.Fprintln(out)

	printSection(out, "Jobs", colorize)
	rows := buildJobStatsRows(wf.JobStats, colorize)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No jobs")
		return
	}
	printTable(out, []column{left("Status"), right("Count")}, rows)
}

func buildJobStatsRows(stats map[string]int, colorize bool) [][]string {
	rows := make([][]string, 0, len(stats))
	seen := make(map[string]bool, len(stats))
	for _, status := range queue.AllStatuses() {
		key := string(status)
		seen[key] = true
		if count, ok := stats[key]; ok && count > 0 {
			rows = append(rows, []string{jobStatusLabel(key, colorize), strconv.Itoa(count)})
		}
	}
	var extra []string
	for key, count := range stats {
		if !seen[key] && count > 0 {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		rows = append(rows, []string{jobStatusLabel(key, colorize), strconv.Itoa(stats[key])})
	}
	return rows
}

type preflightReport struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

var errPreflightFailed = errors.New("preflight checks failed")

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, stores, runner endpoints and binaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if ctx.jsonOutput() {
				reports := make([]preflightReport, 0, len(results))
				for _, r := range results {
					reports = append(reports, preflightReport(r))
				}
				if err := writeJSON(cmd, reports); err != nil {
					return err
				}
			} else {
				printPreflight(cmd.OutOrStdout(), results)
			}
			if preflight.Failed(results) {
				return errPreflightFailed
			}
			return nil
		},
	}
}

func printPreflight(out io.Writer, results []preflight.Result) {
	colorize := shouldColorize(out)
	printSection(out, "Preflight", colorize)
	for _, r := range results {
		kind := toneOK
		if !r.Passed {
			kind = toneError
		}
		fmt.Fprintln(out, statusLine(r.Name, kind, r.Detail, colorize))
	}
}

// pingDaemon reports whether holod answers at the client URL.
func pingDaemon(ctx context.Context, cl *client.Client) bool {
	return cl.Health(ctx) == nil
}
