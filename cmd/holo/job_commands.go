package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"holo/internal/api"
	"holo/internal/client"
	"holo/internal/queue"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				snap, err := cl.LookupJob(cmd.Context(), args[0])
				if err != nil {
					return wrapClientError(err, cl.BaseURL())
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, snap.JobView)
				}
				out := cmd.OutOrStdout()
				if snap.Stale {
					fmt.Fprintf(out, "holod unreachable; showing cached view from %s\n", snap.SeenAt.Local().Format(time.RFC3339))
				}
				printJobDetail(out, snap.JobView, shouldColorize(out))
				return nil
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := client.ListOptions{Limit: limit}
			if strings.TrimSpace(statusFlag) != "" {
				status, err := queue.ParseStatus(statusFlag)
				if err != nil {
					return err
				}
				opts.Status = status
			}
			return ctx.withClient(func(cl *client.Client) error {
				snaps, err := cl.ListRecent(cmd.Context(), opts)
				if err != nil {
					return wrapClientError(err, cl.BaseURL())
				}
				if ctx.jsonOutput() {
					views := make([]api.JobView, 0, len(snaps))
					for _, snap := range snaps {
						views = append(views, snap.JobView)
					}
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(snaps) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				if snaps[0].Stale {
					fmt.Fprintln(out, "holod unreachable; showing cached jobs")
				}
				printTable(out,
					[]column{left("ID"), left("Status"), right("Progress"), left("Updated"), left("Error")},
					buildJobRows(snaps, shouldColorize(out)))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (queued, running, done, error)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs")
	return cmd
}

func newWaitCommand(ctx *commandContext) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Poll a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				return waitAndReport(cmd, ctx, cl, args[0], quiet)
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the final state")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream job updates over a websocket until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				view, err := cl.Watch(cmd.Context(), args[0], func(v api.JobView) {
					if !ctx.jsonOutput() {
						fmt.Fprintln(out, progressLine(v, colorize))
					}
				})
				if err != nil {
					return wrapClientError(err, cl.BaseURL())
				}
				return reportFinal(cmd, ctx, view)
			})
		},
	}
}

func waitAndReport(cmd *cobra.Command, ctx *commandContext, cl *client.Client, id string, quiet bool) error {
	interval := client.DefaultWaitInterval
	if cfg := ctx.configValue(); cfg != nil && cfg.Client.WaitIntervalMs > 0 {
		interval = time.Duration(cfg.Client.WaitIntervalMs) * time.Millisecond
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	var last string
	view, err := cl.Wait(cmd.Context(), id, interval, func(v api.JobView) {
		if quiet || ctx.jsonOutput() {
			return
		}
		line := progressLine(v, colorize)
		if line != last {
			fmt.Fprintln(out, line)
			last = line
		}
	})
	if err != nil {
		return wrapClientError(err, cl.BaseURL())
	}
	return reportFinal(cmd, ctx, view)
}

// reportFinal prints the terminal view and turns a failed job into a
// non-zero exit.
func reportFinal(cmd *cobra.Command, ctx *commandContext, view api.JobView) error {
	if ctx.jsonOutput() {
		if err := writeJSON(cmd, view); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		printJobDetail(out, view, shouldColorize(out))
	}
	if view.Status == string(queue.StatusError) {
		return fmt.Errorf("job %s failed: %s", view.ID, view.Error)
	}
	return nil
}

func progressLine(view api.JobView, colorize bool) string {
	return fmt.Sprintf("%s %s %s", view.ID, formatProgress(view.Progress), jobStatusLabel(view.Status, colorize))
}

func printJobDetail(out io.Writer, view api.JobView, colorize bool) {
	rows := [][2]string{
		{"ID", view.ID},
		{"Status", jobStatusLabel(view.Status, colorize)},
		{"Progress", strings.TrimSpace(formatProgress(view.Progress))},
		{"Created", view.CreatedAt},
		{"Updated", view.UpdatedAt},
		{"Input", view.InputKey},
	}
	if view.OutputKey != "" {
		rows = append(rows, [2]string{"Output", view.OutputKey})
	}
	if view.ResultURL != "" {
		rows = append(rows, [2]string{"Result URL", view.ResultURL})
	}
	if view.Error != "" {
		rows = append(rows, [2]string{"Error", view.Error})
	}
	for _, row := range rows {
		fmt.Fprintf(out, "%-11s %s\n", row[0]+":", row[1])
	}
}

func buildJobRows(snaps []client.Snapshot, colorize bool) [][]string {
	rows := make([][]string, 0, len(snaps))
	for _, snap := range snaps {
		rows = append(rows, []string{
			snap.ID,
			jobStatusLabel(snap.Status, colorize),
			formatProgress(snap.Progress),
			snap.UpdatedAt,
			truncate(snap.Error, 48),
		})
	}
	return rows
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
