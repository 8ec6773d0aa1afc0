package main

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"holo/internal/api"
	"holo/internal/client"
	"holo/internal/fileutil"
	"holo/internal/pipeline"
)

func newResultCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Download the finished asset of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return ctx.withClient(func(cl *client.Client) error {
				dl, err := cl.Result(cmd.Context(), id)
				if err != nil {
					return wrapClientError(err, cl.BaseURL())
				}
				defer dl.Body.Close()
				target := output
				if target == "" {
					target = id + resultExtension(dl.ContentType)
				}
				return saveDownload(cmd, ctx, dl, target)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file, or - for stdout")
	return cmd
}

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "artifacts <job-id> [name]",
		Short: "List a job's intermediate artifacts or download one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return ctx.withClient(func(cl *client.Client) error {
				if len(args) == 1 {
					names, err := cl.Artifacts(cmd.Context(), id)
					if err != nil {
						return wrapClientError(err, cl.BaseURL())
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, api.ArtifactList{JobID: id, Artifacts: names})
					}
					out := cmd.OutOrStdout()
					if len(names) == 0 {
						fmt.Fprintln(out, "No artifacts")
						return nil
					}
					for _, name := range names {
						fmt.Fprintln(out, name)
					}
					return nil
				}
				dl, err := cl.Artifact(cmd.Context(), id, args[1])
				if err != nil {
					return wrapClientError(err, cl.BaseURL())
				}
				defer dl.Body.Close()
				target := output
				if target == "" {
					target = path.Base(args[1])
				}
				return saveDownload(cmd, ctx, dl, target)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file for a downloaded artifact, or - for stdout")
	return cmd
}

type savedFile struct {
	Path        string `json:"path"`
	ContentType string `json:"contentType"`
	Bytes       int64  `json:"bytes"`
}

func saveDownload(cmd *cobra.Command, ctx *commandContext, dl client.Download, target string) error {
	if target == "-" {
		_, err := io.Copy(cmd.OutOrStdout(), dl.Body)
		return err
	}
	n, err := fileutil.WriteAtomic(target, dl.Body, 0o644)
	if err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	if ctx.jsonOutput() {
		return writeJSON(cmd, savedFile{Path: target, ContentType: dl.ContentType, Bytes: n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", target, n)
	return nil
}

func resultExtension(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case pipeline.MediaGLTFJSON:
		return ".gltf"
	default:
		return ".glb"
	}
}
