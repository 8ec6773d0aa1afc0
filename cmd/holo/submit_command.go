package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"holo/internal/api"
	"holo/internal/bakespec"
	"holo/internal/client"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var specPath string
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit <image>",
		Short: "Upload an image and enqueue a bake job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadSpecFile(specPath)
			if err != nil {
				return err
			}
			imagePath := args[0]
			image, err := os.Open(imagePath)
			if err != nil {
				return fmt.Errorf("open image: %w", err)
			}
			defer image.Close()

			return ctx.withClient(func(cl *client.Client) error {
				id, err := cl.CreateJob(cmd.Context(), image, filepath.Base(imagePath), spec)
				if err != nil {
					return wrapClientError(err, cl.BaseURL())
				}
				if !wait {
					if ctx.jsonOutput() {
						return writeJSON(cmd, api.CreateJobResponse{JobID: id})
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s\n", id)
					return nil
				}
				if !ctx.jsonOutput() {
					fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s\n", id)
				}
				return waitAndReport(cmd, ctx, cl, id, false)
			})
		},
	}

	cmd.Flags().StringVarP(&specPath, "spec", "s", "", "Bake spec file (JSON or YAML)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")
	return cmd
}

// loadSpecFile reads a bake spec and returns its canonical JSON. YAML files
// are converted; an empty path means server defaults.
func loadSpecFile(path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	var spec bakespec.Spec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		spec, err = bakespec.FromYAML(data)
	default:
		spec, err = bakespec.Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("spec %s: %w", path, err)
	}
	return spec.Canonical()
}
