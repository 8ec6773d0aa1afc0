// Package deps reports on the external executables holo shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"holo/internal/config"
)

// Requirement defines an external executable holo relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// Missing reports whether the requirement is mandatory and absent.
func (s Status) Missing() bool {
	return !s.Available && !s.Optional
}

// Pipeline lists the executables used by in-process stage runners. Remote
// runners execute tools on the sidecar, so nothing is required locally.
func Pipeline(cfg *config.Config) []Requirement {
	if cfg == nil || cfg.Pipeline.Runner == config.RunnerRemote {
		return nil
	}
	return []Requirement{{
		Name:        "gltfpack",
		Command:     cfg.Pipeline.GltfpackBinary,
		Description: "Optimizes exported assets when a bake spec requests export.optimize=gltfpack",
		Optional:    true,
	}}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		status := Status{Requirement: req}
		switch path, err := exec.LookPath(req.Command); {
		case req.Command == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		default:
			status.Available = true
			status.Path = path
		}
		results = append(results, status)
	}
	return results
}
