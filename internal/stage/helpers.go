package stage

import (
	"holo/internal/bakespec"
	"holo/internal/services"
)

// ParseBakeSpec parses the stored spec JSON of a job.
// On failure it returns a services.ErrValidation suitable for failing the job.
func ParseBakeSpec(raw string) (bakespec.Spec, error) {
	spec, err := bakespec.Parse([]byte(raw))
	if err != nil {
		return bakespec.Spec{}, services.Wrap(
			services.ErrValidation, "stage", "parse bake spec",
			"Bake specification stored with the job is invalid", err)
	}
	return spec, nil
}
