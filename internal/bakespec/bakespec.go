// Package bakespec defines the versioned bake specification attached to
// every job. Clients may omit any field; Parse fills defaults, ignores unknown
// fields, and rejects other versions. Canonical renders the stored form so the
// same logical spec always produces the same bytes.
package bakespec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"holo/internal/services"
)

// Version is the only bake spec version this build accepts.
const Version = "0.1.0"

// DefaultCaptionPrompt is sent to the caption provider when the spec has no prompt.
const DefaultCaptionPrompt = "Describe the subject and materials in this image for 3D reconstruction. Keep it brief."

var (
	// ErrVersionMismatch reports a spec authored for another version.
	ErrVersionMismatch = fmt.Errorf("bake spec version mismatch: %w", services.ErrValidation)
	// ErrInvalid reports malformed or out-of-range spec content.
	ErrInvalid = fmt.Errorf("invalid bake spec: %w", services.ErrValidation)
)

// Spec is the full bake specification.
type Spec struct {
	Version string `json:"version" yaml:"version"`
	Cutout  Cutout `json:"cutout" yaml:"cutout"`
	Views   Views  `json:"views" yaml:"views"`
	Depth   Depth  `json:"depth" yaml:"depth"`
	Recon   Recon  `json:"recon" yaml:"recon"`
	Mesh    Mesh   `json:"mesh" yaml:"mesh"`
	Export  Export `json:"export" yaml:"export"`
	AI      AI     `json:"ai" yaml:"ai"`
}

// Cutout configures foreground extraction.
type Cutout struct {
	Provider  string  `json:"provider" yaml:"provider" validate:"required"`
	Model     string  `json:"model" yaml:"model" validate:"required"`
	Threshold float64 `json:"threshold" yaml:"threshold" validate:"gte=0,lte=1"`
	FeatherPx int     `json:"featherPx" yaml:"featherPx" validate:"gte=0,lte=64"`
}

// Views configures novel view synthesis around the subject.
type Views struct {
	Provider     string  `json:"provider" yaml:"provider" validate:"required"`
	Model        string  `json:"model" yaml:"model" validate:"required"`
	Count        int     `json:"count" yaml:"count" validate:"gte=1,lte=64"`
	Seed         int64   `json:"seed" yaml:"seed"`
	ElevationDeg float64 `json:"elevationDeg" yaml:"elevationDeg" validate:"gte=-89,lte=89"`
	FovDeg       float64 `json:"fovDeg" yaml:"fovDeg" validate:"gt=0,lt=180"`
	Resolution   int     `json:"resolution" yaml:"resolution" validate:"gte=32,lte=2048"`
}

// Depth configures per-view depth estimation.
type Depth struct {
	Provider    string `json:"provider" yaml:"provider" validate:"required"`
	Model       string `json:"model" yaml:"model" validate:"required"`
	Concurrency int    `json:"concurrency" yaml:"concurrency" validate:"gte=1,lte=32"`
}

// Recon configures surface reconstruction.
type Recon struct {
	Method    string  `json:"method" yaml:"method" validate:"required"`
	VoxelSize float64 `json:"voxelSize" yaml:"voxelSize" validate:"gt=0,lte=1"`
	GridSize  int     `json:"gridSize" yaml:"gridSize" validate:"gte=8,lte=512"`
}

// Mesh configures decimation.
type Mesh struct {
	TargetTris int `json:"targetTris" yaml:"targetTris" validate:"gte=4,lte=1000000"`
}

// Export configures the final asset.
type Export struct {
	Format   string `json:"format" yaml:"format" validate:"oneof=glb gltf"`
	Optimize string `json:"optimize" yaml:"optimize" validate:"oneof=none gltfpack"`
}

// AI groups optional model-assisted enrichments.
type AI struct {
	Caption Caption `json:"caption" yaml:"caption"`
}

// Caption configures the optional caption stage.
type Caption struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Provider    string  `json:"provider" yaml:"provider" validate:"required_if=Enabled true"`
	Model       string  `json:"model" yaml:"model" validate:"required_if=Enabled true"`
	Prompt      string  `json:"prompt" yaml:"prompt"`
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=1"`
	MaxTokens   int     `json:"maxTokens" yaml:"maxTokens" validate:"gte=1,lte=4096"`
}

// Default returns the spec used when a client submits none.
func Default() Spec {
	return Spec{
		Version: Version,
		Cutout:  Cutout{Provider: "local", Model: "border-key", Threshold: 0.12, FeatherPx: 2},
		Views: Views{
			Provider:     "local",
			Model:        "orbit",
			Count:        12,
			Seed:         42,
			ElevationDeg: 10,
			FovDeg:       35,
			Resolution:   256,
		},
		Depth:  Depth{Provider: "local", Model: "silhouette", Concurrency: 4},
		Recon:  Recon{Method: "grid", VoxelSize: 0.006, GridSize: 64},
		Mesh:   Mesh{TargetTris: 2000},
		Export: Export{Format: "glb", Optimize: "none"},
		AI: AI{Caption: Caption{
			Provider:    "anthropic",
			Model:       "claude-3-5-haiku-latest",
			Prompt:      DefaultCaptionPrompt,
			Temperature: 0.2,
			MaxTokens:   200,
		}},
	}
}

// Parse decodes a JSON spec over the defaults. Empty input yields Default().
func Parse(data []byte) (Spec, error) {
	spec := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return spec, nil
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return finish(spec)
}

// FromYAML decodes a YAML spec over the defaults.
func FromYAML(data []byte) (Spec, error) {
	spec := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return spec, nil
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return finish(spec)
}

func finish(spec Spec) (Spec, error) {
	spec.normalize()
	if spec.Version != Version {
		return Spec{}, fmt.Errorf("%w: got %q, want %q", ErrVersionMismatch, spec.Version, Version)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (s *Spec) normalize() {
	s.Version = strings.TrimSpace(s.Version)
	if s.Version == "" {
		s.Version = Version
	}
	lower := func(v *string) { *v = strings.ToLower(strings.TrimSpace(*v)) }
	lower(&s.Cutout.Provider)
	lower(&s.Views.Provider)
	lower(&s.Depth.Provider)
	lower(&s.Recon.Method)
	lower(&s.Export.Format)
	lower(&s.Export.Optimize)
	lower(&s.AI.Caption.Provider)
	if strings.TrimSpace(s.AI.Caption.Prompt) == "" {
		s.AI.Caption.Prompt = DefaultCaptionPrompt
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func specValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate range-checks every section.
func (s Spec) Validate() error {
	err := specValidator().Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Spec.")
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s is %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

// Canonical renders the stored JSON form.
func (s Spec) Canonical() ([]byte, error) {
	return json.Marshal(s)
}

// Section returns the config map a stage descriptor carries. Unknown stages
// yield an empty map.
func (s Spec) Section(stage string) map[string]any {
	var section any
	switch stage {
	case "cutout":
		section = s.Cutout
	case "views":
		section = s.Views
	case "depth":
		section = s.Depth
	case "recon":
		section = s.Recon
	case "decimate":
		section = s.Mesh
	case "export":
		section = s.Export
	case "caption":
		section = s.AI.Caption
	default:
		return map[string]any{}
	}
	return toMap(section)
}

// CanonicalizeJSON parses raw client JSON and returns its canonical form.
func CanonicalizeJSON(data []byte) (Spec, []byte, error) {
	spec, err := Parse(data)
	if err != nil {
		return Spec{}, nil, err
	}
	canonical, err := spec.Canonical()
	if err != nil {
		return Spec{}, nil, err
	}
	return spec, canonical, nil
}

func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}
