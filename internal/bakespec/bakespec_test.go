package bakespec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holo/internal/bakespec"
	"holo/internal/services"
)

func TestParseEmptyYieldsDefaults(t *testing.T) {
	spec, err := bakespec.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, bakespec.Default(), spec)
	assert.Equal(t, "0.1.0", spec.Version)
	assert.Equal(t, 12, spec.Views.Count)
	assert.Equal(t, "glb", spec.Export.Format)
}

func TestParseFillsMissingAndIgnoresUnknown(t *testing.T) {
	spec, err := bakespec.Parse([]byte(`{"views":{"count":6},"mesh":{"targetTris":500},"extra":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, 6, spec.Views.Count)
	assert.Equal(t, 35.0, spec.Views.FovDeg, "sibling fields keep defaults")
	assert.Equal(t, 500, spec.Mesh.TargetTris)
	assert.Equal(t, bakespec.Version, spec.Version)
}

func TestParseRejectsVersionMismatch(t *testing.T) {
	_, err := bakespec.Parse([]byte(`{"version":"0.2.0"}`))
	require.ErrorIs(t, err, bakespec.ErrVersionMismatch)
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := bakespec.Parse([]byte(`{"views":`))
	require.ErrorIs(t, err, bakespec.ErrInvalid)
	assert.Equal(t, services.KindValidation, services.Kind(err))
}

func TestParseRejectsOutOfRange(t *testing.T) {
	cases := map[string]string{
		"zero views":        `{"views":{"count":0}}`,
		"threshold":         `{"cutout":{"threshold":1.5}}`,
		"format":            `{"export":{"format":"fbx"}}`,
		"optimizer":         `{"export":{"optimize":"draco"}}`,
		"caption model":     `{"ai":{"caption":{"enabled":true,"model":""}}}`,
		"depth concurrency": `{"depth":{"concurrency":0}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := bakespec.Parse([]byte(raw))
			assert.ErrorIs(t, err, bakespec.ErrInvalid)
		})
	}
}

func TestValidationMessageUsesJSONNames(t *testing.T) {
	_, err := bakespec.Parse([]byte(`{"views":{"count":0}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "views.count")
}

func TestCanonicalRoundTrip(t *testing.T) {
	inputs := []string{
		``,
		`{"export":{"format":"GLTF"},"views":{"seed":7}}`,
		`{"ai":{"caption":{"enabled":true,"prompt":""}},"unknown":true}`,
	}
	for _, raw := range inputs {
		first, err := bakespec.Parse([]byte(raw))
		require.NoError(t, err)
		canonical, err := first.Canonical()
		require.NoError(t, err)
		second, err := bakespec.Parse(canonical)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		again, err := second.Canonical()
		require.NoError(t, err)
		assert.Equal(t, string(canonical), string(again))
	}
}

func TestNormalizeFillsPromptAndLowercases(t *testing.T) {
	spec, err := bakespec.Parse([]byte(`{"export":{"format":"GLTF"},"ai":{"caption":{"prompt":"  "}}}`))
	require.NoError(t, err)
	assert.Equal(t, "gltf", spec.Export.Format)
	assert.Equal(t, bakespec.DefaultCaptionPrompt, spec.AI.Caption.Prompt)
}

func TestFromYAML(t *testing.T) {
	doc := []byte(`
version: 0.1.0
views:
  count: 4
  resolution: 128
export:
  format: gltf
ai:
  caption:
    enabled: true
`)
	spec, err := bakespec.FromYAML(doc)
	require.NoError(t, err)
	assert.Equal(t, 4, spec.Views.Count)
	assert.Equal(t, 128, spec.Views.Resolution)
	assert.Equal(t, "gltf", spec.Export.Format)
	assert.True(t, spec.AI.Caption.Enabled)
	assert.Equal(t, "anthropic", spec.AI.Caption.Provider)

	_, err = bakespec.FromYAML([]byte("version: 9.9.9\n"))
	assert.ErrorIs(t, err, bakespec.ErrVersionMismatch)
}

func TestSection(t *testing.T) {
	spec := bakespec.Default()
	views := spec.Section("views")
	assert.Equal(t, float64(12), views["count"])
	assert.Equal(t, "orbit", views["model"])

	decimate := spec.Section("decimate")
	assert.Equal(t, float64(2000), decimate["targetTris"])

	caption := spec.Section("caption")
	assert.Equal(t, false, caption["enabled"])

	assert.Empty(t, spec.Section("unknown"))
}

func TestCanonicalizeJSON(t *testing.T) {
	spec, canonical, err := bakespec.CanonicalizeJSON([]byte(`{"mesh":{"targetTris":100}}`))
	require.NoError(t, err)
	assert.Equal(t, 100, spec.Mesh.TargetTris)
	assert.Contains(t, string(canonical), `"targetTris":100`)
	assert.Contains(t, string(canonical), `"version":"0.1.0"`)
}
