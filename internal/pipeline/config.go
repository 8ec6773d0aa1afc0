package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Stage config and metadata maps arrive either from bakespec.Section or from
// JSON, so numbers may be float64, int, or json.Number.

// ConfigString reads a string value.
func ConfigString(cfg map[string]any, key, fallback string) string {
	if v, ok := cfg[key]; ok {
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) != "" {
				return strings.TrimSpace(t)
			}
		case fmt.Stringer:
			return t.String()
		}
	}
	return fallback
}

// ConfigFloat reads a numeric value.
func ConfigFloat(cfg map[string]any, key string, fallback float64) float64 {
	v, ok := cfg[key]
	if !ok {
		return fallback
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return fallback
}

// ConfigInt reads an integral value.
func ConfigInt(cfg map[string]any, key string, fallback int) int {
	f := ConfigFloat(cfg, key, float64(fallback))
	return int(f)
}

// ConfigBool reads a boolean value.
func ConfigBool(cfg map[string]any, key string, fallback bool) bool {
	v, ok := cfg[key]
	if !ok {
		return fallback
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	}
	return fallback
}

// MergeMetadata returns a new map with b layered over a.
func MergeMetadata(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
