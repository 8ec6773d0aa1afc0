// Package config loads, normalizes, and validates holo configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads .env files, and honours environment
// overrides such as HOLO_API_ADDR, HOLO_PIPELINE_RUNNER, GEMINI_API_KEY and
// ANTHROPIC_API_KEY. The Config type centralizes every knob the daemon and CLI
// need so store, blob, and runner backends are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical runner names, and clear validation errors.
package config
