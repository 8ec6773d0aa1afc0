// Package services defines shared utilities consumed by the pipeline runners,
// the orchestrator, and the Job API.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, worker IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (bad request, not found, store unavailable, ...) at the
//     HTTP boundary without string matching.
//
// Use these helpers when wiring new stage or store logic so operational
// behaviour stays uniform across the service.
package services
