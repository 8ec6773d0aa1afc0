// Package pipeline defines the stage runner contract and runs the bake
// stages of a job in order.
//
// A stage receives a StageRequest naming its input and output artifacts by
// URI plus the config section of the bake spec, and returns a StageResult with
// the produced artifact and free-form metadata. Backends live in the local,
// hosted, and remote subpackages; the backends package assembles a Registry
// from configuration. Every failure surfaced by Pipeline.Run is a *StageError.
package pipeline
