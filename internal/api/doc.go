// Package api defines the wire-format types of the Job API and the
// transport-agnostic JobService behind it. The HTTP server in internal/daemon
// and the client SDK both speak these types.
//
// # Key Types
//
// JobView: client-facing projection of a queue.Job with a computed resultUrl.
//
// JobService: create, read, list, result and artifact operations over the job
// store and blob store. Every error it returns carries a services marker so the
// HTTP boundary can map it with StatusCode and PublicMessage.
//
// DaemonStatus/WorkflowStatus: runtime summaries served on /status.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds in
// UTC. specJson is passed through as the canonical string stored with the job.
// Lease fields are internal and never leave the daemon.
package api
