// Package daemon coordinates the long-running holod process.
//
// It wires configuration, the job store, the blob store, and the workflow
// manager into a single lifecycle with flock-based locking to prevent
// multiple instances, and serves the Job API over HTTP. Job semantics live in
// the api package; the daemon owns routing, middleware, and startup and
// shutdown ordering.
package daemon
