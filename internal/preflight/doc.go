// Package preflight provides readiness checks for the paths, stores, and
// external services holo depends on.
//
// The CLI "holo preflight" command runs RunAll before a daemon is started or
// when diagnosing a stuck queue. Checks are gated by configuration: a hosted
// key is only required when a hosted runner is selected, the sidecar is only
// contacted in remote mode, and so on.
package preflight
