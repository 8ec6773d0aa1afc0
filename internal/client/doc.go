// Package client is the Go SDK for the holod Job API.
//
// Client wraps the HTTP routes with typed calls, polls or watches jobs until
// they finish, and keeps a small on-disk cache of recently seen jobs so the
// CLI can show last-known state while the daemon is unreachable.
package client
