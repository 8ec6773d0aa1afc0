// Command holo is the command-line client for holod: it submits bake jobs,
// follows them to completion, downloads results and manages the daemon.
package main
