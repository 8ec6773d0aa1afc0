// Package notifications pushes job outcomes to an ntfy topic.
//
// The workflow manager reports finished jobs, failed jobs and drained queues
// through the Service interface. Which events are sent is controlled by the
// [notifications] section; with no topic configured NewService returns a
// no-op implementation.
package notifications
