// Package workflow drives bake jobs from queued to done or error.
//
// The Manager runs a fixed number of worker loops. Each worker claims the
// oldest queued job under a lease, keeps the lease alive with a heartbeat
// while the mesh stages run, and records progress and the terminal outcome
// on the job. The optional caption stage runs beside the mesh stages and only
// the export stage waits for it. A cron-scheduled sweep returns jobs whose
// lease expired (crashed or stalled workers) to the queue.
//
// Stage failures never crash a worker: they become the job's error message
// and the worker moves on to the next job.
package workflow
