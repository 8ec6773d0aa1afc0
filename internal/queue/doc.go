// Package queue persists bake jobs and exposes the job store contract shared
// by the Job API and the orchestrator.
//
// Store is the backend-neutral interface. SQLiteStore implements it on
// modernc.org/sqlite with WAL, busy retries, and an embedded schema;
// the badgerstore subpackage provides an embedded keyed alternative. Both
// enforce the same lifecycle rules: jobs are created queued with zero
// progress, progress never decreases and stays within [0,1], terminal jobs
// (done, error) reject further mutation, and ClaimNext hands the oldest queued
// job to exactly one worker under a lease.
//
// Schema changes bump the version in schema.go; operators clear the database
// to adopt the new schema.
package queue
