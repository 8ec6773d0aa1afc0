package workflow

import (
	"time"

	"holo/internal/config"
)

type timings struct {
	workers    int
	poll       time.Duration
	errorRetry time.Duration
	lease      time.Duration
	heartbeat  time.Duration
	reclaim    string
}

const minWait = 50 * time.Millisecond

// timingsFrom converts the [workflow] section into durations. Zero poll and
// retry intervals fall back to a short floor instead of spinning.
func timingsFrom(cfg *config.Config) timings {
	def := config.Default().Workflow
	w := def
	if cfg != nil {
		w = cfg.Workflow
	}
	t := timings{
		workers:    w.Workers,
		poll:       time.Duration(w.QueuePollInterval) * time.Second,
		errorRetry: time.Duration(w.ErrorRetryInterval) * time.Second,
		lease:      time.Duration(w.LeaseSeconds) * time.Second,
		heartbeat:  time.Duration(w.HeartbeatInterval) * time.Second,
		reclaim:    w.ReclaimSchedule,
	}
	if t.workers <= 0 {
		t.workers = 1
	}
	if t.poll <= 0 {
		t.poll = minWait
	}
	if t.errorRetry <= 0 {
		t.errorRetry = minWait
	}
	if t.lease <= 0 {
		t.lease = time.Duration(def.LeaseSeconds) * time.Second
	}
	if t.heartbeat <= 0 || t.heartbeat >= t.lease {
		t.heartbeat = t.lease / 3
	}
	return t
}
