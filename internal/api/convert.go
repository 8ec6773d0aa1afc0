package api

import (
	"slices"
	"strings"

	"holo/internal/queue"
	"holo/internal/stage"
	"holo/internal/workflow"
)

// FromJob converts a queue record to its API representation. resultBase is the
// public base URL; resultUrl is only set once the job has an output key.
func FromJob(job *queue.Job, resultBase string) JobView {
	if job == nil {
		return JobView{}
	}
	view := JobView{
		ID:        job.ID,
		Status:    string(job.Status),
		Progress:  queue.ClampProgress(job.Progress),
		InputKey:  job.InputKey,
		OutputKey: job.OutputKey,
		Error:     job.Error,
		SpecJSON:  job.SpecJSON,
	}
	if !job.CreatedAt.IsZero() {
		view.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		view.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if job.OutputKey != "" {
		view.ResultURL = ResultURL(resultBase, job.ID)
	}
	return view
}

// FromJobs converts a slice of jobs, skipping nil entries.
func FromJobs(jobs []*queue.Job, resultBase string) []JobView {
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		views = append(views, FromJob(job, resultBase))
	}
	return views
}

// ResultURL builds <base>/jobs/<id>/result. An empty base yields a
// root-relative URL.
func ResultURL(base, jobID string) string {
	return strings.TrimRight(base, "/") + "/jobs/" + jobID + "/result"
}

// MergeJobStats fills every known status so clients can render stable tables.
func MergeJobStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = 0
	}
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FromStatusSummary converts the orchestrator summary.
func FromStatusSummary(summary workflow.StatusSummary, resultBase string) WorkflowStatus {
	status := WorkflowStatus{
		Running:     summary.Running,
		Workers:     summary.Workers,
		Busy:        summary.Busy,
		JobStats:    MergeJobStats(summary.JobStats),
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastJob != nil {
		view := FromJob(summary.LastJob, resultBase)
		status.LastJob = &view
	}
	return status
}

// StageHealthSlice converts health records into a deterministically ordered slice.
func StageHealthSlice(records []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(records))
	for _, h := range records {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	slices.SortFunc(out, func(a, b StageHealth) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
