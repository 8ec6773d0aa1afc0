package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobView describes a bake job in a transport-friendly format.
type JobView struct {
	ID        string  `json:"id"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	InputKey  string  `json:"inputKey"`
	OutputKey string  `json:"outputKey,omitempty"`
	Error     string  `json:"error,omitempty"`
	SpecJSON  string  `json:"specJson"`
	ResultURL string  `json:"resultUrl,omitempty"`
}

// IsTerminal reports whether the job reached done or error.
func (v JobView) IsTerminal() bool {
	return v.Status == "done" || v.Status == "error"
}

// CreateJobResponse is returned by POST /jobs.
type CreateJobResponse struct {
	JobID string `json:"jobId"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ArtifactList enumerates a job's work artifacts as paths relative to its
// work namespace.
type ArtifactList struct {
	JobID     string   `json:"jobId"`
	Artifacts []string `json:"artifacts"`
}

// WorkflowStatus summarizes orchestrator state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Workers     int            `json:"workers"`
	Busy        int            `json:"busy"`
	JobStats    map[string]int `json:"jobStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *JobView       `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for stage runners.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	Version      string         `json:"version,omitempty"`
	StartedAt    string         `json:"startedAt,omitempty"`
	Bind         string         `json:"bind"`
	StoreBackend string         `json:"storeBackend"`
	StorePath    string         `json:"storePath"`
	BlobBackend  string         `json:"blobBackend"`
	Runner       string         `json:"runner"`
	LockFilePath string         `json:"lockFilePath"`
	Workflow     WorkflowStatus `json:"workflow"`
}
