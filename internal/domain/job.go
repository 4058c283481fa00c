package domain

import "time"

// BackendKind identifies which generation backend owns a job.
type BackendKind string

const (
	BackendSelfHosted  BackendKind = "selfhosted"
	BackendRunPod      BackendKind = "runpod"
	BackendComfyDeploy BackendKind = "comfydeploy"
)

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a sink state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// GenerationJob tracks one submitted pipeline graph across its lifetime.
// Once completed or failed the record is immutable.
type GenerationJob struct {
	ID            string
	ImageID       string
	Backend       BackendKind
	ExternalJobID string
	Status        JobStatus
	ResultKey     string
	Seed          *int64
	ErrorMessage  string
	SubmittedAt   time.Time
	CompletedAt   *time.Time
}
