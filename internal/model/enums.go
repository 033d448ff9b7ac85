package model

// Job status
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether no further transitions are possible for the job.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Job event types published on the job events channel
type JobEventType string

const (
	JobEventProgress JobEventType = "progress"
	JobEventComplete JobEventType = "complete"
	JobEventError    JobEventType = "error"
	JobEventCanceled JobEventType = "canceled"
)
