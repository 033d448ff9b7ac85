package model

import "time"

// Job is the durable record of a queued translation job
type Job struct {
	ID             string     `json:"id"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	CurrentStep    string     `json:"currentStep,omitempty"`
	MediaID        string     `json:"mediaId"`
	SourceLanguage string     `json:"sourceLanguage"`
	TargetLanguage string     `json:"targetLanguage"`
	Result         *string    `json:"result,omitempty"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	RetryCount     int        `json:"retryCount"`
	OwnerID        string     `json:"ownerId,omitempty"`
}

// TranslateJobPayload is the asynq task payload for a translation job
type TranslateJobPayload struct {
	JobID   string             `json:"jobId"`
	Request TranslationRequest `json:"request"`
}

// JobEvent is published on the job events channel whenever a job record changes
type JobEvent struct {
	Type        JobEventType `json:"type"`
	JobID       string       `json:"jobId"`
	Status      JobStatus    `json:"status"`
	Progress    int          `json:"progress"`
	CurrentStep string       `json:"currentStep,omitempty"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
}
