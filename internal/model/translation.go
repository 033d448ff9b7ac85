package model

import "time"

// MediaSource is an ingested video and the playable reference derived from it
type MediaSource struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"createdAt"`
}

// LanguageEntry is one selectable language
type LanguageEntry struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// TranslationRequest is the immutable input of a translation job
type TranslationRequest struct {
	Media          MediaSource `json:"media"`
	SourceLanguage string      `json:"sourceLanguage"`
	TargetLanguage string      `json:"targetLanguage"`
	OwnerID        string      `json:"ownerId,omitempty"`
}

// TranslateRequest represents the request body of POST /api/sessions/:sessionId/translate
type TranslateRequest struct {
	SourceLanguage string `json:"sourceLanguage" validate:"omitempty,language"`
	TargetLanguage string `json:"targetLanguage" validate:"omitempty,language"`
}

// PhaseView is one display phase with its rendering state
type PhaseView struct {
	Name      string `json:"name"`
	Threshold int    `json:"threshold"`
	State     string `json:"state"`
}

// SessionCreateResponse represents the response when creating a session
type SessionCreateResponse struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionStateResponse is the observable translation state of a session
type SessionStateResponse struct {
	SessionID       string       `json:"sessionId"`
	CanSubmit       bool         `json:"canSubmit"`
	IsRunning       bool         `json:"isRunning"`
	Status          JobStatus    `json:"status"`
	JobID           string       `json:"jobId,omitempty"`
	Progress        int          `json:"progress"`
	ActivePhase     int          `json:"activePhase"`
	Phases          []PhaseView  `json:"phases"`
	SourceLanguage  string       `json:"sourceLanguage"`
	TargetLanguage  string       `json:"targetLanguage"`
	Media           *MediaSource `json:"media"`
	ResultReference *string      `json:"resultReference"`
	Error           *string      `json:"error"`
}

// CancelResponse represents the response when canceling a translation
type CancelResponse struct {
	Success   bool      `json:"success"`
	SessionID string    `json:"sessionId"`
	Status    JobStatus `json:"status"`
}

// LanguagesResponse represents the response of GET /api/languages
type LanguagesResponse struct {
	Languages             []LanguageEntry `json:"languages"`
	DefaultSourceLanguage string          `json:"defaultSourceLanguage"`
	DefaultTargetLanguage string          `json:"defaultTargetLanguage"`
	AcceptedExtensions    []string        `json:"acceptedExtensions"`
	MaxUploadSize         int64           `json:"maxUploadSize"`
}
