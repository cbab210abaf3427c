// Package core defines the domain types and collaborator interfaces shared by the
// storyteller client components.
package core

import (
	"context"
	"time"
)

// Status is the lifecycle state of a synthesis job.
type Status string

// Job states. complete and error are terminal.
const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// IsTerminal reports whether no transition can leave the status.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// PayloadKind identifies what carries the source text of a submission.
type PayloadKind string

// Payload kinds.
const (
	PayloadFile PayloadKind = "file"
	PayloadText PayloadKind = "text"
)

// SubmissionRequest is the validated payload for one submission attempt.
// It is built fresh per attempt and never persisted.
type SubmissionRequest struct {
	Kind         PayloadKind
	FileName     string
	Content      []byte
	Voice        string
	SpeakingRate float64
	Pitch        float64
	MoodID       string
	CustomMood   string
	AudioTitle   string
	SaveText     bool
	TextTitle    string
	SourceTextID string
}

// JobHandle is what the backend returns for an accepted submission.
type JobHandle struct {
	ID          string `json:"job_id"`
	TotalChunks int    `json:"total_chunks"`
}

// StatusReport is one decoded response of the status endpoint.
type StatusReport struct {
	Status          Status `json:"status"`
	CompletedChunks int    `json:"completed_chunks"`
	TotalChunks     int    `json:"total_chunks"`
	Error           string `json:"error,omitempty"`
}

// Job is the client-side view of a server-tracked unit of work.
type Job struct {
	ID              string
	TotalChunks     int
	CompletedChunks int
	Status          Status
	StartedAt       time.Time
	ErrorMessage    string
}

// RetrievalRef locates the finished artifact of a complete job.
type RetrievalRef struct {
	JobID       string `json:"job_id"`
	StreamURL   string `json:"stream_url"`
	DownloadURL string `json:"download_url"`
}

// Phase names the kind of a Notification.
type Phase string

// Notification phases.
const (
	PhaseProgress Phase = "progress"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

// Notification is the read-only projection pushed to the presentation layer.
type Notification struct {
	Phase          Phase         `json:"phase"`
	JobID          string        `json:"job_id,omitempty"`
	Percent        float64       `json:"percent"`
	RemainingLabel string        `json:"remaining_label,omitempty"`
	Completed      int           `json:"completed"`
	Total          int           `json:"total"`
	RetrievalRef   *RetrievalRef `json:"retrieval_ref,omitempty"`
	Message        string        `json:"message,omitempty"`
}

// Sink receives notifications. Implementations must not block for long; they are
// called from the poll loop.
type Sink interface {
	Notify(n Notification)
}

// Affordance is the "submit" control of the presentation layer.
type Affordance interface {
	Busy()
	Ready()
}

// SynthesisBackend is the remote job-processing service.
type SynthesisBackend interface {
	Submit(ctx context.Context, req SubmissionRequest) (JobHandle, error)
	Status(ctx context.Context, jobID string) (StatusReport, error)
	Retrieval(jobID string) RetrievalRef
}

// SourceTextRefresher reloads the external source-text collaborator.
type SourceTextRefresher interface {
	Refresh(ctx context.Context) error
}

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
