// Package models defines the job record and its lifecycle.
package models

import (
	"path"
)

// Status is the lifecycle state of a job record.
type Status string

// Job status constants. Transitions form a DAG:
// pending → {processing, cancelled}; processing → {completed, failed,
// cancelled}; terminal states never transition.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal returns true for completed, failed and cancelled.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsCancellable returns true while the job can still be cancelled.
func (s Status) IsCancellable() bool {
	return s == StatusPending || s == StatusProcessing
}

// CanTransitionTo reports whether the status DAG permits moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// Step identifies the pipeline stage currently running.
type Step string

// Pipeline step constants, in execution order.
const (
	StepScript Step = "script"
	StepAudio  Step = "audio"
	StepSlides Step = "slides"
	StepVideo  Step = "video"
)

// Field limits enforced when persisting records.
const (
	MaxURLLength          = 2048
	MaxProgressMessageLen = 500
	MaxErrorMessageLen    = 2048
)

// Job is the persisted representation of one submission.
// The record store assigns ID, Created and Updated.
type Job struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Status          Status    `json:"status"`
	Progress        int       `json:"progress"`
	ProgressMessage string    `json:"progress_message"`
	CurrentStep     Step      `json:"current_step"`
	VideoPath       string    `json:"video_path"`
	VideoSize       int64     `json:"video_size"`
	ErrorMessage    string    `json:"error_message"`
	ClientIP        string    `json:"client_ip"`
	StartedAt       Timestamp `json:"started_at"`
	CompletedAt     Timestamp `json:"completed_at"`
	ExpiresAt       Timestamp `json:"expires_at"`
	Created         Timestamp `json:"created"`
	Updated         Timestamp `json:"updated"`
	// WorkerID records which worker claimed the job; used for claim
	// read-back verification across replicas.
	WorkerID string `json:"worker_id"`
}

// ArtifactDir returns the job's artifact directory relative to the data root.
func (j *Job) ArtifactDir() string {
	return path.Join("jobs", j.ID)
}

// TruncateError clamps an error summary to the persisted field limit.
func TruncateError(msg string) string {
	if len(msg) > MaxErrorMessageLen {
		return msg[:MaxErrorMessageLen]
	}
	return msg
}

// TruncateProgressMessage clamps a progress line to the persisted field limit.
func TruncateProgressMessage(msg string) string {
	if len(msg) > MaxProgressMessageLen {
		return msg[:MaxProgressMessageLen]
	}
	return msg
}
