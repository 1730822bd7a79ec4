// Package jobs persists the dubbing job collection. Jobs live in a single
// JSON file guarded by a process mutex and an advisory file lock; every
// mutation is a whole-collection read-modify-write, which is plenty at the
// job counts this tool sees.
package jobs

import (
	"time"
)

// Status is the lifecycle state of a job. Transitions are monotonic: a job
// never moves back toward pending and completed is final. A failed job may
// re-enter processing, which is how a resumed job recovers.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one dubbing request.
type Job struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	InputPath   string    `json:"input_path"`
	Workdir     string    `json:"workdir"`
	Status      Status    `json:"status"`
	CurrentStep string    `json:"current_step,omitempty"`
	Error       string    `json:"error,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
