package store

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when no record exists for a session ID.
var ErrSessionNotFound = errors.New("interview session not found")

// Status of an interview session record.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Record is the interview session as the external store sees it. The
// session core reads the schedule window and drives the status; everything
// else about the record belongs to the surrounding application.
type Record struct {
	ID             string    `json:"id"`
	InterviewerID  string    `json:"interviewerId"`
	IntervieweeID  string    `json:"intervieweeId"`
	ScheduledStart time.Time `json:"scheduledStart"`
	ScheduledEnd   time.Time `json:"scheduledEnd"`
	Status         Status    `json:"status"`
	// Question list snapshot seeded into the shared question artifact.
	Questions []string `json:"questions,omitempty"`
}

// Store is the boundary to the hosted backend. Status updates and snapshot
// writes are best-effort from the session's point of view: a failed write
// is logged by the caller and never kills a live session.
type Store interface {
	GetSession(ctx context.Context, id string) (*Record, error)
	UpdateSessionStatus(ctx context.Context, id string, status Status) error
	SaveArtifactSnapshot(ctx context.Context, id string, artifact string, value []byte) error
}
