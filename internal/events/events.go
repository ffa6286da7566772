// Package events defines the closed set of messages delivered over push
// channels. Handlers switch on Type rather than comparing ad-hoc strings.
package events

import (
	"encoding/json"
	"time"

	"github.com/Shenoy37/voicenotes/internal/models"
)

// Type classifies messages emitted on a push channel.
type Type string

const (
	TypeConnected      Type = "connected"
	TypePing           Type = "ping"
	TypeJobProgress    Type = "job_progress"
	TypeUploadProgress Type = "upload_progress"
	TypeJobCompleted   Type = "job_completed"
	TypeJobError       Type = "job_error"
)

// Event is one push-channel message. Exactly one of the payload groups is
// populated, according to Type.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	ConnectionID string `json:"connection_id,omitempty"`

	JobID    string           `json:"job_id,omitempty"`
	Status   models.JobStatus `json:"status,omitempty"`
	Progress float64          `json:"progress,omitempty"`
	Result   json.RawMessage  `json:"result,omitempty"`
	Message  string           `json:"message,omitempty"`

	UploadID string `json:"upload_id,omitempty"`
}

// Terminal reports whether this event ends the stream for its job.
func (e Event) Terminal() bool {
	return e.Type == TypeJobCompleted || e.Type == TypeJobError
}

// Connected acknowledges a fresh subscription.
func Connected(connectionID string) Event {
	return Event{Type: TypeConnected, ConnectionID: connectionID, Timestamp: time.Now().UTC()}
}

// Ping is the periodic keep-alive message.
func Ping() Event {
	return Event{Type: TypePing, Timestamp: time.Now().UTC()}
}

// JobProgress reports a status or progress change for a running job.
func JobProgress(jobID string, status models.JobStatus, progress float64) Event {
	return Event{
		Type:      TypeJobProgress,
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Timestamp: time.Now().UTC(),
	}
}

// JobCompleted carries the final result of a successful job.
func JobCompleted(jobID string, result json.RawMessage) Event {
	return Event{
		Type:      TypeJobCompleted,
		JobID:     jobID,
		Status:    models.JobCompleted,
		Progress:  100,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
}

// JobError reports a failed or timed-out job. The status distinguishes a
// worker-reported failure from a locally-imposed timeout.
func JobError(jobID string, status models.JobStatus, message string) Event {
	return Event{
		Type:      TypeJobError,
		JobID:     jobID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// UploadProgress reports byte-level progress for a direct file upload.
func UploadProgress(up *models.UploadProgress) Event {
	return Event{
		Type:      TypeUploadProgress,
		UploadID:  up.UploadID,
		Progress:  up.Progress,
		Message:   string(up.Status),
		Timestamp: time.Now().UTC(),
	}
}
