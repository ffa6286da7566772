package models

import "time"

// UploadStatus tracks a non-transcription file upload.
type UploadStatus string

const (
	UploadInProgress UploadStatus = "in_progress"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "failed"
)

// Terminal reports whether an upload status will never change again.
func (s UploadStatus) Terminal() bool {
	return s == UploadCompleted || s == UploadFailed
}

// UploadProgress follows the same lifecycle pattern as JobSnapshot but is
// tracked entirely in-process rather than mirrored from the worker.
type UploadProgress struct {
	UploadID      string       `json:"upload_id"`
	UserID        int64        `json:"user_id"`
	Status        UploadStatus `json:"status"`
	Progress      float64      `json:"progress"` // 0..100
	BytesReceived int64        `json:"bytes_received"`
	BytesTotal    int64        `json:"bytes_total"`
	Error         string       `json:"error,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
