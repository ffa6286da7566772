package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the worker-reported state of a transcription job.
type JobStatus string

const (
	JobQueued       JobStatus = "queued"
	JobProcessing   JobStatus = "processing"
	JobTranscribing JobStatus = "transcribing"
	JobSummarizing  JobStatus = "summarizing"
	JobCompleted    JobStatus = "completed"
	JobFailed       JobStatus = "failed"
	// JobTimeout is assigned locally when the poll budget is exhausted;
	// the worker itself never reports it.
	JobTimeout JobStatus = "timeout"
)

// Terminal reports whether a status will never change again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobTimeout
}

// JobSnapshot is the last-observed state of a worker-resident job. The job
// itself lives inside the worker process; this cache exists to serve status
// queries and to suppress duplicate progress pushes.
type JobSnapshot struct {
	JobID    string          `json:"job_id"`
	NoteID   int64           `json:"note_id"`
	UserID   int64           `json:"user_id"`
	Status   JobStatus       `json:"status"`
	Progress float64         `json:"progress"` // 0..100
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
