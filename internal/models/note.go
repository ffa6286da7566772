package models

import "time"

// Note is a user-owned note, optionally carrying the transcript of an
// attached audio recording.
type Note struct {
	ID       int64   `json:"id"`
	UserID   int64   `json:"user_id"`
	Title    string  `json:"title"`
	Body     string  `json:"body"`
	Category *string `json:"category,omitempty"`
	Tags     []*Tag  `json:"tags,omitempty"`

	// Transcript fields are written only by the transcription pipeline,
	// mirrored from the final job state.
	Transcript       *string `json:"transcript,omitempty"`
	TranscriptStatus *string `json:"transcript_status,omitempty"` // "completed", "failed", "timeout"
	AudioPath        *string `json:"audio_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tag is a label attached to notes.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
