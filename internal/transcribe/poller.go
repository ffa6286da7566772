package transcribe

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/Shenoy37/voicenotes/internal/events"
	"github.com/Shenoy37/voicenotes/internal/models"
)

// statusResponse is the worker's answer to a "status" request.
type statusResponse struct {
	Status   models.JobStatus `json:"status"`
	Progress float64          `json:"progress"`
	Result   json.RawMessage  `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// poll asks the worker for one job's state on a fixed interval until the
// job reaches a terminal state or the wall-clock budget runs out. Each poll
// is one correlated request through the multiplexer; transient request
// failures are logged and polling continues.
func (s *Service) poll(jobID string, noteID, userID int64) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.PollBudget)
	defer cancel()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Budget exhausted (or service shut down): exactly one timeout
			// event, then this poller is gone.
			s.finishJob(jobID, noteID, userID, models.JobTimeout, nil, "transcription timed out")
			return
		case <-ticker.C:
		}

		raw, err := s.worker.Call(ctx, "status", map[string]interface{}{"job_id": jobID})
		if err != nil {
			if ctx.Err() != nil {
				continue // the ctx.Done branch will report the timeout
			}
			log.Printf("Poll for job %s failed: %v", jobID, err)
			continue
		}

		var st statusResponse
		if err := json.Unmarshal(raw, &st); err != nil {
			log.Printf("Poll for job %s returned malformed status: %v", jobID, err)
			continue
		}

		if st.Status.Terminal() {
			s.finishJob(jobID, noteID, userID, st.Status, st.Result, st.Error)
			return
		}

		snap, changed := s.applyUpdate(jobID, st.Status, st.Progress, st.Result, st.Error)
		if changed {
			s.hub.PublishJob(jobID, userID, events.JobProgress(jobID, snap.Status, snap.Progress))
		}
	}
}

// finishJob records a terminal state exactly once: it updates the cached
// snapshot, mirrors the outcome onto the note and publishes the final push
// event, which also closes the job's channels.
func (s *Service) finishJob(jobID string, noteID, userID int64, status models.JobStatus, result json.RawMessage, errMsg string) {
	progress := 0.0
	if status == models.JobCompleted {
		progress = 100
	}
	snap, changed := s.applyUpdate(jobID, status, progress, result, errMsg)
	if !changed && snap.Status.Terminal() && snap.Status != status {
		// Someone else already finished this job; never re-enter a terminal
		// state with a different one.
		return
	}
	if !changed {
		return
	}

	switch status {
	case models.JobCompleted:
		transcript := extractTranscript(result)
		if err := s.store.SetNoteTranscript(noteID, transcript, string(models.JobCompleted)); err != nil {
			log.Printf("Failed to save transcript for note %d: %v", noteID, err)
		}
		s.hub.PublishJob(jobID, userID, events.JobCompleted(jobID, result))
	default:
		if err := s.store.SetNoteTranscript(noteID, "", string(status)); err != nil {
			log.Printf("Failed to record job failure on note %d: %v", noteID, err)
		}
		message := errMsg
		if message == "" {
			message = "transcription " + string(status)
		}
		s.hub.PublishJob(jobID, userID, events.JobError(jobID, status, message))
	}
}

// extractTranscript pulls the plain text out of the worker's result
// payload; the full payload still travels to the client unmodified.
func extractTranscript(result json.RawMessage) string {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return ""
	}
	return payload.Text
}
