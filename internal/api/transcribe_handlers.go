package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Shenoy37/voicenotes/internal/events"
	"github.com/Shenoy37/voicenotes/internal/models"
	"github.com/Shenoy37/voicenotes/internal/store"
	"github.com/Shenoy37/voicenotes/internal/transcribe"
	"github.com/Shenoy37/voicenotes/internal/util"
)

const maxUploadSize = 512 << 20 // 512 MiB

// handleTranscribeNote accepts an audio recording for a note and submits
// it to the transcription worker. Responds 202 with the initial job
// snapshot; progress is delivered over the job's event stream.
func (s *Server) handleTranscribeNote(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	noteID, _ := strconv.ParseInt(chi.URLParam(r, "noteID"), 10, 64)

	note, err := s.store.GetNote(noteID, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "Note not found")
			return
		}
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve note")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("audio")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Missing 'audio' file in form data")
		return
	}
	defer file.Close()

	audioPath, err := s.saveRecording(user.ID, note.ID, header.Filename, header.Size, file)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to store recording")
		return
	}
	if err := s.store.SetNoteAudioPath(note.ID, user.ID, audioPath); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to attach recording to note")
		return
	}

	req := transcribe.TranscribeRequest{
		NoteID:    note.ID,
		UserID:    user.ID,
		AudioPath: audioPath,
		Language:  r.FormValue("language"),
		Summarize: r.FormValue("summarize") == "true",
	}
	snap, err := s.app.Transcriber().Transcribe(r.Context(), req)
	if err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, fmt.Sprintf("Transcription worker unavailable: %v", err))
		return
	}

	RespondWithJSON(w, http.StatusAccepted, snap)
}

// saveRecording copies the uploaded audio into the recordings directory,
// reporting byte progress to the owner's push channels as it goes.
func (s *Server) saveRecording(userID, noteID int64, filename string, size int64, src io.Reader) (string, error) {
	dir := s.app.Config().Storage.Path
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	safeName := util.SanitizeFilename(filename)
	if safeName == "" {
		safeName = "recording"
	}
	dest := filepath.Join(dir, fmt.Sprintf("note-%d-%s", noteID, safeName))

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	tracker := s.app.Transcriber().StartUpload(userID, size)
	written, err := io.Copy(out, &progressReader{
		r: src,
		report: func(n int64) {
			s.app.Transcriber().UpdateUpload(tracker.UploadID, n)
		},
	})
	if err != nil {
		os.Remove(dest)
		s.app.Transcriber().FinishUpload(tracker.UploadID, models.UploadFailed, err.Error())
		return "", err
	}
	s.app.Transcriber().UpdateUpload(tracker.UploadID, written)
	s.app.Transcriber().FinishUpload(tracker.UploadID, models.UploadCompleted, "")
	return dest, nil
}

// progressReader reports the running byte count every chunk boundary.
type progressReader struct {
	r      io.Reader
	total  int64
	report func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.total += int64(n)
		p.report(p.total)
	}
	return n, err
}

// handleGetJob serves the cached snapshot of a transcription job. This is
// the polling fallback for clients without a live event stream.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	jobID := chi.URLParam(r, "jobID")

	snap, ok := s.app.Transcriber().JobStatus(jobID)
	if !ok || snap.UserID != user.ID {
		RespondWithError(w, http.StatusNotFound, "Job not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, snap)
}

// handleJobEvents streams a job's push events as server-sent events until
// the job finishes or the client goes away.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	jobID := chi.URLParam(r, "jobID")

	snap, ok := s.app.Transcriber().JobStatus(jobID)
	if !ok || snap.UserID != user.ID {
		RespondWithError(w, http.StatusNotFound, "Job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondWithError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// A reconnecting client may arrive after the job already finished; give
	// it the terminal event straight away instead of a stream that never
	// produces one.
	if snap.Status.Terminal() {
		writeSSE(w, terminalEventFor(snap))
		flusher.Flush()
		return
	}

	// Push the headers out so the client sees the stream open before the
	// first event arrives.
	flusher.Flush()

	connID := uuid.NewString()
	ch := s.app.PushHub().Subscribe(connID, user.ID, jobID)
	defer s.app.PushHub().Unsubscribe(connID)

	// The job may have finished between the snapshot check above and the
	// subscription; that terminal publish closed the job's channels before
	// this one existed and will never arrive on it. Re-check now that the
	// channel is registered: the poller commits the terminal snapshot before
	// publishing, so either the snapshot is terminal here or the event is
	// still coming.
	if cur, ok := s.app.Transcriber().JobStatus(jobID); ok && cur.Status.Terminal() {
		writeSSE(w, terminalEventFor(cur))
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch.Events():
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

// handleUserEvents streams user-wide push events (upload progress plus all
// of the user's job events) as server-sent events.
func (s *Server) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondWithError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	connID := uuid.NewString()
	ch := s.app.PushHub().Subscribe(connID, user.ID, "")
	defer s.app.PushHub().Unsubscribe(connID)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch.Events():
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// terminalEventFor reconstructs the final push event from a terminal
// snapshot.
func terminalEventFor(snap *models.JobSnapshot) events.Event {
	if snap.Status == models.JobCompleted {
		return events.JobCompleted(snap.JobID, snap.Result)
	}
	message := snap.Error
	if message == "" {
		message = "transcription " + string(snap.Status)
	}
	return events.JobError(snap.JobID, snap.Status, message)
}
