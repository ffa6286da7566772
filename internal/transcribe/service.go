// Package transcribe drives transcription jobs end to end: it submits work
// to the external worker, polls job state, caches the last-observed
// snapshot and pushes changes out through the broadcast hub.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Shenoy37/voicenotes/internal/models"
	"github.com/Shenoy37/voicenotes/internal/push"
	"github.com/Shenoy37/voicenotes/internal/worker"
)

// NoteStore is the slice of the persistence layer this service needs: it
// only mirrors final job state onto the owning note.
type NoteStore interface {
	SetNoteTranscript(id int64, transcript, status string) error
}

// Options tune polling. Zero values use defaults.
type Options struct {
	PollInterval time.Duration
	// PollBudget is the wall-clock cap per job, independent of the
	// per-request timeout inside the worker supervisor.
	PollBudget time.Duration
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.PollBudget <= 0 {
		o.PollBudget = 5 * time.Minute
	}
}

// TranscribeRequest carries a submission to the worker.
type TranscribeRequest struct {
	NoteID    int64
	UserID    int64
	AudioPath string
	Language  string
	Summarize bool
}

// Service owns the job snapshot cache and the per-job pollers. It is shared
// process-wide state; all cache access is mutex-guarded.
type Service struct {
	worker *worker.Supervisor
	hub    *push.Hub
	store  NoteStore
	opts   Options

	ctx     context.Context
	cancel  context.CancelFunc
	pollers sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*models.JobSnapshot
	uploads map[string]*models.UploadProgress
}

// NewService creates the transcription service. Close tears down all
// pollers.
func NewService(sup *worker.Supervisor, hub *push.Hub, store NoteStore, opts Options) *Service {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		worker:  sup,
		hub:     hub,
		store:   store,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*models.JobSnapshot),
		uploads: make(map[string]*models.UploadProgress),
	}
}

// Close cancels every active poller and waits for them to finish, so no
// poller touches the store or the hub after Close returns. Jobs inside the
// worker are not affected; their state is simply no longer observed.
func (s *Service) Close() {
	s.cancel()
	s.pollers.Wait()
}

// Transcribe submits an audio file to the worker and starts polling the
// resulting job. The returned snapshot is the job's initial queued state.
func (s *Service) Transcribe(ctx context.Context, req TranscribeRequest) (*models.JobSnapshot, error) {
	params := map[string]interface{}{
		"path":      req.AudioPath,
		"language":  req.Language,
		"summarize": req.Summarize,
	}
	raw, err := s.worker.Call(ctx, "transcribe", params)
	if err != nil {
		return nil, fmt.Errorf("failed to submit transcription: %w", err)
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.JobID == "" {
		return nil, fmt.Errorf("worker returned an invalid transcribe response: %s", raw)
	}

	now := time.Now()
	snap := &models.JobSnapshot{
		JobID:     resp.JobID,
		NoteID:    req.NoteID,
		UserID:    req.UserID,
		Status:    models.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[snap.JobID] = snap
	s.mu.Unlock()

	s.pollers.Add(1)
	go func() {
		defer s.pollers.Done()
		s.poll(snap.JobID, req.NoteID, req.UserID)
	}()

	out := *snap
	return &out, nil
}

// JobStatus returns a copy of the last-observed snapshot for a job.
func (s *Service) JobStatus(jobID string) (*models.JobSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	out := *snap
	return &out, true
}

// PruneFinished drops terminal job snapshots and upload trackers older than
// the given age. Run periodically by the maintenance scheduler.
func (s *Service) PruneFinished(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, snap := range s.jobs {
		if snap.Status.Terminal() && snap.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	for id, up := range s.uploads {
		if up.Status.Terminal() && up.UpdatedAt.Before(cutoff) {
			delete(s.uploads, id)
			removed++
		}
	}
	return removed
}

// applyUpdate merges a polled worker state into the cached snapshot.
// Returns the updated copy and whether anything changed. A snapshot already
// in a terminal state is never modified again.
func (s *Service) applyUpdate(jobID string, status models.JobStatus, progress float64, result json.RawMessage, errMsg string) (models.JobSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.jobs[jobID]
	if !ok || snap.Status.Terminal() {
		if ok {
			return *snap, false
		}
		return models.JobSnapshot{}, false
	}

	changed := snap.Status != status || snap.Progress != progress
	if !changed {
		return *snap, false
	}

	snap.Status = status
	snap.Progress = progress
	snap.Result = result
	snap.Error = errMsg
	snap.UpdatedAt = time.Now()
	return *snap, true
}
