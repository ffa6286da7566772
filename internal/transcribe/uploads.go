package transcribe

import (
	"time"

	"github.com/google/uuid"

	"github.com/Shenoy37/voicenotes/internal/events"
	"github.com/Shenoy37/voicenotes/internal/models"
)

// StartUpload registers a tracker for a direct file upload.
func (s *Service) StartUpload(userID, totalBytes int64) *models.UploadProgress {
	up := &models.UploadProgress{
		UploadID:   uuid.NewString(),
		UserID:     userID,
		Status:     models.UploadInProgress,
		BytesTotal: totalBytes,
		StartedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	s.mu.Lock()
	s.uploads[up.UploadID] = up
	s.mu.Unlock()
	return up
}

// UpdateUpload records received bytes and pushes the change to the owner's
// channels. Updates after a terminal state are ignored.
func (s *Service) UpdateUpload(uploadID string, bytesReceived int64) {
	s.mu.Lock()
	up, ok := s.uploads[uploadID]
	if !ok || up.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	up.BytesReceived = bytesReceived
	if up.BytesTotal > 0 {
		up.Progress = float64(bytesReceived) / float64(up.BytesTotal) * 100
	}
	up.UpdatedAt = time.Now()
	snapshot := *up
	s.mu.Unlock()

	s.hub.PublishUser(snapshot.UserID, events.UploadProgress(&snapshot))
}

// FinishUpload moves an upload to a terminal state and pushes the final
// event. A second call for the same upload is a no-op.
func (s *Service) FinishUpload(uploadID string, status models.UploadStatus, errMsg string) {
	s.mu.Lock()
	up, ok := s.uploads[uploadID]
	if !ok || up.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	up.Status = status
	up.Error = errMsg
	if status == models.UploadCompleted {
		up.Progress = 100
	}
	up.UpdatedAt = time.Now()
	snapshot := *up
	s.mu.Unlock()

	s.hub.PublishUser(snapshot.UserID, events.UploadProgress(&snapshot))
}

// UploadStatus returns a copy of an upload tracker.
func (s *Service) UploadStatus(uploadID string) (*models.UploadProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.uploads[uploadID]
	if !ok {
		return nil, false
	}
	out := *up
	return &out, true
}
