// Package watcher implements the drop-folder service: new audio files
// appearing in a watched directory are turned into notes and enqueued for
// transcription without going through the upload API.
package watcher

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Shenoy37/voicenotes/internal/jobs"
	"github.com/Shenoy37/voicenotes/internal/transcribe"
)

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".flac": true,
}

// Service watches the configured drop folder and auto-enqueues
// transcription jobs for new recordings.
type Service struct {
	ctx     jobs.JobContext
	watcher *fsnotify.Watcher

	mu            sync.Mutex
	pendingPaths  map[string]bool
	debounceTimer *time.Timer
	debounceDelay time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
}

func New(ctx jobs.JobContext) *Service {
	return &Service{
		ctx:          ctx,
		pendingPaths: make(map[string]bool),
		// Wait for writes to settle before enqueueing; recorders write
		// audio files in bursts.
		debounceDelay: 2 * time.Second,
		stopChan:      make(chan struct{}),
	}
}

// Start begins watching the drop folder. Returns without error if no drop
// folder is configured.
func (s *Service) Start() error {
	path := s.ctx.Config().DropFolder.Path
	if path == "" {
		log.Println("No drop folder configured, watcher disabled.")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	log.Printf("Drop folder watcher started: %s", path)
	go s.processEvents()
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Service) processEvents() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !audioExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			s.markPending(event.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Drop folder watcher error: %v", err)
		case <-s.stopChan:
			return
		}
	}
}

// markPending records a changed file and resets the debounce timer, so a
// file still being written is enqueued only once it goes quiet.
func (s *Service) markPending(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingPaths[path] = true
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounceDelay, s.flushPending)
}

func (s *Service) flushPending() {
	s.mu.Lock()
	paths := make([]string, 0, len(s.pendingPaths))
	for p := range s.pendingPaths {
		paths = append(paths, p)
	}
	s.pendingPaths = make(map[string]bool)
	s.mu.Unlock()

	for _, p := range paths {
		if err := s.enqueue(p); err != nil {
			log.Printf("Failed to enqueue dropped file %s: %v", p, err)
		}
	}
}

// enqueue creates a note for the dropped recording and submits it to the
// transcription worker.
func (s *Service) enqueue(path string) error {
	userID := s.ctx.Config().DropFolder.UserID
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	note, err := s.ctx.Store().CreateNote(userID, title, "", nil)
	if err != nil {
		return err
	}
	if err := s.ctx.Store().SetNoteAudioPath(note.ID, userID, path); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	snap, err := s.ctx.Transcriber().Transcribe(ctx, transcribe.TranscribeRequest{
		NoteID:    note.ID,
		UserID:    userID,
		AudioPath: path,
	})
	if err != nil {
		return err
	}
	log.Printf("Dropped file %s enqueued as note %d, job %s", filepath.Base(path), note.ID, snap.JobID)
	return nil
}
