package jobs

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Shenoy37/voicenotes/internal/config"
	"github.com/Shenoy37/voicenotes/internal/push"
	"github.com/Shenoy37/voicenotes/internal/store"
	"github.com/Shenoy37/voicenotes/internal/transcribe"
	"github.com/Shenoy37/voicenotes/internal/websocket"
	"github.com/Shenoy37/voicenotes/internal/worker"
)

// JobContext provides the dependencies a maintenance job needs to run.
// The core.App struct implements this interface.
type JobContext interface {
	DB() *sql.DB
	Config() *config.Config
	Store() *store.Store
	WsHub() *websocket.Hub
	PushHub() *push.Hub
	Worker() *worker.Supervisor
	Transcriber() *transcribe.Service
	JobManager() *JobManager
}

type jobTask func(ctx JobContext)

type JobStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// JobManager runs registered maintenance tasks one at a time and keeps
// their last-run status for the admin API.
type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]jobTask
	status  map[string]*JobStatus
	running bool
	appCtx  JobContext
}

func NewManager(appCtx JobContext) *JobManager {
	return &JobManager{
		jobs:   make(map[string]jobTask),
		status: make(map[string]*JobStatus),
		appCtx: appCtx,
	}
}

func (jm *JobManager) Register(name string, task jobTask) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[name] = task
	jm.status[name] = &JobStatus{Name: name, Status: "idle"}
}

// RunJob starts a registered job in the background. Only one job runs at
// a time; a second request while one is running is rejected.
func (jm *JobManager) RunJob(name string, ctx JobContext) error {
	jm.mu.Lock()
	if jm.running {
		jm.mu.Unlock()
		return fmt.Errorf("a job is already running")
	}

	task, ok := jm.jobs[name]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("job '%s' not found", name)
	}

	jm.running = true
	status := jm.status[name]
	status.Status = "running"
	status.StartTime = time.Now()
	status.Message = "Job started..."
	jm.mu.Unlock()

	log.Printf("Starting job: %s", name)
	go func() {
		defer func() {
			r := recover()
			if r != nil {
				log.Printf("Job '%s' panicked: %v", name, r)
			}

			jm.mu.Lock()
			if r != nil {
				status.Status = "failed"
				status.Message = fmt.Sprintf("Job panicked: %v", r)
			}
			status.EndTime = time.Now()
			if status.Status == "running" { // If not already set to "failed"
				status.Status = "success"
				status.Message = "Job completed successfully."
			}
			jm.running = false
			jm.mu.Unlock()
			log.Printf("Finished job: %s", name)
		}()

		task(ctx)
	}()
	return nil
}

func (jm *JobManager) GetStatus() []*JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	// Copies, so callers never read a status the runner is still writing.
	var statuses []*JobStatus
	for _, s := range jm.status {
		c := *s
		statuses = append(statuses, &c)
	}
	return statuses
}
