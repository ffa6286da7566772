package jobs

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Job names exposed through the admin API.
const (
	JobSessionPrune  = "session-prune"
	JobSnapshotPrune = "snapshot-prune"
)

// RegisterMaintenanceJobs wires the recurring maintenance tasks into the
// manager so the admin API can also trigger them by hand.
func RegisterMaintenanceJobs(jm *JobManager) {
	jm.Register(JobSessionPrune, func(ctx JobContext) {
		removed, err := ctx.Store().DeleteExpiredSessions()
		if err != nil {
			log.Printf("Session prune failed: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("Pruned %d expired sessions", removed)
		}
	})
	jm.Register(JobSnapshotPrune, func(ctx JobContext) {
		removed := ctx.Transcriber().PruneFinished(24 * time.Hour)
		if removed > 0 {
			log.Printf("Pruned %d finished job snapshots", removed)
		}
	})
}

// StartJobs starts the background scheduler: periodic maintenance plus the
// admin status broadcast.
func StartJobs(app JobContext) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	scheduleManagedJob(s, app, JobSessionPrune, 6*time.Hour)
	scheduleManagedJob(s, app, JobSnapshotPrune, time.Hour)
	scheduleStatusBroadcast(s, app)

	log.Println("Starting background job scheduler...")
	s.StartAsync()
	return s
}

func scheduleManagedJob(s *gocron.Scheduler, app JobContext, name string, every time.Duration) {
	_, err := s.Every(every).Do(func() {
		if err := app.JobManager().RunJob(name, app); err != nil {
			log.Printf("Scheduled job '%s' could not start: %v", name, err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling '%s' job: %v", name, err)
	}
}

// statusBroadcast is the payload pushed to admin dashboards over the
// status websocket.
type statusBroadcast struct {
	Worker      interface{} `json:"worker"`
	Push        interface{} `json:"push"`
	Dashboards  int         `json:"dashboards"`
	GeneratedAt time.Time   `json:"generated_at"`
}

func scheduleStatusBroadcast(s *gocron.Scheduler, app JobContext) {
	_, err := s.Every(5 * time.Second).Do(func() {
		if app.WsHub().ClientCount() == 0 {
			return // nobody is watching
		}
		app.WsHub().BroadcastJSON(statusBroadcast{
			Worker:      app.Worker().Status(),
			Push:        app.PushHub().Stats(),
			Dashboards:  app.WsHub().ClientCount(),
			GeneratedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		log.Printf("Error scheduling status broadcast: %v", err)
	}
}
