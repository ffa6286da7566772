package jobs_test

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Shenoy37/voicenotes/internal/config"
	"github.com/Shenoy37/voicenotes/internal/jobs"
	"github.com/Shenoy37/voicenotes/internal/push"
	"github.com/Shenoy37/voicenotes/internal/store"
	"github.com/Shenoy37/voicenotes/internal/transcribe"
	"github.com/Shenoy37/voicenotes/internal/websocket"
	"github.com/Shenoy37/voicenotes/internal/worker"
)

type fakeJobContext struct {
	cfg    *config.Config
	ws     *websocket.Hub
	jobMgr *jobs.JobManager
}

func (f *fakeJobContext) DB() *sql.DB                      { return nil }
func (f *fakeJobContext) Config() *config.Config           { return f.cfg }
func (f *fakeJobContext) Store() *store.Store              { return nil }
func (f *fakeJobContext) WsHub() *websocket.Hub            { return f.ws }
func (f *fakeJobContext) PushHub() *push.Hub               { return nil }
func (f *fakeJobContext) Worker() *worker.Supervisor       { return nil }
func (f *fakeJobContext) Transcriber() *transcribe.Service { return nil }
func (f *fakeJobContext) JobManager() *jobs.JobManager     { return f.jobMgr }

func newFakeJobContext() *fakeJobContext {
	return &fakeJobContext{cfg: &config.Config{}, ws: websocket.NewHub()}
}

func TestManager_NewManager(t *testing.T) {
	mgr := jobs.NewManager(newFakeJobContext())
	assert.NotNil(t, mgr)
	assert.Empty(t, mgr.GetStatus())
}

func TestManager_RegisterAndGetStatus(t *testing.T) {
	mgr := jobs.NewManager(newFakeJobContext())
	mgr.Register("jobA", func(ctx jobs.JobContext) {})
	mgr.Register("jobB", func(ctx jobs.JobContext) {})
	statuses := mgr.GetStatus()
	assert.Len(t, statuses, 2)
	var foundA, foundB bool
	for _, s := range statuses {
		if s.Name == "jobA" {
			foundA = true
		}
		if s.Name == "jobB" {
			foundB = true
		}
	}
	assert.True(t, foundA && foundB)
}

func TestManager_RunJob_SuccessAndStatus(t *testing.T) {
	ctx := newFakeJobContext()
	mgr := jobs.NewManager(ctx)
	ctx.jobMgr = mgr
	var called bool
	mgr.Register("jobX", func(ctx jobs.JobContext) { called = true })
	err := mgr.RunJob("jobX", ctx)
	assert.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, called)
	statuses := mgr.GetStatus()
	assert.Equal(t, "success", statuses[0].Status)
}

func TestManager_RunJob_AlreadyRunning(t *testing.T) {
	ctx := newFakeJobContext()
	mgr := jobs.NewManager(ctx)
	ctx.jobMgr = mgr
	block := make(chan struct{})
	mgr.Register("jobY", func(ctx jobs.JobContext) { <-block })
	_ = mgr.RunJob("jobY", ctx)
	err := mgr.RunJob("jobY", ctx)
	assert.Error(t, err)
	close(block)
}

func TestManager_RunJob_NotFound(t *testing.T) {
	ctx := newFakeJobContext()
	mgr := jobs.NewManager(ctx)
	err := mgr.RunJob("nojob", ctx)
	assert.Error(t, err)
}

func TestManager_RunJob_Panic(t *testing.T) {
	ctx := newFakeJobContext()
	mgr := jobs.NewManager(ctx)
	ctx.jobMgr = mgr
	mgr.Register("panicJob", func(ctx jobs.JobContext) { panic("fail") })
	err := mgr.RunJob("panicJob", ctx)
	assert.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	statuses := mgr.GetStatus()
	assert.Equal(t, "failed", statuses[0].Status)
	assert.Contains(t, statuses[0].Message, "panicked")
}

func TestManager_StatusReadDuringPanic(t *testing.T) {
	ctx := newFakeJobContext()
	mgr := jobs.NewManager(ctx)
	ctx.jobMgr = mgr
	mgr.Register("flakyJob", func(ctx jobs.JobContext) {
		time.Sleep(5 * time.Millisecond)
		panic("fail")
	})
	err := mgr.RunJob("flakyJob", ctx)
	assert.NoError(t, err)

	// Hammer GetStatus while the job dies; the race detector flags any
	// status write outside the manager lock.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, s := range mgr.GetStatus() {
			_ = s.Status
			_ = s.Message
		}
	}
	statuses := mgr.GetStatus()
	assert.Equal(t, "failed", statuses[0].Status)
}

func TestManager_Concurrency(t *testing.T) {
	ctx := newFakeJobContext()
	mgr := jobs.NewManager(ctx)
	ctx.jobMgr = mgr
	var mu sync.Mutex
	var count int
	mgr.Register("jobC", func(ctx jobs.JobContext) {
		mu.Lock()
		count++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	})
	wg := sync.WaitGroup{}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			_ = mgr.RunJob("jobC", ctx)
			wg.Done()
		}()
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, count, "job should only run once concurrently")
	mu.Unlock()
}
