// Package core assembles the shared application components: configuration,
// database, stores, the transcription worker bridge and the push machinery.
package core

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/Shenoy37/voicenotes/internal/config"
	"github.com/Shenoy37/voicenotes/internal/db"
	"github.com/Shenoy37/voicenotes/internal/jobs"
	"github.com/Shenoy37/voicenotes/internal/push"
	"github.com/Shenoy37/voicenotes/internal/store"
	"github.com/Shenoy37/voicenotes/internal/transcribe"
	"github.com/Shenoy37/voicenotes/internal/websocket"
	"github.com/Shenoy37/voicenotes/internal/worker"
)

// App holds the core components shared between the server and the CLI.
type App struct {
	config      *config.Config
	db          *sql.DB
	store       *store.Store
	pushHub     *push.Hub
	wsHub       *websocket.Hub
	worker      *worker.Supervisor
	transcriber *transcribe.Service
	jobManager  *jobs.JobManager
	version     string
}

// New sets up a new App: it loads configuration, opens the database, runs
// migrations and wires the worker supervisor and push hub. The worker
// process itself is not started until the first transcription request.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds the App around an already-loaded configuration,
// spawning the worker command the configuration names.
func NewWithConfig(cfg *config.Config) (*App, error) {
	return NewWithLauncher(cfg, worker.CommandLauncher(cfg.Worker.Command, cfg.Worker.Args...))
}

// NewWithLauncher builds the App with an explicit worker launcher. Tests
// use this to stand in a scripted fake for the transcription worker.
func NewWithLauncher(cfg *config.Config, launch worker.Launcher) (*App, error) {
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	st := store.New(database)

	pushHub := push.NewHub(push.Options{
		PingInterval:  time.Duration(cfg.Push.PingIntervalSec) * time.Second,
		SweepInterval: time.Duration(cfg.Push.SweepIntervalSec) * time.Second,
		StaleAfter:    time.Duration(cfg.Push.StaleAfterSec) * time.Second,
	})
	go pushHub.Run()

	wsHub := websocket.NewHub()
	go wsHub.Run()

	sup := worker.New(worker.Config{
		ReadyTimeout:   time.Duration(cfg.Worker.ReadyTimeoutSec) * time.Second,
		RequestTimeout: time.Duration(cfg.Worker.RequestTimeoutSec) * time.Second,
		GraceTimeout:   time.Duration(cfg.Worker.GraceTimeoutSec) * time.Second,
		MaxRestarts:    cfg.Worker.MaxRestarts,
		BackoffBase:    time.Duration(cfg.Worker.BackoffBaseMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Worker.BackoffMaxMs) * time.Millisecond,
	}, launch)

	transcriber := transcribe.NewService(sup, pushHub, st, transcribe.Options{
		PollInterval: time.Duration(cfg.Transcribe.PollIntervalSec) * time.Second,
		PollBudget:   time.Duration(cfg.Transcribe.PollBudgetSec) * time.Second,
	})

	app := &App{
		config:      cfg,
		db:          database,
		store:       st,
		pushHub:     pushHub,
		wsHub:       wsHub,
		worker:      sup,
		transcriber: transcriber,
		version:     "dev",
	}
	app.jobManager = jobs.NewManager(app)
	jobs.RegisterMaintenanceJobs(app.jobManager)

	log.Println("Core application setup complete.")
	return app, nil
}

// Close tears down the worker, the push hub and the database connection.
// The transcriber goes first and waits for its pollers, so nothing touches
// the hub or the database once they shut down.
func (a *App) Close() {
	if a.transcriber != nil {
		a.transcriber.Close()
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.pushHub != nil {
		a.pushHub.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) DB() *sql.DB                      { return a.db }
func (a *App) Config() *config.Config           { return a.config }
func (a *App) Store() *store.Store              { return a.store }
func (a *App) PushHub() *push.Hub               { return a.pushHub }
func (a *App) WsHub() *websocket.Hub            { return a.wsHub }
func (a *App) Worker() *worker.Supervisor       { return a.worker }
func (a *App) Transcriber() *transcribe.Service { return a.transcriber }
func (a *App) JobManager() *jobs.JobManager     { return a.jobManager }
func (a *App) Version() string                  { return a.version }

// SetVersion records the build version reported by /api/version.
func (a *App) SetVersion(v string) { a.version = v }
