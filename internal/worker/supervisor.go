package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"syscall"
	"time"
)

// readyLine is printed by the worker on its diagnostic stream once it has
// loaded its models and can accept requests.
const readyLine = "READY"

// ErrRestartsExhausted is returned once the restart budget is spent; the
// supervisor stays failed until an explicit ResetAttempts.
var ErrRestartsExhausted = errors.New("worker restart budget exhausted")

// State describes the supervisor's view of the worker process.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config tunes the supervisor. Zero values fall back to defaults.
type Config struct {
	ReadyTimeout   time.Duration
	RequestTimeout time.Duration
	GraceTimeout   time.Duration
	MaxRestarts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.GraceTimeout <= 0 {
		c.GraceTimeout = 5 * time.Second
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// Status is a read-only snapshot for the admin endpoint.
type Status struct {
	State           string `json:"state"`
	RestartAttempts int    `json:"restart_attempts"`
	PendingRequests int    `json:"pending_requests"`
}

// Supervisor owns the external worker process: it starts it lazily, detects
// crashes, restarts with bounded backoff and tears it down gracefully. All
// requests to the worker flow through Call, which serializes them over the
// process's stdio via the multiplexer.
type Supervisor struct {
	cfg    Config
	launch Launcher
	mux    *Mux

	mu              sync.Mutex
	state           State
	proc            Process
	procDone        chan struct{}
	stopping        bool
	restartAttempts int
	startDone       chan struct{}
	restartTimer    *time.Timer
}

// New creates a supervisor for workers spawned by the given launcher. The
// process is not started until the first call that needs it.
func New(cfg Config, launch Launcher) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:    cfg,
		launch: launch,
		mux:    NewMux(cfg.RequestTimeout),
	}
}

// Call ensures the worker is running and issues one correlated request.
func (s *Supervisor) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := s.EnsureStarted(ctx); err != nil {
		return nil, err
	}
	return s.mux.Call(ctx, method, params)
}

// EnsureStarted spawns the worker if none exists and none is starting, and
// waits for it to become ready. Concurrent callers during startup share a
// single in-flight attempt rather than spawning duplicates. A spawn failure
// is reported to the caller and not retried automatically.
func (s *Supervisor) EnsureStarted(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.state == StateRunning {
			s.mu.Unlock()
			return nil
		}
		if s.startDone != nil {
			// Another caller is already starting the worker; wait for it.
			done := s.startDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if s.state == StateFailed && s.restartAttempts >= s.cfg.MaxRestarts {
			s.mu.Unlock()
			return ErrRestartsExhausted
		}
		// Claim the start. An explicit start supersedes a scheduled restart.
		if s.restartTimer != nil {
			s.restartTimer.Stop()
			s.restartTimer = nil
		}
		done := make(chan struct{})
		s.startDone = done
		s.state = StateStarting
		s.stopping = false
		s.mu.Unlock()

		err := s.start()

		s.mu.Lock()
		s.startDone = nil
		if err != nil && s.state == StateStarting {
			s.state = StateStopped
		}
		s.mu.Unlock()
		close(done)
		return err
	}
}

// start spawns a process and waits for readiness. On success the supervisor
// is left in StateRunning with the mux attached.
func (s *Supervisor) start() error {
	proc, err := s.launch()
	if err != nil {
		return fmt.Errorf("failed to spawn worker: %w", err)
	}

	ready := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(proc.Stderr())
		for scanner.Scan() {
			line := scanner.Text()
			if strings.Contains(line, readyLine) {
				ready <- nil
				// Keep draining diagnostics so the worker never blocks on a
				// full stderr pipe.
				for scanner.Scan() {
					log.Printf("worker: %s", scanner.Text())
				}
				return
			}
			log.Printf("worker: %s", line)
		}
		ready <- errors.New("worker diagnostic stream closed before readiness")
	}()

	select {
	case err := <-ready:
		if err != nil {
			proc.Kill()
			proc.Wait()
			return fmt.Errorf("worker failed to start: %w", err)
		}
	case <-time.After(s.cfg.ReadyTimeout):
		proc.Kill()
		proc.Wait()
		return fmt.Errorf("worker not ready within %s", s.cfg.ReadyTimeout)
	}

	procDone := make(chan struct{})

	s.mu.Lock()
	if s.stopping {
		// Stop arrived while this start was waiting for readiness. Honor it:
		// tear the fresh process down instead of committing to Running.
		s.mu.Unlock()
		proc.Kill()
		proc.Wait()
		return errors.New("worker stopped during startup")
	}
	s.proc = proc
	s.procDone = procDone
	s.state = StateRunning
	s.mu.Unlock()

	s.mux.Bind(proc.Stdin())
	go s.mux.ReadResponses(proc.Stdout())
	go s.monitor(proc, procDone)

	log.Println("Transcription worker is ready.")
	return nil
}

// monitor waits for the process to exit and applies the crash policy: fail
// pending requests, then schedule a backoff restart unless the exit was
// intentional or the budget is spent.
func (s *Supervisor) monitor(proc Process, procDone chan struct{}) {
	exitErr := proc.Wait()
	defer close(procDone)

	s.mu.Lock()
	if s.proc != proc {
		s.mu.Unlock()
		return
	}
	s.proc = nil
	s.mux.Unbind()
	intentional := s.stopping

	if intentional {
		s.state = StateStopped
		s.mu.Unlock()
		s.mux.FailAll(ErrWorkerExited)
		return
	}

	s.state = StateFailed
	var delay time.Duration
	scheduled := s.restartAttempts < s.cfg.MaxRestarts
	if scheduled {
		s.restartAttempts++
		delay = s.backoffDelay(s.restartAttempts)
		s.restartTimer = time.AfterFunc(delay, func() {
			if err := s.EnsureStarted(context.Background()); err != nil {
				log.Printf("Worker restart failed: %v", err)
			}
		})
	}
	attempts := s.restartAttempts
	s.mu.Unlock()

	s.mux.FailAll(ErrWorkerExited)

	if scheduled {
		log.Printf("Worker exited unexpectedly (%v); restart %d/%d in %s", exitErr, attempts, s.cfg.MaxRestarts, delay)
	} else {
		log.Printf("Worker exited unexpectedly (%v); restart budget exhausted, staying failed", exitErr)
	}
}

// backoffDelay doubles the base delay per attempt, capped.
func (s *Supervisor) backoffDelay(attempt int) time.Duration {
	delay := s.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	if delay > s.cfg.BackoffMax {
		delay = s.cfg.BackoffMax
	}
	return delay
}

// Stop terminates the worker: cooperative signal first, then a kill after
// the grace period. Pending requests are rejected immediately.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.stopping = true
	proc := s.proc
	procDone := s.procDone
	if proc == nil {
		if s.state != StateFailed {
			s.state = StateStopped
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.mux.FailAll(ErrWorkerExited)

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		proc.Kill()
	}
	select {
	case <-procDone:
	case <-time.After(s.cfg.GraceTimeout):
		log.Printf("Worker did not exit within %s; killing", s.cfg.GraceTimeout)
		proc.Kill()
		<-procDone
	}
}

// Restart stops any running worker and starts a fresh one.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.Stop()
	return s.EnsureStarted(ctx)
}

// ResetAttempts clears the restart counter, making a failed worker eligible
// to start again on the next request.
func (s *Supervisor) ResetAttempts() {
	s.mu.Lock()
	s.restartAttempts = 0
	if s.state == StateFailed && s.proc == nil {
		s.state = StateStopped
	}
	s.mu.Unlock()
}

// Status returns a snapshot for observability.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	state := s.state
	attempts := s.restartAttempts
	s.mu.Unlock()
	return Status{
		State:           state.String(),
		RestartAttempts: attempts,
		PendingRequests: s.mux.PendingCount(),
	}
}
