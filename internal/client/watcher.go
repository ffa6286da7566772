// Package client follows a transcription job from outside the server: it
// consumes the job's event stream, reconnects with backoff when the stream
// drops, and degrades to plain status polling when streaming keeps failing.
// The CLI uses it; it is also the reference consumer for the push API.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Shenoy37/voicenotes/internal/events"
	"github.com/Shenoy37/voicenotes/internal/models"
)

// State is the watcher's connection lifecycle.
type State int

const (
	StateConnecting State = iota
	StateStreaming
	StateReconnecting
	StatePolling
	StateDone
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StatePolling:
		return "polling"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// ErrJobNotFound is returned when the server does not know the job (or it
// belongs to someone else).
var ErrJobNotFound = errors.New("job not found")

// errConnectTimeout marks a stream attempt that produced no response at all.
// A server that silent-drops the connect phase is unlikely to recover on a
// retry, so this skips the reconnect loop entirely.
var errConnectTimeout = errors.New("connect timeout")

// Options configure a Watcher. Zero values use defaults.
type Options struct {
	BaseURL      string
	SessionToken string
	HTTPClient   *http.Client

	// ConnectTimeout bounds how long a single stream attempt may take to
	// produce response headers.
	ConnectTimeout time.Duration
	// BackoffBase is the first reconnect delay; it doubles per attempt.
	BackoffBase time.Duration
	// MaxStreamAttempts is how many failed stream connections are tolerated
	// before the watcher falls back to polling for good.
	MaxStreamAttempts int
	PollInterval      time.Duration
}

func (o *Options) applyDefaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.MaxStreamAttempts <= 0 {
		o.MaxStreamAttempts = 5
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
}

// Watcher follows one job at a time. Safe for sequential reuse, not for
// concurrent Watch calls.
type Watcher struct {
	opts Options

	mu    sync.Mutex
	state State
}

func New(opts Options) *Watcher {
	opts.applyDefaults()
	return &Watcher{opts: opts}
}

// State reports the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Watch follows jobID until it reaches a terminal state, forwarding every
// observed event to onEvent. The terminal event is returned (and forwarded)
// exactly once, regardless of how many reconnects happened on the way.
func (w *Watcher) Watch(ctx context.Context, jobID string, onEvent func(events.Event)) (events.Event, error) {
	if onEvent == nil {
		onEvent = func(events.Event) {}
	}

	attempts := 0
	for attempts < w.opts.MaxStreamAttempts {
		if ctx.Err() != nil {
			return events.Event{}, ctx.Err()
		}
		w.setState(StateConnecting)

		final, err := w.streamOnce(ctx, jobID, onEvent)
		if err == nil {
			w.setState(StateDone)
			return final, nil
		}
		if errors.Is(err, ErrJobNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return events.Event{}, err
		}
		if errors.Is(err, errConnectTimeout) {
			// No data at all within the connect window: go straight to
			// polling instead of burning the remaining attempts.
			break
		}

		attempts++
		if attempts >= w.opts.MaxStreamAttempts {
			break
		}
		w.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			return events.Event{}, ctx.Err()
		case <-time.After(w.backoff(attempts)):
		}
	}

	// Streaming is not working out; fall back to polling until the job is
	// over.
	w.setState(StatePolling)
	final, err := w.pollUntilDone(ctx, jobID, onEvent)
	if err != nil {
		return events.Event{}, err
	}
	w.setState(StateDone)
	return final, nil
}

// backoff doubles the base delay per attempt.
func (w *Watcher) backoff(attempt int) time.Duration {
	delay := w.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// streamOnce runs one stream connection to completion. It returns the
// terminal event, ErrJobNotFound, or a retryable error.
func (w *Watcher) streamOnce(ctx context.Context, jobID string, onEvent func(events.Event)) (events.Event, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", w.opts.BaseURL+"/api/jobs/"+jobID+"/events", nil)
	if err != nil {
		return events.Event{}, err
	}
	req.Header.Set("Accept", "text/event-stream")
	w.addSession(req)

	// Bound only the connection phase: a healthy stream may stay open far
	// longer than any sane request timeout.
	type result struct {
		resp *http.Response
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		resp, err := w.opts.HTTPClient.Do(req)
		resCh <- result{resp, err}
	}()

	var resp *http.Response
	select {
	case res := <-resCh:
		if res.err != nil {
			return events.Event{}, res.err
		}
		resp = res.resp
	case <-time.After(w.opts.ConnectTimeout):
		cancel()
		res := <-resCh
		if res.resp != nil {
			res.resp.Body.Close()
		}
		return events.Event{}, fmt.Errorf("%w after %s", errConnectTimeout, w.opts.ConnectTimeout)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return events.Event{}, ErrJobNotFound
	default:
		return events.Event{}, fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	w.setState(StateStreaming)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue // tolerate garbage on the stream
		}
		onEvent(ev)
		if ev.Terminal() {
			return ev, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return events.Event{}, err
	}
	return events.Event{}, errors.New("event stream ended before the job finished")
}

// pollUntilDone is the degraded mode: fetch the job snapshot on an interval
// and synthesize events from observed changes.
func (w *Watcher) pollUntilDone(ctx context.Context, jobID string, onEvent func(events.Event)) (events.Event, error) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	var lastStatus models.JobStatus
	var lastProgress float64

	for {
		snap, err := w.fetchJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) || ctx.Err() != nil {
				return events.Event{}, err
			}
			// Transient fetch failures are part of degraded life.
		} else {
			if snap.Status.Terminal() {
				final := terminalEvent(snap)
				onEvent(final)
				return final, nil
			}
			if snap.Status != lastStatus || snap.Progress != lastProgress {
				lastStatus, lastProgress = snap.Status, snap.Progress
				onEvent(events.JobProgress(snap.JobID, snap.Status, snap.Progress))
			}
		}

		select {
		case <-ctx.Done():
			return events.Event{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) fetchJob(ctx context.Context, jobID string) (*models.JobSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", w.opts.BaseURL+"/api/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	w.addSession(req)

	resp, err := w.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrJobNotFound
	default:
		return nil, fmt.Errorf("job status returned %d", resp.StatusCode)
	}

	var snap models.JobSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (w *Watcher) addSession(req *http.Request) {
	if w.opts.SessionToken != "" {
		req.AddCookie(&http.Cookie{Name: "session_token", Value: w.opts.SessionToken})
	}
}

func terminalEvent(snap *models.JobSnapshot) events.Event {
	if snap.Status == models.JobCompleted {
		return events.JobCompleted(snap.JobID, snap.Result)
	}
	message := snap.Error
	if message == "" {
		message = "transcription " + string(snap.Status)
	}
	return events.JobError(snap.JobID, snap.Status, message)
}
