package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrWorkerNotRunning is returned when a request is sent while no
	// worker process is attached.
	ErrWorkerNotRunning = errors.New("worker is not running")
	// ErrWorkerExited resolves every request that was in flight when the
	// worker process died.
	ErrWorkerExited = errors.New("worker process exited")
	// ErrRequestTimeout resolves a single request that exceeded its deadline.
	ErrRequestTimeout = errors.New("worker request timed out")
)

// request is one outbound message on the worker's stdin.
type request struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// response is one inbound message on the worker's stdout. Lines that do not
// parse as this shape are treated as diagnostic noise and discarded.
type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Message string `json:"message"`
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Mux correlates concurrent requests over the worker's two serial byte
// streams. Outbound writes are serialized under a single writer lock; the
// wire protocol has no multiplexing beyond the request id echoed in each
// response, so replies may arrive in any order.
type Mux struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan callResult
	stdin   io.Writer

	writeMu sync.Mutex
}

// NewMux creates a multiplexer with the given per-request timeout.
func NewMux(timeout time.Duration) *Mux {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Mux{
		timeout: timeout,
		pending: make(map[string]chan callResult),
	}
}

// Bind attaches the worker's input stream. Called by the supervisor once a
// worker is ready.
func (m *Mux) Bind(stdin io.Writer) {
	m.mu.Lock()
	m.stdin = stdin
	m.mu.Unlock()
}

// Unbind detaches the input stream. Subsequent calls fail fast with
// ErrWorkerNotRunning.
func (m *Mux) Unbind() {
	m.mu.Lock()
	m.stdin = nil
	m.mu.Unlock()
}

// Call sends one request and blocks until the matching response arrives,
// the per-request timeout elapses, or the worker fails.
func (m *Mux) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan callResult, 1)

	m.mu.Lock()
	if m.stdin == nil {
		m.mu.Unlock()
		return nil, ErrWorkerNotRunning
	}
	stdin := m.stdin
	m.pending[id] = ch
	m.mu.Unlock()

	line, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		m.take(id)
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	// One writer at a time; the worker reads discrete newline-delimited
	// messages and interleaved writes would corrupt the stream.
	m.writeMu.Lock()
	_, werr := fmt.Fprintf(stdin, "%s\n", line)
	m.writeMu.Unlock()
	if werr != nil {
		if m.take(id) != nil {
			return nil, fmt.Errorf("failed to write request: %w", werr)
		}
		// The reader resolved the request before we noticed the write error.
		res := <-ch
		return res.result, res.err
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.result, res.err
	case <-timer.C:
		if m.take(id) != nil {
			return nil, ErrRequestTimeout
		}
		// Lost the race: a resolution is already on its way.
		res := <-ch
		return res.result, res.err
	case <-ctx.Done():
		if m.take(id) != nil {
			return nil, ctx.Err()
		}
		res := <-ch
		return res.result, res.err
	}
}

// ReadResponses consumes the worker's output stream until EOF, resolving
// pending requests as their responses arrive. Malformed lines and unknown
// ids are discarded; they never stop the loop.
func (m *Mux) ReadResponses(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.ID == "" {
			continue
		}
		ch := m.take(resp.ID)
		if ch == nil {
			// Late reply for a request that already timed out, or noise.
			continue
		}
		if resp.Error != nil {
			ch <- callResult{err: fmt.Errorf("worker error: %s", resp.Error.Message)}
		} else {
			ch <- callResult{result: resp.Result}
		}
	}
}

// FailAll resolves every pending request with the given error. Used when
// the worker process exits or is stopped. Each request is resolved exactly
// once: take removes it from the registry atomically.
func (m *Mux) FailAll(err error) {
	m.mu.Lock()
	orphans := m.pending
	m.pending = make(map[string]chan callResult)
	m.mu.Unlock()

	for _, ch := range orphans {
		ch <- callResult{err: err}
	}
}

// PendingCount returns the number of outstanding requests.
func (m *Mux) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// take removes and returns the result channel for a request id, or nil if
// the request was already resolved.
func (m *Mux) take(id string) chan callResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.pending[id]
	if !ok {
		return nil
	}
	delete(m.pending, id)
	return ch
}
