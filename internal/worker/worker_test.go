package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcess is an in-memory worker: the test drives its streams directly
// instead of spawning a real process.
type fakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	exitOnce sync.Once
	exited   chan struct{}
}

func newFakeProcess() *fakeProcess {
	f := &fakeProcess{exited: make(chan struct{})}
	f.stdinR, f.stdinW = io.Pipe()
	f.stdoutR, f.stdoutW = io.Pipe()
	f.stderrR, f.stderrW = io.Pipe()
	return f
}

func (f *fakeProcess) Stdin() io.Writer  { return f.stdinW }
func (f *fakeProcess) Stdout() io.Reader { return f.stdoutR }
func (f *fakeProcess) Stderr() io.Reader { return f.stderrR }

func (f *fakeProcess) Signal(sig os.Signal) error { f.exit(); return nil }
func (f *fakeProcess) Kill() error                { f.exit(); return nil }

func (f *fakeProcess) Wait() error {
	<-f.exited
	return nil
}

// exit simulates process death: all pipes close and Wait returns.
func (f *fakeProcess) exit() {
	f.exitOnce.Do(func() {
		f.stdinR.Close()
		f.stdoutW.Close()
		f.stderrW.Close()
		close(f.exited)
	})
}

func (f *fakeProcess) printReady() {
	fmt.Fprintln(f.stderrW, "loading model...")
	fmt.Fprintln(f.stderrW, "READY")
}

// drainStdin consumes requests without ever answering them.
func (f *fakeProcess) drainStdin() {
	go io.Copy(io.Discard, f.stdinR)
}

// respond writes one structured response line on stdout.
func (f *fakeProcess) respond(id string, result string) {
	fmt.Fprintf(f.stdoutW, `{"id":%q,"result":%s}`+"\n", id, result)
}

// echoLoop answers every request using the given handler.
func (f *fakeProcess) echoLoop(handle func(method string, params json.RawMessage) string) {
	dec := json.NewDecoder(f.stdinR)
	for {
		var req struct {
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := dec.Decode(&req); err != nil {
			return
		}
		f.respond(req.ID, handle(req.Method, req.Params))
	}
}

func testConfig() Config {
	return Config{
		ReadyTimeout:   time.Second,
		RequestTimeout: time.Second,
		GraceTimeout:   100 * time.Millisecond,
		MaxRestarts:    3,
		BackoffBase:    5 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
	}
}

func TestEnsureStartedSingleSpawn(t *testing.T) {
	var launches int32
	sup := New(testConfig(), func() (Process, error) {
		atomic.AddInt32(&launches, 1)
		f := newFakeProcess()
		go f.printReady()
		return f, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sup.EnsureStarted(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&launches), "concurrent callers must share one startup")
	assert.Equal(t, "running", sup.Status().State)
	sup.Stop()
}

func TestCallRoundTrip(t *testing.T) {
	f := newFakeProcess()
	sup := New(testConfig(), func() (Process, error) { return f, nil })
	go f.printReady()
	go f.echoLoop(func(method string, params json.RawMessage) string {
		if method == "transcribe" {
			return `{"job_id":"j1"}`
		}
		return `{}`
	})

	result, err := sup.Call(context.Background(), "transcribe", map[string]string{"path": "/tmp/a.wav"})
	require.NoError(t, err)

	var payload struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(result, &payload))
	assert.Equal(t, "j1", payload.JobID)
	sup.Stop()
}

func TestOutOfOrderResponses(t *testing.T) {
	mux := NewMux(time.Second)
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	mux.Bind(stdinW)
	go mux.ReadResponses(stdoutR)

	// Capture requests in arrival order, then answer them reversed.
	ids := make(chan string, 2)
	go func() {
		dec := json.NewDecoder(stdinR)
		for i := 0; i < 2; i++ {
			var req struct {
				ID string `json:"id"`
			}
			if err := dec.Decode(&req); err != nil {
				return
			}
			ids <- req.ID
		}
		first, second := <-ids, <-ids
		fmt.Fprintf(stdoutW, `{"id":%q,"result":{"n":2}}`+"\n", second)
		fmt.Fprintf(stdoutW, `{"id":%q,"result":{"n":1}}`+"\n", first)
	}()

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := mux.Call(context.Background(), "status", nil)
			require.NoError(t, err)
			results[i] = string(res)
		}(i)
	}
	wg.Wait()

	// Each caller got a reply; correlation is by id, not order.
	assert.NotEmpty(t, results[0])
	assert.NotEmpty(t, results[1])
	assert.Equal(t, 0, mux.PendingCount())
}

func TestMalformedLinesIgnored(t *testing.T) {
	mux := NewMux(time.Second)
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	go io.Copy(io.Discard, stdinR)
	mux.Bind(stdinW)
	go mux.ReadResponses(stdoutR)

	done := make(chan struct{})
	go func() {
		res, err := mux.Call(context.Background(), "status", nil)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(res))
		close(done)
	}()

	// Wait for the request to be registered, then interleave garbage.
	require.Eventually(t, func() bool { return mux.PendingCount() == 1 }, time.Second, time.Millisecond)
	id := pendingID(mux)
	fmt.Fprintln(stdoutW, "not json at all")
	fmt.Fprintln(stdoutW, `{"id":"unknown-id","result":{}}`)
	fmt.Fprintf(stdoutW, `{"id":%q,"result":{"ok":true}}`+"\n", id)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("call did not resolve")
	}
}

// pendingID returns the id of the single outstanding request.
func pendingID(m *Mux) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.pending {
		return id
	}
	return ""
}

func TestRequestTimeoutResolvesOnce(t *testing.T) {
	mux := NewMux(20 * time.Millisecond)
	stdinR, stdinW := io.Pipe()
	go io.Copy(io.Discard, stdinR)
	mux.Bind(stdinW)

	_, err := mux.Call(context.Background(), "status", nil)
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, 0, mux.PendingCount(), "timed-out request must leave the registry")
}

func TestWorkerExitFailsAllPending(t *testing.T) {
	f := newFakeProcess()
	sup := New(testConfig(), func() (Process, error) { return f, nil })
	go f.printReady()
	f.drainStdin()
	require.NoError(t, sup.EnsureStarted(context.Background()))

	// Three calls the worker never answers.
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := sup.mux.Call(context.Background(), "status", nil)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return sup.mux.PendingCount() == 3 }, time.Second, time.Millisecond)

	f.exit() // simulate a crash

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrWorkerExited)
		case <-time.After(time.Second):
			t.Fatal("pending request was not rejected after worker exit")
		}
	}
	assert.Equal(t, 0, sup.mux.PendingCount())

	// A restart must have been scheduled with the first backoff delay.
	status := sup.Status()
	assert.Equal(t, 1, status.RestartAttempts)
	sup.Stop()
}

func TestRestartBudgetExhaustion(t *testing.T) {
	cfg := testConfig()
	var launches int32
	sup := New(cfg, func() (Process, error) {
		atomic.AddInt32(&launches, 1)
		f := newFakeProcess()
		go func() {
			f.printReady()
			// Crash shortly after becoming ready.
			time.Sleep(2 * time.Millisecond)
			f.exit()
		}()
		return f, nil
	})

	require.NoError(t, sup.EnsureStarted(context.Background()))

	// Let the crash/restart cycle burn through the budget.
	require.Eventually(t, func() bool {
		return sup.Status().RestartAttempts >= cfg.MaxRestarts && sup.Status().State == "failed"
	}, 2*time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, sup.Status().RestartAttempts, cfg.MaxRestarts)

	// Give any straggling timer a chance to fire, then confirm failure is sticky.
	time.Sleep(50 * time.Millisecond)
	err := sup.EnsureStarted(context.Background())
	assert.ErrorIs(t, err, ErrRestartsExhausted)

	// An explicit reset makes the worker startable again.
	sup.ResetAttempts()
	assert.Equal(t, 0, sup.Status().RestartAttempts)
	assert.NoError(t, sup.EnsureStarted(context.Background()))
	sup.Stop()
}

func TestBackoffDelayNonDecreasing(t *testing.T) {
	sup := New(Config{BackoffBase: time.Second, BackoffMax: 10 * time.Second}, nil)
	var prev time.Duration
	for attempt := 1; attempt <= 8; attempt++ {
		d := sup.backoffDelay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must never shrink between attempts")
		assert.LessOrEqual(t, d, 10*time.Second)
		prev = d
	}
}

func TestSpawnFailureNotRetried(t *testing.T) {
	var launches int32
	sup := New(testConfig(), func() (Process, error) {
		atomic.AddInt32(&launches, 1)
		return nil, fmt.Errorf("binary not found")
	})

	err := sup.EnsureStarted(context.Background())
	require.Error(t, err)
	assert.Equal(t, "stopped", sup.Status().State)

	// No background retry may happen.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&launches))
}

func TestReadinessTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ReadyTimeout = 30 * time.Millisecond
	sup := New(cfg, func() (Process, error) {
		// Never prints READY.
		return newFakeProcess(), nil
	})

	err := sup.EnsureStarted(context.Background())
	require.Error(t, err)
	assert.Equal(t, "stopped", sup.Status().State)
}

func TestStopDuringStartup(t *testing.T) {
	release := make(chan struct{})
	sup := New(testConfig(), func() (Process, error) {
		f := newFakeProcess()
		go func() {
			<-release
			f.printReady()
		}()
		return f, nil
	})

	started := make(chan error, 1)
	go func() { started <- sup.EnsureStarted(context.Background()) }()
	require.Eventually(t, func() bool { return sup.Status().State == "starting" }, time.Second, time.Millisecond)

	// Stop while the start attempt is still waiting for readiness.
	sup.Stop()
	close(release)

	select {
	case err := <-started:
		assert.Error(t, err, "a stopped startup must not report success")
	case <-time.After(time.Second):
		t.Fatal("startup did not resolve")
	}
	assert.Equal(t, "stopped", sup.Status().State)

	// The stop wins: no worker may be left running behind it.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "stopped", sup.Status().State)
}

func TestStopRejectsPendingAndStops(t *testing.T) {
	f := newFakeProcess()
	sup := New(testConfig(), func() (Process, error) { return f, nil })
	go f.printReady()
	f.drainStdin()
	require.NoError(t, sup.EnsureStarted(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := sup.mux.Call(context.Background(), "status", nil)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return sup.mux.PendingCount() == 1 }, time.Second, time.Millisecond)

	sup.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrWorkerExited)
	case <-time.After(time.Second):
		t.Fatal("pending request not rejected on stop")
	}
	assert.Equal(t, "stopped", sup.Status().State)

	// An intentional stop never schedules a restart.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "stopped", sup.Status().State)
	assert.Equal(t, 0, sup.Status().RestartAttempts)
}
