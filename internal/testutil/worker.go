// Shared test utilities: an in-memory transcription worker that speaks the
// real wire protocol over pipes, so supervisor-backed code can be tested
// without spawning a process.

package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Shenoy37/voicenotes/internal/worker"
)

// FakeWorker fabricates worker processes. Each Launch returns a fresh
// in-memory process that prints READY and answers requests via the
// registered handlers.
type FakeWorker struct {
	mu       sync.Mutex
	handlers map[string]func(params json.RawMessage) (result string, err error)
	current  *fakeProc
}

func NewFakeWorker() *FakeWorker {
	return &FakeWorker{
		handlers: make(map[string]func(json.RawMessage) (string, error)),
	}
}

// Handle registers a responder for a method. The returned string must be a
// JSON document; a non-nil error becomes a structured worker error reply.
func (w *FakeWorker) Handle(method string, fn func(params json.RawMessage) (string, error)) {
	w.mu.Lock()
	w.handlers[method] = fn
	w.mu.Unlock()
}

// Launch satisfies worker.Launcher.
func (w *FakeWorker) Launch() (worker.Process, error) {
	p := newFakeProc()
	w.mu.Lock()
	w.current = p
	w.mu.Unlock()

	go func() {
		fmt.Fprintln(p.stderrW, "READY")
	}()
	go p.serve(w.lookup)
	return p, nil
}

// Crash kills the currently running fake process, simulating an unexpected
// worker exit.
func (w *FakeWorker) Crash() {
	w.mu.Lock()
	p := w.current
	w.mu.Unlock()
	if p != nil {
		p.exit()
	}
}

func (w *FakeWorker) lookup(method string) (func(json.RawMessage) (string, error), bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn, ok := w.handlers[method]
	return fn, ok
}

type fakeProc struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	exitOnce sync.Once
	exited   chan struct{}
}

func newFakeProc() *fakeProc {
	p := &fakeProc{exited: make(chan struct{})}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProc) Stdin() io.Writer  { return p.stdinW }
func (p *fakeProc) Stdout() io.Reader { return p.stdoutR }
func (p *fakeProc) Stderr() io.Reader { return p.stderrR }

func (p *fakeProc) Signal(sig os.Signal) error { p.exit(); return nil }
func (p *fakeProc) Kill() error                { p.exit(); return nil }

func (p *fakeProc) Wait() error {
	<-p.exited
	return nil
}

func (p *fakeProc) exit() {
	p.exitOnce.Do(func() {
		p.stdinR.Close()
		p.stdoutW.Close()
		p.stderrW.Close()
		close(p.exited)
	})
}

// serve answers requests until the process "exits".
func (p *fakeProc) serve(lookup func(string) (func(json.RawMessage) (string, error), bool)) {
	dec := json.NewDecoder(p.stdinR)
	for {
		var req struct {
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := dec.Decode(&req); err != nil {
			return
		}

		fn, ok := lookup(req.Method)
		if !ok {
			fmt.Fprintf(p.stdoutW, `{"id":%q,"error":{"message":"unknown method %s"}}`+"\n", req.ID, req.Method)
			continue
		}
		result, err := fn(req.Params)
		if err != nil {
			fmt.Fprintf(p.stdoutW, `{"id":%q,"error":{"message":%q}}`+"\n", req.ID, err.Error())
			continue
		}
		fmt.Fprintf(p.stdoutW, `{"id":%q,"result":%s}`+"\n", req.ID, result)
	}
}
