package worker

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a handle to a running external worker. The worker speaks
// newline-delimited JSON on stdin/stdout and writes diagnostics to stderr.
// The interface exists so the supervisor and multiplexer can be tested
// against an in-memory fake without spawning a real process.
type Process interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Stderr() io.Reader
	Signal(sig os.Signal) error
	Kill() error
	// Wait blocks until the process exits. It must be called exactly once.
	Wait() error
}

// Launcher spawns a new worker process.
type Launcher func() (Process, error)

// CommandLauncher returns a Launcher that executes the given command with
// its stdio wired up as pipes.
func CommandLauncher(command string, args ...string) Launcher {
	return func() (Process, error) {
		cmd := exec.Command(command, args...)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start worker %q: %w", command, err)
		}

		return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
	}
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) Stdin() io.Writer  { return p.stdin }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}
