package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Process is one spawned stage. Terminate is idempotent and a no-op once
// the process has exited.
type Process struct {
	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc
	stdout io.ReadCloser
	stderr io.ReadCloser

	once     sync.Once
	exitCode int
}

func startProcess(dir string, timeout time.Duration, name string, args ...string) (*Process, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd.Process)
		return nil
	}
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}
	return &Process{cmd: cmd, ctx: ctx, cancel: cancel, stdout: stdout, stderr: stderr}, nil
}

// Terminate kills the process group. Errors from already-dead processes are
// ignored.
func (p *Process) Terminate() {
	p.cancel()
}

// TimedOut reports whether the process hit its hard timeout.
func (p *Process) TimedOut() bool {
	return errors.Is(p.ctx.Err(), context.DeadlineExceeded)
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// wait reaps the process and returns its exit code (-1 when it was killed
// by a signal). Callers must have drained stdout and stderr first.
func (p *Process) wait() int {
	p.once.Do(func() {
		p.cmd.Wait()
		p.exitCode = -1
		if p.cmd.ProcessState != nil {
			p.exitCode = p.cmd.ProcessState.ExitCode()
		}
		p.cancel()
	})
	return p.exitCode
}
