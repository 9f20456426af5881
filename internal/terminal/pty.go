package terminal

import (
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/creack/pty"
)

// PTY is a running interactive process attached to a pseudo-terminal.
type PTY interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
	// Kill forcibly terminates the process. Safe to call more than once.
	Kill() error
}

type SpawnOptions struct {
	Shell   string
	Workdir string
	Cols    uint16
	Rows    uint16
}

// Spawner starts PTY processes.
type Spawner interface {
	Spawn(opts SpawnOptions) (PTY, error)
}

// DefaultShell returns the shell started for new terminals on goos: $SHELL,
// else bash, else sh.
func DefaultShell(goos string) string {
	if goos == "windows" {
		return "powershell.exe"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	if _, err := exec.LookPath("bash"); err == nil {
		return "bash"
	}
	return "sh"
}

// PTYSpawner starts real shells with creack/pty.
type PTYSpawner struct{}

func (PTYSpawner) Spawn(opts SpawnOptions) (PTY, error) {
	shell := opts.Shell
	if shell == "" {
		shell = DefaultShell(runtime.GOOS)
	}
	cmd := exec.Command(shell)
	cmd.Dir = opts.Workdir
	cmd.Env = append(os.Environ(), "TERM=xterm-color")

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows})
	if err != nil {
		return nil, err
	}
	p := &ptyProcess{f: f, cmd: cmd, exited: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

type ptyProcess struct {
	f      *os.File
	cmd    *exec.Cmd
	exited chan struct{}

	closeOnce sync.Once
}

func (p *ptyProcess) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *ptyProcess) Write(b []byte) (int, error) { return p.f.Write(b) }

func (p *ptyProcess) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

func (p *ptyProcess) Kill() error {
	select {
	case <-p.exited:
	default:
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	}
	return p.Close()
}

func (p *ptyProcess) Close() error {
	var err error
	p.closeOnce.Do(func() { err = p.f.Close() })
	return err
}
