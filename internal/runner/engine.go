// Package runner executes untrusted project code: it writes a snapshot of
// the project's files into a private directory, picks an entry file, runs
// the compile and run stages with hard timeouts and streams their output to
// the requesting room.
//
// At most one run is live per project. Starting a new run for a project
// terminates the previous one.
package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gluk-w/codelive/internal/config"
	"github.com/gluk-w/codelive/internal/filetree"
	"github.com/gluk-w/codelive/internal/logging"
	"github.com/gluk-w/codelive/internal/logutil"
	"github.com/gluk-w/codelive/internal/metrics"
)

var (
	ErrBadRequest           = errors.New("project id is required")
	ErrNoExecutableFound    = errors.New("no executable file found")
	ErrExecutionSetupFailed = errors.New("execution setup failed")
	ErrProcessSpawnFailed   = errors.New("process spawn failed")
)

// EventOutput is the channel event carrying run output.
const EventOutput = "project-output"

const (
	DefaultTimeout      = 15 * time.Second
	DefaultOutputBuffer = 256
	readBufferSize      = 32 * 1024
)

// Emitter delivers an event to a scope: a room id, or a single connection id
// for solo users.
type Emitter interface {
	EmitTo(scope, event string, payload any)
}

// Output is the payload of a project-output event.
type Output struct {
	Output     string `json:"output"`
	IsError    bool   `json:"isError"`
	IsStart    bool   `json:"isStart,omitempty"`
	ExecutedBy string `json:"executedBy"`
}

// Request describes one run.
type Request struct {
	ProjectID string
	Files     *filetree.Tree
	RunFile   string
	// Scope receives output: the room id, or the caller's connection id.
	Scope      string
	ExecutedBy string
}

// Started is returned once the first process of a run is spawned.
type Started struct {
	RunID string `json:"runId"`
	Entry string `json:"entry"`
	// Done is closed when the run has fully finished.
	Done <-chan struct{} `json:"-"`
}

type Options struct {
	TempDir      string
	Timeout      time.Duration
	OutputBuffer int
	Toolchain    config.Toolchain
	Emitter      Emitter
	Metrics      *metrics.Metrics
}

// Engine owns the table of live runs, keyed by project id.
type Engine struct {
	opts Options
	goos string
	log  *logrus.Entry

	mu   sync.Mutex
	runs map[string]*Run
}

func NewEngine(opts Options) *Engine {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.OutputBuffer < 16 {
		opts.OutputBuffer = DefaultOutputBuffer
	}
	if opts.Toolchain == nil {
		opts.Toolchain = config.Toolchain{}
	}
	return &Engine{
		opts: opts,
		goos: runtime.GOOS,
		log:  logging.NewLogger("runner"),
		runs: make(map[string]*Run),
	}
}

// Run is one execution of a project snapshot.
type Run struct {
	ID         string
	ProjectID  string
	Dir        string
	Entry      string
	Language   string
	Scope      string
	ExecutedBy string

	out  chan Output
	done chan struct{}

	mu         sync.Mutex
	proc       *Process
	terminated bool
}

// Done is closed once the run's final output has been delivered and its
// directory removed.
func (r *Run) Done() <-chan struct{} { return r.done }

// Terminate stops the current stage and prevents later stages from
// starting. Safe to call repeatedly.
func (r *Run) Terminate() {
	r.mu.Lock()
	r.terminated = true
	p := r.proc
	r.mu.Unlock()
	if p != nil {
		p.Terminate()
	}
}

func (r *Run) isTerminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

// setProc installs the current stage. A run terminated in between kills
// the new process straight away.
func (r *Run) setProc(p *Process) {
	r.mu.Lock()
	r.proc = p
	terminated := r.terminated
	r.mu.Unlock()
	if terminated {
		p.Terminate()
	}
}

func (r *Run) emit(text string, isError bool) {
	r.out <- Output{Output: text, IsError: isError, ExecutedBy: r.ExecutedBy}
}

// Active returns the live run for a project.
func (e *Engine) Active(projectID string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[projectID]
	return r, ok
}

// Count returns the number of live runs.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// Run starts executing req and returns once the first process is spawned.
// Output and the exit trailer are delivered asynchronously to req.Scope.
func (e *Engine) Run(req Request) (Started, error) {
	if req.ProjectID == "" {
		return Started{}, ErrBadRequest
	}
	if req.ExecutedBy == "" {
		req.ExecutedBy = "Unknown"
	}

	e.preempt(req.ProjectID)

	run := &Run{
		ID:         uuid.NewString(),
		ProjectID:  req.ProjectID,
		Scope:      req.Scope,
		ExecutedBy: req.ExecutedBy,
		out:        make(chan Output, e.opts.OutputBuffer),
		done:       make(chan struct{}),
	}
	run.Dir = filepath.Join(e.opts.TempDir, run.ID)

	names, err := e.materialize(run.Dir, req.Files)
	if err != nil {
		os.RemoveAll(run.Dir)
		return Started{}, fmt.Errorf("%w: %v", ErrExecutionSetupFailed, err)
	}

	entry, ok := ResolveEntry(names, req.RunFile)
	if !ok {
		os.RemoveAll(run.Dir)
		return Started{}, ErrNoExecutableFound
	}
	run.Entry = entry
	run.Language = extensionOf(entry)

	pipe := pipelineFor(entry, run.Dir, e.goos)
	first := pipe.Run
	if pipe.Compile != nil {
		first = *pipe.Compile
	}
	proc, err := e.spawn(run.Dir, first)
	if err != nil {
		os.RemoveAll(run.Dir)
		return Started{}, fmt.Errorf("%w: %w: %v", ErrExecutionSetupFailed, ErrProcessSpawnFailed, err)
	}
	run.proc = proc

	e.mu.Lock()
	if old := e.runs[req.ProjectID]; old != nil {
		// lost a race with a concurrent run for the same project
		old.Terminate()
		e.opts.Metrics.RunPreempted()
	}
	e.runs[req.ProjectID] = run
	e.mu.Unlock()

	e.opts.Metrics.RunStarted(run.Language)
	e.log.WithFields(logrus.Fields{
		"run":     run.ID,
		"project": logutil.SanitizeForLog(run.ProjectID),
		"entry":   logutil.SanitizeForLog(entry),
		"pid":     proc.Pid(),
	}).Info("run started")

	run.out <- Output{
		Output:     fmt.Sprintf("▶ Execution started by %s\n", run.ExecutedBy),
		IsStart:    true,
		ExecutedBy: run.ExecutedBy,
	}
	go e.broadcast(run)
	go e.supervise(run, pipe, proc)

	return Started{RunID: run.ID, Entry: entry, Done: run.done}, nil
}

// preempt terminates and forgets the live run of a project, if any.
func (e *Engine) preempt(projectID string) {
	e.mu.Lock()
	old := e.runs[projectID]
	delete(e.runs, projectID)
	e.mu.Unlock()

	if old != nil {
		e.log.Infof("preempting run %s for project %s", old.ID, logutil.SanitizeForLog(projectID))
		old.Terminate()
		e.opts.Metrics.RunPreempted()
	}
}

// Shutdown terminates every live run.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		r.Terminate()
	}
}

// materialize writes the snapshot into dir and returns the written names in
// snapshot order. Names that could escape dir are skipped.
func (e *Engine) materialize(dir string, files *filetree.Tree) ([]string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	var names []string
	for _, f := range files.Files() {
		if !safeName(f.Name) {
			e.log.Warnf("skipping unsafe file name %q", logutil.SanitizeForLog(f.Name))
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, f.Name), []byte(f.Contents), 0644); err != nil {
			return nil, err
		}
		names = append(names, f.Name)
	}
	return names, nil
}

func (e *Engine) spawn(dir string, st Stage) (*Process, error) {
	name := st.Tool
	if !st.Direct {
		name = e.opts.Toolchain.Binary(st.Tool)
	}
	return startProcess(dir, e.opts.Timeout, name, st.Args...)
}

// broadcast is the single consumer of a run's output channel.
func (e *Engine) broadcast(run *Run) {
	defer close(run.done)
	for o := range run.out {
		if e.opts.Emitter != nil {
			e.opts.Emitter.EmitTo(run.Scope, EventOutput, o)
		}
	}
}

// drain streams both pipes of p into the run and returns p's exit code.
func (e *Engine) drain(run *Run, p *Process) int {
	var g errgroup.Group
	g.Go(func() error { return pump(run, p.stdout, false) })
	g.Go(func() error { return pump(run, p.stderr, true) })
	if err := g.Wait(); err != nil {
		e.log.Debugf("run %s: output pump: %v", run.ID, err)
	}
	code := p.wait()
	if p.TimedOut() {
		e.log.Warnf("run %s: %s timed out after %s", run.ID, run.Entry, e.opts.Timeout)
	}
	return code
}

func pump(run *Run, r io.Reader, isError bool) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			run.emit(string(buf[:n]), isError)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// supervise drives the pipeline to completion and always emits exactly one
// exit trailer before tearing the run down.
func (e *Engine) supervise(run *Run, pipe Pipeline, first *Process) {
	result := "exited"
	defer func() { e.teardown(run, result) }()

	code := e.drain(run, first)
	if first.TimedOut() {
		result = "timeout"
	}

	if pipe.Compile == nil || code != 0 || run.isTerminated() {
		if pipe.Compile != nil && code != 0 {
			result = "compile_failed"
		}
		if run.isTerminated() && !first.TimedOut() {
			result = "terminated"
		}
		run.emit(fmt.Sprintf("\nProcess exited with code %d", code), false)
		return
	}

	run.emit("\nCompilation successful. Running...\n", false)
	proc, err := e.spawn(run.Dir, pipe.Run)
	if err != nil {
		e.log.Errorf("run %s: start %s: %v", run.ID, pipe.Run.Tool, err)
		result = "spawn_failed"
		run.emit(fmt.Sprintf("Failed to start program: %v\n", err), true)
		run.emit("\nExecution exited with code -1", false)
		return
	}
	run.setProc(proc)

	code = e.drain(run, proc)
	switch {
	case proc.TimedOut():
		result = "timeout"
	case run.isTerminated():
		result = "terminated"
	}
	run.emit(fmt.Sprintf("\nExecution exited with code %d", code), false)
}

func (e *Engine) teardown(run *Run, result string) {
	e.mu.Lock()
	if e.runs[run.ProjectID] == run {
		delete(e.runs, run.ProjectID)
	}
	e.mu.Unlock()

	if err := os.RemoveAll(run.Dir); err != nil {
		e.log.Warnf("run %s: remove %s: %v", run.ID, run.Dir, err)
	}
	close(run.out)
	e.opts.Metrics.RunFinished(run.Language, result)
	e.log.WithField("run", run.ID).WithField("result", result).Info("run finished")
}
