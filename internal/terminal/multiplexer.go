package terminal

import (
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gluk-w/codelive/internal/logging"
	"github.com/gluk-w/codelive/internal/logutil"
	"github.com/gluk-w/codelive/internal/metrics"
)

const (
	// EventData carries terminal output to the owning scope.
	EventData = "terminal:data"

	DefaultCols uint16 = 80
	DefaultRows uint16 = 30

	// MaxInputMessageSize is the largest single write forwarded to a PTY.
	MaxInputMessageSize = 64 * 1024
	// MaxTermCols and MaxTermRows bound resize requests.
	MaxTermCols = 500
	MaxTermRows = 200

	readBufferSize = 32 * 1024
)

var ErrInputTooLarge = errors.New("terminal input exceeds maximum size")

// Emitter delivers an event to a scope (room id or connection id).
type Emitter interface {
	EmitTo(scope, event string, payload any)
}

// DataEvent is the payload of terminal:data.
type DataEvent struct {
	Data       string `json:"data"`
	TerminalID string `json:"terminalId"`
}

type Options struct {
	Shell   string
	Workdir string
	Spawner Spawner
	Emitter Emitter
	Metrics *metrics.Metrics
}

type key struct {
	scope string
	id    string
}

// Session is one running terminal.
type Session struct {
	Scope     string
	ID        string
	CreatedAt time.Time

	pty       PTY
	closeOnce sync.Once
	done      chan struct{}
}

// Done is closed when the session's output relay has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) close() {
	s.closeOnce.Do(func() { s.pty.Kill() })
}

// Info describes a session for listings.
type Info struct {
	ID        string    `json:"terminalId"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"createdAt"`
}

// Multiplexer owns every terminal session in the process, keyed by
// (scope, terminal id). A scope is a room id, or a connection id for a
// user who is not in a room.
type Multiplexer struct {
	opts Options
	log  *logrus.Entry

	mu       sync.RWMutex
	sessions map[key]*Session
}

func NewMultiplexer(opts Options) *Multiplexer {
	if opts.Spawner == nil {
		opts.Spawner = PTYSpawner{}
	}
	if opts.Workdir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.Workdir = home
		}
	}
	return &Multiplexer{
		opts:     opts,
		log:      logging.NewLogger("terminal"),
		sessions: make(map[key]*Session),
	}
}

// Create starts a terminal unless one is already running under the same
// key. It reports whether a new session was spawned.
func (m *Multiplexer) Create(scope, id string) (bool, error) {
	k := key{scope, id}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[k]; ok {
		return false, nil
	}

	p, err := m.opts.Spawner.Spawn(SpawnOptions{
		Shell:   m.opts.Shell,
		Workdir: m.opts.Workdir,
		Cols:    DefaultCols,
		Rows:    DefaultRows,
	})
	if err != nil {
		return false, err
	}

	s := &Session{Scope: scope, ID: id, CreatedAt: time.Now(), pty: p, done: make(chan struct{})}
	m.sessions[k] = s
	m.opts.Metrics.SetTerminals(len(m.sessions))
	m.log.Infof("created terminal %s in scope %s", logutil.SanitizeForLog(id), logutil.SanitizeForLog(scope))

	go m.relay(s)
	return true, nil
}

// relay forwards PTY output until the process ends, then drops the session.
func (m *Multiplexer) relay(s *Session) {
	defer close(s.done)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 && m.opts.Emitter != nil {
			m.opts.Emitter.EmitTo(s.Scope, EventData, DataEvent{Data: string(buf[:n]), TerminalID: s.ID})
		}
		if err != nil {
			break
		}
	}
	s.close()
	if m.remove(s) {
		m.log.Infof("terminal %s in scope %s exited", logutil.SanitizeForLog(s.ID), logutil.SanitizeForLog(s.Scope))
	}
}

// remove deletes s from the table if it is still the registered session.
func (m *Multiplexer) remove(s *Session) bool {
	k := key{s.Scope, s.ID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[k] != s {
		return false
	}
	delete(m.sessions, k)
	m.opts.Metrics.SetTerminals(len(m.sessions))
	return true
}

func (m *Multiplexer) get(scope, id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[key{scope, id}]
}

// Write forwards input verbatim. Unknown terminals are ignored.
func (m *Multiplexer) Write(scope, id, data string) error {
	if len(data) > MaxInputMessageSize {
		return ErrInputTooLarge
	}
	s := m.get(scope, id)
	if s == nil {
		return nil
	}
	_, err := s.pty.Write([]byte(data))
	return err
}

// Resize changes the window size, clamped to MaxTermCols x MaxTermRows.
// Unknown terminals and non-positive sizes are ignored.
func (m *Multiplexer) Resize(scope, id string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	s := m.get(scope, id)
	if s == nil {
		return nil
	}
	cols = min(cols, MaxTermCols)
	rows = min(rows, MaxTermRows)
	return s.pty.Resize(uint16(cols), uint16(rows))
}

// Kill terminates a terminal and removes it immediately.
func (m *Multiplexer) Kill(scope, id string) bool {
	k := key{scope, id}
	m.mu.Lock()
	s, ok := m.sessions[k]
	if ok {
		delete(m.sessions, k)
		m.opts.Metrics.SetTerminals(len(m.sessions))
	}
	m.mu.Unlock()

	if ok {
		s.close()
		m.log.Infof("killed terminal %s in scope %s", logutil.SanitizeForLog(id), logutil.SanitizeForLog(scope))
	}
	return ok
}

// KillScope terminates every terminal in a scope and returns how many.
func (m *Multiplexer) KillScope(scope string) int {
	m.mu.Lock()
	var victims []*Session
	for k, s := range m.sessions {
		if k.scope == scope {
			victims = append(victims, s)
			delete(m.sessions, k)
		}
	}
	m.opts.Metrics.SetTerminals(len(m.sessions))
	m.mu.Unlock()

	for _, s := range victims {
		s.close()
	}
	return len(victims)
}

// List returns the sessions of a scope ordered by creation time.
func (m *Multiplexer) List(scope string) []Info {
	m.mu.RLock()
	var out []Info
	for k, s := range m.sessions {
		if k.scope == scope {
			out = append(out, Info{ID: s.ID, Scope: s.Scope, CreatedAt: s.CreatedAt})
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Scopes returns every scope that owns at least one session.
func (m *Multiplexer) Scopes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for k := range m.sessions {
		if !seen[k.scope] {
			seen[k.scope] = true
			out = append(out, k.scope)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Multiplexer) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown kills every session.
func (m *Multiplexer) Shutdown() {
	for _, scope := range m.Scopes() {
		m.KillScope(scope)
	}
}
