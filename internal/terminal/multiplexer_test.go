package terminal

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePTY struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	input   strings.Builder
	resizes [][2]uint16
	killed  int
}

func newFakePTY() *fakePTY {
	r, w := io.Pipe()
	return &fakePTY{r: r, w: w}
}

func (f *fakePTY) Read(b []byte) (int, error) { return f.r.Read(b) }

func (f *fakePTY) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input.Write(b)
}

func (f *fakePTY) Resize(cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]uint16{cols, rows})
	return nil
}

func (f *fakePTY) Kill() error {
	f.mu.Lock()
	f.killed++
	f.mu.Unlock()
	return f.w.Close()
}

func (f *fakePTY) Close() error { return f.w.Close() }

// emit simulates process output.
func (f *fakePTY) emit(s string) { f.w.Write([]byte(s)) }

// exit simulates the shell exiting on its own.
func (f *fakePTY) exit() { f.w.CloseWithError(io.EOF) }

type fakeSpawner struct {
	mu   sync.Mutex
	ptys []*fakePTY
	opts []SpawnOptions
	fail error
}

func (s *fakeSpawner) Spawn(opts SpawnOptions) (PTY, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	p := newFakePTY()
	s.ptys = append(s.ptys, p)
	s.opts = append(s.opts, opts)
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ptys)
}

type dataEmitter struct {
	mu     sync.Mutex
	scopes []string
	events []DataEvent
	signal chan struct{}
}

func newDataEmitter() *dataEmitter {
	return &dataEmitter{signal: make(chan struct{}, 100)}
}

func (d *dataEmitter) EmitTo(scope, event string, payload any) {
	d.mu.Lock()
	d.scopes = append(d.scopes, scope)
	d.events = append(d.events, payload.(DataEvent))
	d.mu.Unlock()
	d.signal <- struct{}{}
}

func (d *dataEmitter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-d.signal:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal output emitted")
	}
}

func newTestMux() (*Multiplexer, *fakeSpawner, *dataEmitter) {
	sp := &fakeSpawner{}
	em := newDataEmitter()
	return NewMultiplexer(Options{Spawner: sp, Emitter: em, Workdir: "/tmp"}), sp, em
}

func waitGone(t *testing.T, m *Multiplexer, scope, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.get(scope, id) == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("terminal %s/%s still registered", scope, id)
}

func TestCreateIsIdempotent(t *testing.T) {
	m, sp, em := newTestMux()

	created, err := m.Create("123456", "t1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.Create("123456", "t1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, sp.count())
	assert.Equal(t, SpawnOptions{Workdir: "/tmp", Cols: 80, Rows: 30}, sp.opts[0])

	// The first session's stream is untouched.
	sp.ptys[0].emit("prompt$ ")
	em.wait(t)
	assert.Equal(t, []DataEvent{{Data: "prompt$ ", TerminalID: "t1"}}, em.events)
	assert.Equal(t, []string{"123456"}, em.scopes)
	assert.Equal(t, 0, sp.ptys[0].killed)
}

func TestSameTerminalIDInDifferentScopes(t *testing.T) {
	m, sp, _ := newTestMux()
	_, err := m.Create("room-a", "t1")
	require.NoError(t, err)
	_, err = m.Create("room-b", "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, sp.count())
	assert.Equal(t, 2, m.Count())
}

func TestCreateSpawnError(t *testing.T) {
	m, sp, _ := newTestMux()
	sp.fail = errors.New("no pty")
	_, err := m.Create("r", "t1")
	assert.Error(t, err)
	assert.Equal(t, 0, m.Count())
}

func TestWriteAndResize(t *testing.T) {
	m, sp, _ := newTestMux()
	_, err := m.Create("r", "t1")
	require.NoError(t, err)

	require.NoError(t, m.Write("r", "t1", "ls -la\r"))
	require.NoError(t, m.Resize("r", "t1", 120, 40))
	require.NoError(t, m.Resize("r", "t1", 9999, 9999))
	require.NoError(t, m.Resize("r", "t1", 0, 10))

	p := sp.ptys[0]
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, "ls -la\r", p.input.String())
	assert.Equal(t, [][2]uint16{{120, 40}, {MaxTermCols, MaxTermRows}}, p.resizes)
}

func TestOperationsOnAbsentTerminalAreNoops(t *testing.T) {
	m, _, _ := newTestMux()
	assert.NoError(t, m.Write("r", "missing", "x"))
	assert.NoError(t, m.Resize("r", "missing", 100, 30))
	assert.False(t, m.Kill("r", "missing"))
}

func TestWriteRejectsOversizedInput(t *testing.T) {
	m, sp, _ := newTestMux()
	_, err := m.Create("r", "t1")
	require.NoError(t, err)

	err = m.Write("r", "t1", strings.Repeat("x", MaxInputMessageSize+1))
	assert.ErrorIs(t, err, ErrInputTooLarge)
	assert.Equal(t, "", sp.ptys[0].input.String())
}

func TestKillRemovesImmediately(t *testing.T) {
	m, sp, _ := newTestMux()
	_, err := m.Create("r", "t1")
	require.NoError(t, err)

	assert.True(t, m.Kill("r", "t1"))
	assert.Nil(t, m.get("r", "t1"))
	assert.Equal(t, 1, sp.ptys[0].killed)

	// A new create after kill spawns a fresh process.
	created, err := m.Create("r", "t1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, sp.count())
}

func TestProcessExitRemovesSession(t *testing.T) {
	m, sp, _ := newTestMux()
	_, err := m.Create("r", "t1")
	require.NoError(t, err)

	sp.ptys[0].exit()
	waitGone(t, m, "r", "t1")
	assert.Equal(t, 0, m.Count())
}

func TestStaleRelayDoesNotRemoveReplacement(t *testing.T) {
	m, sp, _ := newTestMux()
	_, err := m.Create("r", "t1")
	require.NoError(t, err)
	first := m.get("r", "t1")

	m.Kill("r", "t1")
	_, err = m.Create("r", "t1")
	require.NoError(t, err)

	<-first.Done()
	assert.NotNil(t, m.get("r", "t1"))
	assert.Equal(t, 2, sp.count())
}

func TestListAndKillScope(t *testing.T) {
	m, _, _ := newTestMux()
	for _, id := range []string{"t1", "t2"} {
		_, err := m.Create("r", id)
		require.NoError(t, err)
	}
	_, err := m.Create("other", "t1")
	require.NoError(t, err)

	ids := []string{}
	for _, info := range m.List("r") {
		ids = append(ids, info.ID)
	}
	assert.ElementsMatch(t, []string{"t1", "t2"}, ids)
	assert.Equal(t, []string{"other", "r"}, m.Scopes())

	assert.Equal(t, 2, m.KillScope("r"))
	assert.Empty(t, m.List("r"))
	assert.Equal(t, 1, m.Count())

	m.Shutdown()
	assert.Equal(t, 0, m.Count())
}

type sizes map[string]int

func (s sizes) ScopeSize(scope string) int { return s[scope] }

func TestReapIdle(t *testing.T) {
	m, _, _ := newTestMux()
	_, err := m.Create("busy", "t1")
	require.NoError(t, err)
	_, err = m.Create("empty", "t1")
	require.NoError(t, err)
	_, err = m.Create("empty", "t2")
	require.NoError(t, err)

	assert.Equal(t, 2, m.ReapIdle(sizes{"busy": 2}))
	assert.Equal(t, []string{"busy"}, m.Scopes())
}

func TestScheduleReaper(t *testing.T) {
	m, _, _ := newTestMux()
	c := cron.New()
	require.NoError(t, m.ScheduleReaper(c, "@every 1m", sizes{}))
	assert.Len(t, c.Entries(), 1)
	assert.Error(t, m.ScheduleReaper(c, "not a schedule", sizes{}))
}

func TestDefaultShell(t *testing.T) {
	assert.Equal(t, "powershell.exe", DefaultShell("windows"))

	t.Setenv("SHELL", "/bin/zsh")
	assert.Equal(t, "/bin/zsh", DefaultShell("linux"))

	t.Setenv("SHELL", "")
	assert.Contains(t, []string{"bash", "sh"}, DefaultShell("linux"))
}

func TestRealShell(t *testing.T) {
	em := newDataEmitter()
	m := NewMultiplexer(Options{Shell: "sh", Workdir: t.TempDir(), Emitter: em})
	if _, err := m.Create("r", "t1"); err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer m.Shutdown()

	require.NoError(t, m.Write("r", "t1", "echo pty-$((40+2))\n"))
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-em.signal:
			em.mu.Lock()
			var all strings.Builder
			for _, e := range em.events {
				all.WriteString(e.Data)
			}
			em.mu.Unlock()
			if strings.Contains(all.String(), "pty-42") {
				return
			}
		case <-deadline:
			t.Fatal("no output from shell")
		}
	}
}
