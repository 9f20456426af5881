package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gluk-w/codelive/internal/aibridge"
	"github.com/gluk-w/codelive/internal/auth"
	"github.com/gluk-w/codelive/internal/chat"
	"github.com/gluk-w/codelive/internal/logging"
	"github.com/gluk-w/codelive/internal/logutil"
	"github.com/gluk-w/codelive/internal/metrics"
	"github.com/gluk-w/codelive/internal/terminal"
)

// ProjectStore is the storage the channel needs.
type ProjectStore interface {
	ProjectExists(ctx context.Context, projectID string) (bool, error)
	AppendMessage(ctx context.Context, projectID string, msg chat.Message) error
}

// Terminals is the terminal table, keyed by scope and terminal id.
type Terminals interface {
	Create(scope, id string) (bool, error)
	Write(scope, id, data string) error
	Resize(scope, id string, cols, rows int) error
	Kill(scope, id string) bool
	KillScope(scope string) int
}

// Assistant answers "@ai" messages.
type Assistant interface {
	Handle(ctx context.Context, projectID, scope, text string)
}

type Options struct {
	Hub       *Hub
	Rooms     *RoomManager
	Validator auth.Validator
	Store     ProjectStore
	Terminals Terminals
	Assistant Assistant
	Metrics   *metrics.Metrics

	// EventRate and EventBurst limit inbound frames per connection.
	EventRate  float64
	EventBurst int
	// Upgrades limits handshakes per client address. Nil disables it.
	Upgrades *IPLimiter
	// OriginPatterns are passed to websocket.Accept; empty allows any origin.
	OriginPatterns []string
}

// Server accepts channel connections and dispatches their events.
type Server struct {
	opts Options
	log  *logrus.Entry
}

func NewServer(opts Options) *Server {
	if opts.EventRate <= 0 {
		opts.EventRate = 100
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 200
	}
	return &Server{opts: opts, log: logging.NewLogger("live")}
}

type handshakeError struct {
	status  int
	message string
}

func (e *handshakeError) Error() string { return e.message }

// authenticate checks the project first and the token second.
func (s *Server) authenticate(r *http.Request) (auth.Identity, string, error) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		return auth.Identity{}, "", &handshakeError{http.StatusBadRequest, "Invalid projectId"}
	}
	exists, err := s.opts.Store.ProjectExists(r.Context(), projectID)
	if err != nil {
		s.log.Errorf("project lookup %s: %v", logutil.SanitizeForLog(projectID), err)
		return auth.Identity{}, "", &handshakeError{http.StatusInternalServerError, "Server error"}
	}
	if !exists {
		return auth.Identity{}, "", &handshakeError{http.StatusBadRequest, "Project not found"}
	}

	identity, err := s.opts.Validator.Validate(auth.TokenFromRequest(r))
	if err != nil {
		return auth.Identity{}, "", &handshakeError{http.StatusUnauthorized, "Authentication error"}
	}
	return identity, projectID, nil
}

// ServeHTTP upgrades GET /ws?projectId=...&token=... to a channel.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.opts.Upgrades != nil && !s.opts.Upgrades.Allow(clientIP(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	identity, projectID, err := s.authenticate(r)
	if err != nil {
		var he *handshakeError
		if errors.As(err, &he) {
			http.Error(w, he.message, he.status)
		} else {
			http.Error(w, "Server error", http.StatusInternalServerError)
		}
		return
	}

	accept := &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns}
	if len(s.opts.OriginPatterns) == 0 {
		accept.InsecureSkipVerify = true
	}
	ws, err := websocket.Accept(w, r, accept)
	if err != nil {
		s.log.Warnf("failed to accept websocket: %v", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(maxFrameSize)

	c := newConn(uuid.NewString(), identity, projectID, rate.NewLimiter(rate.Limit(s.opts.EventRate), s.opts.EventBurst))
	c.ws = ws
	s.serve(r.Context(), c)
	ws.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) serve(ctx context.Context, c *Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.opts.Hub.Register(c)
	s.log.WithFields(logrus.Fields{"conn": c.ID, "user": c.Identity.Email}).
		Infof("connected to project %s", logutil.SanitizeForLog(c.ProjectID))
	s.opts.Hub.SendTo(c.ID, EventConnected, connectedPayload{
		SocketID: c.ID,
		UserID:   c.Identity.UserID,
		Email:    c.Identity.Email,
	})

	go func() {
		c.writePump(ctx)
		cancel()
	}()
	c.readPump(ctx, func(env Envelope) { s.Dispatch(ctx, c, env) }, s.opts.Metrics.EventDropped)

	c.close()
	s.opts.Rooms.Disconnect(c)
	if s.opts.Terminals != nil {
		// solo terminals are unreachable once their connection is gone
		if n := s.opts.Terminals.KillScope(c.ID); n > 0 {
			s.log.Infof("killed %d solo terminal(s) of %s", n, c.ID)
		}
	}
	s.log.WithField("conn", c.ID).Info("disconnected")
}

// Scope is where results for c go: its room, or c itself.
func (s *Server) Scope(c *Conn) string {
	if room := s.opts.Hub.ActiveRoom(c); room != "" {
		return room
	}
	return c.ID
}

func (s *Server) sendError(c *Conn, err error) {
	s.opts.Hub.SendTo(c.ID, EventError, errorPayload{Message: userMessage(err)})
}

func (s *Server) drop(reason string) {
	s.opts.Metrics.EventDropped(reason)
}

// Dispatch handles one inbound event for c. Events of one connection are
// handled in order.
func (s *Server) Dispatch(ctx context.Context, c *Conn, env Envelope) {
	switch env.Event {
	case EventCreateRoom:
		var p createRoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.drop("malformed")
			return
		}
		if _, err := s.opts.Rooms.CreateRoom(c, p.ProjectID); err != nil {
			s.sendError(c, err)
		}

	case EventJoinRoom:
		var p roomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.drop("malformed")
			return
		}
		if err := s.opts.Rooms.JoinRoom(c, p.RoomID); err != nil {
			s.sendError(c, err)
		}

	case EventLeaveRoom:
		s.opts.Rooms.LeaveRoom(c)

	case EventProjectWrite:
		if !s.opts.Rooms.RelayWrite(c, env.Data) {
			s.drop("no_room")
		}

	case EventCursorMove:
		if !s.opts.Rooms.RelayCursor(c, env.Data) {
			s.drop("no_room")
		}

	case EventSyncFileTree:
		var p syncFileTreeIn
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.drop("malformed")
			return
		}
		if !s.opts.Rooms.SyncFileTree(p.SocketID, p.FileTree) {
			s.drop("unknown_target")
		}

	case EventProjectMessage:
		s.handleMessage(ctx, c, env.Data)

	case EventTerminalCreate, EventTerminalKill, EventTerminalWrite, EventTerminalResize:
		if s.opts.Terminals == nil {
			s.drop("terminals_disabled")
			return
		}
		s.handleTerminal(c, env)

	default:
		s.log.Debugf("unknown event %q from %s", logutil.SanitizeForLog(env.Event), c.ID)
		s.drop("unknown_event")
	}
}

func (s *Server) handleTerminal(c *Conn, env Envelope) {
	scope := s.Scope(c)
	switch env.Event {
	case EventTerminalCreate:
		id := terminalID(env.Data)
		if id == "" {
			s.drop("malformed")
			return
		}
		created, err := s.opts.Terminals.Create(scope, id)
		if err != nil {
			s.log.Errorf("terminal %s for %s: %v", logutil.SanitizeForLog(id), scope, err)
			s.opts.Hub.SendTo(c.ID, EventError, errorPayload{Message: "Failed to start terminal"})
			return
		}
		if created {
			s.log.Infof("terminal %s started for %s", logutil.SanitizeForLog(id), scope)
		}

	case EventTerminalKill:
		if id := terminalID(env.Data); id != "" {
			s.opts.Terminals.Kill(scope, id)
		}

	case EventTerminalWrite:
		var p terminalWritePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.drop("malformed")
			return
		}
		if err := s.opts.Terminals.Write(scope, terminalID(p.TerminalID), p.Data); err != nil {
			s.log.Debugf("terminal write from %s: %v", c.ID, err)
		}

	case EventTerminalResize:
		var p terminalResizePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.drop("malformed")
			return
		}
		if err := s.opts.Terminals.Resize(scope, terminalID(p.TerminalID), p.Cols, p.Rows); err != nil {
			s.log.Debugf("terminal resize from %s: %v", c.ID, err)
		}
	}
}

// handleMessage persists a chat message, relays it to the rest of the room,
// and hands "@ai" messages to the assistant. Without a room only "@ai"
// messages are kept.
func (s *Server) handleMessage(ctx context.Context, c *Conn, data json.RawMessage) {
	var p projectMessageIn
	if err := json.Unmarshal(data, &p); err != nil {
		s.drop("malformed")
		return
	}
	addressed := aibridge.HasMarker(p.Message)
	room := s.opts.Hub.ActiveRoom(c)
	if room == "" && !addressed {
		s.drop("no_room")
		return
	}

	// the stored sender is the authenticated identity; the client's sender
	// field is only relayed for display
	sender := chat.Sender{ID: c.Identity.UserID, Email: c.Identity.Email}
	msg := chat.Message{Text: p.Message, Sender: sender, CreatedAt: time.Now().UTC()}
	if err := s.opts.Store.AppendMessage(ctx, c.ProjectID, msg); err != nil {
		s.log.Errorf("save message for project %s: %v", logutil.SanitizeForLog(c.ProjectID), err)
	}

	if room != "" {
		s.opts.Hub.EmitRoom(room, c.ID, EventProjectMessage, data)
	}

	if addressed && s.opts.Assistant != nil {
		scope := room
		if scope == "" {
			scope = c.ID
		}
		// the answer still reaches the room if the asker disconnects
		go s.opts.Assistant.Handle(context.WithoutCancel(ctx), c.ProjectID, scope, p.Message)
	}
}

// Shutdown disconnects every client.
func (s *Server) Shutdown() {
	s.opts.Hub.CloseAll()
}

var _ Terminals = (*terminal.Multiplexer)(nil)
