package live

import (
	"sync"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gluk-w/codelive/internal/logging"
	"github.com/gluk-w/codelive/internal/metrics"
)

// Hub tracks live connections and room membership. A room exists while it
// has at least one member; members are kept in join order.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	rooms map[string][]*Conn

	metrics *metrics.Metrics
	log     *logrus.Entry
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		conns:   make(map[string]*Conn),
		rooms:   make(map[string][]*Conn),
		metrics: m,
		log:     logging.NewLogger("live"),
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
}

// Unregister forgets c and removes it from its room. It returns the room c
// was in, or "".
func (h *Hub) Unregister(c *Conn) string {
	h.mu.Lock()
	if _, ok := h.conns[c.ID]; !ok {
		h.mu.Unlock()
		return ""
	}
	delete(h.conns, c.ID)
	room := h.leaveLocked(c)
	rooms := len(h.rooms)
	h.mu.Unlock()

	h.metrics.ConnectionClosed()
	h.metrics.SetRooms(rooms)
	return room
}

func (h *Hub) Conn(id string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// ActiveRoom returns the room c is in, or "".
func (h *Hub) ActiveRoom(c *Conn) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.room
}

// Join moves c into room, creating it if needed, and returns the room c left
// ("" when c was in no room or already in room).
func (h *Hub) Join(c *Conn, room string) (previous string) {
	previous, _ = h.join(c, room, true)
	if previous == room {
		return ""
	}
	return previous
}

// JoinExisting is Join for a room that must already have members. Unlike
// Join it returns room itself as previous when c was already a member.
func (h *Hub) JoinExisting(c *Conn, room string) (previous string, ok bool) {
	return h.join(c, room, false)
}

func (h *Hub) join(c *Conn, room string, create bool) (string, bool) {
	h.mu.Lock()
	if !create && len(h.rooms[room]) == 0 {
		h.mu.Unlock()
		return "", false
	}
	previous := c.room
	if previous != room {
		h.leaveLocked(c)
		h.rooms[room] = append(h.rooms[room], c)
		c.room = room
	}
	rooms := len(h.rooms)
	h.mu.Unlock()

	h.metrics.SetRooms(rooms)
	return previous, true
}

// Leave removes c from its room and returns it, or "" if c had none.
func (h *Hub) Leave(c *Conn) string {
	h.mu.Lock()
	room := h.leaveLocked(c)
	rooms := len(h.rooms)
	h.mu.Unlock()

	h.metrics.SetRooms(rooms)
	return room
}

func (h *Hub) leaveLocked(c *Conn) string {
	room := c.room
	if room == "" {
		return ""
	}
	c.room = ""
	members := h.rooms[room]
	for i, m := range members {
		if m == c {
			members = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(h.rooms, room)
	} else {
		h.rooms[room] = members
	}
	return room
}

// Members returns a snapshot of a room's members in join order.
func (h *Hub) Members(room string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Conn(nil), h.rooms[room]...)
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ScopeSize counts the connections a scope reaches: the members of a room,
// or one for a live solo connection.
func (h *Hub) ScopeSize(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n := len(h.rooms[scope]); n > 0 {
		return n
	}
	if _, ok := h.conns[scope]; ok {
		return 1
	}
	return 0
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// EmitTo delivers an event to every member of a room, or to a single
// connection when scope is a connection id.
func (h *Hub) EmitTo(scope, event string, payload any) {
	h.mu.RLock()
	targets := h.rooms[scope]
	if len(targets) == 0 {
		if c, ok := h.conns[scope]; ok {
			targets = []*Conn{c}
		}
	}
	targets = append([]*Conn(nil), targets...)
	h.mu.RUnlock()

	h.deliver(targets, "", event, payload)
}

// EmitRoom delivers an event to a room, skipping the connection except.
func (h *Hub) EmitRoom(room, except, event string, payload any) {
	h.deliver(h.Members(room), except, event, payload)
}

// SendTo delivers an event to one connection. It reports whether the
// connection exists.
func (h *Hub) SendTo(connID, event string, payload any) bool {
	c, ok := h.Conn(connID)
	if !ok {
		return false
	}
	h.deliver([]*Conn{c}, "", event, payload)
	return true
}

func (h *Hub) deliver(targets []*Conn, except, event string, payload any) {
	if len(targets) == 0 {
		return
	}
	frame, err := encode(event, payload)
	if err != nil {
		h.log.Errorf("encode %s: %v", event, err)
		return
	}
	for _, c := range targets {
		if c.ID == except {
			continue
		}
		if !c.enqueue(frame) {
			h.metrics.EventDropped("send_buffer_full")
		}
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
		if c.ws != nil {
			c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}
