package live

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/gluk-w/codelive/internal/logging"
)

var (
	ErrProjectMismatch = errors.New("project mismatch")
	ErrRoomNotFound    = errors.New("room not found or inactive")
)

// userMessage is the text of the error event sent to the client.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrProjectMismatch):
		return "Project mismatch"
	case errors.Is(err, ErrRoomNotFound):
		return "Room not found or inactive"
	default:
		return "Request failed"
	}
}

// NewRoomID returns a 6-digit room id. Collisions with live rooms are not
// checked.
func NewRoomID() string {
	return strconv.Itoa(100000 + rand.IntN(900000))
}

// RoomManager implements room presence on top of a Hub.
type RoomManager struct {
	hub       *Hub
	newRoomID func() string
	log       *logrus.Entry
}

func NewRoomManager(hub *Hub) *RoomManager {
	return &RoomManager{hub: hub, newRoomID: NewRoomID, log: logging.NewLogger("rooms")}
}

// CreateRoom puts c into a fresh room for its own project.
func (rm *RoomManager) CreateRoom(c *Conn, projectID string) (string, error) {
	if projectID == "" || projectID != c.ProjectID {
		return "", ErrProjectMismatch
	}
	roomID := rm.newRoomID()
	if previous := rm.hub.Join(c, roomID); previous != "" {
		rm.announceLeave(c, previous)
	}
	rm.hub.SendTo(c.ID, EventRoomCreated, roomPayload{RoomID: roomID})
	rm.BroadcastRoster(roomID)
	rm.log.Infof("room %s created by %s", roomID, c.Identity.Email)
	return roomID, nil
}

// JoinRoom moves c into a room somebody already created.
func (rm *RoomManager) JoinRoom(c *Conn, roomID string) error {
	previous, ok := rm.hub.JoinExisting(c, roomID)
	if !ok {
		return ErrRoomNotFound
	}
	if previous == roomID {
		// roster unchanged, only confirm to the caller
		rm.hub.SendTo(c.ID, EventRoomJoined, roomPayload{RoomID: roomID})
		return nil
	}
	if previous != "" {
		rm.announceLeave(c, previous)
	}

	rm.hub.SendTo(c.ID, EventRoomJoined, roomPayload{RoomID: roomID})
	rm.hub.EmitRoom(roomID, c.ID, EventUserJoined, userJoinedPayload{
		UserID:   c.Identity.UserID,
		Email:    c.Identity.Email,
		SocketID: c.ID,
	})
	// an existing member answers with a targeted sync-file-tree
	rm.hub.EmitRoom(roomID, c.ID, EventRequestSync, requestSyncPayload{SocketID: c.ID})
	rm.BroadcastRoster(roomID)
	rm.log.Infof("%s joined room %s", c.Identity.Email, roomID)
	return nil
}

// LeaveRoom is a no-op when c is not in a room.
func (rm *RoomManager) LeaveRoom(c *Conn) {
	if room := rm.hub.Leave(c); room != "" {
		rm.announceLeave(c, room)
	}
}

// Disconnect drops c from the hub, leaving its room like an explicit leave.
func (rm *RoomManager) Disconnect(c *Conn) {
	if room := rm.hub.Unregister(c); room != "" {
		rm.announceLeave(c, room)
	}
}

func (rm *RoomManager) announceLeave(c *Conn, room string) {
	rm.hub.EmitTo(room, EventUserLeft, userLeftPayload{UserID: c.Identity.UserID})
	rm.BroadcastRoster(room)
	rm.log.Infof("%s left room %s", c.Identity.Email, room)
}

// Roster lists a room's members in join order.
func (rm *RoomManager) Roster(roomID string) []RosterEntry {
	members := rm.hub.Members(roomID)
	roster := make([]RosterEntry, 0, len(members))
	for _, m := range members {
		roster = append(roster, RosterEntry{ID: m.Identity.UserID, Email: m.Identity.Email, SocketID: m.ID})
	}
	return roster
}

func (rm *RoomManager) BroadcastRoster(roomID string) {
	rm.hub.EmitTo(roomID, EventRoomUsers, rm.Roster(roomID))
}

// RelayWrite forwards an edit to the rest of c's room. Without a room the
// edit is dropped.
func (rm *RoomManager) RelayWrite(c *Conn, data json.RawMessage) bool {
	room := rm.hub.ActiveRoom(c)
	if room == "" {
		return false
	}
	rm.hub.EmitRoom(room, c.ID, EventProjectWrite, tagged(c, data, "data"))
	return true
}

// RelayCursor forwards a cursor position tagged with the sender.
func (rm *RoomManager) RelayCursor(c *Conn, data json.RawMessage) bool {
	room := rm.hub.ActiveRoom(c)
	if room == "" {
		return false
	}
	rm.hub.EmitRoom(room, c.ID, EventCursorMove, tagged(c, data, "cursor"))
	return true
}

// tagged merges the sender's identity into an object payload. Payloads that
// are not objects are wrapped under key.
func tagged(c *Conn, data json.RawMessage, key string) map[string]any {
	out := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil || out == nil {
			out = map[string]any{key: data}
		}
	}
	out["userId"] = c.Identity.UserID
	out["email"] = c.Identity.Email
	out["socketId"] = c.ID
	return out
}

// SyncFileTree delivers a file tree to one connection.
func (rm *RoomManager) SyncFileTree(target string, fileTree json.RawMessage) bool {
	if target == "" {
		return false
	}
	return rm.hub.SendTo(target, EventSyncFileTree, syncFileTreeOut{FileTree: fileTree})
}
