package live

import "encoding/json"

// Client to server events.
const (
	EventCreateRoom     = "create-room"
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventProjectWrite   = "project-write"
	EventCursorMove     = "project-cursor-move"
	EventSyncFileTree   = "sync-file-tree"
	EventProjectMessage = "project-message"
	EventTerminalCreate = "terminal:create"
	EventTerminalWrite  = "terminal:write"
	EventTerminalKill   = "terminal:kill"
	EventTerminalResize = "terminal:resize"
)

// Server to client events.
const (
	EventConnected   = "connected"
	EventRoomCreated = "room-created"
	EventRoomJoined  = "room-joined"
	EventUserJoined  = "user-joined"
	EventUserLeft    = "user-left"
	EventRoomUsers   = "room-users"
	EventRequestSync = "request-sync"
	EventError       = "error"
)

// Envelope is a single websocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: payload})
}

type connectedPayload struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
	Email    string `json:"email"`
}

type createRoomPayload struct {
	ProjectID string `json:"projectId"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type userJoinedPayload struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	SocketID string `json:"socketId"`
}

type userLeftPayload struct {
	UserID string `json:"userId"`
}

// RosterEntry is one element of room-users.
type RosterEntry struct {
	ID       string `json:"_id"`
	Email    string `json:"email"`
	SocketID string `json:"socketId"`
}

type requestSyncPayload struct {
	SocketID string `json:"socketId"`
}

type syncFileTreeIn struct {
	SocketID string          `json:"socketId"`
	FileTree json.RawMessage `json:"fileTree"`
}

type syncFileTreeOut struct {
	FileTree json.RawMessage `json:"fileTree"`
}

type projectMessageIn struct {
	Message string `json:"message"`
}

type terminalWritePayload struct {
	TerminalID json.RawMessage `json:"terminalId"`
	Data       string          `json:"data"`
}

type terminalResizePayload struct {
	TerminalID json.RawMessage `json:"terminalId"`
	Cols       int             `json:"cols"`
	Rows       int             `json:"rows"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// terminalID accepts a terminal id sent either as a JSON string or a number.
func terminalID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
