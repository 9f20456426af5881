// E2E smoke test: two clients share a room on a running codelive server.
// Usage: go run ./cmd/e2etest -url ws://localhost:8000/ws -project <id> -token <jwt> [-token2 <jwt>]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

var (
	serverURL = flag.String("url", "ws://localhost:8000/ws", "live channel URL")
	projectID = flag.String("project", "", "existing project id")
	token     = flag.String("token", "", "bearer token for the host")
	token2    = flag.String("token2", "", "bearer token for the guest (defaults to -token)")
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	if *projectID == "" {
		log.Fatal("-project is required")
	}
	if *token2 == "" {
		*token2 = *token
	}

	log.Println(">> Connecting host...")
	host, hostID := connect(*token)
	defer host.Close()
	log.Printf("   Host connected as %s ✓", hostID)

	log.Println(">> Connecting guest...")
	guest, guestID := connect(*token2)
	defer guest.Close()
	log.Printf("   Guest connected as %s ✓", guestID)

	log.Println(">> Host creating room...")
	send(host, "create-room", map[string]string{"projectId": *projectID})
	var room struct {
		RoomID string `json:"roomId"`
	}
	decode(expect(host, "room-created"), &room)
	log.Printf("   Room %s ✓", room.RoomID)

	log.Println(">> Guest joining...")
	send(guest, "join-room", map[string]string{"roomId": room.RoomID})
	expect(guest, "room-joined")
	var sync struct {
		SocketID string `json:"socketId"`
	}
	decode(expect(host, "request-sync"), &sync)
	log.Printf("   Host asked to sync %s ✓", sync.SocketID)

	send(host, "sync-file-tree", map[string]any{
		"socketId": sync.SocketID,
		"fileTree": map[string]any{"main.py": map[string]any{"file": map[string]string{"contents": "print('hi')"}}},
	})
	log.Printf("   Guest received tree: %s ✓", expect(guest, "sync-file-tree"))

	log.Println(">> Host editing...")
	send(host, "project-write", map[string]string{"file": "main.py", "contents": "print('edited')"})
	log.Printf("   Guest received: %s ✓", expect(guest, "project-write"))

	log.Println(">> Guest leaving...")
	send(guest, "leave-room", nil)
	log.Printf("   Host saw: %s ✓", expect(host, "user-left"))

	fmt.Println()
	log.Println("═══════════════════════════════")
	log.Println("  E2E TEST PASSED ✓")
	log.Println("═══════════════════════════════")
}

func connect(tok string) (*websocket.Conn, string) {
	u, err := url.Parse(*serverURL)
	if err != nil {
		log.Fatal("parse url:", err)
	}
	u.RawQuery = url.Values{"projectId": {*projectID}, "token": {tok}}.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			log.Fatalf("dial: %v (HTTP %d)", err, resp.StatusCode)
		}
		log.Fatal("dial:", err)
	}

	var hello struct {
		SocketID string `json:"socketId"`
	}
	decode(expect(conn, "connected"), &hello)
	return conn, hello.SocketID
}

func send(conn *websocket.Conn, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Fatal("marshal:", err)
	}
	if err := conn.WriteJSON(frame{Event: event, Data: raw}); err != nil {
		log.Fatalf("send %s: %v", event, err)
	}
}

// expect reads until event arrives and returns its data.
func expect(conn *websocket.Conn, event string) json.RawMessage {
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Fatalf("waiting for %s: %v", event, err)
		}
		if f.Event == "error" {
			log.Fatalf("server error while waiting for %s: %s", event, f.Data)
		}
		if f.Event == event {
			return f.Data
		}
	}
}

func decode(raw json.RawMessage, v any) {
	if err := json.Unmarshal(raw, v); err != nil {
		log.Fatal("decode:", err)
	}
}
