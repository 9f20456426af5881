package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type terminalResponse struct {
	ID        string `json:"terminalId"`
	CreatedAt string `json:"created_at"`
}

// ListTerminals returns the live terminals of a room (or solo connection).
func (a *API) ListTerminals(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "Room ID required")
		return
	}

	infos := a.Terminals.List(roomID)
	resp := make([]terminalResponse, len(infos))
	for i, info := range infos {
		resp[i] = terminalResponse{
			ID:        info.ID,
			CreatedAt: info.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"terminals": resp,
	})
}

// KillTerminal terminates one terminal of a room.
func (a *API) KillTerminal(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	terminalID := chi.URLParam(r, "terminalId")
	if roomID == "" || terminalID == "" {
		writeError(w, http.StatusBadRequest, "Room ID and terminal ID required")
		return
	}

	if !a.Terminals.Kill(roomID, terminalID) {
		writeError(w, http.StatusNotFound, "Terminal not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
