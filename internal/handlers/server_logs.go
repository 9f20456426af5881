package handlers

import (
	"net/http"

	"github.com/gluk-w/codelive/internal/logging"
)

const (
	defaultLogLines = 200
	maxLogLines     = 5000
)

// GetServerLogs returns the last ?lines= lines of the server log file, or
// an empty string when logging goes to stdout only.
func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines, err := positiveQuery(r, "lines", defaultLogLines, maxLogLines)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid lines")
		return
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read server logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}

func ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear server logs")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
