package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/codelive/internal/chat"
	"github.com/gluk-w/codelive/internal/logutil"
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 1000
)

// ListMessages returns the chat history of a project, oldest first.
func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")

	limit, err := positiveQuery(r, "limit", defaultMessageLimit, maxMessageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	exists, err := a.Messages.ProjectExists(r.Context(), projectID)
	if err != nil {
		a.log.Errorf("project lookup %s: %v", logutil.SanitizeForLog(projectID), err)
		writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}

	messages, err := a.Messages.ListMessages(r.Context(), projectID, limit)
	if err != nil {
		a.log.Errorf("list messages %s: %v", logutil.SanitizeForLog(projectID), err)
		writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}
