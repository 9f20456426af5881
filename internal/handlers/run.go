package handlers

import (
	"errors"
	"net/http"

	"github.com/gluk-w/codelive/internal/filetree"
	"github.com/gluk-w/codelive/internal/logutil"
	"github.com/gluk-w/codelive/internal/middleware"
	"github.com/gluk-w/codelive/internal/runner"
)

type runRequest struct {
	ProjectID string `json:"projectId"`
	// Code is the file tree; Files is accepted as an alias.
	Code     *filetree.Tree `json:"code"`
	Files    *filetree.Tree `json:"files"`
	RunFile  string         `json:"runFile"`
	RoomID   string         `json:"roomId"`
	SocketID string         `json:"socketId"`
}

type runResponse struct {
	Message string `json:"message"`
	RunID   string `json:"runId"`
}

// RunProject starts a run and answers as soon as the first process is up.
// Output is streamed to the room, or to socketId when there is no room.
func (a *API) RunProject(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	files := body.Code
	if files == nil {
		files = body.Files
	}
	scope := body.RoomID
	if scope == "" {
		scope = body.SocketID
	}
	var executedBy string
	if id, ok := middleware.GetIdentity(r); ok {
		executedBy = id.Email
	}

	started, err := a.Runner.Run(runner.Request{
		ProjectID:  body.ProjectID,
		Files:      files,
		RunFile:    body.RunFile,
		Scope:      scope,
		ExecutedBy: executedBy,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, runResponse{Message: "Process started", RunID: started.RunID})
	case errors.Is(err, runner.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "Project ID is required")
	case errors.Is(err, runner.ErrNoExecutableFound):
		writeError(w, http.StatusBadRequest, "No executable file found (js, py, java, cpp, c)")
	default:
		a.log.Errorf("run project %s: %v", logutil.SanitizeForLog(body.ProjectID), err)
		writeError(w, http.StatusInternalServerError, "Server error during execution")
	}
}
