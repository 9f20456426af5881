package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/gluk-w/codelive/internal/chat"
	"github.com/gluk-w/codelive/internal/logging"
	"github.com/gluk-w/codelive/internal/runner"
	"github.com/gluk-w/codelive/internal/terminal"
)

// Runner starts project runs.
type Runner interface {
	Run(req runner.Request) (runner.Started, error)
}

// TerminalTable is the part of the terminal multiplexer exposed over HTTP.
type TerminalTable interface {
	List(scope string) []terminal.Info
	Kill(scope, id string) bool
}

// MessageStore reads persisted chat history.
type MessageStore interface {
	ProjectExists(ctx context.Context, projectID string) (bool, error)
	ListMessages(ctx context.Context, projectID string, limit int) ([]chat.Message, error)
}

// API holds the components behind the REST endpoints.
type API struct {
	Runner    Runner
	Terminals TerminalTable
	Messages  MessageStore

	log *logrus.Entry
}

func NewAPI(r Runner, t TerminalTable, m MessageStore) *API {
	return &API{Runner: r, Terminals: t, Messages: m, log: logging.NewLogger("api")}
}
