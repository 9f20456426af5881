package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gluk-w/codelive/internal/aibridge"
	"github.com/gluk-w/codelive/internal/llm"
	"github.com/gluk-w/codelive/internal/logging"
)

// AI serves the direct assistant endpoints used outside the chat panel.
type AI struct {
	Completer llm.Completer
	Timeout   time.Duration

	log *logrus.Entry
}

func NewAI(c llm.Completer, timeout time.Duration) *AI {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AI{Completer: c, Timeout: timeout, log: logging.NewLogger("ai")}
}

type generateRequest struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context"`
	Type    string `json:"type"`
}

func writeText(w http.ResponseWriter, status int, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// GetResult answers ?prompt= as a conversational mentor, in plain text.
func (a *AI) GetResult(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.Timeout)
	defer cancel()
	answer, err := a.Completer.Complete(ctx, llm.Request{System: aibridge.MentorInstruction, Prompt: prompt})
	if err != nil {
		a.fail(w, err)
		return
	}

	// models sometimes answer {"text": ...} despite the instruction
	var parsed struct {
		Text string `json:"text"`
	}
	if json.Unmarshal([]byte(aibridge.StripFences(answer)), &parsed) == nil && parsed.Text != "" {
		answer = parsed.Text
	}
	writeText(w, http.StatusOK, "text/plain; charset=utf-8", answer)
}

// Generate runs a fix or explain request and returns the model's JSON with
// any markdown fences removed.
func (a *AI) Generate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Prompt == "" {
		writeError(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.Timeout)
	defer cancel()
	answer, err := a.Completer.Complete(ctx, llm.Request{
		System: aibridge.InstructionFor(body.Type),
		Prompt: aibridge.PromptWithContext(body.Prompt, body.Context),
	})
	if err != nil {
		a.fail(w, err)
		return
	}

	cleaned := aibridge.StripFences(answer)
	contentType := "text/plain; charset=utf-8"
	if json.Valid([]byte(cleaned)) {
		contentType = "application/json"
	}
	writeText(w, http.StatusOK, contentType, cleaned)
}

func (a *AI) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, llm.ErrRateLimited) {
		writeText(w, http.StatusOK, "text/plain; charset=utf-8", aibridge.QuotaNotice)
		return
	}
	a.log.Errorf("completion failed: %v", err)
	writeError(w, http.StatusInternalServerError, "AI service unavailable")
}
