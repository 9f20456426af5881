// Package aibridge answers "@ai" chat messages. Depending on the prompt it
// either asks the model for a file tree and merges it into the project, or
// asks a plain question and posts the answer back into the chat.
package aibridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gluk-w/codelive/internal/chat"
	"github.com/gluk-w/codelive/internal/filetree"
	"github.com/gluk-w/codelive/internal/llm"
	"github.com/gluk-w/codelive/internal/logging"
	"github.com/gluk-w/codelive/internal/logutil"
)

// Marker addresses a chat message to the assistant.
const Marker = "@ai"

const (
	EventSyncFileTree = "sync-file-tree"
	EventMessage      = "project-message"
)

// Store is the project storage the bridge reads and writes.
type Store interface {
	FileTree(ctx context.Context, projectID string) (*filetree.Tree, error)
	SaveFileTree(ctx context.Context, projectID string, tree *filetree.Tree) error
	AppendMessage(ctx context.Context, projectID string, msg chat.Message) error
}

// Emitter delivers an event to a scope (room id or connection id).
type Emitter interface {
	EmitTo(scope, event string, payload any)
}

// SyncPayload is the payload of sync-file-tree.
type SyncPayload struct {
	FileTree *filetree.Tree `json:"fileTree"`
}

type Options struct {
	Completer  llm.Completer
	Store      Store
	Emitter    Emitter
	Classifier Classifier
	Timeout    time.Duration
}

type Bridge struct {
	opts Options
	log  *logrus.Entry
}

func New(opts Options) *Bridge {
	if opts.Classifier == nil {
		opts.Classifier = KeywordClassifier{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Bridge{opts: opts, log: logging.NewLogger("aibridge")}
}

// HasMarker reports whether text is addressed to the assistant.
func HasMarker(text string) bool {
	return strings.Contains(text, Marker)
}

// PromptFrom strips the first marker from text.
func PromptFrom(text string) string {
	return strings.TrimSpace(strings.Replace(text, Marker, "", 1))
}

// StripFences removes markdown code fences from model output.
func StripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// Handle answers one "@ai" message for a project. Results go to scope.
func (b *Bridge) Handle(ctx context.Context, projectID, scope, text string) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	prompt := PromptFrom(text)
	mode := b.opts.Classifier.Classify(prompt)
	b.log.WithFields(logrus.Fields{
		"project": logutil.SanitizeForLog(projectID),
		"mode":    mode.String(),
	}).Infof("ai request: %s", logutil.SanitizeForLog(prompt))

	if mode == ModeGenerate {
		err := b.generate(ctx, projectID, scope, prompt)
		if err == nil {
			return
		}
		b.log.Warnf("file generation failed, answering as chat: %v", err)
	}
	b.converse(ctx, projectID, scope, prompt)
}

var errNoFileTree = errors.New("response has no fileTree")

func (b *Bridge) generate(ctx context.Context, projectID, scope, prompt string) error {
	raw, err := b.opts.Completer.Complete(ctx, llm.Request{System: FileTreeInstruction, Prompt: prompt})
	if err != nil {
		return err
	}
	var parsed struct {
		FileTree *filetree.Tree `json:"fileTree"`
	}
	if err := json.Unmarshal([]byte(StripFences(raw)), &parsed); err != nil {
		return err
	}
	if parsed.FileTree == nil {
		return errNoFileTree
	}

	current, err := b.opts.Store.FileTree(ctx, projectID)
	if err != nil {
		return err
	}
	merged := filetree.Merge(current, parsed.FileTree)
	if err := b.opts.Store.SaveFileTree(ctx, projectID, merged); err != nil {
		return err
	}

	b.opts.Emitter.EmitTo(scope, EventSyncFileTree, SyncPayload{FileTree: merged})
	b.reply(ctx, projectID, scope, GeneratedNotice)
	b.log.Infof("merged %d generated file(s) into project %s", parsed.FileTree.Len(), logutil.SanitizeForLog(projectID))
	return nil
}

func (b *Bridge) converse(ctx context.Context, projectID, scope, prompt string) {
	raw, err := b.opts.Completer.Complete(ctx, llm.Request{System: ChatInstruction, Prompt: prompt})
	if err != nil {
		b.log.Errorf("chat completion failed: %v", err)
	}
	answer := StripFences(raw)
	if err != nil || answer == "" {
		answer = Apology
	}
	b.reply(ctx, projectID, scope, answer)
}

// reply persists an assistant message and posts it to scope.
func (b *Bridge) reply(ctx context.Context, projectID, scope, text string) {
	msg := chat.Message{Text: text, Sender: chat.AISender, CreatedAt: time.Now().UTC()}
	// the completion may have used up the deadline
	if err := b.opts.Store.AppendMessage(context.WithoutCancel(ctx), projectID, msg); err != nil {
		b.log.Errorf("persist ai message: %v", err)
	}
	b.opts.Emitter.EmitTo(scope, EventMessage, msg)
}
