package aibridge

import "regexp"

type Mode int

const (
	ModeConversation Mode = iota
	ModeGenerate
)

func (m Mode) String() string {
	if m == ModeGenerate {
		return "generate"
	}
	return "conversation"
}

// Classifier decides whether a prompt asks for generated files.
type Classifier interface {
	Classify(prompt string) Mode
}

var (
	creationVerbs  = regexp.MustCompile(`(?i)create|make|generate|build|scaffold`)
	questionMarker = regexp.MustCompile(`(?i)explain|how|what`)
)

// KeywordClassifier is a substring heuristic: a creation verb and no
// question word means generation. "Show me what to build" is treated as a
// question; "remake the header" as a generation request.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(prompt string) Mode {
	if creationVerbs.MatchString(prompt) && !questionMarker.MatchString(prompt) {
		return ModeGenerate
	}
	return ModeConversation
}
