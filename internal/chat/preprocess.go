package chat

import (
	"regexp"
	"strings"

	"atelier/internal/llm"
)

// deepThinkPattern matches the trigger phrase in any casing, with any
// whitespace between the two words.
var deepThinkPattern = regexp.MustCompile(`(?i)deep\s+think`)

// Message is one inbound user turn from the front-end.
type Message struct {
	Text  string
	Image *llm.Image
}

// Preprocessed is the result of the inbound pipeline stage that runs before
// any mode dispatch.
type Preprocessed struct {
	Text      string
	DeepThink bool
	Image     *llm.Image
}

// Preprocess detects deep-think mode, strips the trigger phrase from the
// text, and passes through any uploaded image for reference storage.
func Preprocess(msg Message) Preprocessed {
	text := msg.Text
	deepThink := deepThinkPattern.MatchString(text)
	if deepThink {
		text = deepThinkPattern.ReplaceAllString(text, "")
		text = strings.Join(strings.Fields(text), " ")
	}
	return Preprocessed{
		Text:      strings.TrimSpace(text),
		DeepThink: deepThink,
		Image:     msg.Image,
	}
}
