package stage

import (
	"context"
	"fmt"
	"strings"

	"atelier/internal/llm"
)

const promptCapture = `Analyse the conversation history below and extract the key requirements from the user's latest request. Output a single plain-text restatement capturing every detail the user mentioned. Output only the restatement.`

// Capture derives the canonical restatement of the user's request from the
// conversation history. Re-running it is allowed since requirements may be
// clarified mid-conversation.
type Capture struct {
	LLM llm.TextClient
}

func (c *Capture) Run(ctx context.Context, history []string) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("stage: capture requires conversation history")
	}
	prompt := promptCapture + "\n\n[CONVERSATION]\n" + strings.Join(history, "\n")
	out, err := c.LLM.GenerateText(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("stage: capture prompt: %w", err)
	}
	return out, nil
}
