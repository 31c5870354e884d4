package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"atelier/internal/llm"
	"atelier/internal/session"
)

const promptControl = `You decide whether the deep think content creation process should continue or conclude.

Analyze the review feedback and decide:

**Continue if:**
- The content doesn't match the user's original request
- There are significant visual appeal issues
- Obvious problems or technical issues exist
- Previous feedback hasn't been properly addressed

**End if:**
- The content matches the user's request well
- Visual appeal is good and professional
- No obvious issues remain and previous feedback has been addressed
- Only minor improvements could be made

The content should be "good enough" - it doesn't need to be perfect, but it should meet the user's core requirements and be visually appealing.

If continuing, briefly summarize the key areas that need improvement. If ending, confirm that the content is ready for finalization.

Return STRICT JSON:
{
  "should_continue": bool,
  "reason":          "string"
}
JSON only; no comments or trailing commas.`

// ControlIn carries the verdict and iteration context for the decision.
type ControlIn struct {
	Review        session.ContentReview
	Iteration     int
	MaxIterations int
}

// Control maps a review verdict to a continue/stop decision. The iteration
// cap is stated in the prompt, but the loop controller enforces it
// independently.
type Control struct {
	LLM llm.TextClient
}

func (c *Control) Run(ctx context.Context, in ControlIn) (*session.LoopDecision, error) {
	input := map[string]any{
		"review_feedback": in.Review,
		"iteration":       in.Iteration,
		"max_iterations":  in.MaxIterations,
	}
	raw, err := c.LLM.GenerateJSON(ctx, promptControl, input)
	if err != nil {
		return nil, fmt.Errorf("stage: loop control: %w", err)
	}
	return parseDecision(raw)
}

// parseDecision rejects a decision without an explicit should_continue
// rather than defaulting to continue.
func parseDecision(raw json.RawMessage) (*session.LoopDecision, error) {
	var shadow struct {
		ShouldContinue *bool  `json:"should_continue"`
		Reason         string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &shadow); err != nil {
		return nil, fmt.Errorf("%w: %v\nraw: %s", ErrMalformedVerdict, err, string(raw))
	}
	if shadow.ShouldContinue == nil {
		return nil, fmt.Errorf("%w: missing should_continue\nraw: %s", ErrMalformedVerdict, string(raw))
	}
	reason := shadow.Reason
	if reason == "" {
		reason = "No reason provided"
	}
	return &session.LoopDecision{ShouldContinue: *shadow.ShouldContinue, Reason: reason}, nil
}
