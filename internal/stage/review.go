package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"atelier/internal/artifact"
	"atelier/internal/llm"
	"atelier/internal/session"
)

var ErrMalformedVerdict = errors.New("stage: malformed verdict from model")

const promptReview = `You are a marketing content reviewer. Evaluate the attached generated image against the original user request and provide feedback on:

1. **Adherence to Request**: Does the content match what the user originally asked for?
2. **Visual Appeal**: Is the composition, colors, and overall design appealing and professional?
3. **Obvious Issues**: Are there any clear problems like poor text readability, distorted elements, or technical issues?
4. **Typos**: Are there any misspelt words on the image?
5. **Previous Feedback**: If this is a revision, has the previous feedback been properly addressed?

Provide specific, actionable suggestions for improvement. Focus on practical issues that can be addressed in the next iteration. Be constructive but honest; the goal is the best possible content for the user.

Return STRICT JSON:
{
  "adheres_to_request":      bool,
  "visual_appeal":           bool,
  "no_obvious_issues":       bool,
  "no_typos":                bool,
  "feedback_addressed":      bool,  // true when no prior feedback exists
  "specific_issues":         ["string"],
  "improvement_suggestions": ["string"]
}
JSON only; no comments or trailing commas.`

// ReviewIn names the artifact to evaluate plus the evaluation context.
type ReviewIn struct {
	Filename         string
	OriginalPrompt   string
	Iteration        int
	PreviousFeedback *session.ContentReview
}

// Review evaluates the latest generated artifact. Pure evaluation: the
// artifact is loaded to ground the verdict but never mutated.
type Review struct {
	LLM   llm.TextClient
	Store artifact.Store
}

func (r *Review) Run(ctx context.Context, in ReviewIn) (*session.ContentReview, error) {
	blob, err := r.Store.Load(ctx, in.Filename)
	if err != nil {
		return nil, fmt.Errorf("stage: load %q for review: %w", in.Filename, err)
	}

	prompt := promptReview + fmt.Sprintf("\n\nOriginal user request: %s\nCurrent iteration: %d", in.OriginalPrompt, in.Iteration)
	if in.PreviousFeedback != nil {
		prev, _ := json.Marshal(in.PreviousFeedback)
		prompt += "\nPrevious feedback: " + string(prev)
	}

	raw, err := r.LLM.GenerateJSONImage(ctx, prompt, llm.Image{MIME: blob.MIME, Data: blob.Data})
	if err != nil {
		return nil, fmt.Errorf("stage: review: %w", err)
	}
	return parseReview(raw)
}

// parseReview rejects verdicts missing any criterion instead of defaulting
// them.
func parseReview(raw json.RawMessage) (*session.ContentReview, error) {
	var shadow struct {
		AdheresToRequest       *bool    `json:"adheres_to_request"`
		VisualAppeal           *bool    `json:"visual_appeal"`
		NoObviousIssues        *bool    `json:"no_obvious_issues"`
		NoTypos                *bool    `json:"no_typos"`
		FeedbackAddressed      *bool    `json:"feedback_addressed"`
		SpecificIssues         []string `json:"specific_issues"`
		ImprovementSuggestions []string `json:"improvement_suggestions"`
	}
	if err := json.Unmarshal(raw, &shadow); err != nil {
		return nil, fmt.Errorf("%w: %v\nraw: %s", ErrMalformedVerdict, err, string(raw))
	}
	for _, b := range []*bool{shadow.AdheresToRequest, shadow.VisualAppeal, shadow.NoObviousIssues, shadow.NoTypos, shadow.FeedbackAddressed} {
		if b == nil {
			return nil, fmt.Errorf("%w: missing criteria\nraw: %s", ErrMalformedVerdict, string(raw))
		}
	}
	return &session.ContentReview{
		AdheresToRequest:       *shadow.AdheresToRequest,
		VisualAppeal:           *shadow.VisualAppeal,
		NoObviousIssues:        *shadow.NoObviousIssues,
		NoTypos:                *shadow.NoTypos,
		FeedbackAddressed:      *shadow.FeedbackAddressed,
		SpecificIssues:         shadow.SpecificIssues,
		ImprovementSuggestions: shadow.ImprovementSuggestions,
	}, nil
}
