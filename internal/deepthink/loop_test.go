package deepthink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"atelier/internal/artifact"
	"atelier/internal/ledger"
	"atelier/internal/llm"
	"atelier/internal/session"
	"atelier/internal/stage"
)

type harness struct {
	text    *llm.FakeText
	image   *llm.FakeImage
	store   *artifact.MemoryStore
	ledger  *ledger.Ledger
	session *session.State
	events  []Event
	ctrl    *Controller
}

func newHarness(text *llm.FakeText, image *llm.FakeImage) *harness {
	h := &harness{
		text:    text,
		image:   image,
		store:   artifact.NewMemoryStore(),
		ledger:  ledger.New(),
		session: session.NewState(),
	}
	gen := &stage.Generation{Text: text, Image: image, Store: h.store, Ledger: h.ledger, Session: h.session}
	h.ctrl = &Controller{
		Capture:  &stage.Capture{LLM: text},
		Generate: gen,
		Review:   &stage.Review{LLM: text, Store: h.store},
		Control:  &stage.Control{LLM: text},
		Session:  h.session,
		Notify:   func(ev Event) { h.events = append(h.events, ev) },
	}
	return h
}

func reviewJSON(allGood bool) json.RawMessage {
	v := fmt.Sprintf(`{
		"adheres_to_request": %[1]t,
		"visual_appeal": true,
		"no_obvious_issues": %[1]t,
		"no_typos": true,
		"feedback_addressed": %[1]t,
		"specific_issues": ["text too small"],
		"improvement_suggestions": ["increase title size"]
	}`, allGood)
	return json.RawMessage(v)
}

func decisionJSON(cont bool, reason string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"should_continue": %t, "reason": %q}`, cont, reason))
}

func pngResult(data string) llm.ImageResult {
	return llm.ImageResult{Image: llm.Image{MIME: "image/png", Data: []byte(data)}}
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("captured request %d", i+1)
	}
	return out
}

func (h *harness) assertSessionReset(t *testing.T) {
	t.Helper()
	if h.session.DeepThinkMode {
		t.Fatal("deep_think_mode not reset")
	}
	if h.session.Iteration() != 0 {
		t.Fatalf("iteration not reset: %d", h.session.Iteration())
	}
	if h.session.Prompt() != "" {
		t.Fatalf("original prompt not reset: %q", h.session.Prompt())
	}
	if h.session.Review() != nil || h.session.Decision() != nil {
		t.Fatal("review/decision not reset")
	}
}

func TestLoopRefineThenStop(t *testing.T) {
	text := &llm.FakeText{
		TextResponses: texts(3), // capture x2 + create rewrite
		JSONResponses: []json.RawMessage{
			reviewJSON(false),
			decisionJSON(true, "does not match the request yet"),
			reviewJSON(true),
			decisionJSON(false, "content is ready"),
		},
	}
	image := &llm.FakeImage{Results: []llm.ImageResult{pngResult("draft"), pngResult("final")}}
	h := newHarness(text, image)

	outcome, err := h.ctrl.Run(context.Background(), Request{Prompt: "create a red poster", AssetName: "poster"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Failed {
		t.Fatalf("unexpected failure: %+v", outcome)
	}
	if outcome.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", outcome.Iterations)
	}
	if outcome.FinalArtifact != "poster_v2.png" {
		t.Fatalf("terminal event should name the iteration-2 artifact, got %q", outcome.FinalArtifact)
	}
	if outcome.Reason != "content is ready" {
		t.Fatalf("unexpected reason: %q", outcome.Reason)
	}

	// Iteration 1 is CREATE (no base), iteration 2 is EDIT of the v1 artifact.
	if len(image.Requests) != 2 {
		t.Fatalf("expected 2 image calls, got %d", len(image.Requests))
	}
	if image.Requests[0].Base != nil {
		t.Fatal("iteration 1 must use create mode")
	}
	if image.Requests[1].Base == nil || string(image.Requests[1].Base.Data) != "draft" {
		t.Fatal("iteration 2 must edit the iteration-1 artifact")
	}
	// Edit guidance carries the review feedback.
	if !strings.Contains(image.Requests[1].Prompt, "increase title size") {
		t.Fatalf("edit prompt missing review feedback: %q", image.Requests[1].Prompt)
	}

	if h.ledger.CurrentVersion("poster") != 2 {
		t.Fatalf("expected 2 recorded versions, got %d", h.ledger.CurrentVersion("poster"))
	}
	h.assertSessionReset(t)

	last := h.events[len(h.events)-1]
	if last.Kind != EventTerminal || last.Filename != "poster_v2.png" {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
}

func TestLoopIterationCapOverride(t *testing.T) {
	// Review never passes and control always votes continue; the cap must
	// stop the loop at MaxIterations regardless.
	var jsons []json.RawMessage
	for i := 0; i < MaxIterations; i++ {
		jsons = append(jsons, reviewJSON(false), decisionJSON(true, "keep refining"))
	}
	text := &llm.FakeText{TextResponses: texts(MaxIterations + 1), JSONResponses: jsons}
	var results []llm.ImageResult
	for i := 0; i < MaxIterations; i++ {
		results = append(results, pngResult(fmt.Sprintf("draft-%d", i+1)))
	}
	image := &llm.FakeImage{Results: results}
	h := newHarness(text, image)

	outcome, err := h.ctrl.Run(context.Background(), Request{Prompt: "poster deep", AssetName: "poster"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Iterations != MaxIterations {
		t.Fatalf("expected %d iterations, got %d", MaxIterations, outcome.Iterations)
	}
	if outcome.Reason != capReason {
		t.Fatalf("expected cap reason, got %q", outcome.Reason)
	}
	if outcome.Failed {
		t.Fatal("cap stop is not a failure")
	}
	if len(image.Requests) != MaxIterations {
		t.Fatalf("expected %d image calls, got %d", MaxIterations, len(image.Requests))
	}
	h.assertSessionReset(t)
}

func TestLoopGenerationFailureStops(t *testing.T) {
	text := &llm.FakeText{TextResponses: texts(2)}
	image := &llm.FakeImage{} // no queued results: ErrNoImage
	h := newHarness(text, image)

	outcome, err := h.ctrl.Run(context.Background(), Request{Prompt: "poster", AssetName: "poster"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Failed {
		t.Fatal("expected failed outcome")
	}
	if outcome.Iterations != 1 {
		t.Fatalf("failure must be contained to one iteration, got %d", outcome.Iterations)
	}
	if h.ledger.CurrentVersion("poster") != 0 {
		t.Fatal("ledger advanced on failed generation")
	}

	var sawFailure bool
	for _, ev := range h.events {
		if ev.Kind == EventFailure {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("no failure event emitted")
	}
	h.assertSessionReset(t)
}

func TestLoopMalformedDecisionStops(t *testing.T) {
	text := &llm.FakeText{
		TextResponses: texts(2),
		JSONResponses: []json.RawMessage{
			reviewJSON(false),
			json.RawMessage(`{"reason": "missing the verdict bit"}`),
		},
	}
	image := &llm.FakeImage{Results: []llm.ImageResult{pngResult("draft")}}
	h := newHarness(text, image)

	outcome, err := h.ctrl.Run(context.Background(), Request{Prompt: "poster", AssetName: "poster"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Failed {
		t.Fatal("malformed decision must stop the loop, not default to continue")
	}
	if len(image.Requests) != 1 {
		t.Fatalf("loop continued past malformed decision: %d image calls", len(image.Requests))
	}
	h.assertSessionReset(t)
}

func TestLoopStructuralBoundDerivedFromCap(t *testing.T) {
	if maxPasses != MaxIterations+1 {
		t.Fatalf("structural bound must be derived from the iteration cap: %d vs %d", maxPasses, MaxIterations)
	}
}

func TestLoopCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	text := &llm.FakeText{TextResponses: texts(2)}
	image := &llm.FakeImage{Results: []llm.ImageResult{pngResult("draft")}}
	h := newHarness(text, image)

	outcome, err := h.ctrl.Run(ctx, Request{Prompt: "poster"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Failed {
		t.Fatal("cancelled run should be reported as failed")
	}
	if len(image.Requests) != 0 {
		t.Fatal("stages ran after cancellation")
	}
	h.assertSessionReset(t)
}
