// Package deepthink runs the bounded generate/review/decide refinement
// loop. One Controller serves one session; stages execute strictly in
// sequence within an invocation.
package deepthink

import (
	"context"
	"fmt"
	"log"

	"atelier/internal/session"
	"atelier/internal/stage"
)

// MaxIterations caps the number of policy iterations per loop invocation.
// The structural pass bound is derived from the same constant so the two
// limits cannot drift apart.
const MaxIterations = 4

const maxPasses = MaxIterations + 1

const capReason = "Maximum iterations reached"

type loopState int

const (
	statePrepare loopState = iota
	stateCapturePrompt
	stateGenerateOrEdit
	stateReview
	stateDecide
	stateTerminate
)

// EventKind classifies loop notifications sent to the front-end.
type EventKind string

const (
	EventIteration EventKind = "iteration"
	EventContinue  EventKind = "continue"
	EventTerminal  EventKind = "terminal"
	EventFailure   EventKind = "failure"
)

// Event is one notification emitted while the loop runs.
type Event struct {
	Kind      EventKind
	Iteration int
	Text      string
	Filename  string
}

// Request is one deep-think invocation.
type Request struct {
	Prompt      string
	AssetName   string
	AspectRatio string
	TextOverlay string
	Reference   string
	History     []string
}

// Outcome summarizes a finished invocation.
type Outcome struct {
	FinalArtifact string
	Iterations    int
	Reason        string
	Failed        bool
}

// Controller orchestrates the fixed stage pipeline per iteration and owns
// the deep-think lifecycle of the session state.
type Controller struct {
	Capture  *stage.Capture
	Generate *stage.Generation
	Review   *stage.Review
	Control  *stage.Control
	Session  *session.State

	// Notify receives loop events. Optional.
	Notify func(Event)
}

func (c *Controller) emit(ev Event) {
	if c.Notify != nil {
		c.Notify(ev)
	}
}

// Run executes the loop until the control stage says stop, the iteration
// cap fires, or a stage fails. The loop never auto-retries a failed
// iteration; failures stop the loop with a conversational message and the
// user may retry manually. Session deep-think state is always reset before
// returning.
func (c *Controller) Run(ctx context.Context, req Request) (Outcome, error) {
	c.Session.BeginDeepThink(req.Prompt)

	var (
		state      = statePrepare
		iteration  int
		passes     int
		lastOut    stage.GenerateOut
		lastReview *session.ContentReview
		stopReason string
		failed     bool
	)

	for state != stateTerminate {
		if err := ctx.Err(); err != nil {
			stopReason = "Cancelled: " + err.Error()
			failed = true
			break
		}

		switch state {
		case statePrepare:
			passes++
			if passes > maxPasses {
				// Unreachable while the policy cap holds; a pass-bound trip
				// means the policy check regressed.
				log.Printf("deepthink: structural pass bound hit before policy cap (pass %d)", passes)
				stopReason = capReason
				state = stateTerminate
				continue
			}
			iteration = c.Session.NextIteration()
			lastReview = c.Session.Review()
			msg := fmt.Sprintf("Starting deep think content generation iteration %d.", iteration)
			if iteration > 1 && lastReview != nil {
				msg += " Carrying forward previous review feedback."
			}
			c.emit(Event{Kind: EventIteration, Iteration: iteration, Text: msg})
			state = stateCapturePrompt

		case stateCapturePrompt:
			captured, err := c.Capture.Run(ctx, append(req.History, req.Prompt))
			if err != nil {
				// The raw request is still a valid primary reference.
				log.Printf("deepthink: prompt capture failed: %v", err)
				if c.Session.Prompt() == "" {
					c.Session.SetPrompt(req.Prompt)
				}
			} else {
				c.Session.SetPrompt(captured)
			}
			state = stateGenerateOrEdit

		case stateGenerateOrEdit:
			in := stage.GenerateIn{
				AssetName:         req.AssetName,
				ReferenceFilename: req.Reference,
				Feedback:          lastReview,
			}
			if iteration == 1 {
				in.Mode = stage.ModeCreate
				in.Prompt = c.Session.Prompt()
				in.AspectRatio = req.AspectRatio
				in.TextOverlay = req.TextOverlay
			} else {
				in.Mode = stage.ModeEdit
				in.Prompt = "Revise the image to address the review feedback while keeping everything that already works."
				in.ArtifactFilename, _ = c.Session.LastGenerated()
			}
			out, err := c.Generate.Run(ctx, in)
			if err != nil {
				stopReason = fmt.Sprintf("Generation failed on iteration %d: %v", iteration, err)
				failed = true
				c.emit(Event{Kind: EventFailure, Iteration: iteration, Text: stopReason})
				state = stateTerminate
				continue
			}
			lastOut = out
			state = stateReview

		case stateReview:
			review, err := c.Review.Run(ctx, stage.ReviewIn{
				Filename:         lastOut.Filename,
				OriginalPrompt:   c.Session.Prompt(),
				Iteration:        iteration,
				PreviousFeedback: lastReview,
			})
			if err != nil {
				stopReason = fmt.Sprintf("Review failed on iteration %d: %v", iteration, err)
				failed = true
				c.emit(Event{Kind: EventFailure, Iteration: iteration, Text: stopReason})
				state = stateTerminate
				continue
			}
			c.Session.SetReview(review)
			state = stateDecide

		case stateDecide:
			decision, err := c.Control.Run(ctx, stage.ControlIn{
				Review:        *c.Session.Review(),
				Iteration:     iteration,
				MaxIterations: MaxIterations,
			})
			if err != nil {
				// A malformed decision stops the loop; it never defaults
				// to continue.
				stopReason = fmt.Sprintf("Loop control failed on iteration %d: %v", iteration, err)
				failed = true
				c.emit(Event{Kind: EventFailure, Iteration: iteration, Text: stopReason})
				state = stateTerminate
				continue
			}
			// Hard cap override, independent of the stage verdict.
			if iteration >= MaxIterations {
				decision = &session.LoopDecision{ShouldContinue: false, Reason: capReason}
			}
			c.Session.SetDecision(decision)
			if decision.ShouldContinue {
				c.emit(Event{Kind: EventContinue, Iteration: iteration, Text: "Continuing deep think refinement: " + decision.Reason})
				state = statePrepare
				continue
			}
			stopReason = decision.Reason
			state = stateTerminate
		}
	}

	final, _ := c.Session.LastGenerated()
	if lastOut.Filename != "" {
		final = lastOut.Filename
	}

	terminal := fmt.Sprintf("Deep think mode complete: %s.", stopReason)
	if final != "" {
		terminal += " Final content: " + final
	}
	c.emit(Event{Kind: EventTerminal, Iteration: iteration, Text: terminal, Filename: final})

	// Mandatory: a later invocation must start clean.
	c.Session.ResetDeepThink()

	return Outcome{
		FinalArtifact: final,
		Iterations:    iteration,
		Reason:        stopReason,
		Failed:        failed,
	}, nil
}
