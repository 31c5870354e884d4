// Package chat wires the conversational front-end to the stages: inbound
// preprocessing, regular-mode operations, and deep-think dispatch.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"atelier/internal/artifact"
	"atelier/internal/deepthink"
	"atelier/internal/ledger"
	"atelier/internal/llm"
	"atelier/internal/session"
	"atelier/internal/stage"
)

// Assistant handles one session's conversation. All methods run on the
// session's owning goroutine.
type Assistant struct {
	Session *session.State
	Store   artifact.Store
	Ledger  *ledger.Ledger

	Generation *stage.Generation
	Loop       *deepthink.Controller

	history []string
}

// CreateParams mirrors the regular-mode generate operation.
type CreateParams struct {
	Prompt      string
	AssetName   string
	AspectRatio string
	TextOverlay string
	Reference   string
}

// EditParams mirrors the regular-mode edit operation.
type EditParams struct {
	Filename    string
	Instruction string
	AssetName   string
	Reference   string
}

// StoreReference persists an uploaded image as a reference artifact and
// registers it with the session. Idempotent for identical bytes.
func (a *Assistant) StoreReference(ctx context.Context, img llm.Image) (session.ReferenceImage, error) {
	ref := a.Session.AddReferenceImage(img.Data)
	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	if _, err := a.Store.Save(ctx, ref.Filename, artifact.Blob{MIME: mime, Data: img.Data}); err != nil {
		return session.ReferenceImage{}, fmt.Errorf("chat: store reference image: %w", err)
	}
	log.Printf("chat: stored reference image %s (upload %d)", ref.Filename, ref.Ordinal)
	return ref, nil
}

// Create runs a single regular-mode generation.
func (a *Assistant) Create(ctx context.Context, p CreateParams) (stage.GenerateOut, error) {
	a.Remember("user: " + p.Prompt)
	return a.Generation.Run(ctx, stage.GenerateIn{
		Mode:              stage.ModeCreate,
		Prompt:            p.Prompt,
		AssetName:         p.AssetName,
		AspectRatio:       p.AspectRatio,
		TextOverlay:       p.TextOverlay,
		ReferenceFilename: p.Reference,
	})
}

// Edit runs a single regular-mode edit against an existing artifact.
func (a *Assistant) Edit(ctx context.Context, p EditParams) (stage.GenerateOut, error) {
	a.Remember("user: " + p.Instruction)
	filename := strings.TrimSpace(p.Filename)
	if filename == "" {
		filename, _ = a.Session.LastGenerated()
	}
	return a.Generation.Run(ctx, stage.GenerateIn{
		Mode:              stage.ModeEdit,
		Prompt:            p.Instruction,
		AssetName:         p.AssetName,
		ArtifactFilename:  filename,
		ReferenceFilename: p.Reference,
	})
}

// DeepThink runs the bounded refinement loop for the request.
func (a *Assistant) DeepThink(ctx context.Context, p CreateParams) (deepthink.Outcome, error) {
	a.Remember("user: " + p.Prompt)
	return a.Loop.Run(ctx, deepthink.Request{
		Prompt:      p.Prompt,
		AssetName:   p.AssetName,
		AspectRatio: p.AspectRatio,
		TextOverlay: p.TextOverlay,
		Reference:   p.Reference,
		History:     a.History(),
	})
}

// Remember appends one turn to the conversation history used by the
// prompt-capture stage.
func (a *Assistant) Remember(turn string) {
	a.history = append(a.history, turn)
}

func (a *Assistant) History() []string {
	return append([]string(nil), a.history...)
}

// DescribeAssets renders the asset version summary for display.
func (a *Assistant) DescribeAssets() string {
	infos := a.Ledger.DescribeAll()
	if len(infos) == 0 {
		return "No assets have been created yet."
	}
	lines := []string{"Current assets:"}
	for _, info := range infos {
		lines = append(lines, fmt.Sprintf("  - %s: %d version(s), latest is v%d (%s)",
			info.Name, info.TotalVersions, info.CurrentVersion, info.LatestFilename))
	}
	return strings.Join(lines, "\n")
}

// DescribeReferences renders the uploaded reference image summary.
func (a *Assistant) DescribeReferences() string {
	refs := a.Session.ReferenceImages()
	if len(refs) == 0 {
		return "No reference images have been uploaded yet."
	}
	lines := []string{"Available reference images:"}
	for _, ref := range refs {
		lines = append(lines, fmt.Sprintf("  - %s (upload %d)", ref.Filename, ref.Ordinal))
	}
	return strings.Join(lines, "\n")
}

// HandleMessage is the top-level entry for one user turn: preprocess, store
// any upload, then dispatch to deep-think or regular mode.
func (a *Assistant) HandleMessage(ctx context.Context, msg Message, p CreateParams) (string, error) {
	pre := Preprocess(msg)
	if pre.Image != nil {
		ref, err := a.StoreReference(ctx, *pre.Image)
		if err != nil {
			return "", err
		}
		if p.Reference == "" {
			p.Reference = ref.Filename
		}
	}
	if p.Prompt == "" {
		p.Prompt = pre.Text
	}

	if pre.DeepThink {
		outcome, err := a.DeepThink(ctx, p)
		if err != nil {
			return "", err
		}
		reply := fmt.Sprintf("Deep think mode complete: %s.", outcome.Reason)
		if outcome.FinalArtifact != "" {
			reply += " Final content: " + outcome.FinalArtifact
		}
		a.Remember("assistant: " + reply)
		return reply, nil
	}

	out, err := a.Create(ctx, p)
	if err != nil {
		return "", err
	}
	reply := "Image generated successfully! " + out.Message
	a.Remember("assistant: " + reply)
	return reply, nil
}
