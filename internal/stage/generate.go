package stage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"atelier/internal/artifact"
	"atelier/internal/ledger"
	"atelier/internal/llm"
	"atelier/internal/session"
)

// DefaultAssetName is used when the user gives no asset name and none can
// be inferred from the artifact being edited.
const DefaultAssetName = "marketing_post"

const promptRewrite = `Rewrite the following prompt to be more descriptive and creative for an image generation model, adding relevant creative details: %s
**Important:** Output your prompt as a single paragraph.`

type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// GenerateIn describes one generation or edit operation.
type GenerateIn struct {
	Mode        Mode
	Prompt      string // description (create) or edit instruction (edit)
	AssetName   string
	AspectRatio string // create only
	TextOverlay string // create only

	// ArtifactFilename names the artifact to edit. Required for ModeEdit.
	ArtifactFilename string

	// ReferenceFilename optionally names an uploaded reference image, or
	// session.LatestReferenceToken for the most recent upload.
	ReferenceFilename string

	// Feedback carries the previous review verdict as edit guidance.
	Feedback *session.ContentReview
}

// GenerateOut reports one successfully persisted artifact version.
type GenerateOut struct {
	AssetName string
	Version   int
	Filename  string
	Message   string
}

// Generation produces or edits one image artifact per call. The ledger is
// only advanced after the store confirms the write, so failed calls leave
// version counters untouched.
type Generation struct {
	Text    llm.TextClient
	Image   llm.ImageClient
	Store   artifact.Store
	Ledger  *ledger.Ledger
	Session *session.State
}

func (g *Generation) Run(ctx context.Context, in GenerateIn) (GenerateOut, error) {
	switch in.Mode {
	case ModeCreate:
		return g.create(ctx, in)
	case ModeEdit:
		return g.edit(ctx, in)
	default:
		return GenerateOut{}, fmt.Errorf("stage: unknown generation mode %q", in.Mode)
	}
}

func (g *Generation) create(ctx context.Context, in GenerateIn) (GenerateOut, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return GenerateOut{}, fmt.Errorf("stage: create requires a description")
	}
	asset := strings.TrimSpace(in.AssetName)
	if asset == "" {
		asset = DefaultAssetName
	}

	guide, guideName, err := g.loadReference(ctx, in.ReferenceFilename)
	if err != nil {
		return GenerateOut{}, err
	}

	rewriteReq := fmt.Sprintf(promptRewrite, in.Prompt)
	if in.TextOverlay != "" {
		rewriteReq += fmt.Sprintf(" The image should have the following text overlayed on it: %q.", in.TextOverlay)
	}
	if in.AspectRatio != "" {
		rewriteReq += fmt.Sprintf(" The image should be of aspect ratio %s.", in.AspectRatio)
	}
	if guide != nil {
		rewriteReq += " Use the provided reference image as inspiration for style, composition, or visual elements."
	}
	if in.Feedback != nil {
		rewriteReq += " Address this feedback from the previous draft: " + formatFeedback(in.Feedback)
	}

	prompt, err := g.Text.GenerateText(ctx, rewriteReq)
	if err != nil {
		return GenerateOut{}, fmt.Errorf("stage: rewrite prompt: %w", err)
	}
	log.Printf("stage: rewritten prompt for %s: %d bytes", asset, len(prompt))

	result, err := g.Image.Generate(ctx, llm.ImageRequest{Prompt: prompt, Guide: guide})
	if err != nil {
		if guideName != "" && errors.Is(err, llm.ErrNoImage) {
			log.Printf("stage: no image produced despite reference %s", guideName)
		}
		return GenerateOut{}, fmt.Errorf("stage: generate image: %w", err)
	}

	return g.persist(ctx, asset, result)
}

func (g *Generation) edit(ctx context.Context, in GenerateIn) (GenerateOut, error) {
	filename := strings.TrimSpace(in.ArtifactFilename)
	if filename == "" {
		return GenerateOut{}, fmt.Errorf("stage: edit requires an artifact filename")
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return GenerateOut{}, fmt.Errorf("stage: edit requires an instruction")
	}

	base, err := g.Store.Load(ctx, filename)
	if err != nil {
		return GenerateOut{}, fmt.Errorf("stage: load artifact %q: %w", filename, err)
	}

	guide, _, err := g.loadReference(ctx, in.ReferenceFilename)
	if err != nil {
		return GenerateOut{}, err
	}

	asset := g.resolveAssetName(in.AssetName, filename)

	instruction := in.Prompt
	if in.Feedback != nil {
		instruction += "\n\nAddress this review feedback: " + formatFeedback(in.Feedback)
	}

	result, err := g.Image.Generate(ctx, llm.ImageRequest{
		Prompt: instruction,
		Base:   &llm.Image{MIME: base.MIME, Data: base.Data},
		Guide:  guide,
	})
	if err != nil {
		return GenerateOut{}, fmt.Errorf("stage: edit image: %w", err)
	}

	return g.persist(ctx, asset, result)
}

// persist writes the image to the store, then records the version and
// updates the session pointers. Order matters: a store failure must leave
// the ledger and pointers unchanged.
func (g *Generation) persist(ctx context.Context, asset string, result llm.ImageResult) (GenerateOut, error) {
	version := g.Ledger.NextVersion(asset)
	filename := ledger.Filename(asset, version)

	mime := result.Image.MIME
	if mime == "" {
		mime = "image/png"
	}
	if _, err := g.Store.Save(ctx, filename, artifact.Blob{MIME: mime, Data: result.Image.Data}); err != nil {
		return GenerateOut{}, fmt.Errorf("stage: save artifact %q: %w", filename, err)
	}
	if err := g.Ledger.Record(asset, version, filename); err != nil {
		return GenerateOut{}, err
	}
	g.Session.SetLastGenerated(filename, asset)
	log.Printf("stage: saved %s (version %d of %s)", filename, version, asset)

	return GenerateOut{
		AssetName: asset,
		Version:   version,
		Filename:  filename,
		Message:   fmt.Sprintf("Saved as %s (version %d of %s)", filename, version, asset),
	}, nil
}

// loadReference resolves and loads the requested reference image. An
// explicitly requested reference that cannot be found is a failure; an
// empty request is not.
func (g *Generation) loadReference(ctx context.Context, name string) (*llm.Image, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", nil
	}
	resolved, ok := g.Session.ResolveReference(name)
	if !ok {
		return nil, "", fmt.Errorf("stage: reference image %q: %w", name, artifact.ErrNotFound)
	}
	blob, err := g.Store.Load(ctx, resolved)
	if err != nil {
		return nil, "", fmt.Errorf("stage: load reference image %q: %w", resolved, err)
	}
	return &llm.Image{MIME: blob.MIME, Data: blob.Data}, resolved, nil
}

// resolveAssetName picks the asset for an edit: explicit name, then the
// session's current asset, then the {asset}_v{n} filename pattern.
func (g *Generation) resolveAssetName(explicit, filename string) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	if _, current := g.Session.LastGenerated(); current != "" {
		return current
	}
	if idx := strings.LastIndex(filename, "_v"); idx > 0 {
		return filename[:idx]
	}
	return DefaultAssetName
}

func formatFeedback(r *session.ContentReview) string {
	var parts []string
	if len(r.SpecificIssues) > 0 {
		parts = append(parts, "Issues: "+strings.Join(r.SpecificIssues, "; "))
	}
	if len(r.ImprovementSuggestions) > 0 {
		parts = append(parts, "Suggestions: "+strings.Join(r.ImprovementSuggestions, "; "))
	}
	if len(parts) == 0 {
		return "No specific issues were listed."
	}
	return strings.Join(parts, " ")
}
