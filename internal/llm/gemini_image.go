package llm

import (
	"context"
	"log"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiImage wraps the genai streaming API for image generation and
// editing. The model emits a mixed stream of text and inline-image chunks;
// the first image-bearing chunk wins.
type GeminiImage struct {
	cli   *genai.Client
	model string
}

func NewGeminiImage(ctx context.Context, model string) (*GeminiImage, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GeminiImage{cli: cli, model: model}, nil
}

func (g *GeminiImage) Name() string { return "Gemini:" + g.model }
func (g *GeminiImage) Close() error { return nil }

func (g *GeminiImage) Generate(ctx context.Context, req ImageRequest) (ImageResult, error) {
	parts := make([]*genai.Part, 0, 3)
	if req.Base != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.Base.MIME, Data: req.Base.Data}})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})
	if req.Guide != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.Guide.MIME, Data: req.Guide.Data}})
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	var text strings.Builder
	for chunk, err := range g.cli.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
		if err != nil {
			return ImageResult{}, err
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil || len(chunk.Candidates[0].Content.Parts) == 0 {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return ImageResult{
					Image: Image{MIME: part.InlineData.MIMEType, Data: part.InlineData.Data},
					Text:  strings.TrimSpace(text.String()),
				}, nil
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
	}
	log.Printf("llm: stream from %s ended without an image chunk", g.model)
	return ImageResult{Text: strings.TrimSpace(text.String())}, ErrNoImage
}
