package llm

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrInvalidJSON = errors.New("llm: invalid JSON from model")
	ErrEmptyText   = errors.New("llm: empty text from model")
	ErrNoImage     = errors.New("llm: no image returned by model")
)

// TextClient produces model output for the review, loop-control and
// prompt-capture stages.
type TextClient interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	// GenerateJSONImage grounds the JSON response in an inline image.
	GenerateJSONImage(ctx context.Context, prompt string, image Image) (json.RawMessage, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
	Close() error
}

// Image is inline binary image content with its MIME type.
type Image struct {
	MIME string
	Data []byte
}

// ImageRequest describes one generation or edit call to the image model.
// Base is the artifact being edited (nil for fresh generation). Guide is an
// optional reference image steering style or composition.
type ImageRequest struct {
	Prompt string
	Base   *Image
	Guide  *Image
}

// ImageResult carries the produced image plus any interleaved text chunks
// the model emitted alongside it.
type ImageResult struct {
	Image Image
	Text  string
}

// ImageClient invokes the image model. Implementations return ErrNoImage
// when the response stream contains no image-bearing chunk; that outcome is
// valid at the API level but is never treated as success by callers.
type ImageClient interface {
	Name() string
	Generate(ctx context.Context, req ImageRequest) (ImageResult, error)
	Close() error
}
