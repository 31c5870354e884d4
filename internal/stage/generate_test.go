package stage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"atelier/internal/artifact"
	"atelier/internal/ledger"
	"atelier/internal/llm"
	"atelier/internal/session"
)

func newGeneration(text *llm.FakeText, image *llm.FakeImage, store artifact.Store) (*Generation, *ledger.Ledger, *session.State) {
	led := ledger.New()
	st := session.NewState()
	return &Generation{Text: text, Image: image, Store: store, Ledger: led, Session: st}, led, st
}

func pngResult(data string) llm.ImageResult {
	return llm.ImageResult{Image: llm.Image{MIME: "image/png", Data: []byte(data)}}
}

func TestGenerationCreate(t *testing.T) {
	text := &llm.FakeText{TextResponses: []string{"a vivid red poster, studio lighting"}}
	image := &llm.FakeImage{Results: []llm.ImageResult{pngResult("img")}}
	gen, led, st := newGeneration(text, image, artifact.NewMemoryStore())

	out, err := gen.Run(context.Background(), GenerateIn{
		Mode:      ModeCreate,
		Prompt:    "a red poster",
		AssetName: "poster",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Filename != "poster_v1.png" || out.Version != 1 {
		t.Fatalf("unexpected out: %+v", out)
	}
	if led.CurrentVersion("poster") != 1 {
		t.Fatalf("ledger not advanced: %d", led.CurrentVersion("poster"))
	}
	filename, asset := st.LastGenerated()
	if filename != "poster_v1.png" || asset != "poster" {
		t.Fatalf("session pointers not updated: %s %s", filename, asset)
	}
	if len(image.Requests) != 1 || image.Requests[0].Base != nil {
		t.Fatalf("create must not send a base image: %+v", image.Requests)
	}
}

func TestGenerationCreateDefaultAssetName(t *testing.T) {
	text := &llm.FakeText{TextResponses: []string{"rewritten"}}
	image := &llm.FakeImage{Results: []llm.ImageResult{pngResult("img")}}
	gen, _, _ := newGeneration(text, image, artifact.NewMemoryStore())

	out, err := gen.Run(context.Background(), GenerateIn{Mode: ModeCreate, Prompt: "something"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.AssetName != DefaultAssetName {
		t.Fatalf("expected default asset name, got %q", out.AssetName)
	}
}

func TestGenerationNoImageLeavesStateUntouched(t *testing.T) {
	text := &llm.FakeText{TextResponses: []string{"rewritten"}}
	image := &llm.FakeImage{} // no queued results: ErrNoImage
	gen, led, st := newGeneration(text, image, artifact.NewMemoryStore())

	_, err := gen.Run(context.Background(), GenerateIn{Mode: ModeCreate, Prompt: "x", AssetName: "poster"})
	if !errors.Is(err, llm.ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if led.CurrentVersion("poster") != 0 {
		t.Fatal("ledger advanced on a failed generation")
	}
	if filename, _ := st.LastGenerated(); filename != "" {
		t.Fatalf("last-generated pointer moved on failure: %s", filename)
	}
}

func TestGenerationEditUsesBaseImage(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	if _, err := store.Save(ctx, "poster_v1.png", artifact.Blob{MIME: "image/png", Data: []byte("v1")}); err != nil {
		t.Fatal(err)
	}
	text := &llm.FakeText{}
	image := &llm.FakeImage{Results: []llm.ImageResult{pngResult("v2")}}
	gen, led, st := newGeneration(text, image, store)
	st.SetLastGenerated("poster_v1.png", "poster")
	if err := led.Record("poster", 1, "poster_v1.png"); err != nil {
		t.Fatal(err)
	}

	out, err := gen.Run(ctx, GenerateIn{
		Mode:             ModeEdit,
		Prompt:           "make the background darker",
		ArtifactFilename: "poster_v1.png",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Filename != "poster_v2.png" || out.Version != 2 {
		t.Fatalf("unexpected out: %+v", out)
	}
	if len(image.Requests) != 1 || image.Requests[0].Base == nil {
		t.Fatal("edit must send the base image")
	}
	if string(image.Requests[0].Base.Data) != "v1" {
		t.Fatalf("wrong base image: %q", image.Requests[0].Base.Data)
	}
}

func TestGenerationEditMissingArtifact(t *testing.T) {
	text := &llm.FakeText{}
	image := &llm.FakeImage{Results: []llm.ImageResult{pngResult("x")}}
	gen, _, _ := newGeneration(text, image, artifact.NewMemoryStore())

	_, err := gen.Run(context.Background(), GenerateIn{
		Mode:             ModeEdit,
		Prompt:           "darker",
		ArtifactFilename: "ghost_v1.png",
	})
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(image.Requests) != 0 {
		t.Fatal("image model called despite missing artifact")
	}
}

func TestGenerationEditInfersAssetFromFilename(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	if _, err := store.Save(ctx, "banner_v2.png", artifact.Blob{Data: []byte("b")}); err != nil {
		t.Fatal(err)
	}
	text := &llm.FakeText{}
	image := &llm.FakeImage{Results: []llm.ImageResult{pngResult("b2")}}
	gen, _, _ := newGeneration(text, image, store)

	out, err := gen.Run(ctx, GenerateIn{Mode: ModeEdit, Prompt: "tweak", ArtifactFilename: "banner_v2.png"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.AssetName != "banner" {
		t.Fatalf("expected inferred asset %q, got %q", "banner", out.AssetName)
	}
}

func TestGenerationReferenceImage(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	text := &llm.FakeText{TextResponses: []string{"rewritten"}}
	image := &llm.FakeImage{Results: []llm.ImageResult{pngResult("out")}}
	gen, _, st := newGeneration(text, image, store)

	ref := st.AddReferenceImage([]byte("style"))
	if _, err := store.Save(ctx, ref.Filename, artifact.Blob{MIME: "image/png", Data: []byte("style")}); err != nil {
		t.Fatal(err)
	}

	_, err := gen.Run(ctx, GenerateIn{Mode: ModeCreate, Prompt: "x", ReferenceFilename: "latest"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if image.Requests[0].Guide == nil || string(image.Requests[0].Guide.Data) != "style" {
		t.Fatal("reference image not passed as guide")
	}
}

func TestGenerationReferenceImageMissing(t *testing.T) {
	text := &llm.FakeText{TextResponses: []string{"rewritten"}}
	image := &llm.FakeImage{Results: []llm.ImageResult{pngResult("out")}}
	gen, _, _ := newGeneration(text, image, artifact.NewMemoryStore())

	_, err := gen.Run(context.Background(), GenerateIn{Mode: ModeCreate, Prompt: "x", ReferenceFilename: "reference_dead.png"})
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// failWriteStore rejects every save.
type failWriteStore struct{ artifact.Store }

func (f *failWriteStore) Save(ctx context.Context, name string, blob artifact.Blob) (int, error) {
	return 0, fmt.Errorf("disk full")
}

func TestGenerationStoreFailureDoesNotAdvanceLedger(t *testing.T) {
	text := &llm.FakeText{TextResponses: []string{"rewritten"}}
	image := &llm.FakeImage{Results: []llm.ImageResult{pngResult("img")}}
	store := &failWriteStore{Store: artifact.NewMemoryStore()}
	gen, led, st := newGeneration(text, image, store)

	_, err := gen.Run(context.Background(), GenerateIn{Mode: ModeCreate, Prompt: "x", AssetName: "poster"})
	if err == nil {
		t.Fatal("expected save failure")
	}
	if led.CurrentVersion("poster") != 0 {
		t.Fatal("ledger advanced despite store write failure")
	}
	if filename, _ := st.LastGenerated(); filename != "" {
		t.Fatal("session pointer moved despite store write failure")
	}
}
