package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// FakeText is a scripted TextClient for tests. Each call pops the next
// queued response.
type FakeText struct {
	JSONResponses []json.RawMessage
	TextResponses []string
	Err           error

	JSONCalls []string
	TextCalls []string
}

func (f *FakeText) Name() string { return "fake-text" }
func (f *FakeText) Close() error { return nil }

func (f *FakeText) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	f.JSONCalls = append(f.JSONCalls, prompt)
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.JSONResponses) == 0 {
		return nil, fmt.Errorf("fake-text: no queued JSON response")
	}
	out := f.JSONResponses[0]
	f.JSONResponses = f.JSONResponses[1:]
	return out, nil
}

func (f *FakeText) GenerateJSONImage(ctx context.Context, prompt string, image Image) (json.RawMessage, error) {
	return f.GenerateJSON(ctx, prompt, nil)
}

func (f *FakeText) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.TextCalls = append(f.TextCalls, prompt)
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.TextResponses) == 0 {
		return "", fmt.Errorf("fake-text: no queued text response")
	}
	out := f.TextResponses[0]
	f.TextResponses = f.TextResponses[1:]
	return out, nil
}

// FakeImage is a scripted ImageClient for tests.
type FakeImage struct {
	Results []ImageResult
	Err     error

	Requests []ImageRequest
}

func (f *FakeImage) Name() string { return "fake-image" }
func (f *FakeImage) Close() error { return nil }

func (f *FakeImage) Generate(ctx context.Context, req ImageRequest) (ImageResult, error) {
	f.Requests = append(f.Requests, req)
	if f.Err != nil {
		return ImageResult{}, f.Err
	}
	if len(f.Results) == 0 {
		return ImageResult{}, ErrNoImage
	}
	out := f.Results[0]
	f.Results = f.Results[1:]
	return out, nil
}
