// Package session holds the per-conversation mutable state. Each session is
// owned by exactly one goroutine.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LatestReferenceToken resolves to the most recently uploaded reference image.
const LatestReferenceToken = "latest"

// ContentReview is the structured verdict produced by the review stage each
// deep-think iteration. Immutable once produced.
type ContentReview struct {
	AdheresToRequest       bool     `json:"adheres_to_request"`
	VisualAppeal           bool     `json:"visual_appeal"`
	NoObviousIssues        bool     `json:"no_obvious_issues"`
	NoTypos                bool     `json:"no_typos"`
	FeedbackAddressed      bool     `json:"feedback_addressed"`
	SpecificIssues         []string `json:"specific_issues"`
	ImprovementSuggestions []string `json:"improvement_suggestions"`
}

// AllSatisfied reports whether every review criterion passed.
func (r ContentReview) AllSatisfied() bool {
	return r.AdheresToRequest && r.VisualAppeal && r.NoObviousIssues && r.NoTypos && r.FeedbackAddressed
}

// LoopDecision is the continue/stop verdict from the loop-control stage.
type LoopDecision struct {
	ShouldContinue bool   `json:"should_continue"`
	Reason         string `json:"reason"`
}

// ReferenceImage is an uploaded image tracked by the session. Identity is
// the content hash, so re-uploading the same bytes is idempotent.
type ReferenceImage struct {
	Filename string
	Ordinal  int
	Hash     string
}

// State is the session-scoped mutable state. Deep-think fields are reset to
// their zero values whenever a loop invocation terminates.
type State struct {
	mu sync.Mutex

	ID uuid.UUID

	DeepThinkMode      bool
	DeepThinkIteration int
	OriginalPrompt     string
	ContentReview      *ContentReview
	LoopDecision       *LoopDecision

	LastGeneratedImage string
	CurrentAssetName   string

	refOrder  []ReferenceImage
	refByName map[string]ReferenceImage
	latestRef string
}

func NewState() *State {
	return &State{
		ID:        uuid.New(),
		refByName: make(map[string]ReferenceImage),
	}
}

// BeginDeepThink marks the session as inside a deep-think invocation and
// captures the original request.
func (s *State) BeginDeepThink(originalPrompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeepThinkMode = true
	s.DeepThinkIteration = 0
	s.OriginalPrompt = originalPrompt
	s.ContentReview = nil
	s.LoopDecision = nil
}

// ResetDeepThink clears every deep-think-scoped field so a later invocation
// starts clean. Asset pointers and reference images survive the reset.
func (s *State) ResetDeepThink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeepThinkMode = false
	s.DeepThinkIteration = 0
	s.OriginalPrompt = ""
	s.ContentReview = nil
	s.LoopDecision = nil
}

// NextIteration increments and returns the deep-think iteration counter.
func (s *State) NextIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeepThinkIteration++
	return s.DeepThinkIteration
}

func (s *State) Iteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DeepThinkIteration
}

func (s *State) SetReview(r *ContentReview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ContentReview = r
}

func (s *State) Review() *ContentReview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ContentReview
}

func (s *State) SetDecision(d *LoopDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoopDecision = d
}

func (s *State) Decision() *LoopDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LoopDecision
}

func (s *State) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OriginalPrompt
}

func (s *State) SetPrompt(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OriginalPrompt = p
}

// SetLastGenerated records the most recent artifact pointers. Only called
// after a confirmed save.
func (s *State) SetLastGenerated(filename, assetName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastGeneratedImage = filename
	s.CurrentAssetName = assetName
}

func (s *State) LastGenerated() (filename, assetName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastGeneratedImage, s.CurrentAssetName
}

// AddReferenceImage registers an upload keyed by content hash and returns
// its filename. Re-uploading identical bytes returns the existing entry but
// still moves the latest pointer.
func (s *State) AddReferenceImage(data []byte) ReferenceImage {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])[:8]
	filename := fmt.Sprintf("reference_%s.png", hash)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.refByName[filename]; ok {
		s.latestRef = filename
		return existing
	}
	ref := ReferenceImage{
		Filename: filename,
		Ordinal:  len(s.refOrder) + 1,
		Hash:     hash,
	}
	s.refOrder = append(s.refOrder, ref)
	s.refByName[filename] = ref
	s.latestRef = filename
	return ref
}

// ResolveReference maps a user-supplied reference name (or the "latest"
// token) to a stored reference filename. ok is false when nothing matches.
func (s *State) ResolveReference(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if strings.EqualFold(name, LatestReferenceToken) {
		if s.latestRef == "" {
			return "", false
		}
		return s.latestRef, true
	}
	if _, ok := s.refByName[name]; ok {
		return name, true
	}
	return "", false
}

// ReferenceImages returns uploads in upload order.
func (s *State) ReferenceImages() []ReferenceImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ReferenceImage(nil), s.refOrder...)
}
