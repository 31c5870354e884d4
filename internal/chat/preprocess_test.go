package chat

import (
	"testing"

	"atelier/internal/llm"
)

func TestPreprocessDetectsDeepThink(t *testing.T) {
	cases := []struct {
		in        string
		want      string
		deepThink bool
	}{
		{"create a red poster, deep think", "create a red poster,", true},
		{"Deep Think about a summer banner", "about a summer banner", true},
		{"DEEP   THINK logo refresh", "logo refresh", true},
		{"create a red poster", "create a red poster", false},
		{"I'm deeply thinking", "I'm deeply thinking", false},
	}
	for _, tc := range cases {
		got := Preprocess(Message{Text: tc.in})
		if got.DeepThink != tc.deepThink {
			t.Fatalf("%q: deepThink = %v, want %v", tc.in, got.DeepThink, tc.deepThink)
		}
		if got.Text != tc.want {
			t.Fatalf("%q: cleaned = %q, want %q", tc.in, got.Text, tc.want)
		}
	}
}

func TestPreprocessPassesImageThrough(t *testing.T) {
	img := &llm.Image{MIME: "image/png", Data: []byte("x")}
	got := Preprocess(Message{Text: "use this style, deep think", Image: img})
	if got.Image != img {
		t.Fatal("image not passed through")
	}
	if !got.DeepThink {
		t.Fatal("deep think not detected alongside upload")
	}
}
