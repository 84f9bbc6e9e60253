package lectures

import (
	"testing"
	"time"
)

func TestValidTurnCount(t *testing.T) {
	cases := map[int]bool{0: true, 1: true, 2: false, 3: true, 4: false, 5: true}
	for n, want := range cases {
		if got := ValidTurnCount(n); got != want {
			t.Fatalf("ValidTurnCount(%d): want %v, got %v", n, want, got)
		}
	}
}

func TestTurnsRoundTrip(t *testing.T) {
	s := &Slide{Content: EncodeTurns([]string{"summary", "q", "a"})}
	if got := s.Summary(); got != "summary" {
		t.Fatalf("Summary: got %q", got)
	}
	if got := len(s.Turns()); got != 3 {
		t.Fatalf("Turns: want 3, got %d", got)
	}
	empty := &Slide{Content: EncodeTurns(nil)}
	if empty.Summary() != "" || string(empty.Content) != "[]" {
		t.Fatalf("empty slide should decode to no turns with [] content")
	}
}

func TestClaimActive(t *testing.T) {
	now := time.Now()
	processing, ready := GenerateProcessing, GenerateReady
	cases := []struct {
		name   string
		slide  Slide
		active bool
	}{
		{"fresh claim", Slide{GenerateStatus: &processing, UpdatedAt: now.Add(-time.Minute)}, true},
		{"stale claim", Slide{GenerateStatus: &processing, UpdatedAt: now.Add(-time.Hour)}, false},
		{"not claimed", Slide{UpdatedAt: now}, false},
		{"ready", Slide{GenerateStatus: &ready, UpdatedAt: now}, false},
	}
	for _, tc := range cases {
		if got := tc.slide.ClaimActive(DefaultClaimTTL, now); got != tc.active {
			t.Fatalf("%s: ClaimActive=%v want %v", tc.name, got, tc.active)
		}
	}
}
