package autosave

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestChangeRatio(t *testing.T) {
	cases := []struct {
		name string
		prev string
		next string
		want float64
	}{
		{name: "identical", prev: "hello", next: "hello", want: 0},
		{name: "both empty", prev: "", next: "", want: 0},
		{name: "from empty", prev: "", next: "abcd", want: 1},
		{name: "to empty", prev: "abcd", next: "", want: 1},
		{name: "one of ten", prev: "abcdefghij", next: "abcdefghiX", want: 0.1},
		{name: "append half", prev: "abcd", next: "abcdefgh", want: 0.5},
		{name: "multibyte", prev: "héllo", next: "hallo", want: 0.2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ChangeRatio(tc.prev, tc.next)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("ChangeRatio(%q, %q) = %v, want %v", tc.prev, tc.next, got, tc.want)
			}
		})
	}
}

func TestPolicyDecide(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := strings.Repeat("a", 100)
	policy := Policy{MinChangeRatio: 0.2, MaxInterval: 10 * time.Minute}

	recent := &Snapshot{Title: "Intro", Content: base, CreatedAt: now.Add(-time.Minute)}
	stale := &Snapshot{Title: "Intro", Content: base, CreatedAt: now.Add(-11 * time.Minute)}
	draft := Snapshot{Title: "Intro", Content: base + "b"}

	cases := []struct {
		name    string
		last    *Snapshot
		title   string
		content string
		want    Outcome
	}{
		{name: "unchanged draft", last: recent, title: draft.Title, content: draft.Content, want: Unchanged},
		{name: "no previous revision", last: nil, title: "Intro", content: base + "c", want: Revision},
		{name: "title changed", last: recent, title: "Introduction", content: draft.Content, want: Revision},
		{name: "small edit", last: recent, title: "Intro", content: base + "cc", want: Save},
		{name: "large edit", last: recent, title: "Intro", content: base + strings.Repeat("z", 30), want: Revision},
		{name: "small edit after interval", last: stale, title: "Intro", content: base + "cc", want: Revision},
		{name: "back to last revision after interval", last: stale, title: "Intro", content: base, want: Revision},
		{name: "back to last revision", last: recent, title: "Intro", content: base, want: Save},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.Decide(draft, tc.last, tc.title, tc.content, now)
			if got.Outcome != tc.want {
				t.Fatalf("Decide() = %+v, want %s", got, tc.want)
			}
		})
	}
}

func TestPolicyZeroThresholdStillSkipsIdenticalRevision(t *testing.T) {
	now := time.Now()
	policy := Policy{}
	last := &Snapshot{Title: "T", Content: "same", CreatedAt: now}
	got := policy.Decide(Snapshot{Title: "T", Content: "draft"}, last, "T", "same", now)
	if got.Outcome != Save {
		t.Fatalf("Decide() = %+v, want saved", got)
	}
}
