// Package autosave decides when a draft save becomes a revision and
// coalesces follow-up work triggered by bursts of saves.
package autosave

import (
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Outcome string

const (
	// Unchanged means nothing is written.
	Unchanged Outcome = "unchanged"
	// Save updates the draft without recording a revision.
	Save Outcome = "saved"
	// Revision updates the draft and records an autosave revision.
	Revision Outcome = "revision"
)

// ChangeRatio is the character-level edit distance between prev and next
// divided by the longer of the two, so 0 means identical and 1 means fully
// rewritten.
func ChangeRatio(prev, next string) float64 {
	if prev == next {
		return 0
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(prev, next, false)
	distance := dmp.DiffLevenshtein(diffs)

	longest := utf8.RuneCountInString(prev)
	if n := utf8.RuneCountInString(next); n > longest {
		longest = n
	}
	if longest == 0 {
		longest = 1
	}
	ratio := float64(distance) / float64(longest)
	if ratio > 1 {
		return 1
	}
	return ratio
}

// Snapshot is the state an autosave is compared against.
type Snapshot struct {
	Title     string
	Content   string
	CreatedAt time.Time
}

// Policy turns an autosave into an Outcome.
type Policy struct {
	MinChangeRatio float64
	MaxInterval    time.Duration
}

// Decision is the outcome plus the ratio that led to it.
type Decision struct {
	Outcome Outcome
	Ratio   float64
}

// Decide compares the incoming title and content with the current draft and
// the last revision. last is nil when the page has no revision yet.
func (p Policy) Decide(draft Snapshot, last *Snapshot, title, content string, now time.Time) Decision {
	if title == draft.Title && content == draft.Content {
		return Decision{Outcome: Unchanged}
	}
	if last == nil {
		return Decision{Outcome: Revision, Ratio: 1}
	}
	ratio := ChangeRatio(last.Content, content)
	if title != last.Title {
		return Decision{Outcome: Revision, Ratio: ratio}
	}
	if ratio >= p.MinChangeRatio && ratio > 0 {
		return Decision{Outcome: Revision, Ratio: ratio}
	}
	if p.MaxInterval > 0 && now.Sub(last.CreatedAt) >= p.MaxInterval {
		return Decision{Outcome: Revision, Ratio: ratio}
	}
	return Decision{Outcome: Save, Ratio: ratio}
}
