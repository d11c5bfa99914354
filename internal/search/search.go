package search

import (
	"html"
	"strings"
)

// Both backends wrap matches in these private-use runes so the snippet can be
// escaped before the markers become <mark> tags.
const (
	markOpen  = "\uE000"
	markClose = "\uE001"
)

var markTags = strings.NewReplacer(markOpen, "<mark>", markClose, "</mark>")

// markSnippet escapes page text for HTML and turns match markers into <mark>.
func markSnippet(s string) string {
	return markTags.Replace(html.EscapeString(s))
}

// Result is a single page hit returned to the caller. Snippet is HTML with
// matches wrapped in <mark>; every other field is plain text.
type Result struct {
	PageID  string `json:"pageId"`
	DocID   string `json:"docId"`
	DocSlug string `json:"docSlug"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Status  string `json:"status"`
}

// Query describes a search request. Hits are restricted to DocIDs unless
// AllDocs is set. PublishedOnly matches published pages against their
// published title and content instead of the draft.
type Query struct {
	Text          string
	DocIDs        []string
	AllDocs       bool
	PublishedOnly bool
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoints.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// PageRecord is the data we index for a page.
type PageRecord struct {
	ID               string `json:"id"`
	DocID            string `json:"docId"`
	DocSlug          string `json:"docSlug"`
	Slug             string `json:"slug"`
	Title            string `json:"title"`
	Content          string `json:"content"`
	Status           string `json:"status"`
	PublishedTitle   string `json:"publishedTitle"`
	PublishedContent string `json:"publishedContent"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// scoped reports whether q can match anything at all.
func (q Query) scoped() bool {
	return q.AllDocs || len(q.DocIDs) > 0
}
