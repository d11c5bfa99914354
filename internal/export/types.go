// Package export turns pages into markdown, standalone HTML or PDF files and
// whole docs into zip archives.
package export

import (
	"errors"
	"time"

	"helppages/api/internal/navtree"
)

// Format represents the export output format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
	FormatZip      Format = "zip"
)

// Source selects which copy of a page is exported.
type Source string

const (
	SourceDraft     Source = "draft"
	SourcePublished Source = "published"
)

// Page is the content of one page as exported.
type Page struct {
	DocName   string
	Title     string
	Slug      string
	Status    string
	Content   string
	UpdatedAt time.Time
}

// Doc is everything written to a doc archive.
type Doc struct {
	Name  string
	Slug  string
	Nav   navtree.Tree
	Pages []Page
	// PageSlugs maps page ids referenced by the nav to page slugs.
	PageSlugs map[string]string
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	ErrUnsupportedFormat    = errors.New("export format not supported")
)
