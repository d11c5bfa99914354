package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"helppages/api/internal/markdown"
	"helppages/api/internal/navtree"
	"helppages/api/internal/store"
)

type Service struct {
	pdf PDFRenderer
	now func() time.Time
}

// NewService creates an export service. A nil pdf renderer disables PDF
// output.
func NewService(pdf PDFRenderer) *Service {
	return &Service{pdf: pdf, now: time.Now}
}

// Page exports a single page.
func (s *Service) Page(ctx context.Context, p Page, format Format) (*Result, error) {
	name := p.Slug
	if name == "" {
		name = sanitizeFilename(p.Title)
	}

	switch format {
	case FormatMarkdown, "":
		data, err := pageMarkdown(p)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: name + ".md", MimeType: "text/markdown; charset=utf-8"}, nil
	case FormatHTML:
		html, err := RenderPageHTML(p)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return &Result{Data: []byte(html), Filename: name + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		if s.pdf == nil {
			return nil, ErrPDFDependencyMissing
		}
		html, err := RenderPageHTML(p)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: name + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func pageMarkdown(p Page) ([]byte, error) {
	meta := markdown.FrontMatter{Title: p.Title, Slug: p.Slug, Status: p.Status}
	if !p.UpdatedAt.IsZero() {
		meta.UpdatedAt = p.UpdatedAt.UTC()
	}
	return markdown.Export(meta, p.Content)
}

// DocArchive writes a zip holding SUMMARY.md, nav.json and pages/<slug>.md
// for every page of the doc.
func (s *Service) DocArchive(doc Doc) (*Result, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	modified := s.now().UTC()

	write := func(name string, data []byte) error {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return fmt.Errorf("zip %s: %w", name, err)
		}
		_, err = w.Write(data)
		return err
	}

	if err := write("SUMMARY.md", []byte(Summary(doc))); err != nil {
		return nil, err
	}
	nav, err := json.MarshalIndent(doc.Nav, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode nav: %w", err)
	}
	if err := write("nav.json", append(nav, '\n')); err != nil {
		return nil, err
	}

	pages := append([]Page(nil), doc.Pages...)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Slug < pages[j].Slug })
	for _, p := range pages {
		data, err := pageMarkdown(p)
		if err != nil {
			return nil, err
		}
		if err := write("pages/"+p.Slug+".md", data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	name := doc.Slug
	if name == "" {
		name = sanitizeFilename(doc.Name)
	}
	return &Result{Data: buf.Bytes(), Filename: name + ".zip", MimeType: "application/zip"}, nil
}

// Summary renders the nav tree as a nested markdown list. Pages that no nav
// item references are listed at the end.
func Summary(doc Doc) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Name)

	listed := map[string]bool{}
	var items func([]*navtree.Item, int)
	items = func(list []*navtree.Item, depth int) {
		for _, it := range list {
			indent := strings.Repeat("  ", depth)
			switch {
			case it.Kind == store.NavItemLink:
				fmt.Fprintf(&b, "%s- [%s](%s)\n", indent, it.Label, it.URL)
			case it.PageID != nil && doc.PageSlugs[*it.PageID] != "":
				slug := doc.PageSlugs[*it.PageID]
				listed[slug] = true
				fmt.Fprintf(&b, "%s- [%s](pages/%s.md)\n", indent, it.Label, slug)
			default:
				fmt.Fprintf(&b, "%s- %s\n", indent, it.Label)
			}
			items(it.Children, depth+1)
		}
	}
	var sections func([]*navtree.Section, int)
	sections = func(list []*navtree.Section, depth int) {
		for _, s := range list {
			fmt.Fprintf(&b, "%s- **%s**\n", strings.Repeat("  ", depth), s.Title)
			items(s.Items, depth+1)
			sections(s.Children, depth+1)
		}
	}

	items(doc.Nav.Items, 0)
	sections(doc.Nav.Sections, 0)

	var rest []Page
	for _, p := range doc.Pages {
		if !listed[p.Slug] {
			rest = append(rest, p)
		}
	}
	if len(rest) > 0 {
		sort.SliceStable(rest, func(i, j int) bool { return rest[i].Title < rest[j].Title })
		b.WriteString("\n## Other pages\n\n")
		for _, p := range rest {
			fmt.Fprintf(&b, "- [%s](pages/%s.md)\n", p.Title, p.Slug)
		}
	}
	return b.String()
}
