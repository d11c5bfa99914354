package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"helppages/api/internal/navtree"
	"helppages/api/internal/store"
)

func ptr(s string) *string { return &s }

func samplePage() Page {
	return Page{
		DocName:   "Acme Docs",
		Title:     "Install Guide",
		Slug:      "install",
		Status:    store.PagePublished,
		Content:   "## Requirements\n\n<script>alert(1)</script>\n\nGo 1.24",
		UpdatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPageMarkdown(t *testing.T) {
	res, err := NewService(nil).Page(context.Background(), samplePage(), FormatMarkdown)
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	body := string(res.Data)
	if res.Filename != "install.md" || !strings.HasPrefix(res.MimeType, "text/markdown") {
		t.Fatalf("unexpected result meta %q %q", res.Filename, res.MimeType)
	}
	for _, want := range []string{"title: Install Guide", "slug: install", "status: published", "## Requirements"} {
		if !strings.Contains(body, want) {
			t.Errorf("markdown missing %q:\n%s", want, body)
		}
	}
}

func TestPageHTMLIsStandaloneAndSafe(t *testing.T) {
	res, err := NewService(nil).Page(context.Background(), samplePage(), FormatHTML)
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	html := string(res.Data)
	if !strings.HasPrefix(html, "<!DOCTYPE html>") {
		t.Fatal("expected a full HTML document")
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Fatal("raw HTML from content leaked into export")
	}
	for _, want := range []string{"<title>Install Guide | Acme Docs</title>", `id="requirements"`, "Mar 1, 2026"} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestPagePDFUsesRenderer(t *testing.T) {
	var gotHTML string
	svc := NewService(func(_ context.Context, html string) ([]byte, error) {
		gotHTML = html
		return []byte("%PDF-1.7"), nil
	})
	res, err := svc.Page(context.Background(), samplePage(), FormatPDF)
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if res.MimeType != "application/pdf" || res.Filename != "install.pdf" || string(res.Data) != "%PDF-1.7" {
		t.Fatalf("unexpected pdf result %+v", res)
	}
	if !strings.Contains(gotHTML, "<h1>Install Guide</h1>") {
		t.Fatal("renderer did not receive the page HTML")
	}
}

func TestPagePDFWithoutRenderer(t *testing.T) {
	_, err := NewService(nil).Page(context.Background(), samplePage(), FormatPDF)
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("error = %v, want ErrPDFDependencyMissing", err)
	}
}

func TestPageUnsupportedFormat(t *testing.T) {
	_, err := NewService(nil).Page(context.Background(), samplePage(), Format("docx"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
}

func sampleDoc() Doc {
	sections := []store.NavSection{{ID: "sec_1", Title: "Getting started", Position: 1}}
	items := []store.NavItem{
		{ID: "it_1", SectionID: ptr("sec_1"), Kind: store.NavItemPage, Label: "Install", PageID: ptr("pg_install"), Position: 1},
		{ID: "it_2", ParentID: ptr("it_1"), SectionID: ptr("sec_1"), Kind: store.NavItemPage, Label: "Upgrade", PageID: ptr("pg_upgrade"), Position: 1},
		{ID: "it_3", Kind: store.NavItemLink, Label: "Status", URL: "https://status.example.com", Position: 1},
	}
	return Doc{
		Name: "Acme Docs",
		Slug: "acme",
		Nav:  navtree.Build(sections, items),
		Pages: []Page{
			{Title: "Upgrade", Slug: "upgrade", Content: "Upgrade steps"},
			{Title: "Install", Slug: "install", Content: "Install steps"},
			{Title: "Changelog", Slug: "changelog", Content: "v1"},
		},
		PageSlugs: map[string]string{"pg_install": "install", "pg_upgrade": "upgrade"},
	}
}

func TestSummary(t *testing.T) {
	got := Summary(sampleDoc())
	want := "# Acme Docs\n\n" +
		"- [Status](https://status.example.com)\n" +
		"- **Getting started**\n" +
		"  - [Install](pages/install.md)\n" +
		"    - [Upgrade](pages/upgrade.md)\n" +
		"\n## Other pages\n\n" +
		"- [Changelog](pages/changelog.md)\n"
	if got != want {
		t.Fatalf("Summary() =\n%s\nwant\n%s", got, want)
	}
}

func TestDocArchive(t *testing.T) {
	res, err := NewService(nil).DocArchive(sampleDoc())
	if err != nil {
		t.Fatalf("DocArchive() error = %v", err)
	}
	if res.Filename != "acme.zip" || res.MimeType != "application/zip" {
		t.Fatalf("unexpected result meta %q %q", res.Filename, res.MimeType)
	}

	zr, err := zip.NewReader(bytes.NewReader(res.Data), int64(len(res.Data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		_ = rc.Close()
		files[f.Name] = string(data)
	}
	for _, name := range []string{"SUMMARY.md", "nav.json", "pages/install.md", "pages/upgrade.md", "pages/changelog.md"} {
		if _, ok := files[name]; !ok {
			t.Errorf("archive missing %s", name)
		}
	}
	if !strings.Contains(files["nav.json"], `"title": "Getting started"`) {
		t.Errorf("nav.json = %s", files["nav.json"])
	}
	if !strings.Contains(files["pages/install.md"], "title: Install") {
		t.Errorf("pages/install.md = %s", files["pages/install.md"])
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Install Guide!":        "Install-Guide",
		"":                      "page",
		"***":                   "page",
		strings.Repeat("a", 80): strings.Repeat("a", 50),
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	if got := percentEncodeForDataURL("a b<é"); got != "a%20b%3C%C3%A9" {
		t.Fatalf("percentEncodeForDataURL() = %q", got)
	}
}
