// Package site renders published docs for public readers. It is mounted on
// /_site/<doc-slug>/ and reached through the subdomain rewrite.
package site

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"encoding/xml"
	"errors"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"helppages/api/internal/markdown"
	"helppages/api/internal/metrics"
	"helppages/api/internal/navtree"
	"helppages/api/internal/search"
	"helppages/api/internal/store"
	"helppages/api/internal/subdomain"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("page.html").Funcs(template.FuncMap{
	"pageHref":  func(*string) string { return "" },
	"isCurrent": func(*string) bool { return false },
}).ParseFS(templateFS, "templates/page.html"))

// Store is the read-only data the public site needs.
type Store interface {
	GetDocBySlug(ctx context.Context, slug string) (store.Doc, error)
	ListPagesWithContent(ctx context.Context, docID string) ([]store.Page, error)
	ListNavSections(ctx context.Context, docID string) ([]store.NavSection, error)
	ListNavItems(ctx context.Context, docID string) ([]store.NavItem, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Options struct {
	Store   Store
	Search  Searcher
	Cache   *Cache
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// DocURL returns the public base URL of a doc, used in sitemap.xml.
	DocURL func(slug string) string
}

type Handler struct {
	store   Store
	search  Searcher
	cache   *Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
	docURL  func(string) string
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	docURL := opts.DocURL
	if docURL == nil {
		docURL = func(slug string) string { return "/s/" + slug }
	}
	return &Handler{
		store:   opts.Store,
		search:  opts.Search,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		logger:  logger,
		docURL:  docURL,
	}
}

// Invalidate drops cached responses of a doc.
func (h *Handler) Invalidate(ctx context.Context, docID string) {
	if err := h.cache.Invalidate(ctx, docID); err != nil {
		h.logger.Warn("site cache invalidate failed", zap.String("doc_id", docID), zap.Error(err))
	}
}

var errNotFound = errors.New("site: not found")

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, subdomain.SitePrefix)
	docSlug, path, _ := strings.Cut(rest, "/")
	path = "/" + strings.Trim(path, "/")
	if slug := subdomain.FromRequest(r); slug != "" {
		docSlug = slug
	}
	if docSlug == "" {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	doc, err := h.store.GetDocBySlug(ctx, docSlug)
	if err != nil || !doc.IsPublished {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("site doc lookup failed", zap.String("doc", docSlug), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.NotFound(w, r)
		return
	}

	if path == "/search" {
		h.serveSearch(w, r, doc)
		return
	}

	if entry, ok := h.cache.Get(ctx, doc.ID, path); ok {
		h.metrics.SiteCache("hit")
		writeEntry(w, entry)
		return
	}
	h.metrics.SiteCache("miss")

	entry, err := h.render(ctx, doc, path)
	if errors.Is(err, errNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("site render failed", zap.String("doc_id", doc.ID), zap.String("path", path), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.cache.Set(ctx, doc.ID, path, entry); err != nil {
		h.logger.Warn("site cache write failed", zap.String("doc_id", doc.ID), zap.Error(err))
	}
	writeEntry(w, entry)
}

func writeEntry(w http.ResponseWriter, entry Entry) {
	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Body)
}

type siteData struct {
	doc       store.Doc
	published []store.Page
	bySlug    map[string]store.Page
	byID      map[string]store.Page
	nav       navtree.Tree
}

func (h *Handler) load(ctx context.Context, doc store.Doc) (siteData, error) {
	pages, err := h.store.ListPagesWithContent(ctx, doc.ID)
	if err != nil {
		return siteData{}, err
	}
	sections, err := h.store.ListNavSections(ctx, doc.ID)
	if err != nil {
		return siteData{}, err
	}
	items, err := h.store.ListNavItems(ctx, doc.ID)
	if err != nil {
		return siteData{}, err
	}

	data := siteData{doc: doc, bySlug: map[string]store.Page{}, byID: map[string]store.Page{}}
	for _, p := range pages {
		if p.Status != store.PagePublished {
			continue
		}
		data.published = append(data.published, p)
		data.bySlug[p.Slug] = p
		data.byID[p.ID] = p
	}
	data.nav = navtree.Filter(navtree.Build(sections, items), func(it *navtree.Item) bool {
		if it.Kind == store.NavItemLink {
			return true
		}
		_, ok := data.byID[deref(it.PageID)]
		return ok
	})
	return data, nil
}

func (h *Handler) render(ctx context.Context, doc store.Doc, path string) (Entry, error) {
	data, err := h.load(ctx, doc)
	if err != nil {
		return Entry{}, err
	}

	switch {
	case path == "/":
		page, ok := data.landing()
		if !ok {
			return Entry{}, errNotFound
		}
		return h.renderPage(data, page)
	case path == "/sitemap.xml":
		return h.renderSitemap(data)
	case strings.HasSuffix(path, ".md"):
		page, ok := data.bySlug[strings.TrimSuffix(strings.TrimPrefix(path, "/"), ".md")]
		if !ok {
			return Entry{}, errNotFound
		}
		return renderMarkdown(page)
	case strings.Count(path, "/") == 1:
		page, ok := data.bySlug[strings.TrimPrefix(path, "/")]
		if !ok {
			return Entry{}, errNotFound
		}
		return h.renderPage(data, page)
	default:
		return Entry{}, errNotFound
	}
}

// landing picks the doc's landing page when published, else the first
// published page in nav order, else the first published page by title.
func (d siteData) landing() (store.Page, bool) {
	if d.doc.LandingPageID != nil {
		if p, ok := d.byID[*d.doc.LandingPageID]; ok {
			return p, true
		}
	}
	for _, id := range navtree.PageOrder(d.nav) {
		if p, ok := d.byID[id]; ok {
			return p, true
		}
	}
	if len(d.published) == 0 {
		return store.Page{}, false
	}
	byTitle := append([]store.Page(nil), d.published...)
	sort.SliceStable(byTitle, func(i, j int) bool {
		return strings.ToLower(byTitle[i].PublishedTitle) < strings.ToLower(byTitle[j].PublishedTitle)
	})
	return byTitle[0], true
}

type pageView struct {
	DocName     string
	Description string
	Title       string
	Slug        string
	Content     template.HTML
	TOC         []markdown.Heading
	Nav         navtree.Tree
}

func (h *Handler) renderPage(data siteData, page store.Page) (Entry, error) {
	html, toc, err := markdown.RenderWithTOC(page.PublishedContent)
	if err != nil {
		return Entry{}, err
	}
	tmpl, err := pageTemplate.Clone()
	if err != nil {
		return Entry{}, err
	}
	tmpl.Funcs(template.FuncMap{
		"pageHref": func(id *string) string {
			if p, ok := data.byID[deref(id)]; ok {
				return p.Slug
			}
			return "./"
		},
		"isCurrent": func(id *string) bool { return deref(id) == page.ID },
	})

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, pageView{
		DocName:     data.doc.Name,
		Description: data.doc.Description,
		Title:       page.PublishedTitle,
		Slug:        page.Slug,
		// goldmark output is sanitized: raw HTML is dropped at render time.
		Content: template.HTML(html),
		TOC:     toc,
		Nav:     data.nav,
	})
	if err != nil {
		return Entry{}, err
	}
	return Entry{ContentType: "text/html; charset=utf-8", Body: buf.Bytes()}, nil
}

func renderMarkdown(page store.Page) (Entry, error) {
	meta := markdown.FrontMatter{Title: page.PublishedTitle, Slug: page.Slug, Status: page.Status}
	if page.PublishedAt != nil {
		meta.UpdatedAt = page.PublishedAt.UTC()
	}
	body, err := markdown.Export(meta, page.PublishedContent)
	if err != nil {
		return Entry{}, err
	}
	return Entry{ContentType: "text/markdown; charset=utf-8", Body: body}, nil
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

func (h *Handler) renderSitemap(data siteData) (Entry, error) {
	base := strings.TrimRight(h.docURL(data.doc.Slug), "/")
	set := urlSet{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9", URLs: []sitemapURL{{Loc: base + "/"}}}
	pages := append([]store.Page(nil), data.published...)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Slug < pages[j].Slug })
	for _, p := range pages {
		u := sitemapURL{Loc: base + "/" + p.Slug}
		if p.PublishedAt != nil {
			u.LastMod = p.PublishedAt.UTC().Format("2006-01-02")
		}
		set.URLs = append(set.URLs, u)
	}
	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return Entry{}, err
	}
	return Entry{ContentType: "application/xml; charset=utf-8", Body: append([]byte(xml.Header), out...)}, nil
}

func (h *Handler) serveSearch(w http.ResponseWriter, r *http.Request, doc store.Doc) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	resp := search.Response{Results: []search.Result{}, Query: q}
	if q != "" && h.search != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		resp = h.search.Search(r.Context(), search.Query{
			Text:          q,
			DocIDs:        []string{doc.ID},
			PublishedOnly: true,
			Limit:         limit,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
