package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"helppages/api/internal/assets"
	"helppages/api/internal/export"
	"helppages/api/internal/gitrepo"
	"helppages/api/internal/markdown"
	"helppages/api/internal/navtree"
	"helppages/api/internal/rbac"
	"helppages/api/internal/search"
	"helppages/api/internal/store"
	"helppages/api/internal/util"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (s *Service) ListRevisions(ctx context.Context, sess Session, pageID string) ([]map[string]any, error) {
	page, _, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	revs, err := s.store.ListRevisions(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(revs))
	for _, rev := range revs {
		items = append(items, revisionView(rev, false))
	}
	return items, nil
}

func (s *Service) revision(ctx context.Context, pageID string, number int) (store.PageRevision, error) {
	rev, err := s.store.GetRevision(ctx, pageID, number)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.PageRevision{}, notFoundError(fmt.Sprintf("Revision %d", number))
		}
		return store.PageRevision{}, err
	}
	return rev, nil
}

func (s *Service) GetRevision(ctx context.Context, sess Session, pageID string, number int) (map[string]any, error) {
	page, _, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	rev, err := s.revision(ctx, page.ID, number)
	if err != nil {
		return nil, err
	}
	html, err := markdown.Render(rev.Content)
	if err != nil {
		return nil, err
	}
	view := revisionView(rev, true)
	view["html"] = html
	return view, nil
}

// CompareRevisions returns a line diff of two revisions' content.
func (s *Service) CompareRevisions(ctx context.Context, sess Session, pageID string, from, to int) (map[string]any, error) {
	page, _, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	fromRev, err := s.revision(ctx, page.ID, from)
	if err != nil {
		return nil, err
	}
	toRev, err := s.revision(ctx, page.ID, to)
	if err != nil {
		return nil, err
	}
	changes, added, removed := lineDiff(fromRev.Content, toRev.Content)
	return map[string]any{
		"pageId":       page.ID,
		"from":         revisionView(fromRev, false),
		"to":           revisionView(toRev, false),
		"titleChanged": fromRev.Title != toRev.Title,
		"changes":      changes,
		"added":        added,
		"removed":      removed,
	}, nil
}

func lineDiff(from, to string) ([]map[string]any, int, int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	changes := make([]map[string]any, 0, len(diffs))
	added, removed := 0, 0
	for _, d := range diffs {
		op := "equal"
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = "insert"
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			op = "delete"
			removed += countLines(d.Text)
		}
		changes = append(changes, map[string]any{"op": op, "text": d.Text})
	}
	return changes, added, removed
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// RestoreRevision copies a revision back into the draft and records a
// restore revision.
func (s *Service) RestoreRevision(ctx context.Context, sess Session, pageID string, number int) (map[string]any, error) {
	page, doc, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	rev, err := s.revision(ctx, page.ID, number)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateDraft(ctx, store.DraftUpdate{
		PageID:      page.ID,
		BaseVersion: page.Version,
		Title:       rev.Title,
		Slug:        page.Slug,
		Content:     rev.Content,
		UpdatedBy:   sess.UserID,
		Revision: &store.PageRevision{
			ID:        util.NewID("rev"),
			Kind:      store.RevisionRestore,
			Title:     rev.Title,
			Content:   rev.Content,
			Message:   fmt.Sprintf("Restored revision #%d", rev.Number),
			CreatedBy: sess.UserID,
		},
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, s.conflictError(ctx, page.ID)
		}
		return nil, err
	}
	s.indexPage(doc, updated)
	return pageView(updated, true), nil
}

func revisionView(rev store.PageRevision, withContent bool) map[string]any {
	view := map[string]any{
		"id":        rev.ID,
		"pageId":    rev.PageID,
		"number":    rev.Number,
		"kind":      rev.Kind,
		"title":     rev.Title,
		"message":   rev.Message,
		"createdBy": rev.CreatedBy,
		"createdAt": rev.CreatedAt,
	}
	if withContent {
		view["content"] = rev.Content
	}
	return view
}

// Search covers the docs the caller can read, or a single doc when docID is
// set.
func (s *Service) Search(ctx context.Context, sess Session, text, docID string, limit, offset int) (search.Response, error) {
	q := search.Query{Text: strings.TrimSpace(text), Limit: limit, Offset: offset}
	switch {
	case docID != "":
		doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionRead)
		if err != nil {
			return search.Response{}, err
		}
		q.DocIDs = []string{doc.ID}
	case rbac.Normalize(sess.Role) == rbac.RoleAdmin:
		q.AllDocs = true
	default:
		listings, err := s.store.ListDocsForUser(ctx, sess.UserID, false)
		if err != nil {
			return search.Response{}, err
		}
		for _, listing := range listings {
			q.DocIDs = append(q.DocIDs, listing.ID)
		}
	}
	if s.search == nil || q.Text == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

func pageRecord(doc store.Doc, page store.Page) search.PageRecord {
	return search.PageRecord{
		ID:               page.ID,
		DocID:            doc.ID,
		DocSlug:          doc.Slug,
		Slug:             page.Slug,
		Title:            page.Title,
		Content:          page.Content,
		Status:           page.Status,
		PublishedTitle:   page.PublishedTitle,
		PublishedContent: page.PublishedContent,
	}
}

// indexPage indexes page as given and drops any debounced update for it,
// which would otherwise overwrite this record with an older copy.
func (s *Service) indexPage(doc store.Doc, page store.Page) {
	s.reindex.Cancel(page.ID)
	if s.search != nil {
		s.search.IndexPage(pageRecord(doc, page))
	}
}

// scheduleIndexPage debounces indexing of a page. The page is reloaded when
// the call fires, so a later delete or publish is never undone.
func (s *Service) scheduleIndexPage(pageID string) {
	if s.search == nil {
		return
	}
	s.reindex.Trigger(pageID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		page, err := s.store.GetPage(ctx, pageID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.logger.Warn("reload page for indexing failed", zap.String("page_id", pageID), zap.Error(err))
			}
			return
		}
		doc, err := s.store.GetDoc(ctx, page.DocID)
		if err != nil {
			return
		}
		s.search.IndexPage(pageRecord(doc, page))
	})
}

func (s *Service) reindexDoc(docID string) {
	if s.search == nil {
		return
	}
	s.reindex.Trigger("doc:"+docID, func() {
		s.search.ReindexDoc(context.Background(), docID)
	})
}

// ExportPage exports the draft or the published copy of a page.
func (s *Service) ExportPage(ctx context.Context, sess Session, pageID string, format export.Format, source export.Source) (*export.Result, error) {
	page, doc, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	item := export.Page{
		DocName:   doc.Name,
		Title:     page.Title,
		Slug:      page.Slug,
		Status:    page.Status,
		Content:   page.Content,
		UpdatedAt: page.UpdatedAt,
	}
	switch source {
	case export.SourceDraft, "":
	case export.SourcePublished:
		if page.Status != store.PagePublished {
			return nil, domainError(http.StatusConflict, "NOT_PUBLISHED", "Page is not published", nil)
		}
		item.Title = page.PublishedTitle
		item.Content = page.PublishedContent
		if page.PublishedAt != nil {
			item.UpdatedAt = *page.PublishedAt
		}
	default:
		return nil, validationError("source", "source must be draft or published")
	}
	return s.exporter.Page(ctx, item, format)
}

// ExportDoc writes the doc as a zip archive.
func (s *Service) ExportDoc(ctx context.Context, sess Session, docID string, format export.Format, source export.Source) (*export.Result, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	if format != export.FormatZip && format != "" {
		return nil, export.ErrUnsupportedFormat
	}
	if source != export.SourceDraft && source != export.SourcePublished && source != "" {
		return nil, validationError("source", "source must be draft or published")
	}
	pages, err := s.store.ListPagesWithContent(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	sections, items, err := s.loadNav(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	published := source == export.SourcePublished
	archive := export.Doc{
		Name:      doc.Name,
		Slug:      doc.Slug,
		Nav:       navtree.Build(sections, items),
		PageSlugs: map[string]string{},
	}
	for _, page := range pages {
		if published && page.Status != store.PagePublished {
			continue
		}
		item := export.Page{DocName: doc.Name, Title: page.Title, Slug: page.Slug, Status: page.Status, Content: page.Content, UpdatedAt: page.UpdatedAt}
		if published {
			item.Title, item.Content = page.PublishedTitle, page.PublishedContent
		}
		archive.Pages = append(archive.Pages, item)
		archive.PageSlugs[page.ID] = page.Slug
	}
	if published {
		archive.Nav = navtree.Filter(archive.Nav, func(it *navtree.Item) bool {
			return it.Kind == store.NavItemLink || (it.PageID != nil && archive.PageSlugs[*it.PageID] != "")
		})
	}
	return s.exporter.DocArchive(archive)
}

// ImportPage creates a page from markdown with optional front matter. A
// "published" status is honoured when the caller may publish.
func (s *Service) ImportPage(ctx context.Context, sess Session, docID string, src []byte) (map[string]any, error) {
	doc, access, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return nil, validationError("body", "markdown body is required")
	}
	meta, body, err := markdown.Import(src)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_FRONT_MATTER", err.Error(), nil)
	}
	title := firstNonBlank(meta.Title, markdown.FirstHeading(body), "Imported page")
	page, err := s.createPage(ctx, sess, doc, CreatePageInput{Title: title, Slug: meta.Slug, Content: body, AddToNav: true})
	if err != nil {
		return nil, err
	}
	if meta.Status == store.PagePublished && access.Can(rbac.ActionPublish) {
		published, err := s.publishPage(ctx, doc, page, sess.UserID, sess.UserName)
		if err != nil {
			s.discardImport(ctx, page)
			return nil, err
		}
		page = published
	}
	return pageView(page, true), nil
}

// discardImport removes a page created by an import whose publish failed.
func (s *Service) discardImport(ctx context.Context, page store.Page) {
	if err := s.store.DeletePage(context.WithoutCancel(ctx), page.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("discard failed import", zap.String("page_id", page.ID), zap.Error(err))
		return
	}
	s.reindex.Cancel(page.ID)
	if s.search != nil {
		s.search.DeletePages(page.ID)
	}
}

func (s *Service) ListAssets(ctx context.Context, sess Session, docID string) ([]map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	if !s.assets.Available() {
		return nil, assets.ErrUnavailable
	}
	list, err := s.store.ListAssets(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(list))
	for _, asset := range list {
		items = append(items, s.assetView(ctx, asset))
	}
	return items, nil
}

// UploadAsset stores the object first and removes it again when the row
// cannot be written.
func (s *Service) UploadAsset(ctx context.Context, sess Session, docID, filename string, r io.Reader, size int64) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	upload, err := s.assets.Store(ctx, doc.ID, r, size)
	if err != nil {
		return nil, err
	}
	asset, err := s.store.InsertAsset(ctx, store.Asset{
		ID:          util.NewID("ast"),
		DocID:       doc.ID,
		ObjectKey:   upload.Key,
		Filename:    firstNonBlank(filename, upload.Key),
		ContentType: upload.ContentType,
		SizeBytes:   upload.Size,
		UploadedBy:  sess.UserID,
	})
	if err != nil {
		if rmErr := s.assets.Remove(ctx, upload.Key); rmErr != nil {
			s.logger.Warn("remove orphaned asset", zap.String("key", upload.Key), zap.Error(rmErr))
		}
		return nil, err
	}
	return s.assetView(ctx, asset), nil
}

func (s *Service) DeleteAsset(ctx context.Context, sess Session, docID, assetID string) error {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	if !s.assets.Available() {
		return assets.ErrUnavailable
	}
	asset, err := s.store.GetAsset(ctx, doc.ID, assetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("Asset")
		}
		return err
	}
	if err := s.assets.Remove(ctx, asset.ObjectKey); err != nil {
		return err
	}
	return s.store.DeleteAsset(ctx, doc.ID, asset.ID)
}

func (s *Service) assetView(ctx context.Context, asset store.Asset) map[string]any {
	view := map[string]any{
		"id":          asset.ID,
		"docId":       asset.DocID,
		"filename":    asset.Filename,
		"contentType": asset.ContentType,
		"size":        asset.SizeBytes,
		"uploadedBy":  asset.UploadedBy,
		"createdAt":   asset.CreatedAt,
		"url":         nil,
	}
	if s.assets.Available() {
		if link, err := s.assets.URL(ctx, asset.ObjectKey); err == nil {
			view["url"] = link
		} else {
			s.logger.Warn("asset url", zap.String("asset_id", asset.ID), zap.Error(err))
		}
	}
	return view
}

// commitHistory records the doc's published tree in its git repository.
// Failures are logged and never fail the publish itself.
func (s *Service) commitHistory(ctx context.Context, doc store.Doc, author, message string) {
	if s.git == nil {
		return
	}
	snap, err := s.publishedSnapshot(ctx, doc.ID)
	if err == nil {
		_, err = s.git.CommitSnapshot(doc.ID, snap, firstNonBlank(author, "helppages"), message)
	}
	if err != nil {
		s.logger.Warn("commit publish history", zap.String("doc_id", doc.ID), zap.Error(err))
	}
}

func (s *Service) publishedSnapshot(ctx context.Context, docID string) (gitrepo.Snapshot, error) {
	pages, err := s.store.ListPagesWithContent(ctx, docID)
	if err != nil {
		return gitrepo.Snapshot{}, err
	}
	sections, items, err := s.loadNav(ctx, docID)
	if err != nil {
		return gitrepo.Snapshot{}, err
	}
	snap := gitrepo.Snapshot{Pages: map[string][]byte{}}
	published := map[string]bool{}
	for _, page := range pages {
		if page.Status != store.PagePublished {
			continue
		}
		published[page.ID] = true
		meta := markdown.FrontMatter{Title: page.PublishedTitle, Slug: page.Slug, Status: page.Status}
		if page.PublishedAt != nil {
			meta.UpdatedAt = page.PublishedAt.UTC()
		}
		data, err := markdown.Export(meta, page.PublishedContent)
		if err != nil {
			return gitrepo.Snapshot{}, err
		}
		snap.Pages[page.Slug] = data
	}
	tree := navtree.Filter(navtree.Build(sections, items), func(it *navtree.Item) bool {
		return it.Kind == store.NavItemLink || (it.PageID != nil && published[*it.PageID])
	})
	snap.Nav, err = json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return gitrepo.Snapshot{}, err
	}
	return snap, nil
}

func (s *Service) History(ctx context.Context, sess Session, docID string, limit int) ([]map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	if s.git == nil {
		return []map[string]any{}, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	commits, err := s.git.History(doc.ID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, commitView(commit))
	}
	return items, nil
}

// HistorySnapshot returns the published tree as committed at hash.
func (s *Service) HistorySnapshot(ctx context.Context, sess Session, docID, hash string) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	if s.git == nil {
		return nil, notFoundError("Commit")
	}
	snap, commit, err := s.git.SnapshotAt(doc.ID, hash)
	if err != nil {
		return nil, err
	}
	slugs := make([]string, 0, len(snap.Pages))
	for slug := range snap.Pages {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	pages := make([]map[string]any, 0, len(slugs))
	for _, slug := range slugs {
		pages = append(pages, map[string]any{"slug": slug, "markdown": string(snap.Pages[slug])})
	}
	var nav any
	if len(snap.Nav) > 0 {
		if err := json.Unmarshal(snap.Nav, &nav); err != nil {
			return nil, fmt.Errorf("decode nav snapshot: %w", err)
		}
	}
	return map[string]any{"commit": commitView(commit), "nav": nav, "pages": pages}, nil
}

func commitView(commit store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      commit.Hash,
		"message":   commit.Message,
		"author":    commit.Author,
		"createdAt": commit.CreatedAt,
	}
}
