package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-slug"
	"go.uber.org/zap"

	"helppages/api/internal/autosave"
	"helppages/api/internal/markdown"
	"helppages/api/internal/rbac"
	"helppages/api/internal/store"
	"helppages/api/internal/util"
)

const (
	maxContentLength = 1 << 20
	maxSlugAttempts  = 100
	schedulerActor   = "scheduler"
)

type CreatePageInput struct {
	Title     string  `json:"title"`
	Slug      string  `json:"slug"`
	Content   string  `json:"content"`
	SectionID *string `json:"sectionId"`
	AddToNav  bool    `json:"addToNav"`
}

func (in CreatePageInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.RuneLength(1, maxNameLength)),
		validation.Field(&in.Content, validation.Length(0, maxContentLength)),
	)
}

type SavePageInput struct {
	Title       string  `json:"title"`
	Slug        *string `json:"slug"`
	Content     string  `json:"content"`
	BaseVersion int     `json:"baseVersion"`
	Message     string  `json:"message"`
}

func (in SavePageInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.RuneLength(1, maxNameLength)),
		validation.Field(&in.Content, validation.Length(0, maxContentLength)),
		validation.Field(&in.BaseVersion, validation.Required, validation.Min(1)),
	)
}

type AutosaveInput struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	BaseVersion int    `json:"baseVersion"`
}

func (s *Service) ListPages(ctx context.Context, sess Session, docID string) ([]map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	pages, err := s.store.ListPages(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(pages))
	for _, page := range pages {
		items = append(items, pageView(page, false))
	}
	return items, nil
}

// pageSlug normalises a requested slug, or the title when none is given.
func pageSlug(requested, title string) string {
	value := firstNonBlank(requested, title)
	normalized, err := slug.Normalize(value)
	if err != nil || normalized == "" {
		return "page"
	}
	return normalized
}

// uniqueSlug appends -2, -3, ... until base is free within the doc.
func (s *Service) uniqueSlug(ctx context.Context, docID, base, exceptPageID string) (string, error) {
	candidate := base
	for attempt := 2; attempt <= maxSlugAttempts+1; attempt++ {
		taken, err := s.store.PageSlugTaken(ctx, docID, candidate, exceptPageID)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, attempt)
	}
	return "", domainError(http.StatusConflict, "SLUG_TAKEN", "Could not find a free slug", map[string]string{"slug": base})
}

func (s *Service) CreatePage(ctx context.Context, sess Session, docID string, input CreatePageInput) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	page, err := s.createPage(ctx, sess, doc, input)
	if err != nil {
		return nil, err
	}
	return pageView(page, true), nil
}

func (s *Service) createPage(ctx context.Context, sess Session, doc store.Doc, input CreatePageInput) (store.Page, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := input.Validate(); err != nil {
		return store.Page{}, err
	}
	pageSlugValue, err := s.uniqueSlug(ctx, doc.ID, pageSlug(input.Slug, input.Title), "")
	if err != nil {
		return store.Page{}, err
	}

	now := s.now().UTC()
	page := store.Page{
		ID:        util.NewID("pg"),
		DocID:     doc.ID,
		Title:     input.Title,
		Slug:      pageSlugValue,
		Content:   input.Content,
		Status:    store.PageDraft,
		Version:   1,
		CreatedBy: sess.UserID,
		UpdatedBy: sess.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	seed := store.PageSeed{
		Page: page,
		Revision: store.PageRevision{
			ID:        util.NewID("rev"),
			Kind:      store.RevisionManual,
			Title:     page.Title,
			Content:   page.Content,
			Message:   "Created page",
			CreatedBy: sess.UserID,
		},
	}
	if input.SectionID != nil || input.AddToNav {
		if input.SectionID != nil {
			if _, err := s.store.GetNavSection(ctx, doc.ID, *input.SectionID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return store.Page{}, validationError("sectionId", "section must belong to this doc")
				}
				return store.Page{}, err
			}
		}
		seed.NavItem = &store.NavItem{
			ID:        util.NewID("nav"),
			DocID:     doc.ID,
			SectionID: input.SectionID,
			Kind:      store.NavItemPage,
			Label:     page.Title,
		}
	}
	if err := s.store.CreatePage(ctx, seed); err != nil {
		if store.IsUniqueViolation(err) {
			return store.Page{}, domainError(http.StatusConflict, "SLUG_TAKEN", "Another page already uses this slug", map[string]string{"slug": page.Slug})
		}
		return store.Page{}, err
	}
	s.indexPage(doc, page)
	return page, nil
}

func (s *Service) GetPage(ctx context.Context, sess Session, pageID string) (map[string]any, error) {
	page, doc, access, err := s.authorizePage(ctx, sess, pageID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	view := pageView(page, true)
	view["docSlug"] = doc.Slug
	view["role"] = string(access.Role)
	if page.Status == store.PagePublished {
		view["publicUrl"] = s.cfg.PublicDocURL(doc.Slug) + "/" + page.Slug
	}
	return view, nil
}

func (s *Service) conflictError(ctx context.Context, pageID string) error {
	details := map[string]any{}
	if current, err := s.store.GetPage(ctx, pageID); err == nil {
		details["page"] = pageView(current, true)
	}
	return domainError(http.StatusConflict, "VERSION_CONFLICT", "The page was changed by someone else", details)
}

// SavePage is an explicit save. It always records a manual revision when
// the title or content changed.
func (s *Service) SavePage(ctx context.Context, sess Session, pageID string, input SavePageInput) (map[string]any, error) {
	page, doc, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	input.Title = strings.TrimSpace(input.Title)
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if input.BaseVersion != page.Version {
		return nil, s.conflictError(ctx, page.ID)
	}

	nextSlug := page.Slug
	if input.Slug != nil && strings.TrimSpace(*input.Slug) != page.Slug {
		requested := pageSlug(*input.Slug, input.Title)
		taken, err := s.store.PageSlugTaken(ctx, doc.ID, requested, page.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domainError(http.StatusConflict, "SLUG_TAKEN", "Another page already uses this slug", map[string]string{"slug": requested})
		}
		nextSlug = requested
	}

	contentChanged := input.Title != page.Title || input.Content != page.Content
	if !contentChanged && nextSlug == page.Slug {
		return pageView(page, true), nil
	}
	update := store.DraftUpdate{
		PageID:      page.ID,
		BaseVersion: input.BaseVersion,
		Title:       input.Title,
		Slug:        nextSlug,
		Content:     input.Content,
		UpdatedBy:   sess.UserID,
	}
	if contentChanged {
		update.Revision = &store.PageRevision{
			ID:        util.NewID("rev"),
			Kind:      store.RevisionManual,
			Title:     input.Title,
			Content:   input.Content,
			Message:   strings.TrimSpace(input.Message),
			CreatedBy: sess.UserID,
		}
	}
	updated, err := s.store.UpdateDraft(ctx, update)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, s.conflictError(ctx, page.ID)
		}
		return nil, err
	}
	if nextSlug != page.Slug && page.Status == store.PagePublished {
		s.changed(ctx, doc.ID)
	}
	s.indexPage(doc, updated)
	return pageView(updated, true), nil
}

// AutosavePage applies the autosave policy: unchanged drafts write nothing,
// small edits update the draft only, and larger edits also record an
// autosave revision. Search indexing is debounced per page.
func (s *Service) AutosavePage(ctx context.Context, sess Session, pageID string, input AutosaveInput) (map[string]any, error) {
	page, _, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	if len(input.Content) > maxContentLength {
		return nil, validationError("content", "content is too large")
	}
	if input.BaseVersion != page.Version {
		s.metrics.Autosave("conflict")
		return nil, s.conflictError(ctx, page.ID)
	}
	title := firstNonBlank(input.Title, page.Title)

	var last *autosave.Snapshot
	rev, err := s.store.LatestRevision(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	if rev != nil {
		last = &autosave.Snapshot{Title: rev.Title, Content: rev.Content, CreatedAt: rev.CreatedAt}
	}
	decision := s.policy.Decide(
		autosave.Snapshot{Title: page.Title, Content: page.Content},
		last, title, input.Content, s.now(),
	)
	if decision.Outcome == autosave.Unchanged {
		s.metrics.Autosave(string(autosave.Unchanged))
		return map[string]any{"outcome": decision.Outcome, "ratio": decision.Ratio, "page": pageView(page, false)}, nil
	}

	update := store.DraftUpdate{
		PageID:      page.ID,
		BaseVersion: input.BaseVersion,
		Title:       title,
		Slug:        page.Slug,
		Content:     input.Content,
		UpdatedBy:   sess.UserID,
	}
	if decision.Outcome == autosave.Revision {
		update.Revision = &store.PageRevision{
			ID:        util.NewID("rev"),
			Kind:      store.RevisionAutosave,
			Title:     title,
			Content:   input.Content,
			CreatedBy: sess.UserID,
		}
		update.KeepAutosaves = s.cfg.RevisionLimit
	}
	updated, err := s.store.UpdateDraft(ctx, update)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			s.metrics.Autosave("conflict")
			return nil, s.conflictError(ctx, page.ID)
		}
		return nil, err
	}
	s.metrics.Autosave(string(decision.Outcome))
	s.scheduleIndexPage(updated.ID)
	return map[string]any{"outcome": decision.Outcome, "ratio": decision.Ratio, "page": pageView(updated, false)}, nil
}

func (s *Service) PublishPage(ctx context.Context, sess Session, pageID string) (map[string]any, error) {
	page, doc, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionPublish)
	if err != nil {
		return nil, err
	}
	published, err := s.publishPage(ctx, doc, page, sess.UserID, sess.UserName)
	if err != nil {
		return nil, err
	}
	return pageView(published, true), nil
}

// publishPage is shared by the API and the scheduled publish job.
func (s *Service) publishPage(ctx context.Context, doc store.Doc, page store.Page, actorID, actorName string) (store.Page, error) {
	published, err := s.store.PublishPage(ctx, page.ID, store.PageRevision{
		ID:        util.NewID("rev"),
		Kind:      store.RevisionPublish,
		Message:   "Published",
		CreatedBy: actorID,
	}, s.now().UTC())
	if err != nil {
		return store.Page{}, err
	}
	s.metrics.Publish("page")
	s.changed(ctx, doc.ID)
	s.indexPage(doc, published)
	s.commitHistory(ctx, doc, actorName, "Publish "+published.Title)
	return published, nil
}

func (s *Service) UnpublishPage(ctx context.Context, sess Session, pageID string) (map[string]any, error) {
	page, doc, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionPublish)
	if err != nil {
		return nil, err
	}
	if page.Status != store.PagePublished {
		return pageView(page, true), nil
	}
	updated, err := s.store.UnpublishPage(ctx, page.ID, sess.UserID)
	if err != nil {
		return nil, err
	}
	s.metrics.Publish("page_unpublish")
	s.changed(ctx, doc.ID)
	s.indexPage(doc, updated)
	s.commitHistory(ctx, doc, sess.UserName, "Unpublish "+updated.Title)
	return pageView(updated, true), nil
}

func (s *Service) SchedulePublish(ctx context.Context, sess Session, pageID string, publishAt time.Time) (map[string]any, error) {
	page, _, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionPublish)
	if err != nil {
		return nil, err
	}
	if publishAt.IsZero() || !publishAt.After(s.now()) {
		return nil, validationError("publishAt", "publishAt must be in the future")
	}
	at := publishAt.UTC()
	updated, err := s.store.SetPageSchedule(ctx, page.ID, &at)
	if err != nil {
		return nil, err
	}
	return pageView(updated, true), nil
}

func (s *Service) CancelSchedule(ctx context.Context, sess Session, pageID string) (map[string]any, error) {
	page, _, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionPublish)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.SetPageSchedule(ctx, page.ID, nil)
	if err != nil {
		return nil, err
	}
	return pageView(updated, true), nil
}

// DeletePage removes the page, its revisions and nav items. A doc using it
// as landing page falls back to the first published page.
func (s *Service) DeletePage(ctx context.Context, sess Session, pageID string) error {
	page, doc, _, err := s.authorizePage(ctx, sess, pageID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	if err := s.store.DeletePage(ctx, page.ID); err != nil {
		return err
	}
	s.reindex.Cancel(page.ID)
	if s.search != nil {
		s.search.DeletePages(page.ID)
	}
	s.changed(ctx, doc.ID)
	if page.Status == store.PagePublished {
		s.commitHistory(ctx, doc, sess.UserName, "Delete "+page.Title)
	}
	return nil
}

func (s *Service) PreviewMarkdown(ctx context.Context, sess Session, docID, content string) (map[string]any, error) {
	if _, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if len(content) > maxContentLength {
		return nil, validationError("content", "content is too large")
	}
	html, toc, err := markdown.RenderWithTOC(content)
	if err != nil {
		return nil, err
	}
	return map[string]any{"html": html, "toc": toc}, nil
}

// PublishDuePages publishes every page whose schedule has passed. Pages that
// fail are logged and retried on the next run.
func (s *Service) PublishDuePages(ctx context.Context) (int, error) {
	pages, err := s.store.ListDuePages(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	docs := map[string]store.Doc{}
	published := 0
	for _, page := range pages {
		doc, ok := docs[page.DocID]
		if !ok {
			doc, err = s.store.GetDoc(ctx, page.DocID)
			if err != nil {
				s.logger.Warn("scheduled publish doc lookup", zap.String("page_id", page.ID), zap.Error(err))
				continue
			}
			docs[doc.ID] = doc
		}
		if _, err := s.publishPage(ctx, doc, page, schedulerActor, schedulerActor); err != nil {
			s.logger.Warn("scheduled publish", zap.String("page_id", page.ID), zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}

func (s *Service) PurgeExpired(ctx context.Context) (store.PurgeStats, error) {
	return s.store.PurgeExpired(ctx, s.now().UTC())
}

func pageView(page store.Page, withContent bool) map[string]any {
	view := map[string]any{
		"id":                 page.ID,
		"docId":              page.DocID,
		"title":              page.Title,
		"slug":               page.Slug,
		"status":             page.Status,
		"version":            page.Version,
		"publishedTitle":     nilIfEmpty(page.PublishedTitle),
		"publishedAt":        page.PublishedAt,
		"scheduledPublishAt": page.ScheduledPublishAt,
		"updatedBy":          page.UpdatedBy,
		"createdAt":          page.CreatedAt,
		"updatedAt":          page.UpdatedAt,
	}
	if withContent {
		view["content"] = page.Content
		view["hasUnpublishedChanges"] = page.Status == store.PagePublished &&
			(page.Title != page.PublishedTitle || page.Content != page.PublishedContent)
	}
	return view
}
