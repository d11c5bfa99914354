package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-slug"
	"go.uber.org/zap"

	"helppages/api/internal/rbac"
	"helppages/api/internal/store"
	"helppages/api/internal/subdomain"
	"helppages/api/internal/util"
)

const (
	maxNameLength        = 120
	maxDescriptionLength = 500
	defaultPageTitle     = "Getting Started"
	defaultPageContent   = "# Getting Started\n\nWelcome to your new documentation. Edit this page to get going.\n"
)

type CreateDocInput struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

func (in CreateDocInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.RuneLength(1, maxNameLength)),
		validation.Field(&in.Description, validation.RuneLength(0, maxDescriptionLength)),
	)
}

// UpdateDocInput changes only the fields that are set. An empty
// LandingPageID clears the landing page.
type UpdateDocInput struct {
	Name          *string `json:"name"`
	Slug          *string `json:"slug"`
	Description   *string `json:"description"`
	LandingPageID *string `json:"landingPageId"`
}

func (s *Service) ListDocs(ctx context.Context, sess Session) ([]map[string]any, error) {
	listings, err := s.store.ListDocsForUser(ctx, sess.UserID, rbac.Normalize(sess.Role) == rbac.RoleAdmin)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(listings))
	for _, listing := range listings {
		access := rbac.Resolve(rbac.ResolveInput{
			IsOwner:    listing.OwnerID == sess.UserID,
			GlobalRole: sess.Role,
			MemberRole: listing.MemberRole,
		})
		items = append(items, s.docView(listing.Doc, access))
	}
	return items, nil
}

// docSlug derives a slug from name when requested is empty and checks that
// the result can serve as a subdomain label.
func docSlug(requested, name string) (string, error) {
	value := strings.TrimSpace(requested)
	if value == "" {
		value = name
	}
	normalized, err := slug.Normalize(value)
	if err != nil || normalized == "" {
		normalized = strings.ToLower(value)
	}
	if requested != "" && normalized != strings.ToLower(strings.TrimSpace(requested)) {
		return "", validationError("slug", "slug may only contain lowercase letters, digits and hyphens")
	}
	if !subdomain.ValidLabel(normalized) {
		return "", validationError("slug", "slug must be 3-63 characters of a-z, 0-9 and inner hyphens")
	}
	if subdomain.IsReserved(normalized) {
		return "", domainError(http.StatusUnprocessableEntity, "SLUG_RESERVED", "This slug is reserved", map[string]string{"slug": normalized})
	}
	return normalized, nil
}

func (s *Service) CreateDoc(ctx context.Context, sess Session, input CreateDocInput) (map[string]any, error) {
	if !rbac.CanCreateDocs(sess.Role) {
		return nil, forbiddenError()
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if err := input.Validate(); err != nil {
		return nil, err
	}
	docSlugValue, err := docSlug(input.Slug, input.Name)
	if err != nil {
		return nil, err
	}

	doc := store.Doc{
		ID:          util.NewID("doc"),
		OwnerID:     sess.UserID,
		Name:        input.Name,
		Slug:        docSlugValue,
		Description: input.Description,
	}
	page := store.Page{
		ID:        util.NewID("pg"),
		DocID:     doc.ID,
		Title:     defaultPageTitle,
		Slug:      "getting-started",
		Content:   defaultPageContent,
		Status:    store.PageDraft,
		Version:   1,
		CreatedBy: sess.UserID,
		UpdatedBy: sess.UserID,
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
		NavItem: &store.NavItem{
			ID:    util.NewID("nav"),
			DocID: doc.ID,
			Kind:  store.NavItemPage,
			Label: page.Title,
		},
	}
	if err := s.store.CreateDoc(ctx, doc, seed); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, domainError(http.StatusConflict, "SLUG_TAKEN", "Another doc already uses this slug", map[string]string{"slug": doc.Slug})
		}
		return nil, err
	}
	created, err := s.store.GetDoc(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	s.indexPage(created, page)
	s.logger.Info("doc created", zap.String("doc_id", doc.ID), zap.String("slug", doc.Slug))
	return s.docView(created, rbac.Resolve(rbac.ResolveInput{IsOwner: true})), nil
}

func (s *Service) GetDoc(ctx context.Context, sess Session, docID string) (map[string]any, error) {
	doc, access, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return s.docView(doc, access), nil
}

func (s *Service) UpdateDoc(ctx context.Context, sess Session, docID string, input UpdateDocInput) (map[string]any, error) {
	doc, access, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionManage)
	if err != nil {
		return nil, err
	}
	next := doc
	if input.Name != nil {
		next.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		next.Description = strings.TrimSpace(*input.Description)
	}
	if err := (CreateDocInput{Name: next.Name, Description: next.Description}).Validate(); err != nil {
		return nil, err
	}
	if input.Slug != nil && strings.TrimSpace(*input.Slug) != doc.Slug {
		if strings.TrimSpace(*input.Slug) == "" {
			return nil, validationError("slug", "slug cannot be blank")
		}
		next.Slug, err = docSlug(*input.Slug, next.Name)
		if err != nil {
			return nil, err
		}
	}
	if input.LandingPageID != nil {
		landing := strings.TrimSpace(*input.LandingPageID)
		if landing == "" {
			next.LandingPageID = nil
		} else {
			page, err := s.store.GetPage(ctx, landing)
			if err != nil || page.DocID != doc.ID {
				if err == nil || errors.Is(err, store.ErrNotFound) {
					return nil, validationError("landingPageId", "landing page must be a page of this doc")
				}
				return nil, err
			}
			next.LandingPageID = &page.ID
		}
	}

	updated, err := s.store.UpdateDoc(ctx, next)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, domainError(http.StatusConflict, "SLUG_TAKEN", "Another doc already uses this slug", map[string]string{"slug": next.Slug})
		}
		return nil, err
	}
	s.changed(ctx, doc.ID)
	if updated.Slug != doc.Slug {
		s.reindexDoc(doc.ID)
	}
	return s.docView(updated, access), nil
}

func (s *Service) DeleteDoc(ctx context.Context, sess Session, docID string) error {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionDelete)
	if err != nil {
		return err
	}
	pages, err := s.store.ListPages(ctx, doc.ID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDoc(ctx, doc.ID); err != nil {
		return err
	}
	if s.search != nil && len(pages) > 0 {
		ids := make([]string, 0, len(pages))
		for _, page := range pages {
			ids = append(ids, page.ID)
		}
		s.search.DeletePages(ids...)
	}
	s.changed(ctx, doc.ID)
	if s.git != nil {
		if err := s.git.Remove(doc.ID); err != nil {
			s.logger.Warn("remove publish history", zap.String("doc_id", doc.ID), zap.Error(err))
		}
	}
	s.logger.Info("doc deleted", zap.String("doc_id", doc.ID), zap.String("actor", sess.UserID))
	return nil
}

func (s *Service) PublishDoc(ctx context.Context, sess Session, docID string) (map[string]any, error) {
	doc, access, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionPublish)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountPublishedPages(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "NOTHING_PUBLISHED", "Publish at least one page before publishing the doc", nil)
	}
	updated, err := s.store.SetDocPublished(ctx, doc.ID, true, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.metrics.Publish("doc")
	s.changed(ctx, doc.ID)
	s.commitHistory(ctx, updated, sess.UserName, "Publish "+updated.Name)
	return s.docView(updated, access), nil
}

func (s *Service) UnpublishDoc(ctx context.Context, sess Session, docID string) (map[string]any, error) {
	doc, access, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionPublish)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.SetDocPublished(ctx, doc.ID, false, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.metrics.Publish("doc_unpublish")
	s.changed(ctx, doc.ID)
	return s.docView(updated, access), nil
}

func (s *Service) ListMembers(ctx context.Context, sess Session, docID string) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members)+1)
	if owner, err := s.store.GetUserByID(ctx, doc.OwnerID); err == nil {
		items = append(items, map[string]any{
			"userId":      owner.ID,
			"email":       owner.Email,
			"displayName": owner.DisplayName,
			"role":        string(rbac.RoleAdmin),
			"owner":       true,
		})
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	for _, member := range members {
		items = append(items, memberView(member))
	}
	return map[string]any{"docId": doc.ID, "ownerId": doc.OwnerID, "members": items}, nil
}

func (s *Service) AddMember(ctx context.Context, sess Session, docID, emailAddr, role string) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionManage)
	if err != nil {
		return nil, err
	}
	if !rbac.Valid(role) {
		return nil, validationError("role", "role must be admin, editor or viewer")
	}
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No user with that email", nil)
		}
		return nil, err
	}
	if user.ID == doc.OwnerID {
		return nil, ownerMemberError()
	}
	member := store.DocMember{DocID: doc.ID, UserID: user.ID, Role: role, InvitedBy: sess.UserID}
	if err := s.store.AddMember(ctx, member); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, domainError(http.StatusConflict, "ALREADY_MEMBER", "User is already a member of this doc", nil)
		}
		return nil, err
	}
	if s.SMTPConfigured() {
		docURL := strings.TrimRight(s.cfg.AppURL, "/") + "/docs/" + doc.ID
		if err := s.mail.SendInvitationEmail(user.Email, sess.UserName, doc.Name, role, docURL); err != nil {
			s.logger.Warn("send invitation email", zap.String("doc_id", doc.ID), zap.Error(err))
		}
	}
	return memberView(store.Member{DocMember: member, Email: user.Email, DisplayName: user.DisplayName}), nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, sess Session, docID, userID, role string) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionManage)
	if err != nil {
		return nil, err
	}
	if !rbac.Valid(role) {
		return nil, validationError("role", "role must be admin, editor or viewer")
	}
	if userID == doc.OwnerID {
		return nil, ownerMemberError()
	}
	if err := s.store.UpdateMemberRole(ctx, doc.ID, userID, role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError("Member")
		}
		return nil, err
	}
	return map[string]any{"docId": doc.ID, "userId": userID, "role": role}, nil
}

func (s *Service) RemoveMember(ctx context.Context, sess Session, docID, userID string) error {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionManage)
	if err != nil {
		return err
	}
	if userID == doc.OwnerID {
		return ownerMemberError()
	}
	if err := s.store.RemoveMember(ctx, doc.ID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("Member")
		}
		return err
	}
	return nil
}

func ownerMemberError() *DomainError {
	return domainError(http.StatusConflict, "OWNER_MEMBERSHIP", "The doc owner always has full access", nil)
}

func (s *Service) docView(doc store.Doc, access rbac.Access) map[string]any {
	return map[string]any{
		"id":            doc.ID,
		"name":          doc.Name,
		"slug":          doc.Slug,
		"description":   doc.Description,
		"ownerId":       doc.OwnerID,
		"isPublished":   doc.IsPublished,
		"publishedAt":   doc.PublishedAt,
		"landingPageId": doc.LandingPageID,
		"publicUrl":     s.cfg.PublicDocURL(doc.Slug),
		"role":          string(access.Role),
		"isOwner":       access.Owner,
		"createdAt":     doc.CreatedAt,
		"updatedAt":     doc.UpdatedAt,
	}
}

func memberView(member store.Member) map[string]any {
	return map[string]any{
		"userId":      member.UserID,
		"email":       member.Email,
		"displayName": member.DisplayName,
		"role":        member.Role,
		"invitedBy":   member.InvitedBy,
		"owner":       false,
		"createdAt":   member.CreatedAt,
	}
}
