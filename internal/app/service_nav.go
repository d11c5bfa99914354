package app

import (
	"context"
	"errors"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"helppages/api/internal/navtree"
	"helppages/api/internal/rbac"
	"helppages/api/internal/store"
	"helppages/api/internal/util"
)

type SectionInput struct {
	Title    string  `json:"title"`
	ParentID *string `json:"parentId"`
}

func (in SectionInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.RuneLength(1, maxNameLength)),
	)
}

// ItemInput describes a nav item. Items nested under a parent item always
// live in the parent's section.
type ItemInput struct {
	Kind      string  `json:"kind"`
	Label     string  `json:"label"`
	PageID    *string `json:"pageId"`
	URL       string  `json:"url"`
	SectionID *string `json:"sectionId"`
	ParentID  *string `json:"parentId"`
}

type NavMoveInput struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	ParentID  *string `json:"parentId"`
	SectionID *string `json:"sectionId"`
	Position  int     `json:"position"`
}

func (s *Service) loadNav(ctx context.Context, docID string) ([]store.NavSection, []store.NavItem, error) {
	sections, err := s.store.ListNavSections(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.ListNavItems(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	return sections, items, nil
}

func (s *Service) GetNav(ctx context.Context, sess Session, docID string) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	sections, items, err := s.loadNav(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	tree := navtree.Build(sections, items)
	return map[string]any{"docId": doc.ID, "sections": tree.Sections, "items": tree.Items}, nil
}

func (s *Service) CreateSection(ctx context.Context, sess Session, docID string, input SectionInput) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	input.Title = strings.TrimSpace(input.Title)
	if err := input.Validate(); err != nil {
		return nil, err
	}
	sections, err := s.store.ListNavSections(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	id := util.NewID("sec")
	if err := navtree.SectionParents(sections).CheckMove(id, input.ParentID); err != nil {
		return nil, err
	}
	created, err := s.store.InsertNavSection(ctx, store.NavSection{
		ID:       id,
		DocID:    doc.ID,
		ParentID: input.ParentID,
		Title:    input.Title,
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx, doc.ID)
	return sectionView(created), nil
}

func (s *Service) UpdateSection(ctx context.Context, sess Session, docID, sectionID string, input SectionInput) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	input.Title = strings.TrimSpace(input.Title)
	if err := input.Validate(); err != nil {
		return nil, err
	}
	sections, err := s.store.ListNavSections(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	parents := navtree.SectionParents(sections)
	if _, ok := parents[sectionID]; !ok {
		return nil, notFoundError("Section")
	}
	if err := parents.CheckMove(sectionID, input.ParentID); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateNavSection(ctx, store.NavSection{
		ID:       sectionID,
		DocID:    doc.ID,
		ParentID: input.ParentID,
		Title:    input.Title,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError("Section")
		}
		return nil, err
	}
	s.changed(ctx, doc.ID)
	return sectionView(updated), nil
}

func (s *Service) DeleteSection(ctx context.Context, sess Session, docID, sectionID string) error {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNavSection(ctx, doc.ID, sectionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("Section")
		}
		return err
	}
	s.changed(ctx, doc.ID)
	return nil
}

// resolveItem validates input against the doc's nav and pages and returns
// the row to store.
func (s *Service) resolveItem(ctx context.Context, docID, itemID string, input ItemInput, sections []store.NavSection, items []store.NavItem) (store.NavItem, error) {
	item := store.NavItem{
		ID:        itemID,
		DocID:     docID,
		Kind:      strings.TrimSpace(input.Kind),
		Label:     strings.TrimSpace(input.Label),
		SectionID: input.SectionID,
		ParentID:  input.ParentID,
	}
	if item.Kind == "" {
		item.Kind = store.NavItemPage
	}

	switch item.Kind {
	case store.NavItemPage:
		if input.PageID == nil || *input.PageID == "" {
			return store.NavItem{}, validationError("pageId", "page items require a page")
		}
		page, err := s.store.GetPage(ctx, *input.PageID)
		if err != nil || page.DocID != docID {
			if err == nil || errors.Is(err, store.ErrNotFound) {
				return store.NavItem{}, validationError("pageId", "page must belong to this doc")
			}
			return store.NavItem{}, err
		}
		item.PageID = &page.ID
		if item.Label == "" {
			item.Label = page.Title
		}
	case store.NavItemLink:
		if !validLinkURL(input.URL) {
			return store.NavItem{}, validationError("url", "links require an absolute http or https URL")
		}
		item.URL = strings.TrimSpace(input.URL)
		if item.Label == "" {
			return store.NavItem{}, validationError("label", "links require a label")
		}
	default:
		return store.NavItem{}, validationError("kind", "kind must be page or link")
	}

	if item.SectionID != nil {
		found := false
		for _, section := range sections {
			if section.ID == *item.SectionID {
				found = true
				break
			}
		}
		if !found {
			return store.NavItem{}, navtree.ErrNotFound
		}
	}
	if item.ParentID != nil {
		for _, candidate := range items {
			if candidate.ID == *item.ParentID {
				item.SectionID = candidate.SectionID
				break
			}
		}
	}
	if err := navtree.ItemParents(items).CheckMove(item.ID, item.ParentID); err != nil {
		return store.NavItem{}, err
	}
	return item, nil
}

func validLinkURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

func (s *Service) CreateItem(ctx context.Context, sess Session, docID string, input ItemInput) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	sections, items, err := s.loadNav(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	item, err := s.resolveItem(ctx, doc.ID, util.NewID("nav"), input, sections, items)
	if err != nil {
		return nil, err
	}
	created, err := s.store.InsertNavItem(ctx, item)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, doc.ID)
	return itemView(created), nil
}

func (s *Service) UpdateItem(ctx context.Context, sess Session, docID, itemID string, input ItemInput) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	sections, items, err := s.loadNav(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	known := false
	for _, candidate := range items {
		if candidate.ID == itemID {
			known = true
			break
		}
	}
	if !known {
		return nil, notFoundError("Nav item")
	}
	item, err := s.resolveItem(ctx, doc.ID, itemID, input, sections, items)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateNavItem(ctx, item)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError("Nav item")
		}
		return nil, err
	}
	parents := navtree.ItemParents(items)
	parents.Apply(updated.ID, updated.ParentID)
	sectionsByItem := make(map[string]*string, len(items))
	positions := make(map[string]int, len(items))
	for _, it := range items {
		sectionsByItem[it.ID] = it.SectionID
		positions[it.ID] = it.Position
	}
	sectionsByItem[updated.ID] = updated.SectionID
	if follow := followSection(parents, sectionsByItem, positions, updated.ID); len(follow) > 0 {
		if err := s.store.ApplyNavMoves(ctx, doc.ID, follow); err != nil {
			return nil, err
		}
	}
	s.changed(ctx, doc.ID)
	return itemView(updated), nil
}

// followSection moves the descendants of item id into its section, keeping
// their parents and positions. It returns the moves for those whose section
// changed and records the change in sections.
func followSection(parents navtree.Parents, sections map[string]*string, positions map[string]int, id string) []store.NavMove {
	target := sections[id]
	var moves []store.NavMove
	for _, child := range parents.Descendants(id) {
		if sameID(sections[child], target) {
			continue
		}
		sections[child] = target
		moves = append(moves, store.NavMove{Type: "item", ID: child, ParentID: parents[child], SectionID: target, Position: positions[child]})
	}
	return moves
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Service) DeleteItem(ctx context.Context, sess Session, docID, itemID string) error {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNavItem(ctx, doc.ID, itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("Nav item")
		}
		return err
	}
	s.changed(ctx, doc.ID)
	return nil
}

// ReorderNav validates every move against the tree as it looks after the
// earlier moves of the same batch, then applies them in one transaction.
func (s *Service) ReorderNav(ctx context.Context, sess Session, docID string, moves []NavMoveInput) (map[string]any, error) {
	doc, _, err := s.authorizeDoc(ctx, sess, docID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	if len(moves) == 0 {
		return nil, validationError("moves", "at least one move is required")
	}
	sections, items, err := s.loadNav(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	sectionParents := navtree.SectionParents(sections)
	itemParents := navtree.ItemParents(items)
	itemSections := make(map[string]*string, len(items))
	itemPositions := make(map[string]int, len(items))
	for _, item := range items {
		itemSections[item.ID] = item.SectionID
		itemPositions[item.ID] = item.Position
	}

	out := make([]store.NavMove, 0, len(moves))
	for _, move := range moves {
		if move.Position < 0 {
			return nil, validationError("position", "position cannot be negative")
		}
		switch move.Type {
		case "section":
			if _, ok := sectionParents[move.ID]; !ok {
				return nil, notFoundError("Section")
			}
			if err := sectionParents.CheckMove(move.ID, move.ParentID); err != nil {
				return nil, err
			}
			sectionParents.Apply(move.ID, move.ParentID)
			out = append(out, store.NavMove{Type: "section", ID: move.ID, ParentID: move.ParentID, Position: move.Position})
		case "item":
			if _, ok := itemParents[move.ID]; !ok {
				return nil, notFoundError("Nav item")
			}
			if err := itemParents.CheckMove(move.ID, move.ParentID); err != nil {
				return nil, err
			}
			sectionID := move.SectionID
			if move.ParentID != nil {
				sectionID = itemSections[*move.ParentID]
			}
			if sectionID != nil {
				if _, ok := sectionParents[*sectionID]; !ok {
					return nil, navtree.ErrNotFound
				}
			}
			itemParents.Apply(move.ID, move.ParentID)
			itemSections[move.ID] = sectionID
			itemPositions[move.ID] = move.Position
			out = append(out, store.NavMove{Type: "item", ID: move.ID, ParentID: move.ParentID, SectionID: sectionID, Position: move.Position})
			out = append(out, followSection(itemParents, itemSections, itemPositions, move.ID)...)
		default:
			return nil, validationError("type", "type must be section or item")
		}
	}
	if err := s.store.ApplyNavMoves(ctx, doc.ID, out); err != nil {
		return nil, err
	}
	s.changed(ctx, doc.ID)
	return s.GetNav(ctx, sess, doc.ID)
}

func sectionView(section store.NavSection) map[string]any {
	return map[string]any{
		"id":       section.ID,
		"docId":    section.DocID,
		"parentId": section.ParentID,
		"title":    section.Title,
		"position": section.Position,
	}
}

func itemView(item store.NavItem) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"docId":     item.DocID,
		"sectionId": item.SectionID,
		"parentId":  item.ParentID,
		"kind":      item.Kind,
		"label":     item.Label,
		"pageId":    item.PageID,
		"url":       nilIfEmpty(item.URL),
		"position":  item.Position,
	}
}
