package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const navSectionColumns = `id, doc_id, parent_id, title, position, created_at, updated_at`

// maxNavDepth bounds how many levels of nav items can need reparenting.
const maxNavDepth = 4

const navItemColumns = `id, doc_id, section_id, parent_id, kind, label, page_id, url, position, created_at, updated_at`

func (s *PostgresStore) ListNavSections(ctx context.Context, docID string) ([]NavSection, error) {
	sections := make([]NavSection, 0)
	err := s.db.SelectContext(ctx, &sections, `
		SELECT `+navSectionColumns+` FROM nav_sections
		WHERE doc_id=$1 ORDER BY position ASC, created_at ASC
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list nav sections: %w", err)
	}
	return sections, nil
}

func (s *PostgresStore) ListNavItems(ctx context.Context, docID string) ([]NavItem, error) {
	items := make([]NavItem, 0)
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+navItemColumns+` FROM nav_items
		WHERE doc_id=$1 ORDER BY position ASC, created_at ASC
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list nav items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNavSection(ctx context.Context, docID, sectionID string) (NavSection, error) {
	var section NavSection
	err := s.db.GetContext(ctx, &section, `SELECT `+navSectionColumns+` FROM nav_sections WHERE doc_id=$1 AND id=$2`, docID, sectionID)
	if err != nil {
		return NavSection{}, notFound(err)
	}
	return section, nil
}

func (s *PostgresStore) GetNavItem(ctx context.Context, docID, itemID string) (NavItem, error) {
	var item NavItem
	err := s.db.GetContext(ctx, &item, `SELECT `+navItemColumns+` FROM nav_items WHERE doc_id=$1 AND id=$2`, docID, itemID)
	if err != nil {
		return NavItem{}, notFound(err)
	}
	return item, nil
}

// InsertNavSection appends the section after its siblings.
func (s *PostgresStore) InsertNavSection(ctx context.Context, section NavSection) (NavSection, error) {
	var created NavSection
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO nav_sections (id, doc_id, parent_id, title, position)
		VALUES ($1, $2, $3, $4, COALESCE((
			SELECT MAX(position) + 1 FROM nav_sections
			WHERE doc_id=$2 AND parent_id IS NOT DISTINCT FROM $3
		), 0))
		RETURNING `+navSectionColumns,
		section.ID, section.DocID, section.ParentID, section.Title,
	)
	if err != nil {
		return NavSection{}, fmt.Errorf("insert nav section: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateNavSection(ctx context.Context, section NavSection) (NavSection, error) {
	var updated NavSection
	err := s.db.GetContext(ctx, &updated, `
		UPDATE nav_sections SET title=$3, parent_id=$4, updated_at=NOW()
		WHERE doc_id=$1 AND id=$2
		RETURNING `+navSectionColumns,
		section.DocID, section.ID, section.Title, section.ParentID,
	)
	if err != nil {
		return NavSection{}, notFound(err)
	}
	return updated, nil
}

// DeleteNavSection removes the section with its child sections and items.
func (s *PostgresStore) DeleteNavSection(ctx context.Context, docID, sectionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nav_sections WHERE doc_id=$1 AND id=$2`, docID, sectionID)
	if err != nil {
		return fmt.Errorf("delete nav section: %w", err)
	}
	return requireRow(res)
}

// insertNavItem appends the item after its siblings under the same section
// and parent item.
func insertNavItem(ctx context.Context, q sqlx.QueryerContext, item NavItem) (NavItem, error) {
	var created NavItem
	err := sqlx.GetContext(ctx, q, &created, `
		INSERT INTO nav_items (id, doc_id, section_id, parent_id, kind, label, page_id, url, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE((
			SELECT MAX(position) + 1 FROM nav_items
			WHERE doc_id=$2 AND section_id IS NOT DISTINCT FROM $3 AND parent_id IS NOT DISTINCT FROM $4
		), 0))
		RETURNING `+navItemColumns,
		item.ID, item.DocID, item.SectionID, item.ParentID, item.Kind, item.Label, item.PageID, item.URL,
	)
	if err != nil {
		return NavItem{}, fmt.Errorf("insert nav item: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) InsertNavItem(ctx context.Context, item NavItem) (NavItem, error) {
	return insertNavItem(ctx, s.db, item)
}

func (s *PostgresStore) UpdateNavItem(ctx context.Context, item NavItem) (NavItem, error) {
	var updated NavItem
	err := s.db.GetContext(ctx, &updated, `
		UPDATE nav_items
		SET section_id=$3, parent_id=$4, kind=$5, label=$6, page_id=$7, url=$8, updated_at=NOW()
		WHERE doc_id=$1 AND id=$2
		RETURNING `+navItemColumns,
		item.DocID, item.ID, item.SectionID, item.ParentID, item.Kind, item.Label, item.PageID, item.URL,
	)
	if err != nil {
		return NavItem{}, notFound(err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteNavItem(ctx context.Context, docID, itemID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nav_items WHERE doc_id=$1 AND id=$2`, docID, itemID)
	if err != nil {
		return fmt.Errorf("delete nav item: %w", err)
	}
	return requireRow(res)
}

// ApplyNavMoves applies every move in one transaction. A move naming a node
// outside the doc aborts the whole batch with ErrNotFound.
func (s *PostgresStore) ApplyNavMoves(ctx context.Context, docID string, moves []NavMove) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, move := range moves {
			var query string
			var args []any
			switch move.Type {
			case "section":
				query = `UPDATE nav_sections SET parent_id=$3, position=$4, updated_at=NOW() WHERE doc_id=$1 AND id=$2`
				args = []any{docID, move.ID, move.ParentID, move.Position}
			case "item":
				query = `UPDATE nav_items SET parent_id=$3, section_id=$4, position=$5, updated_at=NOW() WHERE doc_id=$1 AND id=$2`
				args = []any{docID, move.ID, move.ParentID, move.SectionID, move.Position}
			default:
				return fmt.Errorf("unknown nav move type %q", move.Type)
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("apply nav move %s: %w", move.ID, err)
			}
			if err := requireRow(res); err != nil {
				return err
			}
		}
		return nil
	})
}
