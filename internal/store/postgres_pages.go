package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const pageColumns = `id, doc_id, title, slug, content, status, published_title, published_content,
	published_at, scheduled_publish_at, version, created_by, updated_by, created_at, updated_at`

const pageSummaryColumns = `id, doc_id, title, slug, status, published_title, published_at,
	scheduled_publish_at, version, created_by, updated_by, created_at, updated_at`

const revisionColumns = `id, page_id, number, kind, title, content, message, created_by, created_at`

func insertPage(ctx context.Context, tx *sqlx.Tx, seed PageSeed) error {
	page := seed.Page
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pages (id, doc_id, title, slug, content, status, version, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, 'draft', 1, $6, $6)
	`, page.ID, page.DocID, page.Title, page.Slug, page.Content, page.CreatedBy); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	rev := seed.Revision
	rev.PageID = page.ID
	if _, err := insertRevision(ctx, tx, rev); err != nil {
		return err
	}
	if seed.NavItem != nil {
		item := *seed.NavItem
		item.PageID = &page.ID
		if _, err := insertNavItem(ctx, tx, item); err != nil {
			return err
		}
	}
	return nil
}

// insertRevision assigns the next revision number for the page.
func insertRevision(ctx context.Context, tx *sqlx.Tx, rev PageRevision) (int, error) {
	var number int
	err := tx.GetContext(ctx, &number, `
		INSERT INTO page_revisions (id, page_id, number, kind, title, content, message, created_by)
		SELECT $1, $2, COALESCE(MAX(number), 0) + 1, $3, $4, $5, $6, $7
		FROM page_revisions WHERE page_id=$2
		RETURNING number
	`, rev.ID, rev.PageID, rev.Kind, rev.Title, rev.Content, rev.Message, rev.CreatedBy)
	if err != nil {
		return 0, fmt.Errorf("insert revision: %w", err)
	}
	return number, nil
}

func (s *PostgresStore) CreatePage(ctx context.Context, seed PageSeed) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return insertPage(ctx, tx, seed)
	})
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID string) (Page, error) {
	var page Page
	if err := s.db.GetContext(ctx, &page, `SELECT `+pageColumns+` FROM pages WHERE id=$1`, pageID); err != nil {
		return Page{}, notFound(err)
	}
	return page, nil
}

func (s *PostgresStore) GetPageBySlug(ctx context.Context, docID, slug string) (Page, error) {
	var page Page
	if err := s.db.GetContext(ctx, &page, `SELECT `+pageColumns+` FROM pages WHERE doc_id=$1 AND slug=$2`, docID, slug); err != nil {
		return Page{}, notFound(err)
	}
	return page, nil
}

// ListPages returns page metadata without draft or published content.
func (s *PostgresStore) ListPages(ctx context.Context, docID string) ([]Page, error) {
	pages := make([]Page, 0)
	err := s.db.SelectContext(ctx, &pages, `SELECT `+pageSummaryColumns+` FROM pages WHERE doc_id=$1 ORDER BY title ASC, created_at ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

// ListPagesWithContent returns every page of a doc, content included.
func (s *PostgresStore) ListPagesWithContent(ctx context.Context, docID string) ([]Page, error) {
	pages := make([]Page, 0)
	err := s.db.SelectContext(ctx, &pages, `SELECT `+pageColumns+` FROM pages WHERE doc_id=$1 ORDER BY title ASC, created_at ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

func (s *PostgresStore) ListAllPages(ctx context.Context) ([]Page, error) {
	pages := make([]Page, 0)
	if err := s.db.SelectContext(ctx, &pages, `SELECT `+pageColumns+` FROM pages ORDER BY doc_id, created_at`); err != nil {
		return nil, fmt.Errorf("list all pages: %w", err)
	}
	return pages, nil
}

// PageSlugTaken reports whether another page of the doc already uses slug.
func (s *PostgresStore) PageSlugTaken(ctx context.Context, docID, slug, exceptPageID string) (bool, error) {
	var taken bool
	err := s.db.GetContext(ctx, &taken, `SELECT EXISTS(SELECT 1 FROM pages WHERE doc_id=$1 AND slug=$2 AND id<>$3)`, docID, slug, exceptPageID)
	if err != nil {
		return false, fmt.Errorf("check page slug: %w", err)
	}
	return taken, nil
}

// UpdateDraft applies a DraftUpdate when the page is still at BaseVersion and
// returns the page with its version bumped. A stale BaseVersion returns
// ErrVersionConflict.
func (s *PostgresStore) UpdateDraft(ctx context.Context, update DraftUpdate) (Page, error) {
	var page Page
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &page, `
			UPDATE pages
			SET title=$3, slug=$4, content=$5, updated_by=$6, version=version+1, updated_at=NOW()
			WHERE id=$1 AND version=$2
			RETURNING `+pageColumns,
			update.PageID, update.BaseVersion, update.Title, update.Slug, update.Content, update.UpdatedBy,
		)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("update draft: %w", err)
			}
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM pages WHERE id=$1)`, update.PageID); err != nil {
				return fmt.Errorf("check page: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
		if update.Revision == nil {
			return nil
		}
		rev := *update.Revision
		rev.PageID = update.PageID
		if _, err := insertRevision(ctx, tx, rev); err != nil {
			return err
		}
		if update.KeepAutosaves > 0 {
			return pruneAutosaves(ctx, tx, update.PageID, update.KeepAutosaves)
		}
		return nil
	})
	if err != nil {
		return Page{}, err
	}
	return page, nil
}

func pruneAutosaves(ctx context.Context, tx *sqlx.Tx, pageID string, keep int) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM page_revisions
		WHERE id IN (
			SELECT id FROM page_revisions
			WHERE page_id=$1 AND kind='autosave'
			ORDER BY number DESC
			OFFSET $2
		)
	`, pageID, keep)
	if err != nil {
		return fmt.Errorf("prune autosaves: %w", err)
	}
	return nil
}

// PublishPage copies the draft into the published fields, clears any
// schedule and records rev as a publish revision.
func (s *PostgresStore) PublishPage(ctx context.Context, pageID string, rev PageRevision, at time.Time) (Page, error) {
	var page Page
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &page, `
			UPDATE pages
			SET status='published', published_title=title, published_content=content,
				published_at=$2, scheduled_publish_at=NULL, updated_by=$3, updated_at=NOW()
			WHERE id=$1
			RETURNING `+pageColumns,
			pageID, at, rev.CreatedBy,
		); err != nil {
			return notFound(err)
		}
		rev.PageID = pageID
		rev.Title = page.Title
		rev.Content = page.Content
		_, err := insertRevision(ctx, tx, rev)
		return err
	})
	if err != nil {
		return Page{}, err
	}
	return page, nil
}

func (s *PostgresStore) UnpublishPage(ctx context.Context, pageID, actor string) (Page, error) {
	var page Page
	err := s.db.GetContext(ctx, &page, `
		UPDATE pages
		SET status='draft', published_title='', published_content='', published_at=NULL,
			updated_by=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+pageColumns,
		pageID, actor,
	)
	if err != nil {
		return Page{}, notFound(err)
	}
	return page, nil
}

// SetPageSchedule sets or, with a nil time, clears the scheduled publish time.
func (s *PostgresStore) SetPageSchedule(ctx context.Context, pageID string, at *time.Time) (Page, error) {
	var page Page
	err := s.db.GetContext(ctx, &page, `
		UPDATE pages SET scheduled_publish_at=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+pageColumns,
		pageID, at,
	)
	if err != nil {
		return Page{}, notFound(err)
	}
	return page, nil
}

// ListDuePages returns pages whose scheduled publish time is at or before now.
func (s *PostgresStore) ListDuePages(ctx context.Context, now time.Time) ([]Page, error) {
	pages := make([]Page, 0)
	err := s.db.SelectContext(ctx, &pages, `
		SELECT `+pageColumns+` FROM pages
		WHERE scheduled_publish_at IS NOT NULL AND scheduled_publish_at <= $1
		ORDER BY scheduled_publish_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list due pages: %w", err)
	}
	return pages, nil
}

// DeletePage removes the page; revisions and nav items pointing at it go with
// it, and a doc using it as landing page falls back to none. Children of those
// nav items move up to the removed item's parent and section first, so the
// parent_id cascade never takes other pages' items with it.
func (s *PostgresStore) DeletePage(ctx context.Context, pageID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for range maxNavDepth {
			res, err := tx.ExecContext(ctx, `
				UPDATE nav_items AS child
				SET parent_id = gone.parent_id, section_id = gone.section_id, updated_at = NOW()
				FROM nav_items AS gone
				WHERE child.parent_id = gone.id AND gone.page_id = $1
			`, pageID)
			if err != nil {
				return fmt.Errorf("reparent nav items: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil || n == 0 {
				break
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE id=$1`, pageID)
		if err != nil {
			return fmt.Errorf("delete page: %w", err)
		}
		return requireRow(res)
	})
}

// LatestRevision returns the newest revision of the page, or nil when there
// is none.
func (s *PostgresStore) LatestRevision(ctx context.Context, pageID string) (*PageRevision, error) {
	var rev PageRevision
	err := s.db.GetContext(ctx, &rev, `
		SELECT `+revisionColumns+` FROM page_revisions
		WHERE page_id=$1 ORDER BY number DESC LIMIT 1
	`, pageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest revision: %w", err)
	}
	return &rev, nil
}

// ListRevisions returns the page's revisions newest first without content.
func (s *PostgresStore) ListRevisions(ctx context.Context, pageID string) ([]PageRevision, error) {
	revs := make([]PageRevision, 0)
	err := s.db.SelectContext(ctx, &revs, `
		SELECT id, page_id, number, kind, title, message, created_by, created_at
		FROM page_revisions WHERE page_id=$1 ORDER BY number DESC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return revs, nil
}

func (s *PostgresStore) GetRevision(ctx context.Context, pageID string, number int) (PageRevision, error) {
	var rev PageRevision
	err := s.db.GetContext(ctx, &rev, `SELECT `+revisionColumns+` FROM page_revisions WHERE page_id=$1 AND number=$2`, pageID, number)
	if err != nil {
		return PageRevision{}, notFound(err)
	}
	return rev, nil
}
