package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const docColumns = `d.id, d.owner_id, d.name, d.slug, d.description, d.is_published,
	d.published_at, d.landing_page_id, d.created_at, d.updated_at`

// PageSeed is a new page together with its first revision and an optional
// nav item pointing at it.
type PageSeed struct {
	Page     Page
	Revision PageRevision
	NavItem  *NavItem
}

// CreateDoc inserts a doc and its first page in one transaction and makes the
// page the doc's landing page.
func (s *PostgresStore) CreateDoc(ctx context.Context, doc Doc, seed PageSeed) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO docs (id, owner_id, name, slug, description)
			VALUES ($1, $2, $3, $4, $5)
		`, doc.ID, doc.OwnerID, doc.Name, doc.Slug, doc.Description); err != nil {
			return fmt.Errorf("insert doc: %w", err)
		}
		if err := insertPage(ctx, tx, seed); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE docs SET landing_page_id=$2 WHERE id=$1`, doc.ID, seed.Page.ID); err != nil {
			return fmt.Errorf("set landing page: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetDoc(ctx context.Context, docID string) (Doc, error) {
	var doc Doc
	if err := s.db.GetContext(ctx, &doc, `SELECT `+docColumns+` FROM docs d WHERE d.id=$1`, docID); err != nil {
		return Doc{}, notFound(err)
	}
	return doc, nil
}

func (s *PostgresStore) GetDocBySlug(ctx context.Context, slug string) (Doc, error) {
	var doc Doc
	if err := s.db.GetContext(ctx, &doc, `SELECT `+docColumns+` FROM docs d WHERE d.slug=$1`, slug); err != nil {
		return Doc{}, notFound(err)
	}
	return doc, nil
}

// ListDocsForUser returns the docs userID owns or is a member of, or every
// doc when all is set. Newest first.
func (s *PostgresStore) ListDocsForUser(ctx context.Context, userID string, all bool) ([]DocListing, error) {
	docs := make([]DocListing, 0)
	err := s.db.SelectContext(ctx, &docs, `
		SELECT `+docColumns+`, COALESCE(m.role, '') AS member_role
		FROM docs d
		LEFT JOIN doc_members m ON m.doc_id = d.id AND m.user_id = $1
		WHERE $2 OR d.owner_id = $1 OR m.user_id IS NOT NULL
		ORDER BY d.created_at DESC
	`, userID, all)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) ListAllDocs(ctx context.Context) ([]Doc, error) {
	docs := make([]Doc, 0)
	if err := s.db.SelectContext(ctx, &docs, `SELECT `+docColumns+` FROM docs d ORDER BY d.created_at ASC`); err != nil {
		return nil, fmt.Errorf("list all docs: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) UpdateDoc(ctx context.Context, doc Doc) (Doc, error) {
	var updated Doc
	err := s.db.GetContext(ctx, &updated, `
		UPDATE docs d
		SET name=$2, slug=$3, description=$4, landing_page_id=$5, updated_at=NOW()
		WHERE d.id=$1
		RETURNING `+docColumns,
		doc.ID, doc.Name, doc.Slug, doc.Description, doc.LandingPageID,
	)
	if err != nil {
		return Doc{}, notFound(err)
	}
	return updated, nil
}

func (s *PostgresStore) SetDocPublished(ctx context.Context, docID string, published bool, at time.Time) (Doc, error) {
	var publishedAt *time.Time
	if published {
		publishedAt = &at
	}
	var updated Doc
	err := s.db.GetContext(ctx, &updated, `
		UPDATE docs d
		SET is_published=$2, published_at=COALESCE($3, d.published_at), updated_at=NOW()
		WHERE d.id=$1
		RETURNING `+docColumns,
		docID, published, publishedAt,
	)
	if err != nil {
		return Doc{}, notFound(err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteDoc(ctx context.Context, docID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM docs WHERE id=$1`, docID)
	if err != nil {
		return fmt.Errorf("delete doc: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) CountPublishedPages(ctx context.Context, docID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM pages WHERE doc_id=$1 AND status='published'`, docID)
	if err != nil {
		return 0, fmt.Errorf("count published pages: %w", err)
	}
	return count, nil
}

// GetMemberRole returns the user's membership role on the doc, or "" when the
// user is not a member.
func (s *PostgresStore) GetMemberRole(ctx context.Context, docID, userID string) (string, error) {
	var role string
	err := s.db.GetContext(ctx, &role, `SELECT role FROM doc_members WHERE doc_id=$1 AND user_id=$2`, docID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("read member role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, docID string) ([]Member, error) {
	members := make([]Member, 0)
	err := s.db.SelectContext(ctx, &members, `
		SELECT m.doc_id, m.user_id, m.role, m.invited_by, m.created_at, u.email, u.display_name
		FROM doc_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.doc_id=$1
		ORDER BY m.created_at ASC
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// AddMember inserts a membership. A duplicate returns a unique violation.
func (s *PostgresStore) AddMember(ctx context.Context, member DocMember) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO doc_members (doc_id, user_id, role, invited_by)
		VALUES (:doc_id, :user_id, :role, :invited_by)
	`, member)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, docID, userID, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE doc_members SET role=$3 WHERE doc_id=$1 AND user_id=$2`, docID, userID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) RemoveMember(ctx context.Context, docID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM doc_members WHERE doc_id=$1 AND user_id=$2`, docID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return requireRow(res)
}
