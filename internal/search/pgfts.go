package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// PgFTS searches pages with PostgreSQL full-text search. It is the fallback
// whenever Meilisearch is unconfigured or unhealthy.
type PgFTS struct {
	db *sqlx.DB
}

func NewPgFTS(db *sqlx.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches plainto_tsquery against the draft fts column, or the
// published_fts column for published-only queries, ranked by ts_rank.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || !q.scoped() {
		return nil, 0, nil
	}

	ftsColumn, contentColumn, titleColumn := "p.fts", "p.content", "p.title"
	if q.PublishedOnly {
		ftsColumn, contentColumn, titleColumn = "p.published_fts", "p.published_content", "p.published_title"
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := []string{ftsColumn + " @@ " + tsQuery}
	if q.PublishedOnly {
		where = append(where, "p.status = 'published'")
	}
	if !q.AllDocs {
		placeholders := make([]string, len(q.DocIDs))
		for i, id := range q.DocIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "p.doc_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	whereSQL := strings.Join(where, " AND ")

	countSQL := `SELECT count(*) FROM pages p WHERE ` + whereSQL
	dataSQL := fmt.Sprintf(`
		SELECT p.id AS page_id, p.doc_id, d.slug AS doc_slug, p.slug, %s AS title,
			ts_headline('english', coalesce(%s, ''), %s, 'MaxFragments=1,MaxWords=30,StartSel=%s,StopSel=%s') AS snippet,
			p.status
		FROM pages p
		JOIN docs d ON d.id = p.doc_id
		WHERE %s
		ORDER BY ts_rank(%s, %s) DESC, p.title ASC
		LIMIT %d OFFSET %d`,
		titleColumn, contentColumn, tsQuery, markOpen, markClose, whereSQL, ftsColumn, tsQuery,
		normalizeLimit(q.Limit), max(q.Offset, 0))

	var total int
	if err := p.db.GetContext(ctx, &total, countSQL, args...); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows := make([]struct {
		PageID  string `db:"page_id"`
		DocID   string `db:"doc_id"`
		DocSlug string `db:"doc_slug"`
		Slug    string `db:"slug"`
		Title   string `db:"title"`
		Snippet string `db:"snippet"`
		Status  string `db:"status"`
	}, 0)
	if err := p.db.SelectContext(ctx, &rows, dataSQL, args...); err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		r.Snippet = markSnippet(r.Snippet)
		results = append(results, Result(r))
	}
	return results, total, nil
}

// LoadAllRecords returns every page for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PageRecord, error) {
	return p.loadRecords(ctx, "")
}

// LoadDocRecords returns the pages of one doc.
func (p *PgFTS) LoadDocRecords(ctx context.Context, docID string) ([]PageRecord, error) {
	return p.loadRecords(ctx, docID)
}

func (p *PgFTS) loadRecords(ctx context.Context, docID string) ([]PageRecord, error) {
	query := `
		SELECT p.id, p.doc_id, d.slug AS doc_slug, p.slug, p.title, p.content, p.status,
			p.published_title, p.published_content
		FROM pages p
		JOIN docs d ON d.id = p.doc_id`
	var args []any
	if docID != "" {
		query += ` WHERE p.doc_id = $1`
		args = append(args, docID)
	}

	rows := make([]struct {
		ID               string `db:"id"`
		DocID            string `db:"doc_id"`
		DocSlug          string `db:"doc_slug"`
		Slug             string `db:"slug"`
		Title            string `db:"title"`
		Content          string `db:"content"`
		Status           string `db:"status"`
		PublishedTitle   string `db:"published_title"`
		PublishedContent string `db:"published_content"`
	}, 0)
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}

	records := make([]PageRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, PageRecord(r))
	}
	return records, nil
}
