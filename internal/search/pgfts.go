package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches the user's accessible documents against plainto_tsquery,
// ranked with ts_rank and snippeted with ts_headline.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const accessWhere = `
		d.fts @@ plainto_tsquery('english', $1)
		AND (d.owner_id = $2 OR EXISTS (
			SELECT 1 FROM document_collaborators dc
			WHERE dc.document_id = d.id AND dc.user_id = $2
		))`

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx,
		"SELECT count(*) FROM documents d WHERE"+accessWhere,
		q.Text, q.UserID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.title,
			ts_headline('english', coalesce(d.content, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			d.owner_id
		FROM documents d
		WHERE%s
		ORDER BY ts_rank(d.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, accessWhere, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, q.Text, q.UserID)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.IsShared = r.OwnerID != q.UserID
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every document with its editor set, used for full
// reindexing into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.content, d.owner_id,
			coalesce(array_agg(dc.user_id) FILTER (WHERE dc.user_id IS NOT NULL), '{}')
		FROM documents d
		LEFT JOIN document_collaborators dc ON dc.document_id = d.id
		GROUP BY d.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		var collaborators []byte
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.OwnerID, &collaborators); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Editors = append(parsePGTextArray(string(collaborators)), d.OwnerID)
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return documents, nil
}

// parsePGTextArray decodes a Postgres text[] literal of plain identifiers.
// Document and user ids never contain quotes or commas, so the simple split
// is enough.
func parsePGTextArray(raw string) []string {
	trimmed := strings.Trim(raw, "{}")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.Trim(part, `"`))
	}
	return out
}
