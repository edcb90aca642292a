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

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over checklists and checklist_items with
// plainto_tsquery, ranked by ts_rank and snippeted with ts_headline.
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

	const tsQuery = "plainto_tsquery('english', $1)"
	unionSQL := fmt.Sprintf(`
		SELECT 'checklist'::text AS type, c.id::text, c.name AS title,
			ts_headline('english', c.name, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			c.id::text AS checklist_id,
			ts_rank(c.fts, %s) AS rank
		FROM checklists c
		WHERE c.fts @@ %s
		UNION ALL
		SELECT 'item'::text AS type, ci.id::text, ci.content AS title,
			ts_headline('english', ci.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			ci.checklist_id::text,
			ts_rank(ci.fts, %s) AS rank
		FROM checklist_items ci
		WHERE ci.fts @@ %s`,
		tsQuery, tsQuery, tsQuery, tsQuery, tsQuery, tsQuery)

	ctx := context.Background()

	var total int
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", unionSQL)
	if err := p.db.QueryRowContext(ctx, countSQL, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, checklist_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, unionSQL, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ChecklistID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ChecklistRecord, []ItemRecord, error) {
	checklistRows, err := p.db.QueryContext(ctx, `SELECT id::text, name FROM checklists`)
	if err != nil {
		return nil, nil, fmt.Errorf("load checklists: %w", err)
	}
	defer checklistRows.Close()

	checklists := make([]ChecklistRecord, 0)
	for checklistRows.Next() {
		var c ChecklistRecord
		if err := checklistRows.Scan(&c.ID, &c.Name); err != nil {
			return nil, nil, fmt.Errorf("scan checklist: %w", err)
		}
		checklists = append(checklists, c)
	}
	if err := checklistRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate checklists: %w", err)
	}

	itemRows, err := p.db.QueryContext(ctx,
		`SELECT id::text, content, checklist_id::text FROM checklist_items`)
	if err != nil {
		return nil, nil, fmt.Errorf("load items: %w", err)
	}
	defer itemRows.Close()

	items := make([]ItemRecord, 0)
	for itemRows.Next() {
		var item ItemRecord
		if err := itemRows.Scan(&item.ID, &item.Content, &item.ChecklistID); err != nil {
			return nil, nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate items: %w", err)
	}

	return checklists, items, nil
}
