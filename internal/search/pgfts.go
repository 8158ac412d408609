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

// Healthy always returns true; without Postgres the service is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across merge_runs and annotations using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	dataSQL, countSQL, args := buildQuery(q)
	if dataSQL == "" {
		return nil, 0, nil
	}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentRef, &r.Outcome); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

func buildQuery(q Query) (string, string, []any) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultMerge {
		where := "m.fts @@ " + tsQuery
		if q.FilterDocRef != "" {
			where += fmt.Sprintf(" AND m.document_ref = $%d", argN)
			args = append(args, q.FilterDocRef)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'merge'::text AS type, m.id, coalesce(nullif(m.section_hint, ''), m.strategy) AS title,
				ts_headline('english', coalesce(m.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.document_ref, m.outcome,
				ts_rank(m.fts, %s) AS rank
			FROM merge_runs m
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultAnnotation {
		where := "a.fts @@ " + tsQuery
		if q.FilterDocRef != "" {
			where += fmt.Sprintf(" AND a.document_id = $%d", argN)
			args = append(args, q.FilterDocRef)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'annotation'::text AS type, a.id, a.anchor_text AS title,
				ts_headline('english', coalesce(a.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.document_id AS document_ref, ''::text AS outcome,
				ts_rank(a.fts, %s) AS rank
			FROM annotations a
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return "", "", nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_ref, outcome
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)
	return dataSQL, countSQL, args
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]MergeRecord, []AnnotationRecord, error) {
	mergeRows, err := p.db.QueryContext(ctx, `
		SELECT id, document_ref, outcome, strategy, section_hint, content, message
		FROM merge_runs
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load merge runs: %w", err)
	}
	defer mergeRows.Close()

	merges := make([]MergeRecord, 0)
	for mergeRows.Next() {
		var m MergeRecord
		if err := mergeRows.Scan(&m.ID, &m.DocumentRef, &m.Outcome, &m.Strategy, &m.SectionHint, &m.Content, &m.Message); err != nil {
			return nil, nil, fmt.Errorf("scan merge run: %w", err)
		}
		merges = append(merges, m)
	}
	if err := mergeRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate merge runs: %w", err)
	}

	annotationRows, err := p.db.QueryContext(ctx, `
		SELECT id, document_id, anchor_text, content, author, resolved
		FROM annotations
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load annotations: %w", err)
	}
	defer annotationRows.Close()

	annotations := make([]AnnotationRecord, 0)
	for annotationRows.Next() {
		var a AnnotationRecord
		if err := annotationRows.Scan(&a.ID, &a.DocumentRef, &a.AnchorText, &a.Content, &a.Author, &a.Resolved); err != nil {
			return nil, nil, fmt.Errorf("scan annotation: %w", err)
		}
		annotations = append(annotations, a)
	}
	if err := annotationRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate annotations: %w", err)
	}

	return merges, annotations, nil
}
