package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the generated fts column on records.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []Result{}, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "r.project_id = $2 AND r.deleted_at IS NULL AND r.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text, q.ProjectID}
	if q.Status != "" {
		args = append(args, q.Status)
		where += fmt.Sprintf(" AND r.status = $%d", len(args))
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM records r WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.id, r.project_id, rt.slug, rt.family, r.status,
			COALESCE(r.data->>'title', r.data->>'name', ''),
			ts_headline('english', r.data::text, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>')
		FROM records r
		JOIN record_types rt ON rt.id = r.record_type_id
		WHERE %s
		ORDER BY ts_rank(r.fts, plainto_tsquery('english', $1)) DESC, r.id DESC
		LIMIT %d OFFSET %d`, where, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.RecordID, &r.ProjectID, &r.RecordType, &r.Family, &r.Status, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every live record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]RecordDocument, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.project_id, rt.slug, rt.family, r.status, r.data
		FROM records r
		JOIN record_types rt ON rt.id = r.record_type_id
		WHERE r.deleted_at IS NULL
		ORDER BY r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	docs := make([]RecordDocument, 0)
	for rows.Next() {
		var (
			id, projectID        int64
			slug, family, status string
			raw                  []byte
		)
		if err := rows.Scan(&id, &projectID, &slug, &family, &status, &raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		data := map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &data); err != nil {
				return nil, fmt.Errorf("decode record %d: %w", id, err)
			}
		}
		docs = append(docs, NewRecordDocument(id, projectID, slug, family, status, data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return docs, nil
}
