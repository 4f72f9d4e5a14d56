package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const evidenceColumns = `id, project_id, record_id, object_key, content_hash, content_type, size_bytes, source_url, uploaded_by, created_at`

func scanEvidence(row rowScanner) (Evidence, error) {
	var e Evidence
	err := row.Scan(&e.ID, &e.ProjectID, &e.RecordID, &e.ObjectKey, &e.ContentHash, &e.ContentType, &e.SizeBytes,
		&e.SourceURL, &e.UploadedBy, &e.CreatedAt)
	return e, err
}

// InsertEvidence is idempotent per (record, content hash). The second
// return is false when the same bytes were already attached, in which case
// the existing row is returned.
func (s *PostgresStore) InsertEvidence(ctx context.Context, e Evidence) (Evidence, bool, error) {
	created, err := scanEvidence(s.db.QueryRowContext(ctx, `
		INSERT INTO record_evidence (project_id, record_id, object_key, content_hash, content_type, size_bytes, source_url, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (record_id, content_hash) DO NOTHING
		RETURNING `+evidenceColumns,
		e.ProjectID, e.RecordID, e.ObjectKey, e.ContentHash, e.ContentType, e.SizeBytes, e.SourceURL, e.UploadedBy))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Evidence{}, false, fmt.Errorf("insert evidence: %w", err)
	}
	existing, err := scanEvidence(s.db.QueryRowContext(ctx, `
		SELECT `+evidenceColumns+` FROM record_evidence WHERE record_id=$1 AND content_hash=$2
	`, e.RecordID, e.ContentHash))
	if err != nil {
		return Evidence{}, false, fmt.Errorf("load existing evidence: %w", err)
	}
	return existing, false, nil
}

func (s *PostgresStore) ListEvidence(ctx context.Context, recordID int64) ([]Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+evidenceColumns+`
		FROM record_evidence
		WHERE record_id=$1
		ORDER BY created_at ASC, id ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	items := make([]Evidence, 0)
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}
	return items, nil
}
