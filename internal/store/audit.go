package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) InsertAuditEntry(ctx context.Context, entry AuditEntry) error {
	details, err := encodeJSON(entry.Details, "audit details")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (project_id, record_id, actor_id, action, reason, details)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, entry.ProjectID, int64Arg(entry.RecordID), entry.ActorID, entry.Action, entry.Reason, details)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, projectID, recordID int64, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, record_id, actor_id, action, reason, details, created_at
		FROM audit_log
		WHERE project_id=$1 AND record_id=$2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, projectID, recordID, clampLimit(limit, 100, 500))
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		var entry AuditEntry
		var record sql.NullInt64
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.ProjectID, &record, &entry.ActorID, &entry.Action, &entry.Reason, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.RecordID = nullableInt64(record)
		entry.Details = decodeJSONMap(details)
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, nil
}
