package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirbyniko/research-platform-sub006/internal/fields"
)

const changeColumns = `id, project_id, record_id, proposed_data, summary, status, submitted_by, submitted_at,
	reviewed_by, reviewed_at, review_notes`

func scanChange(row rowScanner) (ProposedChange, error) {
	var (
		change     ProposedChange
		data       []byte
		status     string
		reviewedBy sql.NullInt64
		reviewedAt sql.NullTime
	)
	err := row.Scan(&change.ID, &change.ProjectID, &change.RecordID, &data, &change.Summary, &status,
		&change.SubmittedBy, &change.SubmittedAt, &reviewedBy, &reviewedAt, &change.ReviewNotes)
	if err != nil {
		return ProposedChange{}, err
	}
	change.ProposedData = fields.Payload(decodeJSONMap(data))
	change.Status = ChangeStatus(status)
	change.ReviewedBy = nullableInt64(reviewedBy)
	change.ReviewedAt = nullableTime(reviewedAt)
	return change, nil
}

// CreateProposedChange only inserts when the target record is verified at
// the moment of the insert. sql.ErrNoRows means it was not.
func (s *PostgresStore) CreateProposedChange(ctx context.Context, change ProposedChange) (ProposedChange, error) {
	data, err := encodeJSON(change.ProposedData, "proposed data")
	if err != nil {
		return ProposedChange{}, err
	}
	created, err := scanChange(s.db.QueryRowContext(ctx, `
		INSERT INTO record_proposed_changes (project_id, record_id, proposed_data, summary, submitted_by)
		SELECT r.project_id, r.id, $2::jsonb, $3, $4
		FROM records r
		WHERE r.id=$1 AND r.status='verified' AND r.deleted_at IS NULL
		RETURNING `+changeColumns,
		change.RecordID, data, change.Summary, change.SubmittedBy))
	if err != nil {
		return ProposedChange{}, fmt.Errorf("propose change to record %d: %w", change.RecordID, err)
	}
	return created, nil
}

func (s *PostgresStore) GetProposedChange(ctx context.Context, id int64) (ProposedChange, error) {
	change, err := scanChange(s.db.QueryRowContext(ctx,
		`SELECT `+changeColumns+` FROM record_proposed_changes WHERE id=$1`, id))
	if err != nil {
		return ProposedChange{}, fmt.Errorf("get proposed change %d: %w", id, err)
	}
	return change, nil
}

func (s *PostgresStore) ListProposedChanges(ctx context.Context, projectID int64, status ChangeStatus, limit int) ([]ProposedChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+changeColumns+`
		FROM record_proposed_changes
		WHERE project_id=$1 AND ($2 = '' OR status=$2)
		ORDER BY submitted_at DESC, id DESC
		LIMIT $3
	`, projectID, string(status), clampLimit(limit, 50, 200))
	if err != nil {
		return nil, fmt.Errorf("list proposed changes: %w", err)
	}
	defer rows.Close()

	items := make([]ProposedChange, 0)
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposed change: %w", err)
		}
		items = append(items, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposed changes: %w", err)
	}
	return items, nil
}

// ApproveProposedChange marks the change approved and swaps the live
// payload in one transaction. sql.ErrNoRows means the change was no longer
// pending_review; ErrRecordGone means the record was deleted meanwhile.
func (s *PostgresStore) ApproveProposedChange(ctx context.Context, id, reviewerID int64, notes string, now time.Time) (ProposedChange, Record, error) {
	var change ProposedChange
	var rec Record
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		var err error
		change, err = scanChange(tx.QueryRowContext(ctx, `
			UPDATE record_proposed_changes
			SET status='approved', reviewed_by=$2, reviewed_at=$3, review_notes=$4
			WHERE id=$1 AND status='pending_review'
			RETURNING `+changeColumns,
			id, reviewerID, now, notes))
		if err != nil {
			return fmt.Errorf("approve proposed change %d: %w", id, err)
		}
		data, err := encodeJSON(change.ProposedData, "proposed data")
		if err != nil {
			return err
		}
		rec, err = scanRecord(tx.QueryRowContext(ctx, updateRecord(`
			UPDATE records SET data=$2::jsonb, updated_at=$3
			WHERE id=$1 AND deleted_at IS NULL`),
			change.RecordID, data, now))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("apply proposed change to record %d: %w", change.RecordID, ErrRecordGone)
		}
		if err != nil {
			return fmt.Errorf("apply proposed change to record %d: %w", change.RecordID, err)
		}
		return nil
	})
	if err != nil {
		return ProposedChange{}, Record{}, err
	}
	return change, rec, nil
}

func (s *PostgresStore) RejectProposedChange(ctx context.Context, id, reviewerID int64, notes string, now time.Time) (ProposedChange, error) {
	change, err := scanChange(s.db.QueryRowContext(ctx, `
		UPDATE record_proposed_changes
		SET status='rejected', reviewed_by=$2, reviewed_at=$3, review_notes=$4
		WHERE id=$1 AND status='pending_review'
		RETURNING `+changeColumns,
		id, reviewerID, now, notes))
	if err != nil {
		return ProposedChange{}, fmt.Errorf("reject proposed change %d: %w", id, err)
	}
	return change, nil
}
