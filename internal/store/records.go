package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirbyniko/research-platform-sub006/internal/fields"
	"github.com/kirbyniko/research-platform-sub006/internal/review"
)

// recordColumns reads from a row source aliased r joined to record_types rt.
const recordColumns = `r.id, r.project_id, r.record_type_id, rt.slug, rt.family, r.data, r.status, r.verified_fields,
	r.first_reviewed_by, r.first_reviewed_at, r.second_reviewed_by, r.second_reviewed_at,
	r.rejected_by, r.rejected_at, r.rejection_reason, r.review_cycle,
	r.locked_by, r.locked_at, r.lock_expires_at,
	r.created_by, r.created_at, r.updated_at, r.deleted_at`

// updateRecord wraps a data-modifying statement on records (aliased as the
// CTE r) so the caller gets the full joined row back in one round trip.
func updateRecord(stmt string) string {
	return `WITH r AS (` + stmt + ` RETURNING *)
		SELECT ` + recordColumns + ` FROM r JOIN record_types rt ON rt.id = r.record_type_id`
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec             Record
		family, status  string
		data, verified  []byte
		firstBy         sql.NullInt64
		firstAt         sql.NullTime
		secondBy        sql.NullInt64
		secondAt        sql.NullTime
		rejectedBy      sql.NullInt64
		rejectedAt      sql.NullTime
		rejectionReason sql.NullString
		lockedBy        sql.NullInt64
		lockedAt        sql.NullTime
		lockExpiresAt   sql.NullTime
		deletedAt       sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.ProjectID, &rec.RecordTypeID, &rec.RecordTypeSlug, &family, &data, &status, &verified,
		&firstBy, &firstAt, &secondBy, &secondAt,
		&rejectedBy, &rejectedAt, &rejectionReason, &rec.ReviewCycle,
		&lockedBy, &lockedAt, &lockExpiresAt,
		&rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Family = review.NormalizeFamily(family)
	rec.Status = review.Status(status)
	rec.Data = fields.Payload(decodeJSONMap(data))
	rec.VerifiedFields = map[string]FieldVerification{}
	if len(verified) > 0 {
		if err := json.Unmarshal(verified, &rec.VerifiedFields); err != nil {
			return Record{}, fmt.Errorf("decode verified_fields: %w", err)
		}
	}
	rec.FirstReviewedBy = nullableInt64(firstBy)
	rec.FirstReviewedAt = nullableTime(firstAt)
	rec.SecondReviewedBy = nullableInt64(secondBy)
	rec.SecondReviewedAt = nullableTime(secondAt)
	rec.RejectedBy = nullableInt64(rejectedBy)
	rec.RejectedAt = nullableTime(rejectedAt)
	rec.RejectionReason = rejectionReason.String
	rec.LockedBy = nullableInt64(lockedBy)
	rec.LockedAt = nullableTime(lockedAt)
	rec.LockExpiresAt = nullableTime(lockExpiresAt)
	rec.DeletedAt = nullableTime(deletedAt)
	return rec, nil
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec Record) (Record, error) {
	data, err := encodeJSON(rec.Data, "record data")
	if err != nil {
		return Record{}, err
	}
	created, err := scanRecord(s.db.QueryRowContext(ctx, updateRecord(`
		INSERT INTO records (project_id, record_type_id, data, created_by)
		VALUES ($1, $2, $3::jsonb, $4)`),
		rec.ProjectID, rec.RecordTypeID, data, rec.CreatedBy))
	if err != nil {
		return Record{}, fmt.Errorf("create record: %w", err)
	}
	return created, nil
}

// GetRecord never returns soft-deleted records.
func (s *PostgresStore) GetRecord(ctx context.Context, id int64) (Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records r
		JOIN record_types rt ON rt.id = r.record_type_id
		WHERE r.id=$1 AND r.deleted_at IS NULL
	`, id))
	if err != nil {
		return Record{}, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error) {
	where := []string{"r.project_id=$1", "r.deleted_at IS NULL"}
	args := []any{filter.ProjectID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("r.status=$%d", len(args)))
	}
	if filter.RecordTypeSlug != "" {
		args = append(args, filter.RecordTypeSlug)
		where = append(where, fmt.Sprintf("rt.slug=$%d", len(args)))
	}
	args = append(args, clampLimit(filter.Limit, 50, 200))
	limitArg := len(args)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, offset)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM records r
		JOIN record_types rt ON rt.id = r.record_type_id
		WHERE %s
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT $%d OFFSET $%d
	`, recordColumns, strings.Join(where, " AND "), limitArg, limitArg+1), args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return items, nil
}

// UpdateRecordData replaces the payload while the record is still in review
// and nobody else holds an unexpired lock. sql.ErrNoRows means the guard
// failed; the caller reloads to tell which one.
func (s *PostgresStore) UpdateRecordData(ctx context.Context, id, userID int64, data fields.Payload, now time.Time) (Record, error) {
	encoded, err := encodeJSON(data, "record data")
	if err != nil {
		return Record{}, err
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, updateRecord(`
		UPDATE records
		SET data=$3::jsonb, updated_at=$4
		WHERE id=$1
			AND deleted_at IS NULL
			AND status IN ('pending', 'first_review')
			AND (locked_by IS NULL OR locked_by=$2 OR lock_expires_at <= $4)`),
		id, userID, encoded, now))
	if err != nil {
		return Record{}, fmt.Errorf("update record %d: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) SoftDeleteRecord(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE records SET deleted_at=$2, updated_at=$2 WHERE id=$1 AND deleted_at IS NULL
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("delete record %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete record rows: %w", err)
	}
	return affected > 0, nil
}

// AdvanceReview applies a review step. A zero-row update means another
// writer moved the record first and is reported as an invalid transition.
func (s *PostgresStore) AdvanceReview(ctx context.Context, id int64, step review.Step, reviewerID int64, now time.Time) (Record, error) {
	var stmt string
	switch step.Stage {
	case review.StageFirst:
		stmt = `UPDATE records
			SET status=$3, first_reviewed_by=$4, first_reviewed_at=$5, updated_at=$5
			WHERE id=$1 AND status=$2 AND deleted_at IS NULL`
	case review.StageSecond:
		stmt = `UPDATE records
			SET status=$3, second_reviewed_by=$4, second_reviewed_at=$5, updated_at=$5
			WHERE id=$1 AND status=$2 AND deleted_at IS NULL`
	default:
		return Record{}, fmt.Errorf("advance review: unknown stage %q", step.Stage)
	}
	return s.transition(ctx, id, step, "review", stmt, id, string(step.From), string(step.To), reviewerID, now)
}

func (s *PostgresStore) UnpublishRecord(ctx context.Context, id int64, step review.Step, now time.Time) (Record, error) {
	return s.transition(ctx, id, step, "unpublish", `UPDATE records
		SET status=$3, review_cycle=review_cycle + 1, updated_at=$4
		WHERE id=$1 AND status=$2 AND deleted_at IS NULL`,
		id, string(step.From), string(step.To), now)
}

func (s *PostgresStore) RejectRecord(ctx context.Context, id int64, step review.Step, userID int64, reason string, now time.Time) (Record, error) {
	return s.transition(ctx, id, step, "reject", `UPDATE records
		SET status=$3, rejected_by=$4, rejected_at=$5, rejection_reason=$6, updated_at=$5
		WHERE id=$1 AND status=$2 AND deleted_at IS NULL`,
		id, string(step.From), string(step.To), userID, now, reason)
}

func (s *PostgresStore) ReopenRecord(ctx context.Context, id int64, step review.Step, now time.Time) (Record, error) {
	return s.transition(ctx, id, step, "reopen", `UPDATE records
		SET status=$3, review_cycle=review_cycle + 1, updated_at=$4
		WHERE id=$1 AND status=$2 AND deleted_at IS NULL`,
		id, string(step.From), string(step.To), now)
}

func (s *PostgresStore) transition(ctx context.Context, id int64, step review.Step, action, stmt string, args ...any) (Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, updateRecord(stmt), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			status, family := s.currentStatus(ctx, id, step.From)
			return Record{}, &review.TransitionError{Action: action, From: status, Family: family}
		}
		return Record{}, fmt.Errorf("%s record %d: %w", action, id, err)
	}
	return rec, nil
}

// currentStatus is used only to phrase the error for a lost race.
func (s *PostgresStore) currentStatus(ctx context.Context, id int64, fallback review.Status) (review.Status, review.Family) {
	var status, family string
	err := s.db.QueryRowContext(ctx, `
		SELECT r.status, rt.family FROM records r JOIN record_types rt ON rt.id = r.record_type_id WHERE r.id=$1
	`, id).Scan(&status, &family)
	if err != nil {
		return fallback, review.FamilyGeneric
	}
	return review.Status(status), review.NormalizeFamily(family)
}

func (s *PostgresStore) SetFieldVerification(ctx context.Context, id int64, slug string, v FieldVerification) (Record, error) {
	entry, err := encodeJSON(v, "field verification")
	if err != nil {
		return Record{}, err
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, updateRecord(`
		UPDATE records
		SET verified_fields = verified_fields || jsonb_build_object($2::text, $3::jsonb), updated_at=$4
		WHERE id=$1 AND deleted_at IS NULL`),
		id, slug, entry, v.At))
	if err != nil {
		return Record{}, fmt.Errorf("verify field %s on record %d: %w", slug, id, err)
	}
	return rec, nil
}

func (s *PostgresStore) ClearFieldVerification(ctx context.Context, id int64, slug string, now time.Time) (Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, updateRecord(`
		UPDATE records
		SET verified_fields = verified_fields - $2::text, updated_at=$3
		WHERE id=$1 AND deleted_at IS NULL`),
		id, slug, now))
	if err != nil {
		return Record{}, fmt.Errorf("unverify field %s on record %d: %w", slug, id, err)
	}
	return rec, nil
}

// TryAcquireLock takes the edit lock when it is free, expired, or already
// ours (in which case the expiry is refreshed).
func (s *PostgresStore) TryAcquireLock(ctx context.Context, id, userID int64, ttl time.Duration, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET locked_by=$2, locked_at=$3, lock_expires_at=$4
		WHERE id=$1
			AND deleted_at IS NULL
			AND (locked_by IS NULL OR lock_expires_at IS NULL OR lock_expires_at <= $3 OR locked_by=$2)
	`, id, userID, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("acquire lock on record %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, id, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET locked_by=NULL, locked_at=NULL, lock_expires_at=NULL
		WHERE id=$1 AND locked_by=$2
	`, id, userID)
	if err != nil {
		return false, fmt.Errorf("release lock on record %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock rows: %w", err)
	}
	return affected > 0, nil
}
