package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const requestColumns = `vr.id, vr.project_id, p.slug, vr.record_id, vr.requested_by, vr.status, vr.priority,
	vr.assigned_to, vr.assigned_at, vr.completed_at, vr.rejection_reason, vr.notes, vr.created_at`

func scanRequest(row rowScanner) (VerificationRequest, error) {
	var (
		req             VerificationRequest
		status          string
		priority        string
		assignedTo      sql.NullInt64
		assignedAt      sql.NullTime
		completedAt     sql.NullTime
		rejectionReason sql.NullString
	)
	err := row.Scan(&req.ID, &req.ProjectID, &req.ProjectSlug, &req.RecordID, &req.RequestedBy, &status, &priority,
		&assignedTo, &assignedAt, &completedAt, &rejectionReason, &req.Notes, &req.CreatedAt)
	if err != nil {
		return VerificationRequest{}, err
	}
	req.Status = RequestStatus(status)
	req.Priority = Priority(priority)
	req.AssignedTo = nullableInt64(assignedTo)
	req.AssignedAt = nullableTime(assignedAt)
	req.CompletedAt = nullableTime(completedAt)
	req.RejectionReason = rejectionReason.String
	return req, nil
}

func getRequest(ctx context.Context, q DBTX, id int64) (VerificationRequest, error) {
	return scanRequest(q.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM verification_requests vr
		JOIN projects p ON p.id = vr.project_id
		WHERE vr.id=$1
	`, id))
}

func insertHistory(ctx context.Context, q DBTX, requestID, userID int64, action string, details map[string]any) error {
	encoded, err := encodeJSON(details, "history details")
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO verification_history (request_id, action, performed_by, details)
		VALUES ($1, $2, $3, $4::jsonb)
	`, requestID, action, userID, encoded); err != nil {
		return fmt.Errorf("insert verification history: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateVerificationRequest(ctx context.Context, req VerificationRequest) (VerificationRequest, error) {
	var id int64
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO verification_requests (project_id, record_id, requested_by, priority, notes)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, req.ProjectID, req.RecordID, req.RequestedBy, string(req.Priority), req.Notes).Scan(&id); err != nil {
			if isUniqueViolation(err) {
				return ErrOpenRequestExists
			}
			return fmt.Errorf("insert verification request: %w", err)
		}
		return insertHistory(ctx, tx, id, req.RequestedBy, "requested", map[string]any{"priority": string(req.Priority)})
	})
	if err != nil {
		return VerificationRequest{}, err
	}
	return s.GetVerificationRequest(ctx, id)
}

func (s *PostgresStore) GetVerificationRequest(ctx context.Context, id int64) (VerificationRequest, error) {
	req, err := getRequest(ctx, s.db, id)
	if err != nil {
		return VerificationRequest{}, fmt.Errorf("get verification request %d: %w", id, err)
	}
	return req, nil
}

// ListVerificationQueue returns open requests, most urgent and oldest first.
func (s *PostgresStore) ListVerificationQueue(ctx context.Context, limit int) ([]VerificationRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM verification_requests vr
		JOIN projects p ON p.id = vr.project_id
		WHERE vr.status IN ('pending', 'in_progress') AND p.deleted_at IS NULL
		ORDER BY CASE vr.priority
			WHEN 'urgent' THEN 0
			WHEN 'high' THEN 1
			WHEN 'normal' THEN 2
			ELSE 3
		END, vr.created_at ASC, vr.id ASC
		LIMIT $1
	`, clampLimit(limit, 50, 200))
	if err != nil {
		return nil, fmt.Errorf("list verification queue: %w", err)
	}
	defer rows.Close()

	items := make([]VerificationRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification request: %w", err)
		}
		items = append(items, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification queue: %w", err)
	}
	return items, nil
}

// ClaimVerificationRequest self-assigns a pending request. The verifier's
// stats row is locked for the duration so two concurrent claims by the same
// verifier cannot both pass the capacity check.
func (s *PostgresStore) ClaimVerificationRequest(ctx context.Context, requestID, userID int64, maxConcurrent int, now time.Time) (VerificationRequest, error) {
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO verifier_stats (user_id, max_concurrent)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, maxConcurrent); err != nil {
			return fmt.Errorf("ensure verifier stats: %w", err)
		}

		var current, max int
		if err := tx.QueryRowContext(ctx, `
			SELECT current_assigned, max_concurrent FROM verifier_stats WHERE user_id=$1 FOR UPDATE
		`, userID).Scan(&current, &max); err != nil {
			return fmt.Errorf("lock verifier stats: %w", err)
		}
		if current >= max {
			return ErrAtCapacity
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE verification_requests
			SET status='in_progress', assigned_to=$2, assigned_at=$3
			WHERE id=$1 AND status='pending' AND assigned_to IS NULL
		`, requestID, userID, now)
		if err != nil {
			return fmt.Errorf("claim verification request: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim verification request rows: %w", err)
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM verification_requests WHERE id=$1)`, requestID).Scan(&exists); err != nil {
				return fmt.Errorf("check verification request: %w", err)
			}
			if !exists {
				return sql.ErrNoRows
			}
			return ErrAlreadyAssigned
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE verifier_stats SET current_assigned = current_assigned + 1 WHERE user_id=$1
		`, userID); err != nil {
			return fmt.Errorf("increment verifier load: %w", err)
		}
		return insertHistory(ctx, tx, requestID, userID, "assigned", map[string]any{"self_claimed": true})
	})
	if err != nil {
		return VerificationRequest{}, err
	}
	return s.GetVerificationRequest(ctx, requestID)
}

// RejectVerificationRequest and CompleteVerificationRequest close a request
// the caller holds; ErrNotAssigned covers both "not yours" and "not open".
func (s *PostgresStore) RejectVerificationRequest(ctx context.Context, requestID, userID int64, reason string, now time.Time) (VerificationRequest, error) {
	return s.closeRequest(ctx, requestID, userID, RequestRejected, reason, now)
}

func (s *PostgresStore) CompleteVerificationRequest(ctx context.Context, requestID, userID int64, now time.Time) (VerificationRequest, error) {
	return s.closeRequest(ctx, requestID, userID, RequestApproved, "", now)
}

func (s *PostgresStore) closeRequest(ctx context.Context, requestID, userID int64, outcome RequestStatus, reason string, now time.Time) (VerificationRequest, error) {
	counter := "total_completed"
	details := map[string]any{}
	if outcome == RequestRejected {
		counter = "total_rejected"
		details["reason"] = reason
	}

	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE verification_requests
			SET status=$3, completed_at=$4, rejection_reason=NULLIF($5, '')
			WHERE id=$1 AND assigned_to=$2 AND status='in_progress'
		`, requestID, userID, string(outcome), now, reason)
		if err != nil {
			return fmt.Errorf("close verification request: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("close verification request rows: %w", err)
		}
		if affected == 0 {
			return ErrNotAssigned
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE verifier_stats
			SET current_assigned = GREATEST(current_assigned - 1, 0), `+counter+` = `+counter+` + 1
			WHERE user_id=$1
		`, userID); err != nil {
			return fmt.Errorf("release verifier load: %w", err)
		}
		return insertHistory(ctx, tx, requestID, userID, string(outcome), details)
	})
	if err != nil {
		return VerificationRequest{}, err
	}
	return s.GetVerificationRequest(ctx, requestID)
}

func (s *PostgresStore) ListVerificationHistory(ctx context.Context, requestID int64) ([]VerificationHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, action, performed_by, details, created_at
		FROM verification_history
		WHERE request_id=$1
		ORDER BY created_at ASC, id ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list verification history: %w", err)
	}
	defer rows.Close()

	items := make([]VerificationHistory, 0)
	for rows.Next() {
		var h VerificationHistory
		var details []byte
		if err := rows.Scan(&h.ID, &h.RequestID, &h.Action, &h.PerformedBy, &details, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verification history: %w", err)
		}
		h.Details = decodeJSONMap(details)
		items = append(items, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification history: %w", err)
	}
	return items, nil
}

// GetVerifierStats reports zero load for verifiers who never claimed.
func (s *PostgresStore) GetVerifierStats(ctx context.Context, userID int64, defaultMax int) (VerifierStats, error) {
	stats := VerifierStats{UserID: userID, MaxConcurrent: defaultMax}
	err := s.db.QueryRowContext(ctx, `
		SELECT current_assigned, max_concurrent, total_completed, total_rejected
		FROM verifier_stats WHERE user_id=$1
	`, userID).Scan(&stats.CurrentAssigned, &stats.MaxConcurrent, &stats.TotalCompleted, &stats.TotalRejected)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return VerifierStats{}, fmt.Errorf("get verifier stats: %w", err)
	}
	return stats, nil
}
