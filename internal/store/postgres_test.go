package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirbyniko/research-platform-sub006/internal/review"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresStore(db), mock, db
}

var recordColumnNames = []string{
	"id", "project_id", "record_type_id", "slug", "family", "data", "status", "verified_fields",
	"first_reviewed_by", "first_reviewed_at", "second_reviewed_by", "second_reviewed_at",
	"rejected_by", "rejected_at", "rejection_reason", "review_cycle",
	"locked_by", "locked_at", "lock_expires_at",
	"created_by", "created_at", "updated_at", "deleted_at",
}

var creditTxColumnNames = []string{
	"id", "project_id", "user_id", "type", "amount", "balance_after", "description", "external_ref", "package_id", "created_at",
}

func TestGetRecordDecodesPayloadAndVerifiedFields(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(recordColumnNames).AddRow(
		int64(83), int64(1), int64(2), "incident", "incident",
		[]byte(`{"title":"Border crossing","victims":3}`), "first_review",
		[]byte(`{"title":{"verified":true,"by":5,"at":"2026-03-01T12:00:00Z"}}`),
		int64(5), now, nil, nil,
		nil, nil, nil, 2,
		nil, nil, nil,
		int64(4), now, now, nil,
	)
	mock.ExpectQuery(`FROM records r JOIN record_types rt ON rt.id = r.record_type_id WHERE r.id=\$1 AND r.deleted_at IS NULL`).
		WithArgs(int64(83)).
		WillReturnRows(rows)

	rec, err := s.GetRecord(context.Background(), 83)
	if err != nil {
		t.Fatalf("GetRecord error: %v", err)
	}
	if rec.Status != review.StatusFirstReview || rec.Family != review.FamilyIncident {
		t.Fatalf("unexpected status/family: %s/%s", rec.Status, rec.Family)
	}
	if rec.Data["title"] != "Border crossing" {
		t.Fatalf("payload not decoded: %+v", rec.Data)
	}
	if v, ok := rec.VerifiedFields["title"]; !ok || !v.Verified || v.By != 5 {
		t.Fatalf("verified_fields not decoded: %+v", rec.VerifiedFields)
	}
	if rec.FirstReviewedBy == nil || *rec.FirstReviewedBy != 5 || rec.SecondReviewedBy != nil {
		t.Fatalf("unexpected reviewers: %+v", rec)
	}
	if rec.ReviewCycle != 2 {
		t.Fatalf("review cycle = %d, want 2", rec.ReviewCycle)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAdvanceReviewLostRaceIsInvalidTransition(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`WITH r AS \( ?UPDATE records SET status=\$3, second_reviewed_by=\$4`).
		WillReturnRows(sqlmock.NewRows(recordColumnNames))
	mock.ExpectQuery(`SELECT r.status, rt.family FROM records r`).
		WithArgs(int64(83)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "family"}).AddRow("verified", "incident"))

	step := review.Step{From: review.StatusFirstReview, To: review.StatusVerified, Stage: review.StageSecond}
	_, err := s.AdvanceReview(context.Background(), 83, step, 7, time.Now())
	if !errors.Is(err, review.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if !strings.Contains(err.Error(), "current status is verified") {
		t.Fatalf("message should name the current status, got %q", err.Error())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTryAcquireLock(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "free or expired", affected: 1, want: true},
		{name: "held by someone else", affected: 0, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, mock, db := newStoreWithMock(t)
			defer db.Close()

			mock.ExpectExec(`UPDATE records SET locked_by=\$2, locked_at=\$3, lock_expires_at=\$4`).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			got, err := s.TryAcquireLock(context.Background(), 83, 5, 15*time.Minute, time.Now())
			if err != nil {
				t.Fatalf("TryAcquireLock error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("acquired = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestReleaseLockByNonOwner(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`WHERE id=\$1 AND locked_by=\$2`).
		WithArgs(int64(83), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	released, err := s.ReleaseLock(context.Background(), 83, 9)
	if err != nil {
		t.Fatalf("ReleaseLock error: %v", err)
	}
	if released {
		t.Fatal("non-owner must not release the lock")
	}
}

func TestDebitCreditsInsufficientRollsBack(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT balance FROM user_credits WHERE project_id=\$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(5)))
	mock.ExpectRollback()

	_, err := s.DebitCredits(context.Background(), CreditDebit{ProjectID: 7, UserID: 3, Amount: 10, Description: "summarize"})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDebitCreditsWritesLedgerRow(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT balance FROM user_credits WHERE project_id=\$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(50)))
	mock.ExpectQuery(`UPDATE user_credits SET balance = balance - \$2, total_used = total_used \+ \$2`).
		WithArgs(int64(7), int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(40)))
	mock.ExpectQuery(`INSERT INTO credit_transactions`).
		WithArgs(int64(7), int64(3), "usage", int64(-10), int64(40), "summarize").
		WillReturnRows(sqlmock.NewRows(creditTxColumnNames).
			AddRow(int64(11), int64(7), int64(3), "usage", int64(-10), int64(40), "summarize", nil, nil, now))
	mock.ExpectCommit()

	tx, err := s.DebitCredits(context.Background(), CreditDebit{ProjectID: 7, UserID: 3, Amount: 10, Description: "summarize"})
	if err != nil {
		t.Fatalf("DebitCredits error: %v", err)
	}
	if tx.Amount != -10 || tx.BalanceAfter != 40 || tx.Type != TxUsage {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyCreditDuplicateExternalRefIsNoop(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_credits`).WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT balance FROM user_credits WHERE project_id=\$1 FOR UPDATE`).WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM credit_transactions WHERE external_ref=\$1`).
		WithArgs("cs_123").
		WillReturnRows(sqlmock.NewRows(creditTxColumnNames).
			AddRow(int64(9), int64(7), nil, "purchase", int64(500), int64(500), "standard package", "cs_123", "standard", now))
	mock.ExpectCommit()

	tx, applied, err := s.ApplyCredit(context.Background(), CreditGrant{
		ProjectID:   7,
		Amount:      500,
		Type:        TxPurchase,
		ExternalRef: "cs_123",
		PackageID:   "standard",
	})
	if err != nil {
		t.Fatalf("ApplyCredit error: %v", err)
	}
	if applied {
		t.Fatal("second delivery of the same reference must not apply")
	}
	if tx.ID != 9 || tx.ExternalRef != "cs_123" {
		t.Fatalf("expected the original transaction, got %+v", tx)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyCreditRejectsUsageType(t *testing.T) {
	s, _, db := newStoreWithMock(t)
	defer db.Close()

	if _, _, err := s.ApplyCredit(context.Background(), CreditGrant{ProjectID: 7, Amount: 5, Type: TxUsage}); err == nil {
		t.Fatal("usage must not be accepted as a credit")
	}
}

func TestClaimVerificationRequest(t *testing.T) {
	t.Run("at capacity", func(t *testing.T) {
		s, mock, db := newStoreWithMock(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO verifier_stats`).WithArgs(int64(5), 3).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT current_assigned, max_concurrent FROM verifier_stats WHERE user_id=\$1 FOR UPDATE`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"current_assigned", "max_concurrent"}).AddRow(3, 3))
		mock.ExpectRollback()

		_, err := s.ClaimVerificationRequest(context.Background(), 40, 5, 3, time.Now())
		if !errors.Is(err, ErrAtCapacity) {
			t.Fatalf("expected ErrAtCapacity, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})

	t.Run("already assigned", func(t *testing.T) {
		s, mock, db := newStoreWithMock(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO verifier_stats`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`FROM verifier_stats WHERE user_id=\$1 FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows([]string{"current_assigned", "max_concurrent"}).AddRow(1, 3))
		mock.ExpectExec(`UPDATE verification_requests SET status='in_progress'`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs(int64(40)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		_, err := s.ClaimVerificationRequest(context.Background(), 40, 5, 3, time.Now())
		if !errors.Is(err, ErrAlreadyAssigned) {
			t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})
}

func TestRejectVerificationRequestNotAssigned(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`WHERE id=\$1 AND assigned_to=\$2 AND status='in_progress'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.RejectVerificationRequest(context.Background(), 40, 6, "duplicate", time.Now())
	if !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateProposedChangeRequiresVerifiedRecord(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO record_proposed_changes .* WHERE r.id=\$1 AND r.status='verified'`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.CreateProposedChange(context.Background(), ProposedChange{RecordID: 83, SubmittedBy: 5, Summary: "fix"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestApproveProposedChangeOnDeletedRecord(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE record_proposed_changes\s+SET status='approved'`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "project_id", "record_id", "proposed_data", "summary", "status", "submitted_by", "submitted_at",
			"reviewed_by", "reviewed_at", "review_notes",
		}).AddRow(int64(5), int64(10), int64(83), []byte(`{"title":"New"}`), "fix", "approved", int64(3), now, int64(6), now, ""))
	mock.ExpectQuery(`UPDATE records SET data=\$2::jsonb`).
		WillReturnRows(sqlmock.NewRows(recordColumnNames))
	mock.ExpectRollback()

	_, _, err := s.ApproveProposedChange(context.Background(), 5, 6, "", now)
	if !errors.Is(err, ErrRecordGone) {
		t.Fatalf("expected ErrRecordGone, got %v", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		t.Fatal("a deleted record must not read as a lost decision race")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetMembershipMissingRowIsNil(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM project_members pm`).
		WithArgs(int64(1), int64(99)).
		WillReturnError(sql.ErrNoRows)

	m, err := s.GetMembership(context.Background(), 1, 99)
	if err != nil {
		t.Fatalf("GetMembership error: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil membership, got %+v", m)
	}
}
