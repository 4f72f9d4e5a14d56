package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const creditTxColumns = `id, project_id, user_id, type, amount, balance_after, description, external_ref, package_id, created_at`

func scanCreditTx(row rowScanner) (CreditTransaction, error) {
	var (
		tx          CreditTransaction
		userID      sql.NullInt64
		txType      string
		externalRef sql.NullString
		packageID   sql.NullString
	)
	err := row.Scan(&tx.ID, &tx.ProjectID, &userID, &txType, &tx.Amount, &tx.BalanceAfter, &tx.Description,
		&externalRef, &packageID, &tx.CreatedAt)
	if err != nil {
		return CreditTransaction{}, err
	}
	tx.UserID = nullableInt64(userID)
	tx.Type = TransactionType(txType)
	tx.ExternalRef = externalRef.String
	tx.PackageID = packageID.String
	return tx, nil
}

// GetCreditBalance reports a zero balance for projects that never bought
// credits.
func (s *PostgresStore) GetCreditBalance(ctx context.Context, projectID int64) (CreditBalance, error) {
	balance := CreditBalance{ProjectID: projectID}
	err := s.db.QueryRowContext(ctx, `
		SELECT balance, total_purchased, total_used, updated_at FROM user_credits WHERE project_id=$1
	`, projectID).Scan(&balance.Balance, &balance.TotalPurchased, &balance.TotalUsed, &balance.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return CreditBalance{}, fmt.Errorf("get credit balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) ListCreditTransactions(ctx context.Context, projectID int64, limit int) ([]CreditTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+creditTxColumns+`
		FROM credit_transactions
		WHERE project_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, projectID, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	items := make([]CreditTransaction, 0)
	for rows.Next() {
		tx, err := scanCreditTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		items = append(items, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit transactions: %w", err)
	}
	return items, nil
}

// DebitCredits removes credits inside one transaction. The balance row is
// locked before the check, so concurrent debits serialize and the balance
// never goes negative. ErrInsufficientCredits leaves nothing behind.
func (s *PostgresStore) DebitCredits(ctx context.Context, debit CreditDebit) (CreditTransaction, error) {
	if debit.Amount <= 0 {
		return CreditTransaction{}, fmt.Errorf("debit amount must be positive, got %d", debit.Amount)
	}
	txType := debit.Type
	if txType == "" {
		txType = TxUsage
	}

	var created CreditTransaction
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		var balance int64
		err := tx.QueryRowContext(ctx, `SELECT balance FROM user_credits WHERE project_id=$1 FOR UPDATE`, debit.ProjectID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInsufficientCredits
		}
		if err != nil {
			return fmt.Errorf("lock credit balance: %w", err)
		}
		if balance < debit.Amount {
			return ErrInsufficientCredits
		}

		var after int64
		if err := tx.QueryRowContext(ctx, `
			UPDATE user_credits
			SET balance = balance - $2, total_used = total_used + $2, updated_at = NOW()
			WHERE project_id=$1
			RETURNING balance
		`, debit.ProjectID, debit.Amount).Scan(&after); err != nil {
			return fmt.Errorf("update credit balance: %w", err)
		}

		created, err = scanCreditTx(tx.QueryRowContext(ctx, `
			INSERT INTO credit_transactions (project_id, user_id, type, amount, balance_after, description)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+creditTxColumns,
			debit.ProjectID, debit.UserID, string(txType), -debit.Amount, after, debit.Description))
		if err != nil {
			return fmt.Errorf("insert credit transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return CreditTransaction{}, err
	}
	return created, nil
}

// ApplyCredit adds credits. Purchases and admin adjustments grow
// total_purchased; refunds give back usage. A grant whose ExternalRef was
// already recorded returns the original transaction with applied=false.
func (s *PostgresStore) ApplyCredit(ctx context.Context, grant CreditGrant) (CreditTransaction, bool, error) {
	if grant.Amount <= 0 {
		return CreditTransaction{}, false, fmt.Errorf("credit amount must be positive, got %d", grant.Amount)
	}
	var update string
	switch grant.Type {
	case TxPurchase, TxAdminAdjustment:
		update = `UPDATE user_credits
			SET balance = balance + $2, total_purchased = total_purchased + $2, updated_at = NOW()
			WHERE project_id=$1
			RETURNING balance`
	case TxRefund:
		update = `UPDATE user_credits
			SET balance = balance + $2, total_used = total_used - $2, updated_at = NOW()
			WHERE project_id=$1
			RETURNING balance`
	default:
		return CreditTransaction{}, false, fmt.Errorf("credit type %q cannot add credits", grant.Type)
	}

	var (
		created CreditTransaction
		applied bool
	)
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_credits (project_id) VALUES ($1) ON CONFLICT (project_id) DO NOTHING
		`, grant.ProjectID); err != nil {
			return fmt.Errorf("ensure credit balance: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `SELECT balance FROM user_credits WHERE project_id=$1 FOR UPDATE`, grant.ProjectID); err != nil {
			return fmt.Errorf("lock credit balance: %w", err)
		}

		if grant.ExternalRef != "" {
			existing, err := scanCreditTx(tx.QueryRowContext(ctx,
				`SELECT `+creditTxColumns+` FROM credit_transactions WHERE external_ref=$1`, grant.ExternalRef))
			if err == nil {
				created = existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("check external ref: %w", err)
			}
		}

		var after int64
		if err := tx.QueryRowContext(ctx, update, grant.ProjectID, grant.Amount).Scan(&after); err != nil {
			return fmt.Errorf("update credit balance: %w", err)
		}
		var err error
		created, err = scanCreditTx(tx.QueryRowContext(ctx, `
			INSERT INTO credit_transactions (project_id, user_id, type, amount, balance_after, description, external_ref, package_id)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
			RETURNING `+creditTxColumns,
			grant.ProjectID, int64Arg(grant.UserID), string(grant.Type), grant.Amount, after, grant.Description,
			grant.ExternalRef, grant.PackageID))
		if err != nil {
			return fmt.Errorf("insert credit transaction: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		// A concurrent delivery of the same external ref lost the unique index race.
		if isUniqueViolation(err) && grant.ExternalRef != "" {
			existing, lookupErr := scanCreditTx(s.db.QueryRowContext(ctx,
				`SELECT `+creditTxColumns+` FROM credit_transactions WHERE external_ref=$1`, grant.ExternalRef))
			if lookupErr == nil {
				return existing, false, nil
			}
		}
		return CreditTransaction{}, false, err
	}
	return created, applied, nil
}

// ReconcileCredits lists projects whose ledger sum or counters disagree with
// the stored balance. An empty result means the books balance.
func (s *PostgresStore) ReconcileCredits(ctx context.Context) ([]CreditDiscrepancy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uc.project_id, uc.balance, uc.total_purchased, uc.total_used, COALESCE(SUM(ct.amount), 0) AS ledger_sum
		FROM user_credits uc
		LEFT JOIN credit_transactions ct ON ct.project_id = uc.project_id
		GROUP BY uc.project_id, uc.balance, uc.total_purchased, uc.total_used
		HAVING uc.balance <> COALESCE(SUM(ct.amount), 0)
			OR uc.balance <> uc.total_purchased - uc.total_used
		ORDER BY uc.project_id
	`)
	if err != nil {
		return nil, fmt.Errorf("reconcile credits: %w", err)
	}
	defer rows.Close()

	items := make([]CreditDiscrepancy, 0)
	for rows.Next() {
		var d CreditDiscrepancy
		if err := rows.Scan(&d.ProjectID, &d.Balance, &d.TotalPurchased, &d.TotalUsed, &d.LedgerSum); err != nil {
			return nil, fmt.Errorf("scan credit discrepancy: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit discrepancies: %w", err)
	}
	return items, nil
}
