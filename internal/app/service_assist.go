package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirbyniko/research-platform-sub006/internal/assist"
	"github.com/kirbyniko/research-platform-sub006/internal/credits"
	"github.com/kirbyniko/research-platform-sub006/internal/errs"
	"github.com/kirbyniko/research-platform-sub006/internal/logging"
	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

type AssistOutcome struct {
	Result  assist.Result
	Balance int64
}

// RunAssist charges the project for an AI operation and runs it on the
// record. Credits are taken before the provider call; a failed call is
// refunded with a compensating transaction.
func (s *Service) RunAssist(ctx context.Context, userID int64, projectSlug string, recordID int64, operation string) (AssistOutcome, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return AssistOutcome{}, err
	}
	if err := access.require(rbac.CapUseAI); err != nil {
		return AssistOutcome{}, err
	}
	if s.assist == nil {
		return AssistOutcome{}, domainError(http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI assistance is not configured", nil)
	}
	op := credits.Operation(strings.ToLower(strings.TrimSpace(operation)))
	cost, err := credits.Cost(op)
	if err != nil {
		return AssistOutcome{}, err
	}

	decision, err := s.limiter.Allow(ctx, fmt.Sprintf("ai:%d", userID), s.cfg.AIRateLimitPerMinute)
	if err != nil {
		logging.Warn(ctx, "ai rate limiter unavailable", slog.Any("error", errs.Loggable(err)))
	} else if !decision.Allowed {
		return AssistOutcome{}, domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many AI requests, try again later",
			map[string]any{"reset_at": decision.ResetAt})
	}

	debit, err := s.store.DebitCredits(ctx, store.CreditDebit{
		ProjectID:   access.Project.ID,
		UserID:      userID,
		Amount:      cost,
		Type:        store.TxUsage,
		Description: fmt.Sprintf("AI %s on record %d", op, rec.ID),
	})
	if err != nil {
		return AssistOutcome{}, err
	}

	result, runErr := s.assist.Run(ctx, op, rec.Data)
	if runErr != nil {
		s.refund(ctx, access.Project.ID, userID, debit)
		return AssistOutcome{}, runErr
	}

	s.audit(ctx, store.AuditEntry{
		ProjectID: access.Project.ID,
		RecordID:  recordRef(rec.ID),
		ActorID:   userID,
		Action:    "ai." + string(op),
		Details:   map[string]any{"cost": cost, "transaction_id": debit.ID},
	})
	return AssistOutcome{Result: result, Balance: debit.BalanceAfter}, nil
}

// refund returns a usage debit. The debit id is the idempotency key, so a
// retried refund cannot pay out twice.
func (s *Service) refund(ctx context.Context, projectID, userID int64, debit store.CreditTransaction) {
	_, _, err := s.store.ApplyCredit(ctx, store.CreditGrant{
		ProjectID:   projectID,
		UserID:      &userID,
		Amount:      -debit.Amount,
		Type:        store.TxRefund,
		Description: "Refund: " + debit.Description,
		ExternalRef: fmt.Sprintf("refund:%d", debit.ID),
	})
	if err != nil {
		logging.Error(ctx, "ai refund failed",
			slog.Int64("project_id", projectID),
			slog.Int64("transaction_id", debit.ID),
			slog.Any("error", errs.Loggable(err)))
	}
}
