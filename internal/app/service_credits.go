package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirbyniko/research-platform-sub006/internal/credits"
	"github.com/kirbyniko/research-platform-sub006/internal/events"
	"github.com/kirbyniko/research-platform-sub006/internal/logging"
	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
	"github.com/kirbyniko/research-platform-sub006/internal/util"
)

const checkoutCompleted = "checkout.session.completed"

func (s *Service) Balance(ctx context.Context, userID int64, projectSlug string) (store.CreditBalance, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return store.CreditBalance{}, err
	}
	if err := access.require(rbac.CapView); err != nil {
		return store.CreditBalance{}, err
	}
	return s.store.GetCreditBalance(ctx, access.Project.ID)
}

func (s *Service) Transactions(ctx context.Context, userID int64, projectSlug string, limit int) ([]store.CreditTransaction, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return nil, err
	}
	if err := access.require(rbac.CapView); err != nil {
		return nil, err
	}
	return s.store.ListCreditTransactions(ctx, access.Project.ID, limit)
}

type AdjustInput struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// AdjustCredits applies a signed admin adjustment. Negative amounts are
// debits and fail with InsufficientCredits rather than going below zero.
func (s *Service) AdjustCredits(ctx context.Context, userID int64, projectSlug string, input AdjustInput) (store.CreditTransaction, store.CreditBalance, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return store.CreditTransaction{}, store.CreditBalance{}, err
	}
	if err := access.require(rbac.CapManageCredits); err != nil {
		return store.CreditTransaction{}, store.CreditBalance{}, err
	}
	if input.Amount == 0 {
		return store.CreditTransaction{}, store.CreditBalance{}, validationError("amount must be non-zero", nil)
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = "Admin adjustment"
	}

	var tx store.CreditTransaction
	if input.Amount > 0 {
		tx, _, err = s.store.ApplyCredit(ctx, store.CreditGrant{
			ProjectID:   access.Project.ID,
			UserID:      &userID,
			Amount:      input.Amount,
			Type:        store.TxAdminAdjustment,
			Description: description,
		})
	} else {
		tx, err = s.store.DebitCredits(ctx, store.CreditDebit{
			ProjectID:   access.Project.ID,
			UserID:      userID,
			Amount:      -input.Amount,
			Type:        store.TxAdminAdjustment,
			Description: description,
		})
	}
	if err != nil {
		return store.CreditTransaction{}, store.CreditBalance{}, err
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: access.Project.ID,
		ActorID:   userID,
		Action:    "credits.adjusted",
		Reason:    description,
		Details:   map[string]any{"amount": input.Amount, "transaction_id": tx.ID},
	})
	balance, err := s.store.GetCreditBalance(ctx, access.Project.ID)
	if err != nil {
		return store.CreditTransaction{}, store.CreditBalance{}, err
	}
	return tx, balance, nil
}

type Checkout struct {
	SessionID string
	Package   credits.Package
}

// CreateCheckout validates the package and hands back a session id for the
// payment provider. Credits arrive later through the webhook.
func (s *Service) CreateCheckout(ctx context.Context, userID int64, projectSlug, packageID string) (Checkout, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return Checkout{}, err
	}
	if err := access.require(rbac.CapManageCredits); err != nil {
		return Checkout{}, err
	}
	pkg, err := credits.LookupPackage(packageID)
	if err != nil {
		return Checkout{}, err
	}
	checkout := Checkout{SessionID: util.NewID("cs"), Package: pkg}
	s.audit(ctx, store.AuditEntry{
		ProjectID: access.Project.ID,
		ActorID:   userID,
		Action:    "credits.checkout_created",
		Details:   map[string]any{"session_id": checkout.SessionID, "package_id": pkg.ID},
	})
	return checkout, nil
}

type paymentEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		SessionID string `json:"session_id"`
		ProjectID int64  `json:"project_id"`
		PackageID string `json:"package_id"`
		UserID    *int64 `json:"user_id"`
	} `json:"data"`
}

// HandlePaymentWebhook verifies and applies a completed checkout. The
// session id is the idempotency key: a redelivered event returns
// applied=false and changes nothing.
func (s *Service) HandlePaymentWebhook(ctx context.Context, body []byte, signature string) (bool, error) {
	if err := credits.VerifySignature(s.cfg.WebhookSecret, body, signature); err != nil {
		return false, err
	}
	var evt paymentEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return false, validationError("Invalid webhook payload", nil)
	}
	if evt.Type != checkoutCompleted {
		logging.Debug(ctx, "payment webhook ignored", slog.String("type", evt.Type), slog.String("event_id", evt.ID))
		return false, nil
	}
	if strings.TrimSpace(evt.Data.SessionID) == "" || evt.Data.ProjectID <= 0 {
		return false, validationError("session_id and project_id are required", nil)
	}
	pkg, err := credits.LookupPackage(evt.Data.PackageID)
	if err != nil {
		return false, err
	}
	project, err := s.store.GetProjectByID(ctx, evt.Data.ProjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFound("Project not found")
	}
	if err != nil {
		return false, err
	}

	tx, applied, err := s.store.ApplyCredit(ctx, store.CreditGrant{
		ProjectID:   project.ID,
		UserID:      evt.Data.UserID,
		Amount:      pkg.Credits,
		Type:        store.TxPurchase,
		Description: fmt.Sprintf("Purchased %s package", pkg.Name),
		ExternalRef: evt.Data.SessionID,
		PackageID:   pkg.ID,
	})
	if err != nil {
		return false, err
	}
	if !applied {
		logging.Info(ctx, "payment webhook already applied", slog.String("session_id", evt.Data.SessionID))
		return false, nil
	}

	var actor int64
	if evt.Data.UserID != nil {
		actor = *evt.Data.UserID
		s.audit(ctx, store.AuditEntry{
			ProjectID: project.ID,
			ActorID:   actor,
			Action:    "credits.purchased",
			Details:   map[string]any{"package_id": pkg.ID, "amount": pkg.Credits, "transaction_id": tx.ID},
		})
	}
	s.publish(ctx, events.Event{Type: events.CreditsApplied, ProjectID: project.ID, ActorID: actor,
		Data: map[string]any{"package_id": pkg.ID, "amount": pkg.Credits, "balance": tx.BalanceAfter}})
	return true, nil
}

func (s *Service) Packages() []credits.Package {
	return credits.Packages()
}
