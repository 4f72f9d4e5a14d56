package app

import (
	"context"
	"strings"

	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

type VerificationInput struct {
	Priority string `json:"priority"`
	Notes    string `json:"notes"`
}

func (s *Service) CreateVerificationRequest(ctx context.Context, userID int64, projectSlug string, recordID int64, input VerificationInput) (store.VerificationRequest, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return store.VerificationRequest{}, err
	}
	if err := access.require(rbac.CapRequestVerification); err != nil {
		return store.VerificationRequest{}, err
	}
	priority := strings.ToLower(strings.TrimSpace(input.Priority))
	if priority == "" {
		priority = string(store.PriorityNormal)
	}
	if !store.ValidPriority(priority) {
		return store.VerificationRequest{}, validationError("Unknown priority", map[string]any{"priority": input.Priority})
	}
	req, err := s.store.CreateVerificationRequest(ctx, store.VerificationRequest{
		ProjectID:   access.Project.ID,
		RecordID:    rec.ID,
		RequestedBy: userID,
		Priority:    store.Priority(priority),
		Notes:       strings.TrimSpace(input.Notes),
	})
	if err != nil {
		return store.VerificationRequest{}, err
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: access.Project.ID,
		RecordID:  recordRef(rec.ID),
		ActorID:   userID,
		Action:    "verification.requested",
		Details:   map[string]any{"request_id": req.ID, "priority": priority},
	})
	return req, nil
}

// requireVerifier gates the cross-project verifier queue, which is open to
// platform verifiers rather than project members.
func (s *Service) requireVerifier(ctx context.Context, userID int64) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsVerifier {
		return forbidden("Verifier access required")
	}
	return nil
}

func (s *Service) VerifierQueue(ctx context.Context, userID int64, limit int) ([]store.VerificationRequest, error) {
	if err := s.requireVerifier(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListVerificationQueue(ctx, limit)
}

func (s *Service) VerificationRequest(ctx context.Context, userID, requestID int64) (store.VerificationRequest, []store.VerificationHistory, error) {
	if err := s.requireVerifier(ctx, userID); err != nil {
		return store.VerificationRequest{}, nil, err
	}
	req, err := s.store.GetVerificationRequest(ctx, requestID)
	if err != nil {
		return store.VerificationRequest{}, nil, err
	}
	items, err := s.store.ListVerificationHistory(ctx, req.ID)
	if err != nil {
		return store.VerificationRequest{}, nil, err
	}
	return req, items, nil
}

func (s *Service) VerifierStats(ctx context.Context, userID int64) (store.VerifierStats, error) {
	if err := s.requireVerifier(ctx, userID); err != nil {
		return store.VerifierStats{}, err
	}
	return s.store.GetVerifierStats(ctx, userID, s.cfg.VerifierMaxConcurrent)
}

// ClaimRequest self-assigns a pending request, bounded by the verifier's
// concurrent capacity.
func (s *Service) ClaimRequest(ctx context.Context, userID, requestID int64) (store.VerificationRequest, error) {
	if err := s.requireVerifier(ctx, userID); err != nil {
		return store.VerificationRequest{}, err
	}
	req, err := s.store.ClaimVerificationRequest(ctx, requestID, userID, s.cfg.VerifierMaxConcurrent, s.now())
	if err != nil {
		return store.VerificationRequest{}, err
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: req.ProjectID,
		RecordID:  recordRef(req.RecordID),
		ActorID:   userID,
		Action:    "verification.claimed",
		Details:   map[string]any{"request_id": req.ID},
	})
	return req, nil
}

func (s *Service) RejectRequest(ctx context.Context, userID, requestID int64, reason string) (store.VerificationRequest, error) {
	if err := s.requireVerifier(ctx, userID); err != nil {
		return store.VerificationRequest{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return store.VerificationRequest{}, validationError("A rejection reason is required", nil)
	}
	req, err := s.store.RejectVerificationRequest(ctx, requestID, userID, reason, s.now())
	if err != nil {
		return store.VerificationRequest{}, err
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: req.ProjectID,
		RecordID:  recordRef(req.RecordID),
		ActorID:   userID,
		Action:    "verification.rejected",
		Reason:    reason,
		Details:   map[string]any{"request_id": req.ID},
	})
	return req, nil
}

func (s *Service) ApproveRequest(ctx context.Context, userID, requestID int64) (store.VerificationRequest, error) {
	if err := s.requireVerifier(ctx, userID); err != nil {
		return store.VerificationRequest{}, err
	}
	req, err := s.store.CompleteVerificationRequest(ctx, requestID, userID, s.now())
	if err != nil {
		return store.VerificationRequest{}, err
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: req.ProjectID,
		RecordID:  recordRef(req.RecordID),
		ActorID:   userID,
		Action:    "verification.approved",
		Details:   map[string]any{"request_id": req.ID},
	})
	return req, nil
}
