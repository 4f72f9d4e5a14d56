package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirbyniko/research-platform-sub006/internal/events"
	"github.com/kirbyniko/research-platform-sub006/internal/fields"
	"github.com/kirbyniko/research-platform-sub006/internal/history"
	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/review"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

type ProposeInput struct {
	Data    fields.Payload `json:"proposed_data"`
	Summary string         `json:"summary"`
}

// ProposeChange queues a full replacement payload for a verified record.
// The live record is not touched until an approver accepts it.
func (s *Service) ProposeChange(ctx context.Context, userID int64, projectSlug string, recordID int64, input ProposeInput) (store.ProposedChange, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return store.ProposedChange{}, err
	}
	if err := access.require(rbac.CapProposeChanges); err != nil {
		return store.ProposedChange{}, err
	}
	if err := review.CanPropose(rec.ReviewState()); err != nil {
		return store.ProposedChange{}, err
	}
	if len(input.Data) == 0 {
		return store.ProposedChange{}, validationError("proposed_data is required", nil)
	}
	recordType, err := s.store.GetRecordType(ctx, rec.RecordTypeID)
	if err != nil {
		return store.ProposedChange{}, err
	}
	if err := fields.Validate(recordType.Fields, input.Data); err != nil {
		return store.ProposedChange{}, err
	}

	change, err := s.store.CreateProposedChange(ctx, store.ProposedChange{
		RecordID:     rec.ID,
		ProposedData: input.Data,
		Summary:      strings.TrimSpace(input.Summary),
		SubmittedBy:  userID,
	})
	if errors.Is(err, sql.ErrNoRows) {
		current, reloadErr := s.store.GetRecord(ctx, rec.ID)
		if reloadErr != nil {
			return store.ProposedChange{}, notFound("Record not found")
		}
		if proposeErr := review.CanPropose(current.ReviewState()); proposeErr != nil {
			return store.ProposedChange{}, proposeErr
		}
		return store.ProposedChange{}, err
	}
	if err != nil {
		return store.ProposedChange{}, err
	}

	s.audit(ctx, store.AuditEntry{
		ProjectID: change.ProjectID,
		RecordID:  recordRef(rec.ID),
		ActorID:   userID,
		Action:    "change.proposed",
		Details: map[string]any{
			"change_id": change.ID,
			"fields":    history.ChangedFields(rec.Data, change.ProposedData),
		},
	})
	return change, nil
}

func (s *Service) ListProposedChanges(ctx context.Context, userID int64, projectSlug, status string, limit int) ([]store.ProposedChange, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return nil, err
	}
	if err := access.require(rbac.CapView); err != nil {
		return nil, err
	}
	filter := store.ChangeStatus(strings.TrimSpace(status))
	switch filter {
	case "", store.ChangePendingReview, store.ChangeApproved, store.ChangeRejected:
	default:
		return nil, validationError("Unknown change status", map[string]any{"status": status})
	}
	return s.store.ListProposedChanges(ctx, access.Project.ID, filter, limit)
}

// ApproveChange swaps the live payload for the proposed one. The record's
// status is unchanged.
func (s *Service) ApproveChange(ctx context.Context, userID int64, projectSlug string, changeID int64, notes string) (store.ProposedChange, store.Record, error) {
	access, change, err := s.pendingChange(ctx, userID, projectSlug, changeID)
	if err != nil {
		return store.ProposedChange{}, store.Record{}, err
	}
	approved, rec, err := s.store.ApproveProposedChange(ctx, change.ID, userID, strings.TrimSpace(notes), s.now())
	if errors.Is(err, store.ErrRecordGone) {
		return store.ProposedChange{}, store.Record{}, notFound("Record not found")
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ProposedChange{}, store.Record{}, s.changeDecided(ctx, change.ID)
	}
	if err != nil {
		return store.ProposedChange{}, store.Record{}, err
	}

	s.audit(ctx, store.AuditEntry{
		ProjectID: approved.ProjectID,
		RecordID:  recordRef(approved.RecordID),
		ActorID:   userID,
		Action:    "change.approved",
		Reason:    approved.ReviewNotes,
		Details:   map[string]any{"change_id": approved.ID},
	})
	s.commitHistory(ctx, access.Project, rec, s.userName(ctx, userID), fmt.Sprintf("Apply proposed change %d", approved.ID))
	s.indexRecord(rec)
	s.publish(ctx, events.Event{Type: events.ChangeApproved, ProjectID: approved.ProjectID, RecordID: approved.RecordID, ActorID: userID,
		Data: map[string]any{"change_id": approved.ID}})
	return approved, rec, nil
}

func (s *Service) RejectChange(ctx context.Context, userID int64, projectSlug string, changeID int64, notes string) (store.ProposedChange, error) {
	_, change, err := s.pendingChange(ctx, userID, projectSlug, changeID)
	if err != nil {
		return store.ProposedChange{}, err
	}
	rejected, err := s.store.RejectProposedChange(ctx, change.ID, userID, strings.TrimSpace(notes), s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return store.ProposedChange{}, s.changeDecided(ctx, change.ID)
	}
	if err != nil {
		return store.ProposedChange{}, err
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: rejected.ProjectID,
		RecordID:  recordRef(rejected.RecordID),
		ActorID:   userID,
		Action:    "change.rejected",
		Reason:    rejected.ReviewNotes,
		Details:   map[string]any{"change_id": rejected.ID},
	})
	return rejected, nil
}

func (s *Service) pendingChange(ctx context.Context, userID int64, projectSlug string, changeID int64) (Access, store.ProposedChange, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return Access{}, store.ProposedChange{}, err
	}
	if err := access.require(rbac.CapApproveChanges); err != nil {
		return Access{}, store.ProposedChange{}, err
	}
	change, err := s.store.GetProposedChange(ctx, changeID)
	if errors.Is(err, sql.ErrNoRows) {
		return Access{}, store.ProposedChange{}, notFound("Proposed change not found")
	}
	if err != nil {
		return Access{}, store.ProposedChange{}, err
	}
	if change.ProjectID != access.Project.ID {
		return Access{}, store.ProposedChange{}, notFound("Proposed change not found")
	}
	if change.Status != store.ChangePendingReview {
		return Access{}, store.ProposedChange{}, changeAlreadyDecided(change.Status)
	}
	return access, change, nil
}

// changeDecided explains a decision that lost a race with another one.
func (s *Service) changeDecided(ctx context.Context, changeID int64) error {
	current, err := s.store.GetProposedChange(ctx, changeID)
	if err != nil {
		return notFound("Proposed change not found")
	}
	return changeAlreadyDecided(current.Status)
}

func changeAlreadyDecided(status store.ChangeStatus) error {
	return domainError(http.StatusBadRequest, "INVALID_TRANSITION", fmt.Sprintf("Proposed change is already %s", status), nil)
}
