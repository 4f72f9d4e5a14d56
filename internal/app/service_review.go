package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirbyniko/research-platform-sub006/internal/events"
	"github.com/kirbyniko/research-platform-sub006/internal/fields"
	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/review"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

// TransitionResult is a record after a pipeline step, with a message for
// the caller.
type TransitionResult struct {
	Record  store.Record
	Message string
}

func (s *Service) IncidentReview(ctx context.Context, userID, recordID int64) (TransitionResult, error) {
	access, rec, err := s.incidentAccess(ctx, userID, recordID)
	if err != nil {
		return TransitionResult{}, err
	}
	return s.submitReview(ctx, access, rec)
}

func (s *Service) IncidentUnpublish(ctx context.Context, userID, recordID int64, reason string) (TransitionResult, error) {
	access, rec, err := s.incidentAccess(ctx, userID, recordID)
	if err != nil {
		return TransitionResult{}, err
	}
	return s.unpublish(ctx, access, rec, reason)
}

func (s *Service) IncidentReject(ctx context.Context, userID, recordID int64, reason string) (TransitionResult, error) {
	access, rec, err := s.incidentAccess(ctx, userID, recordID)
	if err != nil {
		return TransitionResult{}, err
	}
	return s.reject(ctx, access, rec, reason)
}

func (s *Service) ReviewRecord(ctx context.Context, userID int64, projectSlug string, recordID int64) (TransitionResult, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return TransitionResult{}, err
	}
	return s.submitReview(ctx, access, rec)
}

func (s *Service) UnpublishRecord(ctx context.Context, userID int64, projectSlug string, recordID int64, reason string) (TransitionResult, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return TransitionResult{}, err
	}
	return s.unpublish(ctx, access, rec, reason)
}

func (s *Service) RejectRecord(ctx context.Context, userID int64, projectSlug string, recordID int64, reason string) (TransitionResult, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return TransitionResult{}, err
	}
	return s.reject(ctx, access, rec, reason)
}

func (s *Service) ReopenRecord(ctx context.Context, userID int64, projectSlug string, recordID int64) (TransitionResult, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := access.require(rbac.CapReview); err != nil {
		return TransitionResult{}, err
	}
	step, err := review.Reopen(rec.ReviewState(), access.Project.Policy())
	if err != nil {
		return TransitionResult{}, err
	}
	updated, err := s.store.ReopenRecord(ctx, rec.ID, step, s.now())
	if err != nil {
		return TransitionResult{}, err
	}

	s.audit(ctx, store.AuditEntry{
		ProjectID: updated.ProjectID,
		RecordID:  recordRef(updated.ID),
		ActorID:   access.UserID,
		Action:    "record.reopened",
		Details:   map[string]any{"review_cycle": updated.ReviewCycle},
	})
	s.publish(ctx, events.Event{Type: events.RecordReopened, ProjectID: updated.ProjectID, RecordID: updated.ID, ActorID: access.UserID})
	s.indexRecord(updated)
	return TransitionResult{Record: updated, Message: "Record reopened for review"}, nil
}

func (s *Service) accessAndRecord(ctx context.Context, userID int64, projectSlug string, recordID int64) (Access, store.Record, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return Access{}, store.Record{}, err
	}
	rec, err := s.projectRecord(ctx, access, recordID)
	if err != nil {
		return Access{}, store.Record{}, err
	}
	return access, rec, nil
}

// submitReview moves pending to first review and first review to verified.
// Where the record lands depends only on where it was; the caller's role
// only decides whether the call is allowed.
func (s *Service) submitReview(ctx context.Context, access Access, rec store.Record) (TransitionResult, error) {
	if err := access.require(rbac.CapReview); err != nil {
		return TransitionResult{}, err
	}
	step, err := review.NextReview(rec.ReviewState(), access.UserID, access.Project.Policy())
	if err != nil {
		return TransitionResult{}, err
	}
	updated, err := s.store.AdvanceReview(ctx, rec.ID, step, access.UserID, s.now())
	if err != nil {
		return TransitionResult{}, err
	}

	label := updated.Status.Label(updated.Family)
	action, evt, message := "record.first_review", events.RecordReviewed, fmt.Sprintf("First review recorded; status is now %s", label)
	if step.Stage == review.StageSecond {
		action, evt, message = "record.verified", events.RecordVerified, "Record verified"
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: updated.ProjectID,
		RecordID:  recordRef(updated.ID),
		ActorID:   access.UserID,
		Action:    action,
		Details:   map[string]any{"from": step.From.Label(updated.Family), "to": label, "review_cycle": updated.ReviewCycle},
	})
	s.publish(ctx, events.Event{Type: evt, ProjectID: updated.ProjectID, RecordID: updated.ID, ActorID: access.UserID,
		Data: map[string]any{"status": label}})
	s.indexRecord(updated)
	return TransitionResult{Record: updated, Message: message}, nil
}

// unpublish returns a verified record to pending and opens a new review
// cycle. Reviewer fields are kept as the record of the previous cycle.
func (s *Service) unpublish(ctx context.Context, access Access, rec store.Record, reason string) (TransitionResult, error) {
	if err := access.require(rbac.CapUnpublish); err != nil {
		return TransitionResult{}, err
	}
	reason = strings.TrimSpace(reason)
	step, err := review.Unpublish(rec.ReviewState(), reason)
	if err != nil {
		return TransitionResult{}, err
	}
	updated, err := s.store.UnpublishRecord(ctx, rec.ID, step, s.now())
	if err != nil {
		return TransitionResult{}, err
	}

	s.audit(ctx, store.AuditEntry{
		ProjectID: updated.ProjectID,
		RecordID:  recordRef(updated.ID),
		ActorID:   access.UserID,
		Action:    "record.unpublished",
		Reason:    reason,
		Details:   map[string]any{"review_cycle": updated.ReviewCycle},
	})
	s.publish(ctx, events.Event{Type: events.RecordUnpublished, ProjectID: updated.ProjectID, RecordID: updated.ID, ActorID: access.UserID,
		Data: map[string]any{"reason": reason, "review_cycle": updated.ReviewCycle}})
	s.indexRecord(updated)
	return TransitionResult{Record: updated, Message: "Record unpublished and returned to review"}, nil
}

func (s *Service) reject(ctx context.Context, access Access, rec store.Record, reason string) (TransitionResult, error) {
	if err := access.require(rbac.CapReject); err != nil {
		return TransitionResult{}, err
	}
	reason = strings.TrimSpace(reason)
	step, err := review.Reject(rec.ReviewState())
	if err != nil {
		return TransitionResult{}, err
	}
	updated, err := s.store.RejectRecord(ctx, rec.ID, step, access.UserID, reason, s.now())
	if err != nil {
		return TransitionResult{}, err
	}

	s.audit(ctx, store.AuditEntry{
		ProjectID: updated.ProjectID,
		RecordID:  recordRef(updated.ID),
		ActorID:   access.UserID,
		Action:    "record.rejected",
		Reason:    reason,
		Details:   map[string]any{"from": step.From.Label(updated.Family)},
	})
	s.publish(ctx, events.Event{Type: events.RecordRejected, ProjectID: updated.ProjectID, RecordID: updated.ID, ActorID: access.UserID,
		Data: map[string]any{"reason": reason}})
	s.indexRecord(updated)
	return TransitionResult{Record: updated, Message: "Record rejected"}, nil
}

// VerifyField marks one payload field as checked, or clears the mark. The
// record's status is untouched either way.
func (s *Service) VerifyField(ctx context.Context, userID int64, projectSlug string, recordID int64, fieldSlug string, verified bool) (store.Record, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return store.Record{}, err
	}
	if err := access.require(rbac.CapValidate); err != nil {
		return store.Record{}, err
	}
	fieldSlug = strings.TrimSpace(fieldSlug)
	if fieldSlug == "" {
		return store.Record{}, validationError("field is required", nil)
	}
	recordType, err := s.store.GetRecordType(ctx, rec.RecordTypeID)
	if err != nil {
		return store.Record{}, err
	}
	if _, ok := fields.Lookup(recordType.Fields, fieldSlug); !ok {
		return store.Record{}, notFound("Field not found")
	}

	now := s.now()
	var updated store.Record
	if verified {
		updated, err = s.store.SetFieldVerification(ctx, rec.ID, fieldSlug, store.FieldVerification{Verified: true, By: userID, At: now})
	} else {
		updated, err = s.store.ClearFieldVerification(ctx, rec.ID, fieldSlug, now)
	}
	if err != nil {
		return store.Record{}, err
	}

	s.audit(ctx, store.AuditEntry{
		ProjectID: updated.ProjectID,
		RecordID:  recordRef(updated.ID),
		ActorID:   userID,
		Action:    "record.field_verification",
		Details:   map[string]any{"field": fieldSlug, "verified": verified},
	})
	return updated, nil
}
