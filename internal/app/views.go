package app

import (
	"time"

	"github.com/kirbyniko/research-platform-sub006/internal/history"
	"github.com/kirbyniko/research-platform-sub006/internal/review"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

func projectView(p store.Project) map[string]any {
	return map[string]any{
		"id":                          p.ID,
		"slug":                        p.Slug,
		"name":                        p.Name,
		"created_by":                  p.CreatedBy,
		"require_different_validator": p.RequireDifferentValidator,
		"allow_reopen_rejected":       p.AllowReopenRejected,
		"created_at":                  p.CreatedAt,
	}
}

func memberView(p store.Project, m store.ProjectMember) map[string]any {
	role := m.Role
	if m.UserID == p.CreatedBy {
		role = "owner"
	}
	return map[string]any{
		"user_id":                m.UserID,
		"display_name":           m.DisplayName,
		"email":                  m.Email,
		"role":                   role,
		"can_upload":             m.CanUpload,
		"can_manage_appearances": m.CanManageAppearances,
		"created_at":             m.CreatedAt,
	}
}

// recordView is the wire form of a record. Status is rendered in the
// vocabulary of the record's family; verified is derived from it.
func recordView(rec store.Record, now time.Time) map[string]any {
	label := rec.Status.Label(rec.Family)
	view := map[string]any{
		"id":                  rec.ID,
		"project_id":          rec.ProjectID,
		"record_type_id":      rec.RecordTypeID,
		"record_type":         rec.RecordTypeSlug,
		"family":              rec.Family,
		"data":                rec.Data,
		"status":              label,
		"verification_status": label,
		"verified":            rec.Status == review.StatusVerified,
		"verified_fields":     rec.VerifiedFields,
		"first_reviewed_by":   rec.FirstReviewedBy,
		"first_reviewed_at":   rec.FirstReviewedAt,
		"second_reviewed_by":  rec.SecondReviewedBy,
		"second_reviewed_at":  rec.SecondReviewedAt,
		"review_cycle":        rec.ReviewCycle,
		"created_by":          rec.CreatedBy,
		"created_at":          rec.CreatedAt,
		"updated_at":          rec.UpdatedAt,
		"lock":                nil,
	}
	if rec.Status == review.StatusRejected {
		view["rejected_by"] = rec.RejectedBy
		view["rejected_at"] = rec.RejectedAt
		view["rejection_reason"] = rec.RejectionReason
	}
	if lock := rec.ActiveLock(now); lock != nil {
		view["lock"] = lockView(*lock)
	}
	return view
}

func lockView(lock store.RecordEditLock) map[string]any {
	return map[string]any{
		"locked_by":  lock.LockedBy,
		"locked_at":  lock.LockedAt,
		"expires_at": lock.ExpiresAt,
	}
}

func requestView(req store.VerificationRequest) map[string]any {
	return map[string]any{
		"id":               req.ID,
		"project_id":       req.ProjectID,
		"project_slug":     req.ProjectSlug,
		"record_id":        req.RecordID,
		"requested_by":     req.RequestedBy,
		"status":           req.Status,
		"priority":         req.Priority,
		"assigned_to":      req.AssignedTo,
		"assigned_at":      req.AssignedAt,
		"completed_at":     req.CompletedAt,
		"rejection_reason": req.RejectionReason,
		"notes":            req.Notes,
		"created_at":       req.CreatedAt,
	}
}

func historyView(h store.VerificationHistory) map[string]any {
	return map[string]any{
		"id":           h.ID,
		"action":       h.Action,
		"performed_by": h.PerformedBy,
		"details":      h.Details,
		"created_at":   h.CreatedAt,
	}
}

func changeView(c store.ProposedChange) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"project_id":    c.ProjectID,
		"record_id":     c.RecordID,
		"proposed_data": c.ProposedData,
		"summary":       c.Summary,
		"status":        c.Status,
		"submitted_by":  c.SubmittedBy,
		"submitted_at":  c.SubmittedAt,
		"reviewed_by":   c.ReviewedBy,
		"reviewed_at":   c.ReviewedAt,
		"review_notes":  c.ReviewNotes,
	}
}

func creditTxView(tx store.CreditTransaction) map[string]any {
	return map[string]any{
		"id":            tx.ID,
		"type":          tx.Type,
		"amount":        tx.Amount,
		"balance_after": tx.BalanceAfter,
		"description":   tx.Description,
		"external_ref":  tx.ExternalRef,
		"package_id":    tx.PackageID,
		"user_id":       tx.UserID,
		"created_at":    tx.CreatedAt,
	}
}

func balanceView(b store.CreditBalance) map[string]any {
	return map[string]any{
		"project_id":      b.ProjectID,
		"balance":         b.Balance,
		"total_purchased": b.TotalPurchased,
		"total_used":      b.TotalUsed,
	}
}

func auditView(e store.AuditEntry) map[string]any {
	return map[string]any{
		"id":         e.ID,
		"record_id":  e.RecordID,
		"actor_id":   e.ActorID,
		"action":     e.Action,
		"reason":     e.Reason,
		"details":    e.Details,
		"created_at": e.CreatedAt,
	}
}

func evidenceView(e store.Evidence, downloadURL string) map[string]any {
	return map[string]any{
		"id":           e.ID,
		"record_id":    e.RecordID,
		"content_hash": e.ContentHash,
		"content_type": e.ContentType,
		"size_bytes":   e.SizeBytes,
		"source_url":   e.SourceURL,
		"uploaded_by":  e.UploadedBy,
		"created_at":   e.CreatedAt,
		"download_url": downloadURL,
	}
}

func commitView(c history.CommitInfo) map[string]any {
	return map[string]any{
		"hash":       c.Hash,
		"message":    c.Message,
		"author":     c.Author,
		"created_at": c.CreatedAt,
	}
}
