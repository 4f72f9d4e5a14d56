package store

import (
	"time"

	"github.com/kirbyniko/research-platform-sub006/internal/fields"
	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/review"
)

type User struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash string
	IsVerifier   bool
	CreatedAt    time.Time
}

type Project struct {
	ID                        int64
	Slug                      string
	Name                      string
	CreatedBy                 int64
	RequireDifferentValidator bool
	AllowReopenRejected       bool
	CreatedAt                 time.Time
}

// Policy is the review configuration carried by the project.
func (p Project) Policy() review.Policy {
	return review.Policy{
		RequireDifferentValidator: p.RequireDifferentValidator,
		AllowReopenRejected:       p.AllowReopenRejected,
	}
}

type ProjectSettings struct {
	RequireDifferentValidator *bool
	AllowReopenRejected       *bool
}

type ProjectMember struct {
	ProjectID            int64
	UserID               int64
	DisplayName          string
	Email                string
	Role                 rbac.Role
	CanUpload            bool
	CanManageAppearances bool
	CreatedAt            time.Time
}

func (m ProjectMember) Membership() rbac.Membership {
	return rbac.Membership{
		Role: m.Role,
		Grants: rbac.Grants{
			CanUpload:            m.CanUpload,
			CanManageAppearances: m.CanManageAppearances,
		},
	}
}

type RecordType struct {
	ID        int64
	ProjectID int64
	Slug      string
	Name      string
	Family    review.Family
	Fields    []fields.Definition
}

// FieldVerification is one entry of a record's verified_fields map.
// Un-verifying removes the entry instead of storing false.
type FieldVerification struct {
	Verified bool      `json:"verified"`
	By       int64     `json:"by"`
	At       time.Time `json:"at"`
}

// RecordEditLock is the advisory, time-boxed editing lock on a record.
type RecordEditLock struct {
	LockedBy  int64
	LockedAt  time.Time
	ExpiresAt time.Time
}

type Record struct {
	ID               int64
	ProjectID        int64
	RecordTypeID     int64
	RecordTypeSlug   string
	Family           review.Family
	Data             fields.Payload
	Status           review.Status
	VerifiedFields   map[string]FieldVerification
	FirstReviewedBy  *int64
	FirstReviewedAt  *time.Time
	SecondReviewedBy *int64
	SecondReviewedAt *time.Time
	RejectedBy       *int64
	RejectedAt       *time.Time
	RejectionReason  string
	ReviewCycle      int
	LockedBy         *int64
	LockedAt         *time.Time
	LockExpiresAt    *time.Time
	CreatedBy        int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// ActiveLock returns the lock if one is held and unexpired at now.
// An expired lock reads as absent.
func (r Record) ActiveLock(now time.Time) *RecordEditLock {
	if r.LockedBy == nil || r.LockExpiresAt == nil || !r.LockExpiresAt.After(now) {
		return nil
	}
	lock := &RecordEditLock{LockedBy: *r.LockedBy, ExpiresAt: *r.LockExpiresAt}
	if r.LockedAt != nil {
		lock.LockedAt = *r.LockedAt
	}
	return lock
}

func (r Record) ReviewState() review.State {
	return review.State{
		Family:          r.Family,
		Status:          r.Status,
		FirstReviewedBy: r.FirstReviewedBy,
		Deleted:         r.DeletedAt != nil,
	}
}

type RecordFilter struct {
	ProjectID      int64
	Status         review.Status
	RecordTypeSlug string
	Limit          int
	Offset         int
}

type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestInProgress RequestStatus = "in_progress"
	RequestApproved   RequestStatus = "approved"
	RequestRejected   RequestStatus = "rejected"
)

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func ValidPriority(p string) bool {
	switch Priority(p) {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// VerificationRequest is a pull-queue work item. Its assignment is unrelated
// to the record's edit lock.
type VerificationRequest struct {
	ID              int64
	ProjectID       int64
	ProjectSlug     string
	RecordID        int64
	RequestedBy     int64
	Status          RequestStatus
	Priority        Priority
	AssignedTo      *int64
	AssignedAt      *time.Time
	CompletedAt     *time.Time
	RejectionReason string
	Notes           string
	CreatedAt       time.Time
}

type VerificationHistory struct {
	ID          int64
	RequestID   int64
	Action      string
	PerformedBy int64
	Details     map[string]any
	CreatedAt   time.Time
}

type VerifierStats struct {
	UserID          int64
	CurrentAssigned int
	MaxConcurrent   int
	TotalCompleted  int
	TotalRejected   int
}

type ChangeStatus string

const (
	ChangePendingReview ChangeStatus = "pending_review"
	ChangeApproved      ChangeStatus = "approved"
	ChangeRejected      ChangeStatus = "rejected"
)

type ProposedChange struct {
	ID           int64
	ProjectID    int64
	RecordID     int64
	ProposedData fields.Payload
	Summary      string
	Status       ChangeStatus
	SubmittedBy  int64
	SubmittedAt  time.Time
	ReviewedBy   *int64
	ReviewedAt   *time.Time
	ReviewNotes  string
}

type CreditBalance struct {
	ProjectID      int64
	Balance        int64
	TotalPurchased int64
	TotalUsed      int64
	UpdatedAt      time.Time
}

type TransactionType string

const (
	TxPurchase        TransactionType = "purchase"
	TxAdminAdjustment TransactionType = "admin_adjustment"
	TxUsage           TransactionType = "usage"
	TxRefund          TransactionType = "refund"
)

type CreditTransaction struct {
	ID           int64
	ProjectID    int64
	UserID       *int64
	Type         TransactionType
	Amount       int64
	BalanceAfter int64
	Description  string
	ExternalRef  string
	PackageID    string
	CreatedAt    time.Time
}

// CreditDebit removes Amount (positive) from a project's balance.
type CreditDebit struct {
	ProjectID   int64
	UserID      int64
	Amount      int64
	Type        TransactionType
	Description string
}

// CreditGrant adds Amount (positive). A non-empty ExternalRef makes the
// grant idempotent.
type CreditGrant struct {
	ProjectID   int64
	UserID      *int64
	Amount      int64
	Type        TransactionType
	Description string
	ExternalRef string
	PackageID   string
}

type CreditDiscrepancy struct {
	ProjectID      int64
	Balance        int64
	TotalPurchased int64
	TotalUsed      int64
	LedgerSum      int64
}

type AuditEntry struct {
	ID        int64
	ProjectID int64
	RecordID  *int64
	ActorID   int64
	Action    string
	Reason    string
	Details   map[string]any
	CreatedAt time.Time
}

type Evidence struct {
	ID          int64
	ProjectID   int64
	RecordID    int64
	ObjectKey   string
	ContentHash string
	ContentType string
	SizeBytes   int64
	SourceURL   string
	UploadedBy  int64
	CreatedAt   time.Time
}
