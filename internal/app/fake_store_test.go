package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/kirbyniko/research-platform-sub006/internal/fields"
	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/review"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

// fakeStore keeps just enough state in memory to drive the service. The
// Fn hooks override individual methods.
type fakeStore struct {
	mu sync.Mutex

	users       map[int64]store.User
	projects    map[int64]store.Project
	members     map[int64]map[int64]store.ProjectMember
	recordTypes map[int64]store.RecordType
	records     map[int64]store.Record
	changes     map[int64]store.ProposedChange
	requests    map[int64]store.VerificationRequest
	balances    map[int64]int64
	txs         []store.CreditTransaction
	audits      []store.AuditEntry
	evidence    []store.Evidence
	sessions    map[string]int64
	nextID      int64

	advanceReviewFn  func(context.Context, int64, review.Step, int64, time.Time) (store.Record, error)
	updateRecordFn   func(context.Context, int64, int64, fields.Payload, time.Time) (store.Record, error)
	claimFn          func(context.Context, int64, int64, int, time.Time) (store.VerificationRequest, error)
	debitFn          func(context.Context, store.CreditDebit) (store.CreditTransaction, error)
	insertAuditFn    func(context.Context, store.AuditEntry) error
	createRequestFn  func(context.Context, store.VerificationRequest) (store.VerificationRequest, error)
	closeRequestFn   func(context.Context, int64, int64, store.RequestStatus) (store.VerificationRequest, error)
	approveChangeFn  func(context.Context, int64, int64, string, time.Time) (store.ProposedChange, store.Record, error)
	listEvidenceFn   func(context.Context, int64) ([]store.Evidence, error)
	verifierStatsFn  func(context.Context, int64, int) (store.VerifierStats, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[int64]store.User{},
		projects:    map[int64]store.Project{},
		members:     map[int64]map[int64]store.ProjectMember{},
		recordTypes: map[int64]store.RecordType{},
		records:     map[int64]store.Record{},
		changes:     map[int64]store.ProposedChange{},
		requests:    map[int64]store.VerificationRequest{},
		balances:    map[int64]int64{},
		sessions:    map[string]int64{},
		nextID:      1000,
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addMember(projectID, userID int64, role string, canUpload bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[projectID] == nil {
		f.members[projectID] = map[int64]store.ProjectMember{}
	}
	f.members[projectID][userID] = store.ProjectMember{
		ProjectID:   projectID,
		UserID:      userID,
		DisplayName: f.users[userID].DisplayName,
		Role:        rbac.Role(role),
		CanUpload:   canUpload,
	}
}

func (f *fakeStore) record(id int64) store.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

func (f *fakeStore) auditActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.audits))
	for _, e := range f.audits {
		out = append(out, e.Action)
	}
	return out
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetUserByID(_ context.Context, id int64) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, fmt.Errorf("get user %d: %w", id, sql.ErrNoRows)
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.ID = f.id()
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) CountUsers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeStore) GetProjectBySlug(_ context.Context, slug string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.projects {
		if p.Slug == slug {
			return p, nil
		}
	}
	return store.Project{}, fmt.Errorf("get project %q: %w", slug, sql.ErrNoRows)
}

func (f *fakeStore) GetProjectByID(_ context.Context, id int64) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) CreateProject(_ context.Context, p store.Project) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.id()
	f.projects[p.ID] = p
	return p, nil
}

func (f *fakeStore) UpdateProjectSettings(_ context.Context, id int64, settings store.ProjectSettings) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.projects[id]
	if settings.RequireDifferentValidator != nil {
		p.RequireDifferentValidator = *settings.RequireDifferentValidator
	}
	if settings.AllowReopenRejected != nil {
		p.AllowReopenRejected = *settings.AllowReopenRejected
	}
	f.projects[id] = p
	return p, nil
}

func (f *fakeStore) GetMembership(_ context.Context, projectID, userID int64) (*store.ProjectMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[projectID][userID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeStore) ListMembers(_ context.Context, projectID int64) ([]store.ProjectMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.ProjectMember, 0)
	for _, m := range f.members[projectID] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) UpsertMember(_ context.Context, m store.ProjectMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[m.ProjectID] == nil {
		f.members[m.ProjectID] = map[int64]store.ProjectMember{}
	}
	f.members[m.ProjectID][m.UserID] = m
	return nil
}

func (f *fakeStore) RemoveMember(_ context.Context, projectID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.members[projectID][userID]; !ok {
		return false, nil
	}
	delete(f.members[projectID], userID)
	return true, nil
}

func (f *fakeStore) CreateRecordType(_ context.Context, rt store.RecordType) (store.RecordType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt.ID = f.id()
	f.recordTypes[rt.ID] = rt
	return rt, nil
}

func (f *fakeStore) GetRecordType(_ context.Context, id int64) (store.RecordType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.recordTypes[id]
	if !ok {
		return store.RecordType{}, sql.ErrNoRows
	}
	return rt, nil
}

func (f *fakeStore) GetRecordTypeBySlug(_ context.Context, projectID int64, slug string) (store.RecordType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rt := range f.recordTypes {
		if rt.ProjectID == projectID && rt.Slug == slug {
			return rt, nil
		}
	}
	return store.RecordType{}, sql.ErrNoRows
}

func (f *fakeStore) CreateRecord(_ context.Context, rec store.Record) (store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt := f.recordTypes[rec.RecordTypeID]
	if rec.ID == 0 {
		rec.ID = f.id()
	}
	rec.RecordTypeSlug = rt.Slug
	rec.Family = rt.Family
	if rec.Status == "" {
		rec.Status = review.StatusPending
	}
	if rec.ReviewCycle == 0 {
		rec.ReviewCycle = 1
	}
	if rec.VerifiedFields == nil {
		rec.VerifiedFields = map[string]store.FieldVerification{}
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeStore) GetRecord(_ context.Context, id int64) (store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok || rec.DeletedAt != nil {
		return store.Record{}, fmt.Errorf("get record %d: %w", id, sql.ErrNoRows)
	}
	return rec, nil
}

func (f *fakeStore) ListRecords(_ context.Context, filter store.RecordFilter) ([]store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Record, 0)
	for _, rec := range f.records {
		if rec.ProjectID != filter.ProjectID || rec.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) UpdateRecordData(ctx context.Context, id, userID int64, data fields.Payload, now time.Time) (store.Record, error) {
	if f.updateRecordFn != nil {
		return f.updateRecordFn(ctx, id, userID, data, now)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok || review.CanEdit(rec.ReviewState()) != nil {
		return store.Record{}, sql.ErrNoRows
	}
	if lock := rec.ActiveLock(now); lock != nil && lock.LockedBy != userID {
		return store.Record{}, sql.ErrNoRows
	}
	rec.Data = data
	rec.UpdatedAt = now
	f.records[id] = rec
	return rec, nil
}

func (f *fakeStore) SoftDeleteRecord(_ context.Context, id int64, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok || rec.DeletedAt != nil {
		return false, nil
	}
	rec.DeletedAt = &now
	f.records[id] = rec
	return true, nil
}

// transition applies a step only if the stored status still matches
// step.From, like the conditional UPDATE in the real store.
func (f *fakeStore) transition(id int64, step review.Step, action string, apply func(*store.Record)) (store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok || rec.DeletedAt != nil || rec.Status != step.From {
		return store.Record{}, &review.TransitionError{Action: action, From: rec.Status, Family: rec.Family}
	}
	rec.Status = step.To
	apply(&rec)
	f.records[id] = rec
	return rec, nil
}

func (f *fakeStore) AdvanceReview(ctx context.Context, id int64, step review.Step, reviewerID int64, now time.Time) (store.Record, error) {
	if f.advanceReviewFn != nil {
		return f.advanceReviewFn(ctx, id, step, reviewerID, now)
	}
	return f.transition(id, step, "review", func(rec *store.Record) {
		by, at := reviewerID, now
		if step.Stage == review.StageFirst {
			rec.FirstReviewedBy, rec.FirstReviewedAt = &by, &at
			return
		}
		rec.SecondReviewedBy, rec.SecondReviewedAt = &by, &at
	})
}

func (f *fakeStore) UnpublishRecord(_ context.Context, id int64, step review.Step, now time.Time) (store.Record, error) {
	return f.transition(id, step, "unpublish", func(rec *store.Record) {
		rec.ReviewCycle++
		rec.UpdatedAt = now
	})
}

func (f *fakeStore) RejectRecord(_ context.Context, id int64, step review.Step, userID int64, reason string, now time.Time) (store.Record, error) {
	return f.transition(id, step, "reject", func(rec *store.Record) {
		by, at := userID, now
		rec.RejectedBy, rec.RejectedAt, rec.RejectionReason = &by, &at, reason
	})
}

func (f *fakeStore) ReopenRecord(_ context.Context, id int64, step review.Step, now time.Time) (store.Record, error) {
	return f.transition(id, step, "reopen", func(rec *store.Record) {
		rec.ReviewCycle++
		rec.RejectedBy, rec.RejectedAt, rec.RejectionReason = nil, nil, ""
		rec.UpdatedAt = now
	})
}

func (f *fakeStore) SetFieldVerification(_ context.Context, id int64, slug string, v store.FieldVerification) (store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[id]
	verified := make(map[string]store.FieldVerification, len(rec.VerifiedFields)+1)
	for k, val := range rec.VerifiedFields {
		verified[k] = val
	}
	verified[slug] = v
	rec.VerifiedFields = verified
	f.records[id] = rec
	return rec, nil
}

func (f *fakeStore) ClearFieldVerification(_ context.Context, id int64, slug string, _ time.Time) (store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[id]
	verified := make(map[string]store.FieldVerification, len(rec.VerifiedFields))
	for k, val := range rec.VerifiedFields {
		if k != slug {
			verified[k] = val
		}
	}
	rec.VerifiedFields = verified
	f.records[id] = rec
	return rec, nil
}

func (f *fakeStore) TryAcquireLock(_ context.Context, id, userID int64, ttl time.Duration, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return false, nil
	}
	if lock := rec.ActiveLock(now); lock != nil && lock.LockedBy != userID {
		return false, nil
	}
	expires := now.Add(ttl)
	rec.LockedBy, rec.LockedAt, rec.LockExpiresAt = &userID, &now, &expires
	f.records[id] = rec
	return true, nil
}

func (f *fakeStore) ReleaseLock(_ context.Context, id, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok || rec.LockedBy == nil || *rec.LockedBy != userID {
		return false, nil
	}
	rec.LockedBy, rec.LockedAt, rec.LockExpiresAt = nil, nil, nil
	f.records[id] = rec
	return true, nil
}

func (f *fakeStore) CreateVerificationRequest(ctx context.Context, req store.VerificationRequest) (store.VerificationRequest, error) {
	if f.createRequestFn != nil {
		return f.createRequestFn(ctx, req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.requests {
		if existing.RecordID == req.RecordID && (existing.Status == store.RequestPending || existing.Status == store.RequestInProgress) {
			return store.VerificationRequest{}, store.ErrOpenRequestExists
		}
	}
	req.ID = f.id()
	req.Status = store.RequestPending
	f.requests[req.ID] = req
	return req, nil
}

func (f *fakeStore) GetVerificationRequest(_ context.Context, id int64) (store.VerificationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return store.VerificationRequest{}, sql.ErrNoRows
	}
	return req, nil
}

func (f *fakeStore) ListVerificationQueue(context.Context, int) ([]store.VerificationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.VerificationRequest, 0)
	for _, req := range f.requests {
		if req.Status == store.RequestPending || req.Status == store.RequestInProgress {
			out = append(out, req)
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimVerificationRequest(ctx context.Context, requestID, userID int64, maxConcurrent int, now time.Time) (store.VerificationRequest, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, requestID, userID, maxConcurrent, now)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[requestID]
	if !ok {
		return store.VerificationRequest{}, sql.ErrNoRows
	}
	if req.Status != store.RequestPending || req.AssignedTo != nil {
		return store.VerificationRequest{}, store.ErrAlreadyAssigned
	}
	req.Status, req.AssignedTo, req.AssignedAt = store.RequestInProgress, &userID, &now
	f.requests[requestID] = req
	return req, nil
}

func (f *fakeStore) RejectVerificationRequest(ctx context.Context, requestID, userID int64, _ string, now time.Time) (store.VerificationRequest, error) {
	return f.closeRequest(ctx, requestID, userID, store.RequestRejected, now)
}

func (f *fakeStore) CompleteVerificationRequest(ctx context.Context, requestID, userID int64, now time.Time) (store.VerificationRequest, error) {
	return f.closeRequest(ctx, requestID, userID, store.RequestApproved, now)
}

func (f *fakeStore) closeRequest(ctx context.Context, requestID, userID int64, outcome store.RequestStatus, now time.Time) (store.VerificationRequest, error) {
	if f.closeRequestFn != nil {
		return f.closeRequestFn(ctx, requestID, userID, outcome)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[requestID]
	if !ok || req.Status != store.RequestInProgress || req.AssignedTo == nil || *req.AssignedTo != userID {
		return store.VerificationRequest{}, store.ErrNotAssigned
	}
	req.Status, req.CompletedAt = outcome, &now
	f.requests[requestID] = req
	return req, nil
}

func (f *fakeStore) ListVerificationHistory(context.Context, int64) ([]store.VerificationHistory, error) {
	return []store.VerificationHistory{}, nil
}

func (f *fakeStore) GetVerifierStats(ctx context.Context, userID int64, defaultMax int) (store.VerifierStats, error) {
	if f.verifierStatsFn != nil {
		return f.verifierStatsFn(ctx, userID, defaultMax)
	}
	return store.VerifierStats{UserID: userID, MaxConcurrent: defaultMax}, nil
}

func (f *fakeStore) CreateProposedChange(_ context.Context, change store.ProposedChange) (store.ProposedChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[change.RecordID]
	if !ok || rec.Status != review.StatusVerified {
		return store.ProposedChange{}, sql.ErrNoRows
	}
	change.ID = f.id()
	change.ProjectID = rec.ProjectID
	change.Status = store.ChangePendingReview
	f.changes[change.ID] = change
	return change, nil
}

func (f *fakeStore) GetProposedChange(_ context.Context, id int64) (store.ProposedChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	change, ok := f.changes[id]
	if !ok {
		return store.ProposedChange{}, sql.ErrNoRows
	}
	return change, nil
}

func (f *fakeStore) ListProposedChanges(_ context.Context, projectID int64, status store.ChangeStatus, _ int) ([]store.ProposedChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.ProposedChange, 0)
	for _, change := range f.changes {
		if change.ProjectID == projectID && (status == "" || change.Status == status) {
			out = append(out, change)
		}
	}
	return out, nil
}

func (f *fakeStore) ApproveProposedChange(ctx context.Context, id, reviewerID int64, notes string, now time.Time) (store.ProposedChange, store.Record, error) {
	if f.approveChangeFn != nil {
		return f.approveChangeFn(ctx, id, reviewerID, notes, now)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	change, ok := f.changes[id]
	if !ok || change.Status != store.ChangePendingReview {
		return store.ProposedChange{}, store.Record{}, sql.ErrNoRows
	}
	rec, ok := f.records[change.RecordID]
	if !ok || rec.DeletedAt != nil {
		return store.ProposedChange{}, store.Record{}, store.ErrRecordGone
	}
	change.Status, change.ReviewedBy, change.ReviewedAt, change.ReviewNotes = store.ChangeApproved, &reviewerID, &now, notes
	f.changes[id] = change
	rec.Data = change.ProposedData
	f.records[rec.ID] = rec
	return change, rec, nil
}

func (f *fakeStore) RejectProposedChange(_ context.Context, id, reviewerID int64, notes string, now time.Time) (store.ProposedChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	change, ok := f.changes[id]
	if !ok || change.Status != store.ChangePendingReview {
		return store.ProposedChange{}, sql.ErrNoRows
	}
	change.Status, change.ReviewedBy, change.ReviewedAt, change.ReviewNotes = store.ChangeRejected, &reviewerID, &now, notes
	f.changes[id] = change
	return change, nil
}

func (f *fakeStore) GetCreditBalance(_ context.Context, projectID int64) (store.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return store.CreditBalance{ProjectID: projectID, Balance: f.balances[projectID]}, nil
}

func (f *fakeStore) ListCreditTransactions(_ context.Context, projectID int64, _ int) ([]store.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.CreditTransaction, 0)
	for _, tx := range f.txs {
		if tx.ProjectID == projectID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeStore) DebitCredits(ctx context.Context, debit store.CreditDebit) (store.CreditTransaction, error) {
	if f.debitFn != nil {
		return f.debitFn(ctx, debit)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[debit.ProjectID] < debit.Amount {
		return store.CreditTransaction{}, store.ErrInsufficientCredits
	}
	f.balances[debit.ProjectID] -= debit.Amount
	userID := debit.UserID
	tx := store.CreditTransaction{
		ID:           f.id(),
		ProjectID:    debit.ProjectID,
		UserID:       &userID,
		Type:         debit.Type,
		Amount:       -debit.Amount,
		BalanceAfter: f.balances[debit.ProjectID],
		Description:  debit.Description,
	}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakeStore) ApplyCredit(_ context.Context, grant store.CreditGrant) (store.CreditTransaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if grant.ExternalRef != "" {
		for _, tx := range f.txs {
			if tx.ExternalRef == grant.ExternalRef {
				return tx, false, nil
			}
		}
	}
	f.balances[grant.ProjectID] += grant.Amount
	tx := store.CreditTransaction{
		ID:           f.id(),
		ProjectID:    grant.ProjectID,
		UserID:       grant.UserID,
		Type:         grant.Type,
		Amount:       grant.Amount,
		BalanceAfter: f.balances[grant.ProjectID],
		Description:  grant.Description,
		ExternalRef:  grant.ExternalRef,
		PackageID:    grant.PackageID,
	}
	f.txs = append(f.txs, tx)
	return tx, true, nil
}

func (f *fakeStore) InsertAuditEntry(ctx context.Context, entry store.AuditEntry) error {
	if f.insertAuditFn != nil {
		return f.insertAuditFn(ctx, entry)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = f.id()
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeStore) ListAuditEntries(_ context.Context, projectID, recordID int64, _ int) ([]store.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.AuditEntry, 0)
	for _, e := range f.audits {
		if e.ProjectID == projectID && e.RecordID != nil && *e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertEvidence(_ context.Context, e store.Evidence) (store.Evidence, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.evidence {
		if existing.RecordID == e.RecordID && existing.ContentHash == e.ContentHash {
			return existing, false, nil
		}
	}
	e.ID = f.id()
	f.evidence = append(f.evidence, e)
	return e, true, nil
}

func (f *fakeStore) ListEvidence(ctx context.Context, recordID int64) ([]store.Evidence, error) {
	if f.listEvidenceFn != nil {
		return f.listEvidenceFn(ctx, recordID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Evidence, 0)
	for _, e := range f.evidence {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash string, userID int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.sessions[tokenHash]
	if !ok {
		return 0, sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}
