package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kirbyniko/research-platform-sub006/internal/export"
	"github.com/kirbyniko/research-platform-sub006/internal/fields"
	"github.com/kirbyniko/research-platform-sub006/internal/history"
	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/review"
	"github.com/kirbyniko/research-platform-sub006/internal/search"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

type RecordInput struct {
	RecordType string         `json:"record_type"`
	Data       fields.Payload `json:"data"`
}

type ListRecordsInput struct {
	Status     string
	RecordType string
	Limit      int
	Offset     int
}

func (s *Service) CreateRecord(ctx context.Context, userID int64, projectSlug string, input RecordInput) (store.Record, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return store.Record{}, err
	}
	if err := access.require(rbac.CapUpload); err != nil {
		return store.Record{}, err
	}
	typeSlug := strings.TrimSpace(input.RecordType)
	if typeSlug == "" {
		return store.Record{}, validationError("record_type is required", nil)
	}
	recordType, err := s.store.GetRecordTypeBySlug(ctx, access.Project.ID, typeSlug)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, validationError("Unknown record type", map[string]any{"record_type": typeSlug})
	}
	if err != nil {
		return store.Record{}, err
	}
	if input.Data == nil {
		input.Data = fields.Payload{}
	}
	if err := fields.Validate(recordType.Fields, input.Data); err != nil {
		return store.Record{}, err
	}

	rec, err := s.store.CreateRecord(ctx, store.Record{
		ProjectID:    access.Project.ID,
		RecordTypeID: recordType.ID,
		CreatedBy:    userID,
		Data:         input.Data,
	})
	if err != nil {
		return store.Record{}, err
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: rec.ProjectID,
		RecordID:  recordRef(rec.ID),
		ActorID:   userID,
		Action:    "record.created",
		Details:   map[string]any{"record_type": recordType.Slug},
	})
	s.commitHistory(ctx, access.Project, rec, s.userName(ctx, userID), "Create record")
	s.indexRecord(rec)
	return rec, nil
}

func (s *Service) GetRecord(ctx context.Context, userID int64, projectSlug string, recordID int64) (store.Record, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return store.Record{}, err
	}
	if err := access.require(rbac.CapView); err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

func (s *Service) ListRecords(ctx context.Context, userID int64, projectSlug string, input ListRecordsInput) ([]store.Record, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return nil, err
	}
	if err := access.require(rbac.CapView); err != nil {
		return nil, err
	}
	filter := store.RecordFilter{
		ProjectID:      access.Project.ID,
		RecordTypeSlug: strings.TrimSpace(input.RecordType),
		Limit:          input.Limit,
		Offset:         input.Offset,
	}
	if input.Status != "" {
		status, ok := review.ParseStatus(input.Status)
		if !ok {
			return nil, validationError("Unknown status", map[string]any{"status": input.Status})
		}
		filter.Status = status
	}
	return s.store.ListRecords(ctx, filter)
}

// UpdateRecord replaces the payload of a record still in review. A verified
// record only changes through an approved proposal.
func (s *Service) UpdateRecord(ctx context.Context, userID int64, projectSlug string, recordID int64, data fields.Payload) (store.Record, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return store.Record{}, err
	}
	if err := access.require(rbac.CapEditRecords); err != nil {
		return store.Record{}, err
	}
	if err := review.CanEdit(rec.ReviewState()); err != nil {
		return store.Record{}, err
	}
	now := s.now()
	if err := lockHeldByOther(rec, userID, now); err != nil {
		return store.Record{}, err
	}
	recordType, err := s.store.GetRecordType(ctx, rec.RecordTypeID)
	if err != nil {
		return store.Record{}, err
	}
	if data == nil {
		data = fields.Payload{}
	}
	if err := fields.Validate(recordType.Fields, data); err != nil {
		return store.Record{}, err
	}

	updated, err := s.store.UpdateRecordData(ctx, rec.ID, userID, data, now)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, s.explainRejectedUpdate(ctx, rec.ID, userID)
	}
	if err != nil {
		return store.Record{}, err
	}

	s.audit(ctx, store.AuditEntry{
		ProjectID: updated.ProjectID,
		RecordID:  recordRef(updated.ID),
		ActorID:   userID,
		Action:    "record.updated",
		Details:   map[string]any{"fields": history.ChangedFields(rec.Data, updated.Data)},
	})
	s.commitHistory(ctx, access.Project, updated, s.userName(ctx, userID), "Update record")
	s.indexRecord(updated)
	return updated, nil
}

// explainRejectedUpdate reloads a record whose guarded update matched no row
// and reports which guard failed.
func (s *Service) explainRejectedUpdate(ctx context.Context, recordID, userID int64) error {
	current, err := s.store.GetRecord(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Record not found")
	}
	if err != nil {
		return err
	}
	if err := lockHeldByOther(current, userID, s.now()); err != nil {
		return err
	}
	if err := review.CanEdit(current.ReviewState()); err != nil {
		return err
	}
	return &review.TransitionError{Action: "edit", From: current.Status, Family: current.Family}
}

func lockHeldByOther(rec store.Record, userID int64, now time.Time) error {
	lock := rec.ActiveLock(now)
	if lock == nil || lock.LockedBy == userID {
		return nil
	}
	return domainError(http.StatusBadRequest, "LOCK_HELD", "Record is locked by another user", lockView(*lock))
}

func (s *Service) DeleteRecord(ctx context.Context, userID int64, projectSlug string, recordID int64) error {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return err
	}
	if err := access.require(rbac.CapDeleteRecords); err != nil {
		return err
	}
	deleted, err := s.store.SoftDeleteRecord(ctx, rec.ID, s.now())
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Record not found")
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: rec.ProjectID,
		RecordID:  recordRef(rec.ID),
		ActorID:   userID,
		Action:    "record.deleted",
	})
	if s.search != nil {
		s.search.DeleteRecord(rec.ID)
	}
	return nil
}

// AcquireLock takes or refreshes the edit lock. ttl is clamped to
// [1s, MaxLockTTL]; zero means DefaultLockTTL.
func (s *Service) AcquireLock(ctx context.Context, userID int64, projectSlug string, recordID int64, ttl time.Duration) (store.RecordEditLock, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return store.RecordEditLock{}, err
	}
	if err := access.require(rbac.CapEditRecords); err != nil {
		return store.RecordEditLock{}, err
	}
	ttl = s.clampLockTTL(ttl)
	now := s.now()
	ok, err := s.store.TryAcquireLock(ctx, rec.ID, userID, ttl, now)
	if err != nil {
		return store.RecordEditLock{}, err
	}
	if !ok {
		current, err := s.store.GetRecord(ctx, rec.ID)
		if err != nil {
			return store.RecordEditLock{}, err
		}
		if held := lockHeldByOther(current, userID, now); held != nil {
			return store.RecordEditLock{}, held
		}
		return store.RecordEditLock{}, domainError(http.StatusBadRequest, "LOCK_HELD", "Record is locked by another user", nil)
	}
	return store.RecordEditLock{LockedBy: userID, LockedAt: now, ExpiresAt: now.Add(ttl)}, nil
}

func (s *Service) clampLockTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		ttl = s.cfg.DefaultLockTTL
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	if s.cfg.MaxLockTTL > 0 && ttl > s.cfg.MaxLockTTL {
		ttl = s.cfg.MaxLockTTL
	}
	return ttl
}

func (s *Service) ReleaseLock(ctx context.Context, userID int64, projectSlug string, recordID int64) error {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return err
	}
	if err := access.require(rbac.CapEditRecords); err != nil {
		return err
	}
	released, err := s.store.ReleaseLock(ctx, rec.ID, userID)
	if err != nil {
		return err
	}
	if !released {
		return domainError(http.StatusBadRequest, "LOCK_NOT_HELD", "You do not hold the lock on this record", nil)
	}
	return nil
}

func (s *Service) RecordHistory(ctx context.Context, userID int64, projectSlug string, recordID int64, limit int) ([]history.CommitInfo, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return nil, err
	}
	if err := access.require(rbac.CapView); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.CommitInfo{}, nil
	}
	return s.history.History(access.Project.Slug, rec.ID, limit)
}

func (s *Service) RecordAudit(ctx context.Context, userID int64, projectSlug string, recordID int64, limit int) ([]store.AuditEntry, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return nil, err
	}
	if err := access.require(rbac.CapView); err != nil {
		return nil, err
	}
	return s.store.ListAuditEntries(ctx, access.Project.ID, rec.ID, limit)
}

func (s *Service) ExportRecord(ctx context.Context, userID int64, projectSlug string, recordID int64, formatValue string) (*export.Result, error) {
	format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(formatValue)))
	if err != nil {
		return nil, err
	}
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return nil, err
	}
	if err := access.require(rbac.CapView); err != nil {
		return nil, err
	}
	recordType, err := s.store.GetRecordType(ctx, rec.RecordTypeID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListEvidence(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	report := export.Report{
		RecordID:    rec.ID,
		Title:       recordTitle(rec),
		ProjectName: access.Project.Name,
		RecordType:  recordType.Name,
		Status:      rec.Status.Label(rec.Family),
		ReviewCycle: rec.ReviewCycle,
		Fields:      reportFields(recordType.Fields, rec),
		GeneratedAt: s.now(),
	}
	if rec.FirstReviewedBy != nil && rec.FirstReviewedAt != nil {
		report.FirstReview = &export.Signoff{By: s.userName(ctx, *rec.FirstReviewedBy), At: *rec.FirstReviewedAt}
	}
	if rec.Status == review.StatusVerified && rec.SecondReviewedBy != nil && rec.SecondReviewedAt != nil {
		report.Verified = &export.Signoff{By: s.userName(ctx, *rec.SecondReviewedBy), At: *rec.SecondReviewedAt}
	}
	for _, e := range items {
		report.Evidence = append(report.Evidence, export.EvidenceItem{
			ContentType: e.ContentType,
			ContentHash: e.ContentHash,
			Size:        e.SizeBytes,
			SourceURL:   e.SourceURL,
		})
	}
	return s.export.Render(ctx, report, format)
}

// reportFields lists defined fields in sort order, then any payload keys
// the record type no longer defines.
func reportFields(defs []fields.Definition, rec store.Record) []export.Field {
	ordered := append([]fields.Definition(nil), defs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SortOrder < ordered[j].SortOrder })

	out := make([]export.Field, 0, len(rec.Data))
	seen := make(map[string]bool, len(ordered))
	for _, def := range ordered {
		seen[def.Slug] = true
		value, ok := rec.Data[def.Slug]
		if !ok {
			continue
		}
		out = append(out, export.Field{
			Slug:     def.Slug,
			Label:    def.Label,
			Markdown: def.Type == fields.TypeMarkdown,
			Value:    value,
			Verified: rec.VerifiedFields[def.Slug].Verified,
		})
	}
	extra := make([]string, 0)
	for slug := range rec.Data {
		if !seen[slug] {
			extra = append(extra, slug)
		}
	}
	sort.Strings(extra)
	for _, slug := range extra {
		out = append(out, export.Field{Slug: slug, Label: slug, Value: rec.Data[slug], Verified: rec.VerifiedFields[slug].Verified})
	}
	return out
}

func recordTitle(rec store.Record) string {
	for _, key := range []string{"title", "name", "headline"} {
		if value, ok := rec.Data[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return fmt.Sprintf("Record %d", rec.ID)
}

func (s *Service) Search(ctx context.Context, userID int64, projectSlug, text, status string, limit, offset int) (search.Response, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return search.Response{}, err
	}
	if err := access.require(rbac.CapView); err != nil {
		return search.Response{}, err
	}
	query := search.Query{Text: strings.TrimSpace(text), ProjectID: access.Project.ID, Limit: limit, Offset: offset}
	if status != "" {
		parsed, ok := review.ParseStatus(status)
		if !ok {
			return search.Response{}, validationError("Unknown status", map[string]any{"status": status})
		}
		query.Status = string(parsed)
	}
	if s.search == nil || query.Text == "" {
		return search.Response{Results: []search.Result{}, Query: query.Text, Backend: "none"}, nil
	}
	resp := s.search.Search(ctx, query)
	for i := range resp.Results {
		hit := &resp.Results[i]
		hit.Status = review.Status(hit.Status).Label(review.NormalizeFamily(hit.Family))
	}
	return resp, nil
}
