package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirbyniko/research-platform-sub006/internal/errs"
	"github.com/kirbyniko/research-platform-sub006/internal/logging"
	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

type EvidenceItem struct {
	Evidence    store.Evidence
	DownloadURL string
}

func evidenceUnavailable() error {
	return domainError(http.StatusServiceUnavailable, "EVIDENCE_UNAVAILABLE", "Evidence storage is not configured", nil)
}

// UploadEvidence stores the body and attaches it to the record. Uploading
// identical bytes again returns the existing row with created=false.
func (s *Service) UploadEvidence(ctx context.Context, userID int64, projectSlug string, recordID int64, contentType, sourceURL string, body io.Reader) (EvidenceItem, bool, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return EvidenceItem{}, false, err
	}
	if err := access.require(rbac.CapUpload); err != nil {
		return EvidenceItem{}, false, err
	}
	if s.evidence == nil {
		return EvidenceItem{}, false, evidenceUnavailable()
	}
	stored, err := s.evidence.Upload(ctx, access.Project.ID, rec.ID, contentType, body)
	if err != nil {
		return EvidenceItem{}, false, err
	}
	row, created, err := s.store.InsertEvidence(ctx, store.Evidence{
		ProjectID:   access.Project.ID,
		RecordID:    rec.ID,
		ObjectKey:   stored.Key,
		ContentHash: stored.ContentHash,
		ContentType: stored.ContentType,
		SizeBytes:   stored.Size,
		SourceURL:   strings.TrimSpace(sourceURL),
		UploadedBy:  userID,
	})
	if err != nil {
		return EvidenceItem{}, false, err
	}
	if created {
		s.audit(ctx, store.AuditEntry{
			ProjectID: access.Project.ID,
			RecordID:  recordRef(rec.ID),
			ActorID:   userID,
			Action:    "evidence.uploaded",
			Details:   map[string]any{"content_hash": row.ContentHash, "size_bytes": row.SizeBytes},
		})
	}
	return EvidenceItem{Evidence: row, DownloadURL: s.downloadURL(ctx, row.ObjectKey)}, created, nil
}

func (s *Service) ListEvidence(ctx context.Context, userID int64, projectSlug string, recordID int64) ([]EvidenceItem, error) {
	access, rec, err := s.accessAndRecord(ctx, userID, projectSlug, recordID)
	if err != nil {
		return nil, err
	}
	if err := access.require(rbac.CapView); err != nil {
		return nil, err
	}
	rows, err := s.store.ListEvidence(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	items := make([]EvidenceItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, EvidenceItem{Evidence: row, DownloadURL: s.downloadURL(ctx, row.ObjectKey)})
	}
	return items, nil
}

// downloadURL is empty when storage is off or presigning fails; the row is
// still listed.
func (s *Service) downloadURL(ctx context.Context, key string) string {
	if s.evidence == nil {
		return ""
	}
	url, err := s.evidence.DownloadURL(ctx, key)
	if err != nil {
		logging.Warn(ctx, "evidence presign failed", slog.String("key", key), slog.Any("error", errs.Loggable(err)))
		return ""
	}
	return url
}
