package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirbyniko/research-platform-sub006/internal/assist"
	"github.com/kirbyniko/research-platform-sub006/internal/auth"
	"github.com/kirbyniko/research-platform-sub006/internal/config"
	"github.com/kirbyniko/research-platform-sub006/internal/errs"
	"github.com/kirbyniko/research-platform-sub006/internal/events"
	"github.com/kirbyniko/research-platform-sub006/internal/evidence"
	"github.com/kirbyniko/research-platform-sub006/internal/export"
	"github.com/kirbyniko/research-platform-sub006/internal/fields"
	"github.com/kirbyniko/research-platform-sub006/internal/history"
	"github.com/kirbyniko/research-platform-sub006/internal/logging"
	"github.com/kirbyniko/research-platform-sub006/internal/ratelimit"
	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/review"
	"github.com/kirbyniko/research-platform-sub006/internal/search"
	"github.com/kirbyniko/research-platform-sub006/internal/session"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
	"github.com/kirbyniko/research-platform-sub006/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       int64
	UserName     string
	IsVerifier   bool
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(context.Context) error

	GetUserByID(context.Context, int64) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) (store.User, error)
	CountUsers(context.Context) (int, error)

	GetProjectBySlug(context.Context, string) (store.Project, error)
	GetProjectByID(context.Context, int64) (store.Project, error)
	CreateProject(context.Context, store.Project) (store.Project, error)
	UpdateProjectSettings(context.Context, int64, store.ProjectSettings) (store.Project, error)
	GetMembership(context.Context, int64, int64) (*store.ProjectMember, error)
	ListMembers(context.Context, int64) ([]store.ProjectMember, error)
	UpsertMember(context.Context, store.ProjectMember) error
	RemoveMember(context.Context, int64, int64) (bool, error)
	CreateRecordType(context.Context, store.RecordType) (store.RecordType, error)
	GetRecordType(context.Context, int64) (store.RecordType, error)
	GetRecordTypeBySlug(context.Context, int64, string) (store.RecordType, error)

	CreateRecord(context.Context, store.Record) (store.Record, error)
	GetRecord(context.Context, int64) (store.Record, error)
	ListRecords(context.Context, store.RecordFilter) ([]store.Record, error)
	UpdateRecordData(context.Context, int64, int64, fields.Payload, time.Time) (store.Record, error)
	SoftDeleteRecord(context.Context, int64, time.Time) (bool, error)
	AdvanceReview(context.Context, int64, review.Step, int64, time.Time) (store.Record, error)
	UnpublishRecord(context.Context, int64, review.Step, time.Time) (store.Record, error)
	RejectRecord(context.Context, int64, review.Step, int64, string, time.Time) (store.Record, error)
	ReopenRecord(context.Context, int64, review.Step, time.Time) (store.Record, error)
	SetFieldVerification(context.Context, int64, string, store.FieldVerification) (store.Record, error)
	ClearFieldVerification(context.Context, int64, string, time.Time) (store.Record, error)
	TryAcquireLock(context.Context, int64, int64, time.Duration, time.Time) (bool, error)
	ReleaseLock(context.Context, int64, int64) (bool, error)

	CreateVerificationRequest(context.Context, store.VerificationRequest) (store.VerificationRequest, error)
	GetVerificationRequest(context.Context, int64) (store.VerificationRequest, error)
	ListVerificationQueue(context.Context, int) ([]store.VerificationRequest, error)
	ClaimVerificationRequest(context.Context, int64, int64, int, time.Time) (store.VerificationRequest, error)
	RejectVerificationRequest(context.Context, int64, int64, string, time.Time) (store.VerificationRequest, error)
	CompleteVerificationRequest(context.Context, int64, int64, time.Time) (store.VerificationRequest, error)
	ListVerificationHistory(context.Context, int64) ([]store.VerificationHistory, error)
	GetVerifierStats(context.Context, int64, int) (store.VerifierStats, error)

	CreateProposedChange(context.Context, store.ProposedChange) (store.ProposedChange, error)
	GetProposedChange(context.Context, int64) (store.ProposedChange, error)
	ListProposedChanges(context.Context, int64, store.ChangeStatus, int) ([]store.ProposedChange, error)
	ApproveProposedChange(context.Context, int64, int64, string, time.Time) (store.ProposedChange, store.Record, error)
	RejectProposedChange(context.Context, int64, int64, string, time.Time) (store.ProposedChange, error)

	GetCreditBalance(context.Context, int64) (store.CreditBalance, error)
	ListCreditTransactions(context.Context, int64, int) ([]store.CreditTransaction, error)
	DebitCredits(context.Context, store.CreditDebit) (store.CreditTransaction, error)
	ApplyCredit(context.Context, store.CreditGrant) (store.CreditTransaction, bool, error)

	InsertAuditEntry(context.Context, store.AuditEntry) error
	ListAuditEntries(context.Context, int64, int64, int) ([]store.AuditEntry, error)
	InsertEvidence(context.Context, store.Evidence) (store.Evidence, bool, error)
	ListEvidence(context.Context, int64) ([]store.Evidence, error)
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexRecord(search.RecordDocument)
	DeleteRecord(int64)
}

type historyLog interface {
	CommitRecord(projectSlug string, recordID int64, data map[string]any, author, message string) (history.CommitInfo, error)
	History(projectSlug string, recordID int64, limit int) ([]history.CommitInfo, error)
}

type evidenceStore interface {
	Upload(ctx context.Context, projectID, recordID int64, contentType string, body io.Reader) (evidence.Stored, error)
	DownloadURL(ctx context.Context, key string) (string, error)
}

type reportRenderer interface {
	Render(ctx context.Context, report export.Report, format export.Format) (*export.Result, error)
}

// Deps are the optional collaborators. A nil field turns the feature off:
// indexing and history are skipped, evidence and AI requests get 503.
type Deps struct {
	Sessions session.Store
	Search   searchIndex
	History  historyLog
	Evidence evidenceStore
	Export   reportRenderer
	Events   events.Publisher
	Assist   assist.Assistant
	Limiter  ratelimit.Limiter
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions session.Store
	search   searchIndex
	history  historyLog
	evidence evidenceStore
	export   reportRenderer
	events   events.Publisher
	assist   assist.Assistant
	limiter  ratelimit.Limiter
	now      func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	return newService(cfg, dataStore, deps)
}

func newService(cfg config.Config, ds dataStore, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    ds,
		sessions: deps.Sessions,
		search:   deps.Search,
		history:  deps.History,
		evidence: deps.Evidence,
		export:   deps.Export,
		events:   deps.Events,
		assist:   deps.Assist,
		limiter:  deps.Limiter,
		now:      time.Now,
	}
	if s.sessions == nil {
		if sessions, ok := ds.(session.Store); ok {
			s.sessions = sessions
		}
	}
	if s.events == nil {
		s.events = events.Noop{}
	}
	if s.limiter == nil {
		s.limiter = ratelimit.Unlimited{}
	}
	if s.export == nil {
		s.export = export.NewService()
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, validationError("Email and password are required", nil)
	}
	invalid := domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, invalid
	}
	if err != nil {
		return Session{}, err
	}
	ok, err := auth.CheckPassword(user.PasswordHash, password)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, invalid
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" || s.sessions == nil {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	claims := auth.NewClaims(strconv.FormatInt(user.ID, 10), user.DisplayName, jti, user.IsVerifier, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if s.sessions != nil {
		if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, s.now().Add(s.cfg.RefreshTTL)); err != nil {
			return Session{}, err
		}
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		IsVerifier:   user.IsVerifier,
		JTI:          jti,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// SessionFromToken validates an access token and reloads the user so a
// revoked verifier flag takes effect before the token expires.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		IsVerifier: user.IsVerifier,
		JTI:        claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" || s.sessions == nil {
		return
	}
	if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
		logging.Warn(ctx, "logout: revoke refresh session", slog.Any("error", errs.Loggable(err)))
	}
}

// audit appends to the audit log. Failures are logged and swallowed so they
// never fail the operation that triggered them.
func (s *Service) audit(ctx context.Context, entry store.AuditEntry) {
	if err := s.store.InsertAuditEntry(ctx, entry); err != nil {
		logging.Warn(ctx, "audit log write failed",
			slog.String("action", entry.Action),
			slog.Int64("project_id", entry.ProjectID),
			slog.Any("error", errs.Loggable(err)))
	}
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if err := s.events.Publish(ctx, evt); err != nil {
		logging.Warn(ctx, "event publish failed",
			slog.String("event", string(evt.Type)),
			slog.Any("error", errs.Loggable(err)))
	}
}

func (s *Service) indexRecord(rec store.Record) {
	if s.search == nil {
		return
	}
	if rec.DeletedAt != nil {
		s.search.DeleteRecord(rec.ID)
		return
	}
	s.search.IndexRecord(search.NewRecordDocument(rec.ID, rec.ProjectID, rec.RecordTypeSlug,
		string(rec.Family), string(rec.Status), rec.Data))
}

func (s *Service) commitHistory(ctx context.Context, project store.Project, rec store.Record, author, message string) {
	if s.history == nil {
		return
	}
	if _, err := s.history.CommitRecord(project.Slug, rec.ID, rec.Data, author, message); err != nil {
		logging.Warn(ctx, "record history commit failed",
			slog.Int64("record_id", rec.ID),
			slog.Any("error", errs.Loggable(err)))
	}
}

func (s *Service) userName(ctx context.Context, userID int64) string {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Sprintf("user %d", userID)
	}
	return user.DisplayName
}

func recordRef(id int64) *int64 {
	return &id
}

// Bootstrap seeds a demo project on an empty database when enabled.
func (s *Service) Bootstrap(ctx context.Context) error {
	if !s.cfg.SeedDemo {
		return nil
	}
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(s.cfg.SeedPassword)
	if err != nil {
		return errs.Wrap(err, "hash seed password")
	}
	seedUsers := []struct {
		email, name string
		role        rbac.Role
		verifier    bool
	}{
		{"owner@casefile.local", "Avery Owner", rbac.RoleOwner, false},
		{"admin@casefile.local", "Casey Admin", rbac.RoleAdmin, false},
		{"analyst.a@casefile.local", "Jordan Analyst", rbac.RoleAnalyst, false},
		{"analyst.b@casefile.local", "Riley Analyst", rbac.RoleAnalyst, false},
		{"viewer@casefile.local", "Morgan Viewer", rbac.RoleViewer, false},
		{"verifier@casefile.local", "Quinn Verifier", rbac.RoleValidator, true},
	}
	users := make([]store.User, 0, len(seedUsers))
	for _, seed := range seedUsers {
		user, err := s.store.CreateUser(ctx, store.User{
			Email:        seed.email,
			DisplayName:  seed.name,
			PasswordHash: hash,
			IsVerifier:   seed.verifier,
		})
		if err != nil {
			return errs.Wrapf(err, "seed user %s", seed.email)
		}
		users = append(users, user)
	}

	owner := users[0]
	project, err := s.store.CreateProject(ctx, store.Project{
		Slug:      "demo",
		Name:      "Demo casework",
		CreatedBy: owner.ID,
	})
	if err != nil {
		return errs.Wrap(err, "seed project")
	}
	for i, seed := range seedUsers[1:] {
		if err := s.store.UpsertMember(ctx, store.ProjectMember{
			ProjectID: project.ID,
			UserID:    users[i+1].ID,
			Role:      seed.role,
			CanUpload: true,
		}); err != nil {
			return errs.Wrapf(err, "seed member %s", seed.email)
		}
	}

	incidentType, err := s.store.CreateRecordType(ctx, store.RecordType{
		ProjectID: project.ID,
		Slug:      "incident",
		Name:      "Incident",
		Family:    review.FamilyIncident,
		Fields: []fields.Definition{
			{Slug: "title", Label: "Title", Type: fields.TypeText, Required: true, SortOrder: 1},
			{Slug: "occurred_on", Label: "Date", Type: fields.TypeDate, Required: true, SortOrder: 2},
			{Slug: "location", Label: "Location", Type: fields.TypeText, SortOrder: 3},
			{Slug: "summary", Label: "Summary", Type: fields.TypeMarkdown, SortOrder: 4},
			{Slug: "sources", Label: "Sources", Type: fields.TypeList, SortOrder: 5},
		},
	})
	if err != nil {
		return errs.Wrap(err, "seed incident type")
	}
	if _, err := s.store.CreateRecordType(ctx, store.RecordType{
		ProjectID: project.ID,
		Slug:      "statement",
		Name:      "Statement",
		Family:    review.FamilyGeneric,
		Fields: []fields.Definition{
			{Slug: "speaker", Label: "Speaker", Type: fields.TypeText, Required: true, SortOrder: 1},
			{Slug: "quote", Label: "Quote", Type: fields.TypeMarkdown, Required: true, SortOrder: 2},
			{Slug: "source_url", Label: "Source", Type: fields.TypeURL, SortOrder: 3},
		},
	}); err != nil {
		return errs.Wrap(err, "seed statement type")
	}

	rec, err := s.store.CreateRecord(ctx, store.Record{
		ProjectID:    project.ID,
		RecordTypeID: incidentType.ID,
		CreatedBy:    owner.ID,
		Data: fields.Payload{
			"title":       "River crossing incident",
			"occurred_on": "2026-05-02",
			"location":    "North bank checkpoint",
			"summary":     "Two independent sources describe the crossing.",
			"sources":     []any{"https://example.org/report-1"},
		},
	})
	if err != nil {
		return errs.Wrap(err, "seed record")
	}
	s.commitHistory(ctx, project, rec, owner.DisplayName, "Create record")
	s.indexRecord(rec)

	if _, _, err := s.store.ApplyCredit(ctx, store.CreditGrant{
		ProjectID:   project.ID,
		UserID:      &owner.ID,
		Amount:      100,
		Type:        store.TxAdminAdjustment,
		Description: "Demo starting balance",
	}); err != nil {
		return errs.Wrap(err, "seed credits")
	}

	logging.Info(ctx, "seeded demo project", slog.String("project", project.Slug), slog.Int("users", len(users)))
	return nil
}
