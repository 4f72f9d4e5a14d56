package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/review"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

// Access is the caller's resolved standing in one project.
type Access struct {
	UserID     int64
	Project    store.Project
	Membership rbac.Membership
}

func (a Access) Can(capability rbac.Capability) bool {
	return rbac.Can(a.Membership, capability)
}

func (a Access) require(capability rbac.Capability) error {
	if !a.Can(capability) {
		return forbidden("")
	}
	return nil
}

// ResolveAccess finds the project by slug and computes the caller's
// effective role. A soft-deleted or unknown project is NotFound; a user
// with no membership row is Forbidden.
func (s *Service) ResolveAccess(ctx context.Context, userID int64, projectSlug string) (Access, error) {
	project, err := s.store.GetProjectBySlug(ctx, strings.TrimSpace(projectSlug))
	if errors.Is(err, sql.ErrNoRows) {
		return Access{}, notFound("Project not found")
	}
	if err != nil {
		return Access{}, err
	}
	return s.accessFor(ctx, userID, project)
}

func (s *Service) accessFor(ctx context.Context, userID int64, project store.Project) (Access, error) {
	var stored *rbac.Membership
	if project.CreatedBy != userID {
		member, err := s.store.GetMembership(ctx, project.ID, userID)
		if err != nil {
			return Access{}, err
		}
		if member != nil {
			m := member.Membership()
			stored = &m
		}
	}
	membership, ok := rbac.Effective(project.CreatedBy == userID, stored)
	if !ok {
		return Access{}, forbidden("Not a member of this project")
	}
	return Access{UserID: userID, Project: project, Membership: membership}, nil
}

// HasProjectPermission answers a capability check by project id.
func (s *Service) HasProjectPermission(ctx context.Context, userID, projectID int64, capability rbac.Capability) (bool, error) {
	project, err := s.store.GetProjectByID(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	access, err := s.accessFor(ctx, userID, project)
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return access.Can(capability), nil
}

// projectRecord loads a record that must belong to the project in access.
func (s *Service) projectRecord(ctx context.Context, access Access, recordID int64) (store.Record, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, notFound("Record not found")
	}
	if err != nil {
		return store.Record{}, err
	}
	if rec.ProjectID != access.Project.ID {
		return store.Record{}, notFound("Record not found")
	}
	return rec, nil
}

// incidentAccess resolves a record addressed without its project, as the
// /incidents routes do. Only incident-family records are reachable there.
func (s *Service) incidentAccess(ctx context.Context, userID, recordID int64) (Access, store.Record, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return Access{}, store.Record{}, notFound("Incident not found")
	}
	if err != nil {
		return Access{}, store.Record{}, err
	}
	if rec.Family != review.FamilyIncident {
		return Access{}, store.Record{}, notFound("Incident not found")
	}
	project, err := s.store.GetProjectByID(ctx, rec.ProjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return Access{}, store.Record{}, notFound("Incident not found")
	}
	if err != nil {
		return Access{}, store.Record{}, err
	}
	access, err := s.accessFor(ctx, userID, project)
	if err != nil {
		return Access{}, store.Record{}, err
	}
	return access, rec, nil
}

func (s *Service) Me(ctx context.Context, userID int64, projectSlug string) (map[string]any, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"project":      projectView(access.Project),
		"role":         access.Membership.Role,
		"isOwner":      access.Project.CreatedBy == userID,
		"capabilities": rbac.Capabilities(access.Membership),
	}, nil
}

type SettingsInput struct {
	RequireDifferentValidator *bool `json:"require_different_validator"`
	AllowReopenRejected       *bool `json:"allow_reopen_rejected"`
}

func (s *Service) UpdateSettings(ctx context.Context, userID int64, projectSlug string, input SettingsInput) (map[string]any, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return nil, err
	}
	if err := access.require(rbac.CapManageSettings); err != nil {
		return nil, err
	}
	if input.RequireDifferentValidator == nil && input.AllowReopenRejected == nil {
		return nil, validationError("No settings to update", nil)
	}
	project, err := s.store.UpdateProjectSettings(ctx, access.Project.ID, store.ProjectSettings{
		RequireDifferentValidator: input.RequireDifferentValidator,
		AllowReopenRejected:       input.AllowReopenRejected,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: project.ID,
		ActorID:   userID,
		Action:    "project.settings_updated",
		Details: map[string]any{
			"require_different_validator": project.RequireDifferentValidator,
			"allow_reopen_rejected":       project.AllowReopenRejected,
		},
	})
	return projectView(project), nil
}

func (s *Service) ListMembers(ctx context.Context, userID int64, projectSlug string) ([]map[string]any, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return nil, err
	}
	if err := access.require(rbac.CapView); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, access.Project.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, memberView(access.Project, m))
	}
	return items, nil
}

type MemberInput struct {
	Role                 string `json:"role"`
	CanUpload            *bool  `json:"can_upload"`
	CanManageAppearances *bool  `json:"can_manage_appearances"`
}

// UpsertMember adds or changes a membership. Nobody may grant a role
// stronger than their own.
func (s *Service) UpsertMember(ctx context.Context, userID int64, projectSlug string, memberID int64, input MemberInput) (map[string]any, error) {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return nil, err
	}
	if err := access.require(rbac.CapManageMembers); err != nil {
		return nil, err
	}
	role := strings.TrimSpace(input.Role)
	if !rbac.Valid(role) {
		return nil, validationError("Unknown role", map[string]any{"role": input.Role})
	}
	if !rbac.AtLeast(access.Membership.Role, rbac.Role(role)) {
		return nil, forbidden("Cannot grant a role above your own")
	}
	if memberID == access.Project.CreatedBy {
		return nil, validationError("The project creator is always owner", nil)
	}
	if _, err := s.store.GetUserByID(ctx, memberID); errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("User not found")
	} else if err != nil {
		return nil, err
	}

	grants := rbac.DefaultGrants()
	if existing, err := s.store.GetMembership(ctx, access.Project.ID, memberID); err != nil {
		return nil, err
	} else if existing != nil {
		grants = existing.Membership().Grants
	}
	if input.CanUpload != nil {
		grants.CanUpload = *input.CanUpload
	}
	if input.CanManageAppearances != nil {
		grants.CanManageAppearances = *input.CanManageAppearances
	}

	if err := s.store.UpsertMember(ctx, store.ProjectMember{
		ProjectID:            access.Project.ID,
		UserID:               memberID,
		Role:                 rbac.Role(role),
		CanUpload:            grants.CanUpload,
		CanManageAppearances: grants.CanManageAppearances,
	}); err != nil {
		return nil, err
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: access.Project.ID,
		ActorID:   userID,
		Action:    "member.upserted",
		Details:   map[string]any{"user_id": memberID, "role": role},
	})

	member, err := s.store.GetMembership(ctx, access.Project.ID, memberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, notFound("Member not found")
	}
	return memberView(access.Project, *member), nil
}

func (s *Service) RemoveMember(ctx context.Context, userID int64, projectSlug string, memberID int64) error {
	access, err := s.ResolveAccess(ctx, userID, projectSlug)
	if err != nil {
		return err
	}
	if err := access.require(rbac.CapManageMembers); err != nil {
		return err
	}
	removed, err := s.store.RemoveMember(ctx, access.Project.ID, memberID)
	if err != nil {
		return err
	}
	if !removed {
		return notFound("Member not found")
	}
	s.audit(ctx, store.AuditEntry{
		ProjectID: access.Project.ID,
		ActorID:   userID,
		Action:    "member.removed",
		Details:   map[string]any{"user_id": memberID},
	})
	return nil
}
