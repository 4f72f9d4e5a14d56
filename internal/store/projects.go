package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirbyniko/research-platform-sub006/internal/fields"
	"github.com/kirbyniko/research-platform-sub006/internal/rbac"
	"github.com/kirbyniko/research-platform-sub006/internal/review"
)

const projectColumns = `id, slug, name, created_by, require_different_validator, allow_reopen_rejected, created_at`

func scanProject(row rowScanner) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.CreatedBy, &p.RequireDifferentValidator, &p.AllowReopenRejected, &p.CreatedAt)
	return p, err
}

// GetProjectBySlug skips soft-deleted projects.
func (s *PostgresStore) GetProjectBySlug(ctx context.Context, slug string) (Project, error) {
	project, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE slug=$1 AND deleted_at IS NULL`, slug))
	if err != nil {
		return Project{}, fmt.Errorf("get project %s: %w", slug, err)
	}
	return project, nil
}

func (s *PostgresStore) GetProjectByID(ctx context.Context, id int64) (Project, error) {
	project, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id=$1 AND deleted_at IS NULL`, id))
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p Project) (Project, error) {
	project, err := scanProject(s.db.QueryRowContext(ctx, `
		INSERT INTO projects (slug, name, created_by, require_different_validator, allow_reopen_rejected)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+projectColumns,
		p.Slug, p.Name, p.CreatedBy, p.RequireDifferentValidator, p.AllowReopenRejected))
	if err != nil {
		if isUniqueViolation(err) {
			return Project{}, fmt.Errorf("create project %s: %w", p.Slug, ErrDuplicate)
		}
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

func (s *PostgresStore) UpdateProjectSettings(ctx context.Context, projectID int64, settings ProjectSettings) (Project, error) {
	project, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET require_different_validator = COALESCE($2, require_different_validator),
			allow_reopen_rejected = COALESCE($3, allow_reopen_rejected)
		WHERE id=$1 AND deleted_at IS NULL
		RETURNING `+projectColumns,
		projectID, boolArg(settings.RequireDifferentValidator), boolArg(settings.AllowReopenRejected)))
	if err != nil {
		return Project{}, fmt.Errorf("update project settings: %w", err)
	}
	return project, nil
}

func boolArg(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

// GetMembership returns nil when the user has no row in the project.
func (s *PostgresStore) GetMembership(ctx context.Context, projectID, userID int64) (*ProjectMember, error) {
	var m ProjectMember
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT pm.project_id, pm.user_id, u.display_name, u.email, pm.role, pm.can_upload, pm.can_manage_appearances, pm.created_at
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id=$1 AND pm.user_id=$2
	`, projectID, userID).Scan(&m.ProjectID, &m.UserID, &m.DisplayName, &m.Email, &role, &m.CanUpload, &m.CanManageAppearances, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	m.Role = rbac.Role(role)
	return &m, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID int64) ([]ProjectMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pm.project_id, pm.user_id, u.display_name, u.email, pm.role, pm.can_upload, pm.can_manage_appearances, pm.created_at
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id=$1
		ORDER BY u.display_name ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectMember, 0)
	for rows.Next() {
		var m ProjectMember
		var role string
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.DisplayName, &m.Email, &role, &m.CanUpload, &m.CanManageAppearances, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = rbac.Role(role)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertMember(ctx context.Context, m ProjectMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role, can_upload, can_manage_appearances)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, user_id) DO UPDATE
		SET role=EXCLUDED.role, can_upload=EXCLUDED.can_upload, can_manage_appearances=EXCLUDED.can_manage_appearances
	`, m.ProjectID, m.UserID, string(m.Role), m.CanUpload, m.CanManageAppearances)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, projectID, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=$1 AND user_id=$2`, projectID, userID)
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove member rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CreateRecordType(ctx context.Context, rt RecordType) (RecordType, error) {
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO record_types (project_id, slug, name, family)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, rt.ProjectID, rt.Slug, rt.Name, string(rt.Family)).Scan(&rt.ID); err != nil {
			return fmt.Errorf("insert record type: %w", err)
		}
		for i, def := range rt.Fields {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO field_definitions (record_type_id, slug, label, field_type, required, sort_order)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, rt.ID, def.Slug, def.Label, string(def.Type), def.Required, i); err != nil {
				return fmt.Errorf("insert field definition %s: %w", def.Slug, err)
			}
		}
		return nil
	})
	if err != nil {
		return RecordType{}, err
	}
	return rt, nil
}

func (s *PostgresStore) GetRecordType(ctx context.Context, id int64) (RecordType, error) {
	return s.getRecordType(ctx, `WHERE id=$1`, id)
}

func (s *PostgresStore) GetRecordTypeBySlug(ctx context.Context, projectID int64, slug string) (RecordType, error) {
	return s.getRecordType(ctx, `WHERE project_id=$1 AND slug=$2`, projectID, slug)
}

func (s *PostgresStore) getRecordType(ctx context.Context, where string, args ...any) (RecordType, error) {
	var rt RecordType
	var family string
	err := s.db.QueryRowContext(ctx, `SELECT id, project_id, slug, name, family FROM record_types `+where, args...).
		Scan(&rt.ID, &rt.ProjectID, &rt.Slug, &rt.Name, &family)
	if err != nil {
		return RecordType{}, fmt.Errorf("get record type: %w", err)
	}
	rt.Family = review.NormalizeFamily(family)

	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, label, field_type, required, sort_order
		FROM field_definitions
		WHERE record_type_id=$1
		ORDER BY sort_order ASC, slug ASC
	`, rt.ID)
	if err != nil {
		return RecordType{}, fmt.Errorf("list field definitions: %w", err)
	}
	defer rows.Close()

	rt.Fields = make([]fields.Definition, 0)
	for rows.Next() {
		var def fields.Definition
		var fieldType string
		if err := rows.Scan(&def.Slug, &def.Label, &fieldType, &def.Required, &def.SortOrder); err != nil {
			return RecordType{}, fmt.Errorf("scan field definition: %w", err)
		}
		def.Type = fields.Type(fieldType)
		rt.Fields = append(rt.Fields, def)
	}
	if err := rows.Err(); err != nil {
		return RecordType{}, fmt.Errorf("iterate field definitions: %w", err)
	}
	return rt, nil
}
