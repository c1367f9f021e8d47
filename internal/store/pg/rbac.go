package pg

import (
	"context"
	"database/sql"
	"errors"

	"sgadmin.org/internal/auth"
)

// Role store ---------------------------------------------------------------

type roleStore struct{ q querier }

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	_, err := s.q.ExecContext(ctx, `
		insert into roles (id, name, description, active, created_at)
		values ($1, $2, $3, $4, $5)
	`, role.ID, role.Name, role.Description, role.Active, role.CreatedAt)
	return mapConstraint(err)
}

const roleColumns = `id, name, coalesce(description, ''), active, created_at`

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id = $1`, id)
	return scanRole(row)
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where lower(name) = lower($1)`, name)
	return scanRole(row)
}

func (s *roleStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.q.ExecContext(ctx,
		`update roles set active = $2 where id = $1`, id, active)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// Assign upserts the membership. The conflict branch deliberately leaves
// created_at untouched so the original assignment time survives.
func (s *roleStore) Assign(ctx context.Context, ru *auth.RoleUser) error {
	_, err := s.q.ExecContext(ctx, `
		insert into role_users (id, user_id, role_id, active, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (user_id, role_id) do update set active = excluded.active
	`, ru.ID, ru.UserID, ru.RoleID, ru.Active, ru.CreatedAt)
	return mapConstraint(err)
}

func (s *roleStore) RevokeAssignment(ctx context.Context, userID, roleID string) error {
	_, err := s.q.ExecContext(ctx, `
		update role_users set active = false where user_id = $1 and role_id = $2
	`, userID, roleID)
	return err
}

func (s *roleStore) ActiveRolesForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	rows, err := s.q.QueryContext(ctx, `
		select r.id, r.name, coalesce(r.description, ''), r.active, r.created_at
		from roles r
		join role_users ru on ru.role_id = r.id
		where ru.user_id = $1 and ru.active and r.active
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Active, &r.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func scanRole(row *sql.Row) (*auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Active, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Form store ----------------------------------------------------------------

type formStore struct{ q querier }

func (s *formStore) CreateForm(ctx context.Context, f *auth.Form) error {
	_, err := s.q.ExecContext(ctx, `
		insert into forms (id, name, description, status, active)
		values ($1, $2, $3, $4, $5)
	`, f.ID, f.Name, f.Description, f.Status, f.Active)
	return mapConstraint(err)
}

func (s *formStore) FindForm(ctx context.Context, id string) (*auth.Form, error) {
	var f auth.Form
	err := s.q.QueryRowContext(ctx, `
		select id, name, coalesce(description, ''), coalesce(status, ''), active
		from forms where id = $1
	`, id).Scan(&f.ID, &f.Name, &f.Description, &f.Status, &f.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *formStore) CreateModule(ctx context.Context, m *auth.Module) error {
	_, err := s.q.ExecContext(ctx, `
		insert into modules (id, name, description, active)
		values ($1, $2, $3, $4)
	`, m.ID, m.Name, m.Description, m.Active)
	return mapConstraint(err)
}

func (s *formStore) AttachForm(ctx context.Context, mf *auth.ModuleForm) error {
	_, err := s.q.ExecContext(ctx, `
		insert into module_forms (id, module_id, form_id, active)
		values ($1, $2, $3, $4)
		on conflict (module_id, form_id) do update set active = excluded.active
	`, mf.ID, mf.ModuleID, mf.FormID, mf.Active)
	return mapConstraint(err)
}

func (s *formStore) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		_, err := s.q.ExecContext(ctx, `
			insert into permissions (id, name, description)
			values ($1, $2, $3)
			on conflict (name) do nothing
		`, p.ID, p.Name, p.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *formStore) Permissions(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, name, coalesce(description, '') from permissions order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *formStore) SetGrant(ctx context.Context, g *auth.RoleFormPermission) error {
	_, err := s.q.ExecContext(ctx, `
		insert into role_form_permissions
			(id, role_id, form_id, permission_id, can_create, can_read, can_update, can_delete, active)
		values ($1, $2, $3, nullif($4, ''), $5, $6, $7, $8, $9)
		on conflict (role_id, form_id) do update set
			permission_id = excluded.permission_id,
			can_create = excluded.can_create,
			can_read = excluded.can_read,
			can_update = excluded.can_update,
			can_delete = excluded.can_delete,
			active = excluded.active
	`, g.ID, g.RoleID, g.FormID, g.PermissionID, g.CanCreate, g.CanRead, g.CanUpdate, g.CanDelete, g.Active)
	return mapConstraint(err)
}

func (s *formStore) ActiveGrantsForUser(ctx context.Context, userID string) ([]auth.RoleFormPermission, error) {
	rows, err := s.q.QueryContext(ctx, `
		select g.id, g.role_id, g.form_id, coalesce(g.permission_id, ''),
		       g.can_create, g.can_read, g.can_update, g.can_delete, g.active
		from role_form_permissions g
		join roles r on r.id = g.role_id and r.active
		join role_users ru on ru.role_id = g.role_id and ru.active
		join forms f on f.id = g.form_id and f.active
		where ru.user_id = $1 and g.active
		order by g.form_id, g.role_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []auth.RoleFormPermission
	for rows.Next() {
		var g auth.RoleFormPermission
		if err := rows.Scan(&g.ID, &g.RoleID, &g.FormID, &g.PermissionID,
			&g.CanCreate, &g.CanRead, &g.CanUpdate, &g.CanDelete, &g.Active); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *formStore) ModulesForForms(ctx context.Context, formIDs []string) ([]auth.Module, error) {
	if len(formIDs) == 0 {
		return nil, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		select distinct m.id, m.name, coalesce(m.description, ''), m.active
		from modules m
		join module_forms mf on mf.module_id = m.id and mf.active
		where m.active and mf.form_id = any($1)
		order by m.id
	`, formIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []auth.Module
	for rows.Next() {
		var m auth.Module
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.Active); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}
