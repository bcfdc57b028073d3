package permission

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"keyward.org/internal/apperr"
	"keyward.org/internal/obs"
	"keyward.org/internal/store"
)

const (
	roleColumns = `id, name, status, created_at, updated_at, created_by, updated_by`
	rpColumns   = `role_id, permission_id, name, status, read_level, write_level, execute_level`
)

// Engine evaluates permissions and mutates the role graph. It keeps no
// state between calls; everything is reloaded from the store.
type Engine struct {
	store   *store.Store
	log     logrus.FieldLogger
	metrics *obs.Metrics
}

// Option configures Engine.
type Option func(*Engine)

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = obs.OrDiscard(l) }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(st *store.Store, opts ...Option) *Engine {
	e := &Engine{store: st, log: obs.Discard()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Grants is a principal's role membership and the permissions it yields.
type Grants struct {
	Roles       []Role           `json:"roles"`
	Permissions []RolePermission `json:"permissions"`
}

// CreateRole validates name and inserts an active role.
func (e *Engine) CreateRole(ctx context.Context, name string) (Role, error) {
	name = strings.TrimSpace(name)
	if codes := validateRoleName(name); len(codes) > 0 {
		return Role{}, apperr.New(codes...)
	}
	actor := store.Actor(ctx)
	role := Role{Name: name, Status: StatusActive, CreatedBy: actor, UpdatedBy: actor}
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		var taken bool
		if err := e.store.Q(ctx).QueryRowContext(ctx,
			`select exists(select 1 from roles where lower(name) = lower($1))`, name).Scan(&taken); err != nil {
			return apperr.System(err)
		}
		if taken {
			return apperr.New(apperr.RoleNameTaken)
		}
		err := e.store.Q(ctx).QueryRowContext(ctx,
			`insert into roles(name, status, created_by, updated_by) values($1, $2, $3, $4) returning id, created_at, updated_at`,
			role.Name, string(role.Status), actor, actor,
		).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
		if store.IsUniqueViolation(err) {
			return apperr.New(apperr.RoleNameTaken)
		}
		if err != nil {
			return apperr.System(err)
		}
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	e.log.WithFields(logrus.Fields{"role_id": role.ID, "name": role.Name}).Debug("role created")
	return role, nil
}

// Role loads a non-deleted role.
func (e *Engine) Role(ctx context.Context, id int64) (Role, error) {
	if id <= 0 {
		return Role{}, apperr.New(apperr.MissingArgument)
	}
	row := e.store.Q(ctx).QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id = $1 and status <> 'DELETED'`, id)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Role{}, apperr.New(apperr.RoleNotFound)
	}
	if err != nil {
		return Role{}, apperr.System(err)
	}
	return r, nil
}

// Roles lists non-deleted roles by id.
func (e *Engine) Roles(ctx context.Context) ([]Role, error) {
	return e.queryRoles(ctx, `select `+roleColumns+` from roles where status <> 'DELETED' order by id`)
}

// PrincipalRoles lists the non-deleted roles a principal holds.
func (e *Engine) PrincipalRoles(ctx context.Context, principalID int64) ([]Role, error) {
	return e.queryRoles(ctx, `
		select r.id, r.name, r.status, r.created_at, r.updated_at, r.created_by, r.updated_by
		from principal_roles pr
		join roles r on r.id = pr.role_id
		where pr.principal_id = $1 and r.status <> 'DELETED'
		order by r.id`, principalID)
}

func (e *Engine) queryRoles(ctx context.Context, query string, args ...any) ([]Role, error) {
	rows, err := e.store.Q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.System(err)
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, apperr.System(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.System(err)
	}
	return out, nil
}

// RolePermissions lists a role's active grants.
func (e *Engine) RolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error) {
	if _, err := e.Role(ctx, roleID); err != nil {
		return nil, err
	}
	return e.rolePermissions(ctx, roleID)
}

func (e *Engine) rolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error) {
	return e.queryPermissions(ctx,
		`select `+rpColumns+` from role_permissions where role_id = $1 and status <> 'DELETED' order by permission_id`, roleID)
}

func (e *Engine) queryPermissions(ctx context.Context, query string, args ...any) ([]RolePermission, error) {
	rows, err := e.store.Q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.System(err)
	}
	defer rows.Close()
	var out []RolePermission
	for rows.Next() {
		var (
			rp     RolePermission
			status string
		)
		if err := rows.Scan(&rp.RoleID, &rp.PermissionID, &rp.Name, &status, &rp.Read, &rp.Write, &rp.Execute); err != nil {
			return nil, apperr.System(err)
		}
		rp.Status = Status(status)
		out = append(out, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.System(err)
	}
	return out, nil
}

// EffectivePermissions aggregates the grants of every non-deleted role the
// principal holds. It is recomputed on each call.
func (e *Engine) EffectivePermissions(ctx context.Context, principalID int64) (Set, error) {
	if principalID <= 0 {
		return nil, apperr.New(apperr.MissingArgument)
	}
	held, err := e.queryPermissions(ctx, `
		select rp.role_id, rp.permission_id, rp.name, rp.status, rp.read_level, rp.write_level, rp.execute_level
		from principal_roles pr
		join roles r on r.id = pr.role_id and r.status <> 'DELETED'
		join role_permissions rp on rp.role_id = r.id and rp.status <> 'DELETED'
		where pr.principal_id = $1
		order by rp.permission_id, rp.role_id`, principalID)
	if err != nil {
		return nil, err
	}
	return Aggregate(held), nil
}

// CheckPasses returns the codes of malformed passes.
func CheckPasses(passes []Pass) []apperr.Code {
	var codes []apperr.Code
	for _, p := range passes {
		if p.Permission <= 0 {
			codes = append(codes, apperr.PermissionRequired)
		}
		if !p.Type.Valid() {
			codes = append(codes, apperr.AccessTypeInvalid)
		}
		if p.Level != nil && !p.Level.Valid() {
			codes = append(codes, apperr.LevelInvalid)
		}
	}
	return apperr.Merge(codes)
}

// CanAccess reports whether the principal satisfies every pass.
func (e *Engine) CanAccess(ctx context.Context, principalID int64, passes ...Pass) (bool, error) {
	if len(passes) == 0 {
		return false, apperr.New(apperr.MissingArgument)
	}
	if codes := CheckPasses(passes); len(codes) > 0 {
		return false, apperr.New(codes...)
	}
	set, err := e.EffectivePermissions(ctx, principalID)
	if err != nil {
		return false, err
	}
	ok := set.CanAccess(passes...)
	e.metrics.AccessChecked(ok)
	return ok, nil
}

// Grants reloads a principal's roles and effective permissions.
func (e *Engine) Grants(ctx context.Context, principalID int64) (Grants, error) {
	roles, err := e.PrincipalRoles(ctx, principalID)
	if err != nil {
		return Grants{}, err
	}
	set, err := e.EffectivePermissions(ctx, principalID)
	if err != nil {
		return Grants{}, err
	}
	return Grants{Roles: roles, Permissions: set.List()}, nil
}

// GrantRoles adds every role to the principal, or none of them. A missing
// role fails with RoleNotFound and one already held with AlreadyGranted.
func (e *Engine) GrantRoles(ctx context.Context, principalID int64, roleIDs []int64) (Grants, error) {
	if principalID <= 0 || len(roleIDs) == 0 {
		return Grants{}, apperr.New(apperr.MissingArgument)
	}
	actor := store.Actor(ctx)
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		for _, id := range roleIDs {
			if _, err := e.Role(ctx, id); err != nil {
				return err
			}
			n, err := affected(e.store.Q(ctx).ExecContext(ctx,
				`insert into principal_roles(principal_id, role_id, created_by) values($1, $2, $3) on conflict do nothing`,
				principalID, id, actor))
			if store.IsForeignKeyViolation(err) {
				return apperr.New(apperr.PrincipalNotFound)
			}
			if err != nil {
				return apperr.System(err)
			}
			if n == 0 {
				return apperr.New(apperr.AlreadyGranted)
			}
		}
		return nil
	})
	if err != nil {
		return Grants{}, err
	}
	e.log.WithFields(logrus.Fields{"principal_id": principalID, "roles": roleIDs}).Debug("roles granted")
	return e.Grants(ctx, principalID)
}

// RevokeRoles removes every role from the principal, or none of them.
func (e *Engine) RevokeRoles(ctx context.Context, principalID int64, roleIDs []int64) (Grants, error) {
	if principalID <= 0 || len(roleIDs) == 0 {
		return Grants{}, apperr.New(apperr.MissingArgument)
	}
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		for _, id := range roleIDs {
			if _, err := e.Role(ctx, id); err != nil {
				return err
			}
			n, err := affected(e.store.Q(ctx).ExecContext(ctx,
				`delete from principal_roles where principal_id = $1 and role_id = $2`, principalID, id))
			if err != nil {
				return apperr.System(err)
			}
			if n == 0 {
				return apperr.New(apperr.NotGranted)
			}
		}
		return nil
	})
	if err != nil {
		return Grants{}, err
	}
	e.log.WithFields(logrus.Fields{"principal_id": principalID, "roles": roleIDs}).Debug("roles revoked")
	return e.Grants(ctx, principalID)
}

// AddPermissions inserts a batch of grants into a role. The batch fails as a
// whole when any grant is invalid or already present.
func (e *Engine) AddPermissions(ctx context.Context, roleID int64, grants []Grant) ([]RolePermission, error) {
	if roleID <= 0 || len(grants) == 0 {
		return nil, apperr.New(apperr.MissingArgument)
	}
	actor := store.Actor(ctx)
	var out []RolePermission
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := e.Role(ctx, roleID); err != nil {
			return err
		}
		if codes := ValidateGrants(grants); len(codes) > 0 {
			return apperr.New(codes...)
		}
		for _, g := range grants {
			rp := g.RolePermission(roleID)
			n, err := affected(e.store.Q(ctx).ExecContext(ctx, `
				insert into role_permissions(role_id, permission_id, name, status, read_level, write_level, execute_level, created_by, updated_by)
				values($1, $2, $3, $4, $5, $6, $7, $8, $8)
				on conflict (role_id, permission_id) do update
				set name = excluded.name, status = excluded.status,
				    read_level = excluded.read_level, write_level = excluded.write_level, execute_level = excluded.execute_level,
				    updated_at = now(), updated_by = excluded.updated_by
				where role_permissions.status = 'DELETED'`,
				rp.RoleID, rp.PermissionID, rp.Name, string(rp.Status), int(rp.Read), int(rp.Write), int(rp.Execute), actor))
			if err != nil {
				return apperr.System(err)
			}
			if n == 0 {
				return apperr.New(apperr.PermissionExists)
			}
		}
		list, err := e.rolePermissions(ctx, roleID)
		out = list
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"role_id": roleID, "count": len(grants)}).Debug("role permissions added")
	return out, nil
}

// UpdatePermissions rewrites the levels and names of existing grants. The
// batch fails as a whole when any grant is invalid or missing.
func (e *Engine) UpdatePermissions(ctx context.Context, roleID int64, grants []Grant) ([]RolePermission, error) {
	if roleID <= 0 || len(grants) == 0 {
		return nil, apperr.New(apperr.MissingArgument)
	}
	actor := store.Actor(ctx)
	var out []RolePermission
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := e.Role(ctx, roleID); err != nil {
			return err
		}
		if codes := ValidateGrants(grants); len(codes) > 0 {
			return apperr.New(codes...)
		}
		for _, g := range grants {
			rp := g.RolePermission(roleID)
			n, err := affected(e.store.Q(ctx).ExecContext(ctx, `
				update role_permissions
				set name = $3, read_level = $4, write_level = $5, execute_level = $6, updated_at = now(), updated_by = $7
				where role_id = $1 and permission_id = $2 and status <> 'DELETED'`,
				rp.RoleID, rp.PermissionID, rp.Name, int(rp.Read), int(rp.Write), int(rp.Execute), actor))
			if err != nil {
				return apperr.System(err)
			}
			if n == 0 {
				return apperr.New(apperr.RolePermissionNotFound)
			}
		}
		list, err := e.rolePermissions(ctx, roleID)
		out = list
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"role_id": roleID, "count": len(grants)}).Debug("role permissions updated")
	return out, nil
}

// RemovePermissions deletes grants from a role. Every listed permission must
// be granted; otherwise nothing is removed.
func (e *Engine) RemovePermissions(ctx context.Context, roleID int64, permissionIDs []int64) ([]RolePermission, error) {
	if roleID <= 0 || len(permissionIDs) == 0 {
		return nil, apperr.New(apperr.MissingArgument)
	}
	var out []RolePermission
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := e.Role(ctx, roleID); err != nil {
			return err
		}
		for _, pid := range permissionIDs {
			if pid <= 0 {
				return apperr.New(apperr.PermissionRequired)
			}
			n, err := affected(e.store.Q(ctx).ExecContext(ctx,
				`delete from role_permissions where role_id = $1 and permission_id = $2 and status <> 'DELETED'`, roleID, pid))
			if err != nil {
				return apperr.System(err)
			}
			if n == 0 {
				return apperr.New(apperr.RolePermissionNotFound)
			}
		}
		list, err := e.rolePermissions(ctx, roleID)
		out = list
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"role_id": roleID, "count": len(permissionIDs)}).Debug("role permissions removed")
	return out, nil
}

// DeleteRole hard-deletes a role with its memberships and grants, in that
// order, as one transaction.
func (e *Engine) DeleteRole(ctx context.Context, roleID int64) error {
	if roleID <= 0 {
		return apperr.New(apperr.MissingArgument)
	}
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := e.Role(ctx, roleID); err != nil {
			return err
		}
		for _, stmt := range []string{
			`delete from principal_roles where role_id = $1`,
			`delete from role_permissions where role_id = $1`,
			`delete from roles where id = $1`,
		} {
			if _, err := e.store.Q(ctx).ExecContext(ctx, stmt, roleID); err != nil {
				return apperr.System(err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.log.WithField("role_id", roleID).Info("role deleted")
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRole(row scanner) (Role, error) {
	var (
		r                    Role
		status               string
		createdBy, updatedBy sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Name, &status, &r.CreatedAt, &r.UpdatedAt, &createdBy, &updatedBy); err != nil {
		return Role{}, err
	}
	r.Status = Status(status)
	if createdBy.Valid {
		r.CreatedBy = &createdBy.Int64
	}
	if updatedBy.Valid {
		r.UpdatedBy = &updatedBy.Int64
	}
	return r, nil
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
