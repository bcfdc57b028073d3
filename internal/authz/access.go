package authz

import (
	"context"
	"time"

	"keyward.org/internal/permission"
)

// CheckAccess reports in Data whether the principal satisfies every pass.
// A denied check is still a successful call.
func (f *Facade) CheckAccess(ctx context.Context, principalID int64, passes ...permission.Pass) Response[bool] {
	started := time.Now()
	if principalID <= 0 {
		return respond(f, "check_access", started, false, missing())
	}
	ok, err := f.permissions.CanAccess(ctx, principalID, passes...)
	return respond(f, "check_access", started, ok, err)
}

// EffectivePermissions lists the principal's aggregated grants.
func (f *Facade) EffectivePermissions(ctx context.Context, principalID int64) Response[[]permission.RolePermission] {
	started := time.Now()
	set, err := f.permissions.EffectivePermissions(ctx, principalID)
	if err != nil {
		return respond[[]permission.RolePermission](f, "effective_permissions", started, nil, err)
	}
	return respond(f, "effective_permissions", started, set.List(), nil)
}

// GrantRoles adds roles to an existing principal, all or none.
func (f *Facade) GrantRoles(ctx context.Context, principalID int64, roleIDs ...int64) Response[permission.Grants] {
	started := time.Now()
	if principalID <= 0 || len(roleIDs) == 0 {
		return respond(f, "grant_roles", started, permission.Grants{}, missing())
	}
	var out permission.Grants
	err := f.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := f.principals.FindByID(ctx, principalID); err != nil {
			return err
		}
		g, err := f.permissions.GrantRoles(ctx, principalID, roleIDs)
		out = g
		return err
	})
	return respond(f, "grant_roles", started, out, err)
}

// RevokeRoles removes roles from a principal, all or none.
func (f *Facade) RevokeRoles(ctx context.Context, principalID int64, roleIDs ...int64) Response[permission.Grants] {
	started := time.Now()
	if principalID <= 0 || len(roleIDs) == 0 {
		return respond(f, "revoke_roles", started, permission.Grants{}, missing())
	}
	out, err := f.permissions.RevokeRoles(ctx, principalID, roleIDs)
	return respond(f, "revoke_roles", started, out, err)
}

// PrincipalRoles lists the roles a principal holds.
func (f *Facade) PrincipalRoles(ctx context.Context, principalID int64) Response[permission.Grants] {
	started := time.Now()
	if principalID <= 0 {
		return respond(f, "principal_roles", started, permission.Grants{}, missing())
	}
	out, err := f.permissions.Grants(ctx, principalID)
	return respond(f, "principal_roles", started, out, err)
}

func (f *Facade) CreateRole(ctx context.Context, name string) Response[permission.Role] {
	started := time.Now()
	role, err := f.permissions.CreateRole(ctx, name)
	return respond(f, "create_role", started, role, err)
}

// DeleteRole removes a role together with its memberships and grants.
func (f *Facade) DeleteRole(ctx context.Context, roleID int64) Response[bool] {
	started := time.Now()
	err := f.permissions.DeleteRole(ctx, roleID)
	return respond(f, "delete_role", started, err == nil, err)
}

func (f *Facade) Roles(ctx context.Context) Response[[]permission.Role] {
	started := time.Now()
	roles, err := f.permissions.Roles(ctx)
	return respond(f, "list_roles", started, roles, err)
}

func (f *Facade) RolePermissions(ctx context.Context, roleID int64) Response[[]permission.RolePermission] {
	started := time.Now()
	list, err := f.permissions.RolePermissions(ctx, roleID)
	return respond(f, "role_permissions", started, list, err)
}

func (f *Facade) AddPermissionsToRole(ctx context.Context, roleID int64, grants ...permission.Grant) Response[[]permission.RolePermission] {
	started := time.Now()
	list, err := f.permissions.AddPermissions(ctx, roleID, grants)
	return respond(f, "add_role_permissions", started, list, err)
}

func (f *Facade) UpdateRolePermissions(ctx context.Context, roleID int64, grants ...permission.Grant) Response[[]permission.RolePermission] {
	started := time.Now()
	list, err := f.permissions.UpdatePermissions(ctx, roleID, grants)
	return respond(f, "update_role_permissions", started, list, err)
}

func (f *Facade) RemovePermissionsFromRole(ctx context.Context, roleID int64, permissionIDs ...int64) Response[[]permission.RolePermission] {
	started := time.Now()
	list, err := f.permissions.RemovePermissions(ctx, roleID, permissionIDs)
	return respond(f, "remove_role_permissions", started, list, err)
}
