package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"keyward.org/internal/apperr"
	"keyward.org/internal/store"
)

var (
	roleCols = []string{"id", "name", "status", "created_at", "updated_at", "created_by", "updated_by"}
	rpCols   = []string{"role_id", "permission_id", "name", "status", "read_level", "write_level", "execute_level"}
)

func newEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEngine(store.New(db)), mock
}

func expectRole(mock sqlmock.Sqlmock, id int64) {
	now := time.Now().UTC()
	mock.ExpectQuery("from roles where id = \\$1 and status <> 'DELETED'").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow(id, "role", "ACTIVE", now, now, nil, nil))
}

func expectRoleMissing(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectQuery("from roles where id = \\$1").WithArgs(id).WillReturnRows(sqlmock.NewRows(roleCols))
}

func TestCanAccessAggregatesAcrossRoles(t *testing.T) {
	e, mock := newEngine(t)
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("from principal_roles pr\\s+join roles r").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(rpCols).
				AddRow(int64(1), int64(1), "orders", "ACTIVE", 1, 0, 0).
				AddRow(int64(2), int64(1), "orders", "ACTIVE", 2, 0, 1))
	}

	ok, err := e.CanAccess(context.Background(), 7, Pass{Permission: 1, Type: Read, Level: LevelAll.Ptr()})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.CanAccess(context.Background(), 7, Pass{Permission: 1, Type: Write})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCanAccessRejectsMalformedPass(t *testing.T) {
	e, mock := newEngine(t)
	_, err := e.CanAccess(context.Background(), 7, Pass{Permission: 1, Type: "delete"})
	require.True(t, errors.Is(err, apperr.AccessTypeInvalid))
	_, err = e.CanAccess(context.Background(), 7)
	require.True(t, errors.Is(err, apperr.MissingArgument))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRolesTwiceFailsWithAlreadyGranted(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	expectRole(mock, 3)
	mock.ExpectExec("insert into principal_roles").
		WithArgs(int64(7), int64(3), nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := e.GrantRoles(context.Background(), 7, []int64{3})
	require.True(t, errors.Is(err, apperr.AlreadyGranted), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRolesIsAllOrNothing(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	expectRole(mock, 3)
	mock.ExpectExec("insert into principal_roles").WillReturnResult(sqlmock.NewResult(0, 1))
	expectRoleMissing(mock, 99)
	mock.ExpectRollback()

	_, err := e.GrantRoles(context.Background(), 7, []int64{3, 99})
	require.Equal(t, []apperr.Code{apperr.RoleNotFound}, apperr.Codes(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRolesRefreshesGrants(t *testing.T) {
	e, mock := newEngine(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	expectRole(mock, 3)
	mock.ExpectExec("insert into principal_roles").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("from principal_roles pr\\s+join roles r on r.id = pr.role_id\\s+where").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow(int64(3), "auditor", "ACTIVE", now, now, nil, nil))
	mock.ExpectQuery("join role_permissions rp").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(rpCols).AddRow(int64(3), int64(5), "ledger", "ACTIVE", 2, 0, 0))

	grants, err := e.GrantRoles(context.Background(), 7, []int64{3})
	require.NoError(t, err)
	require.Len(t, grants.Roles, 1)
	require.Equal(t, "auditor", grants.Roles[0].Name)
	require.Equal(t, []RolePermission{{PermissionID: 5, Name: "ledger", Status: StatusActive, Read: LevelAll}}, grants.Permissions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRolesUnknownPrincipal(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	expectRole(mock, 3)
	mock.ExpectExec("insert into principal_roles").WillReturnError(fkViolation())
	mock.ExpectRollback()

	_, err := e.GrantRoles(context.Background(), 7, []int64{3})
	require.True(t, errors.Is(err, apperr.PrincipalNotFound), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeRolesNotGranted(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	expectRole(mock, 3)
	mock.ExpectExec("delete from principal_roles where principal_id = \\$1 and role_id = \\$2").
		WithArgs(int64(7), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := e.RevokeRoles(context.Background(), 7, []int64{3})
	require.True(t, errors.Is(err, apperr.NotGranted))
	require.NoError(t, mock.ExpectationsWereMet())
}

func grant(id int64, r, w, x Level) Grant {
	return Grant{PermissionID: id, Name: "perm", Read: r.Ptr(), Write: w.Ptr(), Execute: x.Ptr()}
}

func TestAddPermissionsExistingEntryAbortsBatch(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	expectRole(mock, 4)
	mock.ExpectExec("insert into role_permissions").
		WithArgs(int64(4), int64(1), "perm", "ACTIVE", 2, 0, 0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").
		WithArgs(int64(4), int64(2), "perm", "ACTIVE", 1, 1, 0, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := e.AddPermissions(context.Background(), 4, []Grant{
		grant(1, LevelAll, LevelNone, LevelNone),
		grant(2, LevelOwn, LevelOwn, LevelNone),
	})
	require.Equal(t, []apperr.Code{apperr.PermissionExists}, apperr.Codes(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddPermissionsValidatesWholeBatchBeforeWriting(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	expectRole(mock, 4)
	mock.ExpectRollback()

	_, err := e.AddPermissions(context.Background(), 4, []Grant{
		{PermissionID: 1, Name: "", Read: LevelAll.Ptr(), Write: LevelNone.Ptr(), Execute: LevelNone.Ptr()},
		{PermissionID: 2, Name: "b", Read: LevelAll.Ptr(), Write: LevelNone.Ptr()},
	})
	require.Equal(t, []apperr.Code{apperr.NameRequired, apperr.ExecuteLevelRequired}, apperr.Codes(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddPermissionsReturnsRoleList(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	expectRole(mock, 4)
	mock.ExpectExec("insert into role_permissions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("from role_permissions where role_id = \\$1").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(rpCols).AddRow(int64(4), int64(1), "perm", "ACTIVE", 2, 1, 0))
	mock.ExpectCommit()

	list, err := e.AddPermissions(context.Background(), 4, []Grant{grant(1, LevelAll, LevelOwn, LevelNone)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, LevelOwn, list[0].Write)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePermissionsMissingPair(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	expectRole(mock, 4)
	mock.ExpectExec("update role_permissions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := e.UpdatePermissions(context.Background(), 4, []Grant{grant(9, LevelAll, LevelAll, LevelAll)})
	require.True(t, errors.Is(err, apperr.RolePermissionNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemovePermissionsMissingPairRollsBack(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	expectRole(mock, 4)
	mock.ExpectExec("delete from role_permissions").WithArgs(int64(4), int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from role_permissions").WithArgs(int64(4), int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := e.RemovePermissions(context.Background(), 4, []int64{1, 2})
	require.True(t, errors.Is(err, apperr.RolePermissionNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRoleCascadesInOrder(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	expectRole(mock, 4)
	mock.ExpectExec("delete from principal_roles where role_id").WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("delete from role_permissions where role_id").WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from roles where id").WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, e.DeleteRole(context.Background(), 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRolePartialFailureRollsBack(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	expectRole(mock, 4)
	mock.ExpectExec("delete from principal_roles where role_id").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("delete from role_permissions where role_id").WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err := e.DeleteRole(context.Background(), 4)
	require.True(t, apperr.IsSystem(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRoleNameTaken(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select exists\\(select 1 from roles").
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := e.CreateRole(context.Background(), " admin ")
	require.True(t, errors.Is(err, apperr.RoleNameTaken))

	_, err = e.CreateRole(context.Background(), "  ")
	require.True(t, errors.Is(err, apperr.NameRequired))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRoleInserts(t *testing.T) {
	e, mock := newEngine(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("insert into roles").
		WithArgs("admin", "ACTIVE", int64(1), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(12), now, now))
	mock.ExpectCommit()

	role, err := e.CreateRole(store.WithActor(context.Background(), 1), "admin")
	require.NoError(t, err)
	require.Equal(t, int64(12), role.ID)
	require.Equal(t, StatusActive, role.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func fkViolation() error {
	return &pgconn.PgError{Code: "23503", ConstraintName: "principal_roles_principal_id_fkey"}
}
