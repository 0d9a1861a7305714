package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"hrms.org/internal/auth"
)

func TestRoleFindByID(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`select id, name, created_at, updated_at from roles where id = \$1`).
		WithArgs("HR").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).AddRow("HR", "HR", now, now))
	mock.ExpectQuery(`select permission from role_permissions where role_id = \$1`).
		WithArgs("HR").
		WillReturnRows(sqlmock.NewRows([]string{"permission"}).AddRow("VIEW_ROLES").AddRow("EDIT_STAFF"))

	role, err := store.Roles().FindRoleByID(context.Background(), "HR")
	if err != nil {
		t.Fatalf("FindRoleByID: %v", err)
	}
	if !role.HasPermission("view_roles") || !role.HasPermission("EDIT_STAFF") || len(role.Permissions) != 2 {
		t.Fatalf("unexpected permissions %v", role.Permissions)
	}

	mock.ExpectQuery(`from roles where id = \$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}))
	if _, err := store.Roles().FindRoleByID(context.Background(), "nope"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRoleSaveAddsPermissions(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`insert into roles .* on conflict \(id\) do update`).
		WithArgs("r-1", "AUDITOR", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(`insert into role_permissions .* on conflict do nothing`).
		WithArgs("r-1", "VIEW_REPORTS", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`select permission from role_permissions`).
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"permission"}).AddRow("VIEW_REPORTS"))
	mock.ExpectCommit()

	role, err := store.Roles().Save(context.Background(), &auth.Role{ID: "r-1", Name: "auditor", Permissions: []string{"view_reports", " "}})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if role.Name != "AUDITOR" || len(role.Permissions) != 1 || role.Permissions[0] != "VIEW_REPORTS" {
		t.Fatalf("unexpected role %+v", role)
	}
}
