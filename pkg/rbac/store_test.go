package rbac

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetUser_LoadsRoles(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, username, display_name, email, created_at`).
		WithArgs("u-42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "display_name", "email", "created_at"}).
			AddRow("u-42", "mkeita", "M. Keita", "mkeita@example.org", now))

	perms, _ := json.Marshal([]Permission{PermVerify})
	mock.ExpectQuery(`SELECT r.id, r.name, r.description, r.permissions`).
		WithArgs("u-42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "permissions", "is_built_in", "created_at", "updated_at"}).
			AddRow(1, RoleVerifieur, "", string(perms), true, now, now))

	user, err := store.GetUser(ctx, "u-42")
	require.NoError(t, err)
	assert.Equal(t, "mkeita", user.Username)
	require.Len(t, user.Roles, 1)
	assert.Equal(t, RoleVerifieur, user.Roles[0].Name)
	assert.True(t, user.Roles[0].HasPermission(PermVerify))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetUser_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	mock.ExpectQuery(`SELECT id, username, display_name, email, created_at`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "display_name", "email", "created_at"}))

	_, err = store.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	mock.ExpectQuery(`INSERT INTO roles`).
		WithArgs("custom", "a custom role", sqlmock.AnyArg(), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	role := &Role{
		Name:        "custom",
		Description: "a custom role",
		Permissions: []Permission{PermAssign},
	}
	require.NoError(t, store.CreateRole(context.Background(), role))
	assert.Equal(t, int64(7), role.ID)
	assert.False(t, role.CreatedAt.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetRoleByName_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	mock.ExpectQuery(`SELECT id, name, description, permissions`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "permissions", "is_built_in", "created_at", "updated_at"}))

	_, err = store.GetRoleByName(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AssignRole_Idempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	mock.ExpectExec(`INSERT INTO user_roles`).
		WithArgs("u-1", int64(3), "admin-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.AssignRole(context.Background(), "u-1", 3, "admin-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SeedBuiltInRoles_SkipsExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	now := time.Now()

	for _, role := range BuiltInRoles() {
		perms, _ := json.Marshal(role.Permissions)
		if role.Name == RoleAdmin {
			// Pretend only admin already exists.
			mock.ExpectQuery(`SELECT id, name, description, permissions`).
				WithArgs(role.Name).
				WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "permissions", "is_built_in", "created_at", "updated_at"}).
					AddRow(1, role.Name, role.Description, string(perms), true, now, now))
			continue
		}
		mock.ExpectQuery(`SELECT id, name, description, permissions`).
			WithArgs(role.Name).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "permissions", "is_built_in", "created_at", "updated_at"}))
		mock.ExpectQuery(`INSERT INTO roles`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	}

	require.NoError(t, store.SeedBuiltInRoles(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
