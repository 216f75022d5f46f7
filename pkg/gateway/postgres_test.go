package gateway

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumsec/warden/pkg/entity"
)

func newPostgresForTest(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gw, err := NewPostgres(db)
	require.NoError(t, err)
	return gw, mock
}

func TestNewPostgres_NilHandle(t *testing.T) {
	_, err := NewPostgres(nil)
	assert.Error(t, err)
}

func TestPostgres_CountUsersWithRole(t *testing.T) {
	gw, mock := newPostgresForTest(t)

	mock.ExpectQuery(`SELECT COUNT\(DISTINCT u\.id\)`).
		WithArgs("Administrator").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := gw.CountUsersWithRole(context.Background(), "Administrator")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountUsersWithRole_QueryError(t *testing.T) {
	gw, mock := newPostgresForTest(t)

	mock.ExpectQuery(`SELECT COUNT\(DISTINCT u\.id\)`).
		WithArgs("Administrator").
		WillReturnError(assert.AnError)

	_, err := gw.CountUsersWithRole(context.Background(), "Administrator")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to count users")
}

func TestPostgres_RolesByName(t *testing.T) {
	gw, mock := newPostgresForTest(t)

	names := []string{"Administrator", "User", "Guest"}
	mock.ExpectQuery(`SELECT name FROM entities WHERE type = 'role'`).
		WithArgs(pq.Array(names)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("Administrator").
			AddRow("User"))

	found, err := gw.RolesByName(context.Background(), names)
	require.NoError(t, err)
	assert.True(t, found["Administrator"])
	assert.True(t, found["User"])
	assert.False(t, found["Guest"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ResourcesByURIPrefix(t *testing.T) {
	gw, mock := newPostgresForTest(t)

	mock.ExpectQuery(`WHERE type = 'resource' AND uri LIKE`).
		WithArgs("/system/").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "scope", "uri", "resource_type", "is_active", "version"}).
			AddRow(1, "config", "tenant-a", "/system/config", "endpoint", true, "v2").
			AddRow(2, "secrets", "tenant-a", "/system/secrets", "endpoint", false, ""))

	out, err := gw.ResourcesByURIPrefix(context.Background(), "/system/")
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, int64(1), out[0].ID)
	assert.Equal(t, entity.TypeResource, out[0].Type)
	assert.Equal(t, "/system/config", out[0].URI)
	require.NotNil(t, out[0].Version)
	assert.Equal(t, "v2", *out[0].Version)

	// A NULL or empty version column maps to an absent version.
	assert.Nil(t, out[1].Version)
	assert.False(t, out[1].IsActive)
}

func TestPostgres_HasAccessControlEntry(t *testing.T) {
	gw, mock := newPostgresForTest(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := gw.HasAccessControlEntry(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_EntityExistsByName(t *testing.T) {
	gw, mock := newPostgresForTest(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("role", "ops", "tenant-a", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := gw.EntityExistsByName(context.Background(), entity.TypeRole, "ops", "tenant-a", 5)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
