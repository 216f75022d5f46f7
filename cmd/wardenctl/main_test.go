package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumsec/warden/pkg/gateway"
)

const loaderTestSchema = `
	CREATE TABLE entities (
		id            INTEGER PRIMARY KEY,
		name          TEXT NOT NULL,
		type          TEXT NOT NULL,
		scope         TEXT NOT NULL DEFAULT '',
		uri           TEXT NOT NULL DEFAULT '',
		resource_type TEXT NOT NULL DEFAULT '',
		is_active     BOOLEAN NOT NULL DEFAULT 0,
		version       TEXT,
		email         TEXT,
		full_name     TEXT
	);
	CREATE TABLE entity_edges (
		parent_id INTEGER NOT NULL,
		child_id  INTEGER NOT NULL
	);
	CREATE TABLE permissions (
		entity_id INTEGER NOT NULL,
		uri       TEXT NOT NULL,
		verb      TEXT NOT NULL,
		scheme    TEXT NOT NULL,
		grant_access BOOLEAN NOT NULL DEFAULT 0,
		deny_access  BOOLEAN NOT NULL DEFAULT 0
	);
	INSERT INTO entities (id, name, type) VALUES
		(1, 'alice',         'user'),
		(2, 'Administrator', 'role');
	INSERT INTO entity_edges (parent_id, child_id) VALUES (2, 1);
	INSERT INTO permissions (entity_id, uri, verb, scheme, grant_access) VALUES
		(2, '/system/config', 'GET', 'https', 1);
`

// TestLoadEntities_SQLiteUsesDatabaseGateway proves file-backed runs
// query the database through the SQLite gateway rather than a graph
// snapshot.
func TestLoadEntities_SQLiteUsesDatabaseGateway(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(loaderTestSchema)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	graph, gw, closeGateway, err := loadEntities(&Config{SQLitePath: path})
	require.NoError(t, err)
	defer closeGateway()

	assert.Equal(t, 2, graph.Len())
	alice, err := graph.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, alice.ParentIDs)

	sqliteGW, ok := gw.(*gateway.SQLite)
	require.True(t, ok)

	count, err := sqliteGW.CountUsersWithRole(context.Background(), "Administrator")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLoadEntities_JSONUsesMemoryGateway(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	data := `[{"id": 1, "name": "alice", "type": "user"}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	graph, gw, closeGateway, err := loadEntities(&Config{InputPath: path})
	require.NoError(t, err)
	defer closeGateway()

	assert.Equal(t, 1, graph.Len())
	assert.IsType(t, &gateway.Memory{}, gw)
}
