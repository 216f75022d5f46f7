package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quorumsec/warden/pkg/entity"
)

// SQLite is a Gateway over an embedded SQLite entity store. It serves
// single-node deployments and the wardenctl CLI, which validates exported
// databases offline.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and wraps it in a gateway
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite database %q: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an already-open handle
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// DB exposes the underlying handle for callers that read rows directly,
// such as the wardenctl entity loader
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database handle
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CountUsersWithRole returns how many users hold the named role
func (s *SQLite) CountUsersWithRole(ctx context.Context, roleName string) (int, error) {
	query := `
		SELECT COUNT(DISTINCT u.id)
		FROM entities u
		JOIN entity_edges e ON e.child_id = u.id
		JOIN entities r ON r.id = e.parent_id
		WHERE u.type = 'user' AND r.type = 'role' AND r.name = ?
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, roleName).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users with role %q: %w", roleName, err)
	}
	return count, nil
}

// RolesByName reports which of the given role names exist
func (s *SQLite) RolesByName(ctx context.Context, names []string) (map[string]bool, error) {
	found := make(map[string]bool, len(names))
	args := make([]interface{}, 0, len(names))
	for _, name := range names {
		found[name] = false
		args = append(args, name)
	}
	if len(names) == 0 {
		return found, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	query := fmt.Sprintf(`SELECT name FROM entities WHERE type = 'role' AND name IN (%s)`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles by name: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		found[name] = true
	}
	return found, rows.Err()
}

// ResourcesByURIPrefix returns resources whose URI starts with prefix
func (s *SQLite) ResourcesByURIPrefix(ctx context.Context, prefix string) ([]*entity.Entity, error) {
	query := `
		SELECT id, name, scope, uri, resource_type, is_active, COALESCE(version, '')
		FROM entities
		WHERE type = 'resource' AND uri LIKE ? || '%'
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources by prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []*entity.Entity
	for rows.Next() {
		e := &entity.Entity{Type: entity.TypeResource}
		var version string
		if err := rows.Scan(&e.ID, &e.Name, &e.Scope, &e.URI, &e.ResourceType, &e.IsActive, &version); err != nil {
			return nil, err
		}
		if version != "" {
			e.Version = &version
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// HasAccessControlEntry reports whether any permission references the
// resource's URI
func (s *SQLite) HasAccessControlEntry(ctx context.Context, resourceID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM permissions perm
			WHERE perm.uri = (SELECT uri FROM entities WHERE id = ?)
		)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, resourceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check access-control entries for resource %d: %w", resourceID, err)
	}
	return exists, nil
}

// EntityExistsByName reports whether another entity of the given type
// already uses the name within scope
func (s *SQLite) EntityExistsByName(ctx context.Context, typ entity.Type, name, scope string, excludeID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM entities
			WHERE type = ? AND name = ?
			  AND (? = '' OR scope = ?)
			  AND id <> ?
		)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, string(typ), name, scope, scope, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check name uniqueness for %s %q: %w", typ, name, err)
	}
	return exists, nil
}
