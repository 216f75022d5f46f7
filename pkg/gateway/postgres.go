package gateway

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/quorumsec/warden/pkg/entity"
)

// Postgres is a Gateway over a PostgreSQL entity store. The schema is
// owned by the surrounding service; this gateway only reads the
// entities, entity_edges and permissions tables.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a gateway over an open database handle
func NewPostgres(db *sql.DB) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	return &Postgres{db: db}, nil
}

// CountUsersWithRole returns how many users hold the named role
func (p *Postgres) CountUsersWithRole(ctx context.Context, roleName string) (int, error) {
	query := `
		SELECT COUNT(DISTINCT u.id)
		FROM entities u
		JOIN entity_edges e ON e.child_id = u.id
		JOIN entities r ON r.id = e.parent_id
		WHERE u.type = 'user' AND r.type = 'role' AND r.name = $1
	`

	var count int
	if err := p.db.QueryRowContext(ctx, query, roleName).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users with role %q: %w", roleName, err)
	}
	return count, nil
}

// RolesByName reports which of the given role names exist
func (p *Postgres) RolesByName(ctx context.Context, names []string) (map[string]bool, error) {
	found := make(map[string]bool, len(names))
	for _, name := range names {
		found[name] = false
	}

	query := `SELECT name FROM entities WHERE type = 'role' AND name = ANY($1)`
	rows, err := p.db.QueryContext(ctx, query, pq.Array(names))
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
func (p *Postgres) ResourcesByURIPrefix(ctx context.Context, prefix string) ([]*entity.Entity, error) {
	query := `
		SELECT id, name, scope, uri, resource_type, is_active, COALESCE(version, '')
		FROM entities
		WHERE type = 'resource' AND uri LIKE $1 || '%'
		ORDER BY id
	`

	rows, err := p.db.QueryContext(ctx, query, prefix)
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
func (p *Postgres) HasAccessControlEntry(ctx context.Context, resourceID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM permissions perm
			WHERE perm.uri = (SELECT uri FROM entities WHERE id = $1)
		)
	`

	var exists bool
	if err := p.db.QueryRowContext(ctx, query, resourceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check access-control entries for resource %d: %w", resourceID, err)
	}
	return exists, nil
}

// EntityExistsByName reports whether another entity of the given type
// already uses the name within scope
func (p *Postgres) EntityExistsByName(ctx context.Context, typ entity.Type, name, scope string, excludeID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM entities
			WHERE type = $1 AND name = $2
			  AND ($3 = '' OR scope = $3)
			  AND id <> $4
		)
	`

	var exists bool
	if err := p.db.QueryRowContext(ctx, query, string(typ), name, scope, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check name uniqueness for %s %q: %w", typ, name, err)
	}
	return exists, nil
}
