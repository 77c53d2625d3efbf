package assignment

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palisade-authz/palisade/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the user-role and
// role-menu join tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RoleExists reports whether a role row exists for (id, domain).
func (r *Repository) RoleExists(ctx context.Context, roleID, domain string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1 AND domain = $2)`,
		roleID, domain).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("assignment: role exists: %w", err)
	}
	return exists, nil
}

// UserRoles returns the effective role ids for (user, domain): assignments
// whose role is currently enabled. This is the authoritative lookup behind
// the role cache.
func (r *Repository) UserRoles(ctx context.Context, userID, domain string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ur.role_id
		   FROM user_roles ur
		   JOIN roles ro ON ro.id = ur.role_id
		  WHERE ur.user_id = $1 AND ur.domain = $2 AND ro.status = 'enabled'
		  ORDER BY ur.role_id`,
		userID, domain)
	if err != nil {
		return nil, fmt.Errorf("assignment: user roles: %w", err)
	}
	return collectStrings(rows)
}

// AssignedRoleIDs returns every role id assigned to (user, domain),
// regardless of role status. Diff computation must see the raw assignment
// set or a disabled role would be re-added on every call.
func (r *Repository) AssignedRoleIDs(ctx context.Context, userID, domain string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT role_id FROM user_roles WHERE user_id = $1 AND domain = $2 ORDER BY role_id`,
		userID, domain)
	if err != nil {
		return nil, fmt.Errorf("assignment: assigned roles: %w", err)
	}
	return collectStrings(rows)
}

// ReplaceUserRoles applies a computed diff to the user_roles table in one
// transaction.
func (r *Repository) ReplaceUserRoles(ctx context.Context, userID, domain string, add, remove []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if len(remove) > 0 {
			if _, err := tx.Exec(ctx,
				`DELETE FROM user_roles WHERE user_id = $1 AND domain = $2 AND role_id = ANY($3)`,
				userID, domain, remove); err != nil {
				return fmt.Errorf("assignment: remove user roles: %w", err)
			}
		}
		for _, roleID := range add {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_roles (user_id, role_id, domain) VALUES ($1, $2, $3)
				 ON CONFLICT (user_id, role_id, domain) DO NOTHING`,
				userID, roleID, domain); err != nil {
				return fmt.Errorf("assignment: add user role: %w", err)
			}
		}
		return nil
	})
}

// RoleUsers returns the user ids assigned to (role, domain).
func (r *Repository) RoleUsers(ctx context.Context, roleID, domain string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM user_roles WHERE role_id = $1 AND domain = $2 ORDER BY user_id`,
		roleID, domain)
	if err != nil {
		return nil, fmt.Errorf("assignment: role users: %w", err)
	}
	return collectStrings(rows)
}

// ReplaceRoleUsers applies a computed diff of users holding a role.
func (r *Repository) ReplaceRoleUsers(ctx context.Context, roleID, domain string, add, remove []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if len(remove) > 0 {
			if _, err := tx.Exec(ctx,
				`DELETE FROM user_roles WHERE role_id = $1 AND domain = $2 AND user_id = ANY($3)`,
				roleID, domain, remove); err != nil {
				return fmt.Errorf("assignment: remove role users: %w", err)
			}
		}
		for _, userID := range add {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_roles (user_id, role_id, domain) VALUES ($1, $2, $3)
				 ON CONFLICT (user_id, role_id, domain) DO NOTHING`,
				userID, roleID, domain); err != nil {
				return fmt.Errorf("assignment: add role user: %w", err)
			}
		}
		return nil
	})
}

// RoleMenus returns the menu ids linked to a role.
func (r *Repository) RoleMenus(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT menu_id FROM role_menus WHERE role_id = $1 ORDER BY menu_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("assignment: role menus: %w", err)
	}
	return collectStrings(rows)
}

// ReplaceRoleMenus applies a computed diff to the role_menus table.
func (r *Repository) ReplaceRoleMenus(ctx context.Context, roleID string, add, remove []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if len(remove) > 0 {
			if _, err := tx.Exec(ctx,
				`DELETE FROM role_menus WHERE role_id = $1 AND menu_id = ANY($2)`,
				roleID, remove); err != nil {
				return fmt.Errorf("assignment: remove role menus: %w", err)
			}
		}
		for _, menuID := range add {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_menus (role_id, menu_id) VALUES ($1, $2)
				 ON CONFLICT (role_id, menu_id) DO NOTHING`,
				roleID, menuID); err != nil {
				return fmt.Errorf("assignment: add role menu: %w", err)
			}
		}
		return nil
	})
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("assignment: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
