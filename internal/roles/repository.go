package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palisade-authz/palisade/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for roles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, code, name, status, parent_id, domain, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Code, &r.Name, &r.Status, &r.ParentID, &r.Domain, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Role{}, err
	}
	return r, nil
}

// List returns all roles within a domain ordered by code.
func (r *Repository) List(ctx context.Context, domain string) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE domain = $1 ORDER BY code`, domain)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("roles: scan: %w", err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// Get fetches a role by id.
func (r *Repository) Get(ctx context.Context, id string) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, fmt.Errorf("roles: get: %w", err)
	}
	return role, nil
}

// Create inserts a new role.
func (r *Repository) Create(ctx context.Context, role Role) (Role, error) {
	created, err := scanRole(r.pool.QueryRow(ctx,
		`INSERT INTO roles (id, code, name, status, parent_id, domain)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+roleColumns,
		role.ID, role.Code, role.Name, role.Status, role.ParentID, role.Domain))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, ErrDuplicateCode
		}
		return Role{}, fmt.Errorf("roles: create: %w", err)
	}
	return created, nil
}

// Update modifies name, status and parent of an existing role.
func (r *Repository) Update(ctx context.Context, role Role) (Role, error) {
	updated, err := scanRole(r.pool.QueryRow(ctx,
		`UPDATE roles SET name = $2, status = $3, parent_id = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+roleColumns,
		role.ID, role.Name, role.Status, role.ParentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, fmt.Errorf("roles: update: %w", err)
	}
	return updated, nil
}

// Delete removes a role and its relational references in one transaction.
// Policy rules are cleaned by the service before this runs.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("roles: delete assignments: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_menus WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("roles: delete menus: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("roles: delete: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}
