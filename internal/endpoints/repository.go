package endpoints

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palisade-authz/palisade/internal/registry"
)

// Repository provides PostgreSQL backed persistence for discovered
// endpoints.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const endpointColumns = `id, path, method, resource, action, controller, summary, created_at, updated_at`

func scanEndpoint(row pgx.Row) (Endpoint, error) {
	var e Endpoint
	err := row.Scan(&e.ID, &e.Path, &e.Method, &e.Resource, &e.Action,
		&e.Controller, &e.Summary, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// Upsert writes one discovered endpoint, keyed by (method, path). It
// reports whether the row was newly inserted; xmax is zero only for rows
// created by the current transaction.
func (r *Repository) Upsert(ctx context.Context, e registry.Endpoint) (bool, error) {
	var inserted bool
	err := r.pool.QueryRow(ctx,
		`INSERT INTO endpoints (id, path, method, resource, action, controller, summary)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (method, path) DO UPDATE
		    SET resource = EXCLUDED.resource,
		        action = EXCLUDED.action,
		        controller = EXCLUDED.controller,
		        summary = EXCLUDED.summary,
		        updated_at = now()
		 RETURNING (xmax = 0)`,
		uuid.NewString(), e.Path, e.Method, e.Resource, e.Action, e.Controller, e.Summary,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("endpoints: upsert %s %s: %w", e.Method, e.Path, err)
	}
	return inserted, nil
}

// List returns a filtered page of endpoints plus the unfiltered-page total.
func (r *Repository) List(ctx context.Context, filter Filter, limit, offset int) ([]Endpoint, int, error) {
	where, args := buildWhere(filter)

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM endpoints`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("endpoints: count: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM endpoints%s ORDER BY path, method LIMIT $%d OFFSET $%d`,
			endpointColumns, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("endpoints: list: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("endpoints: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// All returns every endpoint ordered by (resource, path, method), the
// input to the tree view.
func (r *Repository) All(ctx context.Context) ([]Endpoint, error) {
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM endpoints ORDER BY resource, path, method`, endpointColumns))
	if err != nil {
		return nil, fmt.Errorf("endpoints: all: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("endpoints: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func buildWhere(filter Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("method", filter.Method)
	add("resource", filter.Resource)
	add("action", filter.Action)
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
