package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ruleColumns = 6

// Adapter persists casbin rules to the policy_rules table. It implements
// persist.Adapter and persist.BatchAdapter so every enforcer mutation is
// flushed to PostgreSQL within the same call (autosave), keeping the
// in-memory matcher and the backing table in lockstep.
type Adapter struct {
	pool *pgxpool.Pool
}

var (
	_ persist.Adapter      = (*Adapter)(nil)
	_ persist.BatchAdapter = (*Adapter)(nil)
)

// NewAdapter constructs an Adapter backed by the provided pool.
func NewAdapter(pool *pgxpool.Pool) *Adapter {
	return &Adapter{pool: pool}
}

// LoadPolicy loads all rules from storage into the model.
func (a *Adapter) LoadPolicy(m model.Model) error {
	ctx := context.Background()
	rows, err := a.pool.Query(ctx, `SELECT ptype, v0, v1, v2, v3, v4, v5 FROM policy_rules ORDER BY id`)
	if err != nil {
		return fmt.Errorf("policy: load rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ptype string
		vals := make([]string, ruleColumns)
		if err := rows.Scan(&ptype, &vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5]); err != nil {
			return fmt.Errorf("policy: scan rule: %w", err)
		}
		line := append([]string{ptype}, trimTrailingEmpty(vals)...)
		if err := persist.LoadPolicyArray(line, m); err != nil {
			return fmt.Errorf("policy: load rule: %w", err)
		}
	}
	return rows.Err()
}

// SavePolicy rewrites storage from the in-memory model.
func (a *Adapter) SavePolicy(m model.Model) error {
	ctx := context.Background()
	return pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM policy_rules`); err != nil {
			return fmt.Errorf("policy: clear rules: %w", err)
		}
		batch := &pgx.Batch{}
		for _, sec := range []string{"p", "g"} {
			for ptype, ast := range m[sec] {
				for _, rule := range ast.Policy {
					queueInsert(batch, ptype, rule)
				}
			}
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// AddPolicy inserts a single rule.
func (a *Adapter) AddPolicy(_ string, ptype string, rule []string) error {
	batch := &pgx.Batch{}
	queueInsert(batch, ptype, rule)
	return a.pool.SendBatch(context.Background(), batch).Close()
}

// AddPolicies inserts multiple rules in one transaction.
func (a *Adapter) AddPolicies(_ string, ptype string, rules [][]string) error {
	ctx := context.Background()
	return pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rule := range rules {
			queueInsert(batch, ptype, rule)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// RemovePolicy deletes a single rule.
func (a *Adapter) RemovePolicy(_ string, ptype string, rule []string) error {
	query, args := deleteQuery(ptype, rule)
	_, err := a.pool.Exec(context.Background(), query, args...)
	return err
}

// RemovePolicies deletes multiple rules in one transaction.
func (a *Adapter) RemovePolicies(_ string, ptype string, rules [][]string) error {
	ctx := context.Background()
	return pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rule := range rules {
			query, args := deleteQuery(ptype, rule)
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveFilteredPolicy deletes rules matching the non-empty field values
// starting at fieldIndex.
func (a *Adapter) RemoveFilteredPolicy(_ string, ptype string, fieldIndex int, fieldValues ...string) error {
	conds := []string{"ptype = $1"}
	args := []any{ptype}
	for i, val := range fieldValues {
		if val == "" {
			continue
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("v%d = $%d", fieldIndex+i, len(args)))
	}
	query := "DELETE FROM policy_rules WHERE " + strings.Join(conds, " AND ")
	_, err := a.pool.Exec(context.Background(), query, args...)
	return err
}

func queueInsert(batch *pgx.Batch, ptype string, rule []string) {
	vals := make([]any, 0, ruleColumns+1)
	vals = append(vals, ptype)
	for i := 0; i < ruleColumns; i++ {
		if i < len(rule) {
			vals = append(vals, rule[i])
		} else {
			vals = append(vals, "")
		}
	}
	batch.Queue(`INSERT INTO policy_rules (ptype, v0, v1, v2, v3, v4, v5) VALUES ($1, $2, $3, $4, $5, $6, $7)`, vals...)
}

func deleteQuery(ptype string, rule []string) (string, []any) {
	conds := []string{"ptype = $1"}
	args := []any{ptype}
	for i, val := range rule {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("v%d = $%d", i, len(args)))
	}
	return "DELETE FROM policy_rules WHERE " + strings.Join(conds, " AND "), args
}

func trimTrailingEmpty(vals []string) []string {
	end := len(vals)
	for end > 0 && vals[end-1] == "" {
		end--
	}
	return vals[:end]
}
