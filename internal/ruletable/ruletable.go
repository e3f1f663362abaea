// Package ruletable defines the installed-rule service consumed by the
// reconciler, plus its SQLite-backed implementation. The delta apply is
// a single atomic call: on failure neither removal nor addition took
// effect.
package ruletable

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/luckyPipewrench/headerlock/internal/rules"
)

// Table is the live rule table contract.
type Table interface {
	// List returns the installed rules ordered by id.
	List(ctx context.Context) ([]rules.Rule, error)
	// ApplyDelta removes removeIDs and installs add in one atomic
	// replace call. Callers never retry; a failed apply leaves the
	// table unchanged.
	ApplyDelta(ctx context.Context, removeIDs []int, add []rules.Rule) error
}

// SQLTable stores rules in the shared state database.
type SQLTable struct {
	db *sql.DB
}

// New wraps the database handle opened by the store.
func New(db *sql.DB) *SQLTable {
	return &SQLTable{db: db}
}

// List implements Table.
func (t *SQLTable) List(ctx context.Context) ([]rules.Rule, error) {
	rows, err := t.db.QueryContext(ctx, "SELECT payload FROM rules ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing installed rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []rules.Rule
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning rule row: %w", err)
		}
		var r rules.Rule
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("decoding installed rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating installed rules: %w", err)
	}
	return out, nil
}

// ApplyDelta implements Table. Removals and additions share one
// transaction, so the replace is all-or-nothing.
func (t *SQLTable) ApplyDelta(ctx context.Context, removeIDs []int, add []rules.Rule) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting rule apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(removeIDs) > 0 {
		placeholders := strings.Repeat("?,", len(removeIDs))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(removeIDs))
		for i, id := range removeIDs {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM rules WHERE id IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("removing rules: %w", err)
		}
	}

	for _, r := range add {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding rule %d: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO rules (id, payload) VALUES (?, ?)", r.ID, string(payload)); err != nil {
			return fmt.Errorf("installing rule %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rule apply: %w", err)
	}
	return nil
}
