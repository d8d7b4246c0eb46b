package database

import (
	"context"
	"fmt"
	"strings"
)

// copyTables lists every table in foreign-key order with its columns.
var copyTables = []struct {
	name    string
	columns []string
}{
	{"ledger_players", []string{"player_id", "experience", "inventory_slots"}},
	{"ledger_currency", []string{"player_id", "currency", "amount"}},
	{"ledger_items", []string{"player_id", "item_kind", "quantity"}},
	{"ledger_grants", []string{"grant_id", "player_id", "applied_at"}},
	{"ledger_remainders", []string{"grant_id", "items"}},
	{"quest_progress", []string{"player_id", "quest_id", "status", "data", "updated_at"}},
	{"reward_mail", []string{"id", "player_id", "quest_id", "reward", "attempts", "last_error", "sent_at"}},
}

// CopyResult is the number of rows read and written for one table.
type CopyResult struct {
	Table   string
	Read    int64
	Written int64
}

// CopyTo copies every row into dst, typically from SQLite to PostgreSQL.
// Rows whose key already exists in dst are left alone, so a copy can be
// re-run after an interruption. With dryRun nothing is written.
func (d *Database) CopyTo(ctx context.Context, dst *Database, dryRun bool) ([]CopyResult, error) {
	results := make([]CopyResult, 0, len(copyTables))
	for _, t := range copyTables {
		res, err := d.copyTable(ctx, dst, t.name, t.columns, dryRun)
		if err != nil {
			return results, fmt.Errorf("failed to copy %s: %w", t.name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *Database) copyTable(ctx context.Context, dst *Database, table string, columns []string, dryRun bool) (CopyResult, error) {
	res := CopyResult{Table: table}
	cols := strings.Join(columns, ", ")

	rows, err := d.db.QueryContext(ctx, "SELECT "+cols+" FROM "+table)
	if err != nil {
		return res, err
	}
	defer rows.Close()

	tx, err := dst.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insert := dst.qb.Build("INSERT INTO " + table + " (" + cols + ") VALUES (" +
		strings.Join(placeholders, ", ") + ") ON CONFLICT DO NOTHING")

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return res, err
		}
		res.Read++
		if dryRun {
			continue
		}

		result, err := tx.ExecContext(ctx, insert, values...)
		if err != nil {
			return res, err
		}
		if n, err := result.RowsAffected(); err == nil {
			res.Written += n
		}
	}
	if err := rows.Err(); err != nil {
		return res, err
	}

	if dryRun {
		return res, nil
	}
	return res, tx.Commit()
}
