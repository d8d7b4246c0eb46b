package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lawnchairsociety/questengine/internal/leveling"
	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/reward"
)

// ensurePlayer creates the ledger row for a player if missing.
func (d *Database) ensurePlayer(ctx context.Context, tx *sql.Tx, playerID string) error {
	_, err := tx.ExecContext(ctx, d.qb.Build(`
		INSERT INTO ledger_players (player_id, experience, inventory_slots)
		VALUES (?, 0, ?)
		ON CONFLICT (player_id) DO NOTHING`), playerID, d.defaultSlots)
	if err != nil {
		return fmt.Errorf("failed to create ledger player: %w", err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InventorySpace reports free slots and the item kinds a player holds.
func (d *Database) InventorySpace(ctx context.Context, playerID string) (reward.Space, error) {
	slots := d.defaultSlots
	err := d.db.QueryRowContext(ctx, d.qb.Build(
		`SELECT inventory_slots FROM ledger_players WHERE player_id = ?`), playerID).Scan(&slots)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return reward.Space{}, fmt.Errorf("failed to read inventory slots: %w", err)
	}
	return d.inventorySpace(ctx, d.db, playerID, slots)
}

func (d *Database) inventorySpace(ctx context.Context, q queryer, playerID string, slots int) (reward.Space, error) {
	rows, err := q.QueryContext(ctx, d.qb.Build(
		`SELECT item_kind FROM ledger_items WHERE player_id = ? AND quantity > 0`), playerID)
	if err != nil {
		return reward.Space{}, fmt.Errorf("failed to read inventory: %w", err)
	}
	defer rows.Close()

	space := reward.Space{FreeSlots: slots, Held: make(map[string]bool)}
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return reward.Space{}, fmt.Errorf("failed to scan item: %w", err)
		}
		space.Held[kind] = true
		space.FreeSlots--
	}
	if space.FreeSlots < 0 {
		space.FreeSlots = 0
	}
	return space, rows.Err()
}

// Apply pays out a grant in one transaction. The player's ledger row is
// locked while free slots are counted, so concurrent grants cannot both
// claim the same slot. Stacks that do not fit are stored with the grant and
// returned again, with false, when the grant ID is repeated.
func (d *Database) Apply(ctx context.Context, playerID string, g reward.Grant) (bool, []quest.ItemStack, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := d.ensurePlayer(ctx, tx, playerID); err != nil {
		return false, nil, err
	}

	var slots int
	err = tx.QueryRowContext(ctx, d.qb.Build(
		`SELECT inventory_slots FROM ledger_players WHERE player_id = ?`+d.dialect.LockRowClause()), playerID).Scan(&slots)
	if err != nil {
		return false, nil, fmt.Errorf("failed to lock ledger player: %w", err)
	}

	result, err := tx.ExecContext(ctx, d.qb.Build(`
		INSERT INTO ledger_grants (grant_id, player_id, applied_at)
		VALUES (?, ?, ?)
		ON CONFLICT (grant_id) DO NOTHING`), g.ID, playerID, time.Now().UnixNano())
	if err != nil {
		return false, nil, fmt.Errorf("failed to record grant: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("failed to check grant: %w", err)
	}
	if inserted == 0 {
		rest, err := d.remainder(ctx, tx, g.ID)
		return false, rest, err
	}

	space, err := d.inventorySpace(ctx, tx, playerID, slots)
	if err != nil {
		return false, nil, err
	}
	fits, rest := reward.SplitItems(g.Items, space)

	for currency, amount := range g.Currency {
		if amount == 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, d.qb.Build(`
			INSERT INTO ledger_currency (player_id, currency, amount)
			VALUES (?, ?, ?)
			ON CONFLICT (player_id, currency) DO UPDATE SET
				amount = ledger_currency.amount + excluded.amount`),
			playerID, string(currency), amount)
		if err != nil {
			return false, nil, fmt.Errorf("failed to credit %s: %w", currency, err)
		}
	}

	for _, stack := range fits {
		_, err := tx.ExecContext(ctx, d.qb.Build(`
			INSERT INTO ledger_items (player_id, item_kind, quantity)
			VALUES (?, ?, ?)
			ON CONFLICT (player_id, item_kind) DO UPDATE SET
				quantity = ledger_items.quantity + excluded.quantity`),
			playerID, stack.Kind, stack.Quantity)
		if err != nil {
			return false, nil, fmt.Errorf("failed to add %s: %w", stack.Kind, err)
		}
	}

	if g.Experience != 0 {
		_, err := tx.ExecContext(ctx, d.qb.Build(
			`UPDATE ledger_players SET experience = experience + ? WHERE player_id = ?`),
			g.Experience, playerID)
		if err != nil {
			return false, nil, fmt.Errorf("failed to add experience: %w", err)
		}
	}

	if len(rest) > 0 {
		data, err := json.Marshal(rest)
		if err != nil {
			return false, nil, fmt.Errorf("failed to encode remainder: %w", err)
		}
		if _, err := tx.ExecContext(ctx, d.qb.Build(
			`INSERT INTO ledger_remainders (grant_id, items) VALUES (?, ?)`), g.ID, data); err != nil {
			return false, nil, fmt.Errorf("failed to record remainder: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("failed to commit grant: %w", err)
	}
	return true, rest, nil
}

// remainder reads the stacks an applied grant could not deliver.
func (d *Database) remainder(ctx context.Context, q queryer, grantID string) ([]quest.ItemStack, error) {
	var data []byte
	err := q.QueryRowContext(ctx, d.qb.Build(
		`SELECT items FROM ledger_remainders WHERE grant_id = ?`), grantID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read remainder: %w", err)
	}

	var rest []quest.ItemStack
	if err := json.Unmarshal(data, &rest); err != nil {
		return nil, fmt.Errorf("failed to decode remainder: %w", err)
	}
	return rest, nil
}

// Level derives a player's level from ledger experience.
func (d *Database) Level(ctx context.Context, playerID string) (int, error) {
	var xp int
	err := d.db.QueryRowContext(ctx, d.qb.Build(
		`SELECT experience FROM ledger_players WHERE player_id = ?`), playerID).Scan(&xp)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read experience: %w", err)
	}
	return leveling.LevelForXP(xp), nil
}

// Balance returns a player's full ledger.
func (d *Database) Balance(ctx context.Context, playerID string) (reward.Balance, error) {
	b := reward.Balance{
		Currency: make(map[quest.Currency]int),
		Items:    make(map[string]int),
		Slots:    d.defaultSlots,
	}

	err := d.db.QueryRowContext(ctx, d.qb.Build(
		`SELECT experience, inventory_slots FROM ledger_players WHERE player_id = ?`), playerID).
		Scan(&b.Experience, &b.Slots)
	if errors.Is(err, sql.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return b, fmt.Errorf("failed to read ledger player: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, d.qb.Build(
		`SELECT currency, amount FROM ledger_currency WHERE player_id = ?`), playerID)
	if err != nil {
		return b, fmt.Errorf("failed to read currency: %w", err)
	}
	for rows.Next() {
		var currency string
		var amount int
		if err := rows.Scan(&currency, &amount); err != nil {
			rows.Close()
			return b, fmt.Errorf("failed to scan currency: %w", err)
		}
		b.Currency[quest.Currency(currency)] = amount
	}
	rows.Close()

	rows, err = d.db.QueryContext(ctx, d.qb.Build(
		`SELECT item_kind, quantity FROM ledger_items WHERE player_id = ?`), playerID)
	if err != nil {
		return b, fmt.Errorf("failed to read items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var qty int
		if err := rows.Scan(&kind, &qty); err != nil {
			return b, fmt.Errorf("failed to scan item: %w", err)
		}
		b.Items[kind] = qty
	}
	return b, rows.Err()
}

// SetSlots sets a player's inventory capacity.
func (d *Database) SetSlots(ctx context.Context, playerID string, slots int) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := d.ensurePlayer(ctx, tx, playerID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, d.qb.Build(
		`UPDATE ledger_players SET inventory_slots = ? WHERE player_id = ?`), slots, playerID); err != nil {
		return fmt.Errorf("failed to set slots: %w", err)
	}
	return tx.Commit()
}
