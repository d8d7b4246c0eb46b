package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/store"
)

// Load returns a player's progress records sorted by quest ID.
func (d *Database) Load(ctx context.Context, playerID string) ([]*quest.Progress, error) {
	rows, err := d.db.QueryContext(ctx, d.qb.Build(`
		SELECT quest_id, data FROM quest_progress
		WHERE player_id = ?
		ORDER BY quest_id`), playerID)
	if err != nil {
		return nil, quest.Wrap(quest.CodeStoreUnavailable, "", "load progress", err)
	}
	defer rows.Close()

	var records []*quest.Progress
	for rows.Next() {
		var questID string
		var data []byte
		if err := rows.Scan(&questID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		p, err := store.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("player %s quest %s: %w", playerID, questID, err)
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, quest.Wrap(quest.CodeStoreUnavailable, "", "load progress", err)
	}
	return records, nil
}

// Save upserts a progress record keyed by (playerID, quest ID).
func (d *Database) Save(ctx context.Context, playerID string, p *quest.Progress) error {
	data, err := store.Encode(p)
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx, d.qb.Build(`
		INSERT INTO quest_progress (player_id, quest_id, status, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (player_id, quest_id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at`),
		playerID, string(p.QuestID), string(p.Status), data, time.Now().UnixNano())
	if err != nil {
		return quest.Wrap(quest.CodeStoreUnavailable, p.QuestID, "save progress", err)
	}
	return nil
}

// CountByStatus returns how many records are in each status.
func (d *Database) CountByStatus(ctx context.Context) (map[quest.Status]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM quest_progress GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count progress: %w", err)
	}
	defer rows.Close()

	counts := make(map[quest.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[quest.Status(status)] = n
	}
	return counts, rows.Err()
}
