package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lawnchairsociety/questengine/internal/mail"
	"github.com/lawnchairsociety/questengine/internal/quest"
)

// Enqueue stores a pending reward mail. Enqueueing an existing id is a no-op.
func (d *Database) Enqueue(ctx context.Context, m *mail.Mail) error {
	data, err := json.Marshal(m.Reward)
	if err != nil {
		return fmt.Errorf("failed to encode reward: %w", err)
	}

	_, err = d.db.ExecContext(ctx, d.qb.Build(`
		INSERT INTO reward_mail (id, player_id, quest_id, reward, attempts, last_error, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.PlayerID, string(m.QuestID), data, m.Attempts, m.LastError, m.SentAt.UnixNano())
	if err != nil {
		if d.dialect.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to insert mail: %w", err)
	}
	return nil
}

// Pending returns up to limit mails, oldest first. limit <= 0 returns all.
func (d *Database) Pending(ctx context.Context, limit int) ([]*mail.Mail, error) {
	query := `
		SELECT id, player_id, quest_id, reward, attempts, last_error, sent_at
		FROM reward_mail
		ORDER BY sent_at, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, d.qb.Build(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mail: %w", err)
	}
	defer rows.Close()

	var mails []*mail.Mail
	for rows.Next() {
		var m mail.Mail
		var questID string
		var data []byte
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.PlayerID, &questID, &data, &m.Attempts, &m.LastError, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan mail: %w", err)
		}
		if err := json.Unmarshal(data, &m.Reward); err != nil {
			return nil, fmt.Errorf("mail %s has a corrupt reward: %w", m.ID, err)
		}
		m.QuestID = quest.ID(questID)
		m.SentAt = time.Unix(0, sentAt).UTC()
		mails = append(mails, &m)
	}
	return mails, rows.Err()
}

// Remove deletes a delivered mail.
func (d *Database) Remove(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, d.qb.Build(`DELETE FROM reward_mail WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete mail: %w", err)
	}
	return requireRow(result, id)
}

// Touch records a failed delivery attempt.
func (d *Database) Touch(ctx context.Context, id string, lastErr string) error {
	result, err := d.db.ExecContext(ctx, d.qb.Build(`
		UPDATE reward_mail SET attempts = attempts + 1, last_error = ?
		WHERE id = ?`), lastErr, id)
	if err != nil {
		return fmt.Errorf("failed to update mail: %w", err)
	}
	return requireRow(result, id)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireRow(result rowsAffecter, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check mail %s: %w", id, err)
	}
	if n == 0 {
		return mail.ErrNotFound
	}
	return nil
}
