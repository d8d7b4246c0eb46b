package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/quest"
)

// LastRollover returns the most recent daily rollover at or before now.
func LastRollover(now time.Time, hour int) time.Time {
	now = now.UTC()
	b := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if now.Before(b) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

// NextRollover returns the first daily rollover after now.
func NextRollover(now time.Time, hour int) time.Time {
	return LastRollover(now, hour).AddDate(0, 0, 1)
}

// rolloverBoundary returns the last rollover, and false when daily resets
// are disabled.
func (e *Engine) rolloverBoundary() (time.Time, bool) {
	if !e.daily {
		return time.Time{}, false
	}
	return LastRollover(e.now(), e.rolloverHour), true
}

// resettable reports whether a completed repeatable quest finished before
// boundary and has no reward still pending.
func resettable(rec *quest.Progress, boundary time.Time) bool {
	def := rec.Definition()
	return def != nil &&
		def.Category.Repeatable() &&
		rec.Status == quest.StatusCompleted &&
		rec.Reward.Status != quest.RewardPending &&
		rec.CompletedAt != nil &&
		rec.CompletedAt.Before(boundary)
}

// ResetCategory replaces completed quests of a repeatable category that
// finished before the given time with fresh, not-started records, for every
// online player. Offline players are reset when their session loads. It
// returns the number of records reset.
func (e *Engine) ResetCategory(ctx context.Context, category quest.Category, before time.Time) (int, error) {
	if !category.Repeatable() {
		return 0, fmt.Errorf("category %q is not repeatable", category)
	}

	e.mu.RLock()
	sessions := make(map[string]*session, len(e.sessions))
	for id, s := range e.sessions {
		sessions[id] = s
	}
	e.mu.RUnlock()

	reset := 0
	for playerID, s := range sessions {
		if err := ctx.Err(); err != nil {
			return reset, err
		}

		s.mu.Lock()
		for _, id := range s.sortedIDs() {
			rec := s.records[id]
			def := rec.Definition()
			if def.Category != category || !resettable(rec, before) {
				continue
			}
			fresh := quest.NewProgress(playerID, def)
			s.records[id] = fresh
			e.snapshot(fresh)
			reset++
		}
		s.mu.Unlock()
	}

	logger.Info("Quest category reset", "category", category, "before", before, "records", reset)
	return reset, nil
}
