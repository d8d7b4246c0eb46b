package progression

import (
	"context"
	"fmt"

	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/reward"
)

type objectiveDone struct {
	questID     quest.ID
	objectiveID string
}

// completion is a quest that completed under the session lock and still
// needs its reward delivered.
type completion struct {
	questID quest.ID
	grantID string
	reward  quest.Reward
}

// effects collects what to dispatch after a session lock is released.
type effects struct {
	started    []quest.ID
	objectives []objectiveDone
	completed  []completion
}

// StartQuest accepts a quest for a player. Abandoned quests and repeatable
// quests past their rollover start over with fresh progress.
func (e *Engine) StartQuest(ctx context.Context, playerID string, questID quest.ID) error {
	def, ok := e.defs.Get(questID)
	if !ok {
		return quest.Errorf(quest.CodeUnknownQuest, questID, "no such quest")
	}
	level, gated, err := e.playerLevel(ctx, playerID)
	if err != nil {
		return err
	}

	fx, err := e.withSession(ctx, playerID, func(s *session) (*effects, error) {
		if err := e.eligibility(s, def, level, gated); err != nil {
			return nil, err
		}

		rec := quest.NewProgress(playerID, def)
		if err := rec.Start(e.now()); err != nil {
			return nil, err
		}
		s.records[questID] = rec
		e.snapshot(rec)
		return &effects{started: []quest.ID{questID}}, nil
	})
	if err != nil {
		return err
	}

	logger.Info("Quest started", "player", playerID, "quest", questID)
	e.dispatch(playerID, fx)
	return nil
}

// AbandonQuest gives up an in-progress quest. No reward is granted.
func (e *Engine) AbandonQuest(ctx context.Context, playerID string, questID quest.ID) error {
	if _, ok := e.defs.Get(questID); !ok {
		return quest.Errorf(quest.CodeUnknownQuest, questID, "no such quest")
	}

	_, err := e.withSession(ctx, playerID, func(s *session) (*effects, error) {
		rec, ok := s.records[questID]
		if !ok {
			return nil, quest.Errorf(quest.CodeNotInProgress, questID, "quest is %s", quest.StatusNotStarted)
		}
		if err := rec.Abandon(); err != nil {
			return nil, err
		}
		e.snapshot(rec)
		return nil, nil
	})
	if err != nil {
		return err
	}

	logger.Info("Quest abandoned", "player", playerID, "quest", questID)
	return nil
}

// OnEvent applies a gameplay event to every in-progress quest of the player.
// Events that match nothing are ignored. The only error is a session that
// cannot be loaded.
func (e *Engine) OnEvent(ctx context.Context, playerID string, ev quest.Event) error {
	fx, err := e.withSession(ctx, playerID, func(s *session) (*effects, error) {
		return e.apply(s, playerID, ev), nil
	})
	if err != nil {
		return err
	}
	e.dispatch(playerID, fx)
	return nil
}

// apply runs the matcher over each quest's eligible objectives. Caller holds
// the session lock.
func (e *Engine) apply(s *session, playerID string, ev quest.Event) *effects {
	now := e.now()
	fx := &effects{}

	var touched []*quest.Progress
	for _, id := range s.sortedIDs() {
		rec := s.records[id]
		if rec.Status != quest.StatusInProgress {
			continue
		}

		credited := false
		for _, obj := range rec.EligibleObjectives() {
			delta, ok := quest.Match(ev, obj)
			if !ok {
				continue
			}
			done, err := rec.ApplyDelta(obj.ObjectiveID(), delta, now)
			if err != nil {
				logger.Error("Failed to apply quest progress",
					"player", playerID, "quest", id, "objective", obj.ObjectiveID(), "error", err)
				continue
			}
			credited = true
			if done {
				fx.objectives = append(fx.objectives, objectiveDone{id, obj.ObjectiveID()})
			}
		}
		if credited {
			touched = append(touched, rec)
		}
	}

	for _, rec := range touched {
		if rec.RecomputeCompletion(now) {
			rec.Reward = quest.RewardState{
				Status:  quest.RewardPending,
				GrantID: reward.GrantKey(playerID, rec.QuestID, rec.StartedAt),
			}
			fx.completed = append(fx.completed, completion{
				questID: rec.QuestID,
				grantID: rec.Reward.GrantID,
				reward:  rec.Definition().Reward,
			})
			logger.Info("Quest completed", "player", playerID, "quest", rec.QuestID)
		}
		e.snapshot(rec)
	}
	return fx
}

// GetProgress returns a copy of the player's record for a quest.
func (e *Engine) GetProgress(ctx context.Context, playerID string, questID quest.ID) (*quest.Progress, bool, error) {
	var found *quest.Progress
	_, err := e.withSession(ctx, playerID, func(s *session) (*effects, error) {
		if rec, ok := s.records[questID]; ok {
			found = rec.Clone()
		}
		return nil, nil
	})
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// Progress returns copies of all the player's records, sorted by quest ID.
func (e *Engine) Progress(ctx context.Context, playerID string) ([]*quest.Progress, error) {
	var records []*quest.Progress
	_, err := e.withSession(ctx, playerID, func(s *session) (*effects, error) {
		for _, id := range s.sortedIDs() {
			records = append(records, s.records[id].Clone())
		}
		return nil, nil
	})
	return records, err
}

// Eligibility returns nil when the player may start the quest, or the
// reason they may not.
func (e *Engine) Eligibility(ctx context.Context, playerID string, questID quest.ID) error {
	def, ok := e.defs.Get(questID)
	if !ok {
		return quest.Errorf(quest.CodeUnknownQuest, questID, "no such quest")
	}
	level, gated, err := e.playerLevel(ctx, playerID)
	if err != nil {
		return err
	}
	_, err = e.withSession(ctx, playerID, func(s *session) (*effects, error) {
		return nil, e.eligibility(s, def, level, gated)
	})
	return err
}

// IsEligible reports whether the player may start the quest now.
func (e *Engine) IsEligible(ctx context.Context, playerID string, questID quest.ID) bool {
	return e.Eligibility(ctx, playerID, questID) == nil
}

// Available lists the quests the player may start now.
func (e *Engine) Available(ctx context.Context, playerID string) ([]*quest.Definition, error) {
	level, gated, err := e.playerLevel(ctx, playerID)
	if err != nil {
		return nil, err
	}
	var defs []*quest.Definition
	_, err = e.withSession(ctx, playerID, func(s *session) (*effects, error) {
		for _, def := range e.defs.All() {
			if e.eligibility(s, def, level, gated) == nil {
				defs = append(defs, def)
			}
		}
		return nil, nil
	})
	return defs, err
}

// eligibility checks the level gate, prerequisites and the current record.
// Caller holds the session lock.
func (e *Engine) eligibility(s *session, def *quest.Definition, level int, gated bool) error {
	if rec, ok := s.records[def.ID]; ok {
		switch rec.Status {
		case quest.StatusInProgress:
			return quest.Errorf(quest.CodeAlreadyStarted, def.ID, "quest is in progress")
		case quest.StatusCompleted:
			boundary, due := e.rolloverBoundary()
			if !due || !resettable(rec, boundary) {
				return quest.Errorf(quest.CodeAlreadyStarted, def.ID, "quest is completed")
			}
		}
	}

	if gated && !def.InLevelRange(level) {
		return quest.Errorf(quest.CodeNotEligible, def.ID, "level %d outside %d-%d", level, def.MinLevel, def.MaxLevel)
	}

	for _, prereq := range def.Prereqs {
		rec, ok := s.records[prereq]
		if !ok || rec.Status != quest.StatusCompleted {
			return quest.Errorf(quest.CodeNotEligible, def.ID, "requires %s", prereq)
		}
	}
	return nil
}

// playerLevel reads the player's level. gated is false when no level source
// is configured.
func (e *Engine) playerLevel(ctx context.Context, playerID string) (level int, gated bool, err error) {
	if e.levels == nil {
		return 0, false, nil
	}
	level, err = e.levels.Level(ctx, playerID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read level of %s: %w", playerID, err)
	}
	return level, true, nil
}
