package progression

import (
	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/quest"
)

// Notifier receives presentation hooks. Calls are fire-and-forget: a
// notifier that panics is logged and never affects engine state.
type Notifier interface {
	QuestStarted(playerID string, questID quest.ID)
	ObjectiveComplete(playerID string, questID quest.ID, objectiveID string)
	QuestComplete(playerID string, questID quest.ID)
	// RewardDeferred reports reward items queued for later delivery.
	RewardDeferred(playerID string, questID quest.ID, undelivered quest.Reward)
}

// NopNotifier ignores every notification.
type NopNotifier struct{}

func (NopNotifier) QuestStarted(string, quest.ID)                 {}
func (NopNotifier) ObjectiveComplete(string, quest.ID, string)    {}
func (NopNotifier) QuestComplete(string, quest.ID)                {}
func (NopNotifier) RewardDeferred(string, quest.ID, quest.Reward) {}

// notify runs one hook and swallows its panics.
func notify(hook string, playerID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Notifier panicked", "hook", hook, "player", playerID, "panic", r)
		}
	}()
	fn()
}
