// Package notify provides Notifier implementations: structured logging,
// fan-out to several notifiers, and publishing to an AMQP exchange.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/progression"
	"github.com/lawnchairsociety/questengine/internal/quest"
)

// Kind names a notification type.
type Kind string

const (
	KindQuestStarted      Kind = "quest_started"
	KindObjectiveComplete Kind = "objective_complete"
	KindQuestComplete     Kind = "quest_complete"
	KindRewardDeferred    Kind = "reward_deferred"
)

// Message is the wire form of a notification.
type Message struct {
	ID          string        `json:"id"`
	Kind        Kind          `json:"kind"`
	PlayerID    string        `json:"player_id"`
	QuestID     quest.ID      `json:"quest_id"`
	ObjectiveID string        `json:"objective_id,omitempty"`
	Undelivered *quest.Reward `json:"undelivered,omitempty"`
	At          time.Time     `json:"at"`
}

func newMessage(kind Kind, playerID string, questID quest.ID) Message {
	return Message{
		ID:       uuid.NewString(),
		Kind:     kind,
		PlayerID: playerID,
		QuestID:  questID,
		At:       time.Now().UTC(),
	}
}

// Log writes every notification to the process logger.
type Log struct{}

func (Log) QuestStarted(playerID string, questID quest.ID) {
	logger.Info("Notify quest started", "player", playerID, "quest", questID)
}

func (Log) ObjectiveComplete(playerID string, questID quest.ID, objectiveID string) {
	logger.Info("Notify objective complete", "player", playerID, "quest", questID, "objective", objectiveID)
}

func (Log) QuestComplete(playerID string, questID quest.ID) {
	logger.Info("Notify quest complete", "player", playerID, "quest", questID)
}

func (Log) RewardDeferred(playerID string, questID quest.ID, undelivered quest.Reward) {
	logger.Info("Notify reward deferred", "player", playerID, "quest", questID, "items", len(undelivered.Items))
}

// Multi fans notifications out to several notifiers. A notifier that panics
// does not stop the others.
type Multi []progression.Notifier

func (m Multi) each(hook string, fn func(n progression.Notifier)) {
	for _, n := range m {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Notifier panicked", "hook", hook, "panic", r)
				}
			}()
			fn(n)
		}()
	}
}

func (m Multi) QuestStarted(playerID string, questID quest.ID) {
	m.each("quest_started", func(n progression.Notifier) { n.QuestStarted(playerID, questID) })
}

func (m Multi) ObjectiveComplete(playerID string, questID quest.ID, objectiveID string) {
	m.each("objective_complete", func(n progression.Notifier) { n.ObjectiveComplete(playerID, questID, objectiveID) })
}

func (m Multi) QuestComplete(playerID string, questID quest.ID) {
	m.each("quest_complete", func(n progression.Notifier) { n.QuestComplete(playerID, questID) })
}

func (m Multi) RewardDeferred(playerID string, questID quest.ID, undelivered quest.Reward) {
	m.each("reward_deferred", func(n progression.Notifier) { n.RewardDeferred(playerID, questID, undelivered) })
}
