package server

import (
	"sync"

	"github.com/lawnchairsociety/questengine/internal/progression"
	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/text"
)

// Notice text keys. {0} is the localized quest name; objective notices get
// the localized objective line as {1}.
const (
	keyNoticeStarted   = "notice.quest_started"
	keyNoticeObjective = "notice.objective_complete"
	keyNoticeComplete  = "notice.quest_complete"
	keyNoticeDeferred  = "notice.reward_deferred"
)

// Hub tracks connected clients by player and pushes localized notices to
// every connection of the player concerned.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}

	defs progression.Definitions
	text *text.Resolver
}

// NewHub creates a hub that renders notices with resolver.
func NewHub(defs progression.Definitions, resolver *text.Resolver) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		defs:    defs,
		text:    resolver,
	}
}

// Register adds a client. It returns the player's connection count.
func (h *Hub) Register(c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.playerID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.playerID] = set
	}
	set[c] = struct{}{}
	return len(set)
}

// Unregister removes a client. It returns the player's remaining
// connection count.
func (h *Hub) Unregister(c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[c.playerID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.playerID)
		return 0
	}
	return len(set)
}

// Players returns the number of players with at least one connection.
func (h *Hub) Players() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.Close()
	}
}

func (h *Hub) push(playerID string, build func(locale string) Notice) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[playerID]))
	for c := range h.clients[playerID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	rendered := make(map[string]Notice)
	for _, c := range targets {
		n, ok := rendered[c.locale]
		if !ok {
			n = build(c.locale)
			n.Type = FrameNotice
			rendered[c.locale] = n
		}
		c.Send(n)
	}
}

func (h *Hub) questName(questID quest.ID, locale string) string {
	if def, ok := h.defs.Get(questID); ok {
		return h.text.QuestName(def, locale)
	}
	return string(questID)
}

func (h *Hub) QuestStarted(playerID string, questID quest.ID) {
	h.push(playerID, func(locale string) Notice {
		return Notice{
			Kind:  "quest_started",
			Quest: questID,
			Text:  h.text.Describe(keyNoticeStarted, locale, h.questName(questID, locale)),
		}
	})
}

func (h *Hub) ObjectiveComplete(playerID string, questID quest.ID, objectiveID string) {
	h.push(playerID, func(locale string) Notice {
		line := objectiveID
		if def, ok := h.defs.Get(questID); ok {
			if obj, ok := def.Objective(objectiveID); ok {
				line = h.text.ObjectiveText(def, &quest.ObjectiveProgress{
					ObjectiveID: objectiveID,
					Current:     obj.Required(),
					Required:    obj.Required(),
					Completed:   true,
				}, locale)
			}
		}
		return Notice{
			Kind:      "objective_complete",
			Quest:     questID,
			Objective: objectiveID,
			Text:      h.text.Describe(keyNoticeObjective, locale, h.questName(questID, locale), line),
		}
	})
}

func (h *Hub) QuestComplete(playerID string, questID quest.ID) {
	h.push(playerID, func(locale string) Notice {
		return Notice{
			Kind:  "quest_complete",
			Quest: questID,
			Text:  h.text.Describe(keyNoticeComplete, locale, h.questName(questID, locale)),
		}
	})
}

func (h *Hub) RewardDeferred(playerID string, questID quest.ID, undelivered quest.Reward) {
	h.push(playerID, func(locale string) Notice {
		return Notice{
			Kind:        "reward_deferred",
			Quest:       questID,
			Text:        h.text.Describe(keyNoticeDeferred, locale, h.questName(questID, locale)),
			Undelivered: &undelivered,
		}
	})
}
