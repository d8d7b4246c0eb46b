// Package store persists quest progress records.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/lawnchairsociety/questengine/internal/quest"
)

// ProgressStore is durable storage for quest progress. Save is an upsert
// keyed by (playerID, questID) and must be safe to retry. Loaded records are
// not bound to definitions.
type ProgressStore interface {
	Load(ctx context.Context, playerID string) ([]*quest.Progress, error)
	Save(ctx context.Context, playerID string, p *quest.Progress) error
}

// Encode serializes a progress record for document-style stores.
func Encode(p *quest.Progress) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress %s/%s: %w", p.PlayerID, p.QuestID, err)
	}
	return data, nil
}

// Decode parses a record written by Encode.
func Decode(data []byte) (*quest.Progress, error) {
	var p quest.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	if p.Objectives == nil {
		p.Objectives = make(map[string]*quest.ObjectiveProgress)
	}
	return &p, nil
}

// Memory is an in-process ProgressStore. Records are stored encoded so
// callers never share memory with the store.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[quest.ID][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]map[quest.ID][]byte)}
}

// Load returns the player's records sorted by quest ID.
func (m *Memory) Load(ctx context.Context, playerID string) ([]*quest.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byQuest := m.records[playerID]
	ids := make([]quest.ID, 0, len(byQuest))
	for id := range byQuest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	records := make([]*quest.Progress, 0, len(ids))
	for _, id := range ids {
		p, err := Decode(byQuest[id])
		if err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	return records, nil
}

// Save upserts a record.
func (m *Memory) Save(ctx context.Context, playerID string, p *quest.Progress) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.records[playerID] == nil {
		m.records[playerID] = make(map[quest.ID][]byte)
	}
	m.records[playerID][p.QuestID] = data
	return nil
}
