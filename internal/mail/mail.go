// Package mail queues quest rewards that could not be delivered directly.
// Each mail is retried until its reward lands in the player's ledger.
package mail

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lawnchairsociety/questengine/internal/quest"
)

// ErrNotFound is returned when a mail id is not queued.
var ErrNotFound = errors.New("mail not found")

// Mail is a pending reward delivery. ID doubles as the idempotency key of
// the grant, so redelivering the same mail never pays out twice.
type Mail struct {
	ID        string
	PlayerID  string
	QuestID   quest.ID
	Reward    quest.Reward
	Attempts  int
	LastError string
	SentAt    time.Time
}

// New creates a mail with a fresh random id.
func New(playerID string, questID quest.ID, reward quest.Reward, now time.Time) *Mail {
	return NewWithID(uuid.NewString(), playerID, questID, reward, now)
}

// NewWithID creates a mail whose id is an existing grant key.
func NewWithID(id, playerID string, questID quest.ID, reward quest.Reward, now time.Time) *Mail {
	return &Mail{
		ID:       id,
		PlayerID: playerID,
		QuestID:  questID,
		Reward:   reward,
		SentAt:   now,
	}
}

// Queue stores pending reward mail.
type Queue interface {
	// Enqueue stores m. Enqueueing an id that is already queued is a no-op.
	Enqueue(ctx context.Context, m *Mail) error
	// Pending returns up to limit mails, oldest first. limit <= 0 returns all.
	Pending(ctx context.Context, limit int) ([]*Mail, error)
	// Remove deletes a delivered mail.
	Remove(ctx context.Context, id string) error
	// Touch records a failed delivery attempt.
	Touch(ctx context.Context, id string, lastErr string) error
}

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu    sync.Mutex
	mails map[string]*Mail
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{mails: make(map[string]*Mail)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, m *Mail) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.mails[m.ID]; exists {
		return nil
	}
	c := *m
	q.mails[m.ID] = &c
	return nil
}

func (q *MemoryQueue) Pending(ctx context.Context, limit int) ([]*Mail, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	mails := make([]*Mail, 0, len(q.mails))
	for _, m := range q.mails {
		c := *m
		mails = append(mails, &c)
	}
	SortOldestFirst(mails)
	if limit > 0 && len(mails) > limit {
		mails = mails[:limit]
	}
	return mails, nil
}

func (q *MemoryQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.mails[id]; !exists {
		return ErrNotFound
	}
	delete(q.mails, id)
	return nil
}

func (q *MemoryQueue) Touch(ctx context.Context, id string, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, exists := q.mails[id]
	if !exists {
		return ErrNotFound
	}
	m.Attempts++
	m.LastError = lastErr
	return nil
}

// SortOldestFirst orders mails by send time, then id.
func SortOldestFirst(mails []*Mail) {
	sort.Slice(mails, func(i, j int) bool {
		if !mails[i].SentAt.Equal(mails[j].SentAt) {
			return mails[i].SentAt.Before(mails[j].SentAt)
		}
		return mails[i].ID < mails[j].ID
	})
}
