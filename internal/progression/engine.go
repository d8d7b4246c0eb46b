// Package progression drives quest progress for online players. Each player
// has a session holding their quest records; every operation on a player is
// serialized by that session's lock, and all I/O happens after the lock is
// released. Store writes and reward grants run in the background, so a
// completing event returns before its reward lands.
package progression

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/mail"
	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/retry"
	"github.com/lawnchairsociety/questengine/internal/reward"
	"github.com/lawnchairsociety/questengine/internal/store"
)

// Definitions is the read-only quest catalog.
type Definitions interface {
	Get(id quest.ID) (*quest.Definition, bool)
	All() []*quest.Definition
}

// RewardGranter pays a quest reward exactly once per grant ID.
type RewardGranter interface {
	Grant(ctx context.Context, playerID, grantID string, questID quest.ID, r quest.Reward) (reward.Result, error)
}

// LevelSource reports a player's current level.
type LevelSource interface {
	Level(ctx context.Context, playerID string) (int, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the presentation hooks.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLevels enables the level gate. Without a level source quests are
// offered regardless of level.
func WithLevels(levels LevelSource) Option {
	return func(e *Engine) { e.levels = levels }
}

// WithMailQueue sets where undelivered rewards are queued.
func WithMailQueue(q mail.Queue) Option {
	return func(e *Engine) { e.mail = q }
}

// WithRetry sets the backoff policy for store writes and reward grants.
func WithRetry(p retry.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMailInterval sets how often Run redelivers rewards.
func WithMailInterval(d time.Duration) Option {
	return func(e *Engine) { e.mailInterval = d }
}

// WithDailyRollover enables the daily reset of repeatable quests at the
// given UTC hour.
func WithDailyRollover(hour int) Option {
	return func(e *Engine) {
		e.daily = true
		e.rolloverHour = hour
	}
}

// session holds one player's quest records.
type session struct {
	mu      sync.Mutex
	records map[quest.ID]*quest.Progress
	closed  bool
}

// Engine is the quest progression engine.
type Engine struct {
	defs     Definitions
	store    store.ProgressStore
	writer   *store.Writer
	granter  RewardGranter
	notifier Notifier
	levels   LevelSource
	mail     mail.Queue
	policy   retry.Policy
	now      func() time.Time

	mailInterval time.Duration
	daily        bool
	rolloverHour int

	mu       sync.RWMutex
	sessions map[string]*session
	loads    singleflight.Group

	grantMu  sync.Mutex
	inflight map[string]bool // Grant IDs being delivered

	// ctx bounds background grants; stop cancels it when Close gives up
	// waiting.
	ctx     context.Context
	stop    context.CancelFunc
	workers grantWorkers
}

// New creates an engine. Progress snapshots are written to st by a
// background writer; call Close to flush it.
func New(defs Definitions, st store.ProgressStore, granter RewardGranter, opts ...Option) *Engine {
	e := &Engine{
		defs:         defs,
		store:        st,
		granter:      granter,
		notifier:     NopNotifier{},
		mail:         mail.NewMemoryQueue(),
		policy:       retry.DefaultPolicy(),
		now:          time.Now,
		mailInterval: time.Minute,
		sessions:     make(map[string]*session),
		inflight:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ctx, e.stop = context.WithCancel(context.Background())
	e.writer = store.NewWriter(st, e.policy)
	return e
}

// OpenSession loads a player's records. Other operations open the session
// on demand; calling this at login surfaces store errors early.
func (e *Engine) OpenSession(ctx context.Context, playerID string) error {
	_, err := e.session(ctx, playerID)
	return err
}

// CloseSession waits for the player's reward grants, flushes pending writes
// and evicts the player's session. On error the session stays cached.
func (e *Engine) CloseSession(ctx context.Context, playerID string) error {
	e.mu.RLock()
	s := e.sessions[playerID]
	e.mu.RUnlock()
	if s == nil {
		return nil
	}

	if err := e.workers.wait(ctx, playerID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := e.writer.Flush(ctx); err != nil {
		return err
	}
	s.closed = true

	e.mu.Lock()
	if e.sessions[playerID] == s {
		delete(e.sessions, playerID)
	}
	e.mu.Unlock()
	return nil
}

// Online returns the number of cached sessions.
func (e *Engine) Online() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// PendingWrites returns the number of progress snapshots not yet stored.
func (e *Engine) PendingWrites() int {
	return e.writer.Pending()
}

// Flush waits for reward grants in flight, then until every progress
// snapshot is stored.
func (e *Engine) Flush(ctx context.Context) error {
	if err := e.workers.wait(ctx); err != nil {
		return err
	}
	return e.writer.Flush(ctx)
}

// Close waits for reward grants in flight, flushes pending writes and stops
// the background writer. Grants still running when ctx ends are cancelled;
// their records stay pending and are redelivered after the next start.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.workers.wait(ctx); err != nil {
		logger.Warning("Cancelling reward grants in flight", "error", err)
	}
	e.stop()
	return e.writer.Close(ctx)
}

// session returns the player's cached session, loading it once if needed.
func (e *Engine) session(ctx context.Context, playerID string) (*session, error) {
	e.mu.RLock()
	s := e.sessions[playerID]
	e.mu.RUnlock()
	if s != nil {
		return s, nil
	}

	v, err, _ := e.loads.Do(playerID, func() (any, error) {
		e.mu.RLock()
		s := e.sessions[playerID]
		e.mu.RUnlock()
		if s != nil {
			return s, nil
		}

		records, err := e.store.Load(ctx, playerID)
		if err != nil {
			if !errors.Is(err, quest.ErrStoreUnavailable) {
				err = quest.Wrap(quest.CodeStoreUnavailable, "", "load session", err)
			}
			return nil, err
		}

		s = e.newSession(playerID, records)
		e.mu.Lock()
		e.sessions[playerID] = s
		e.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session), nil
}

// newSession binds loaded records to their definitions. Records for unknown
// quests or whose objectives no longer match the definition are skipped.
func (e *Engine) newSession(playerID string, records []*quest.Progress) *session {
	s := &session{records: make(map[quest.ID]*quest.Progress, len(records))}
	boundary, resetDue := e.rolloverBoundary()

	for _, rec := range records {
		def, ok := e.defs.Get(rec.QuestID)
		if !ok {
			logger.Warning("Ignoring progress for unknown quest", "player", playerID, "quest", rec.QuestID)
			continue
		}
		if err := rec.Bind(def); err != nil {
			logger.Warning("Ignoring stale quest progress", "player", playerID, "quest", rec.QuestID, "error", err)
			continue
		}
		if err := rec.Verify(); err != nil {
			logger.Warning("Ignoring inconsistent quest progress", "player", playerID, "quest", rec.QuestID, "error", err)
			continue
		}
		rec.PlayerID = playerID

		if resetDue && resettable(rec, boundary) {
			rec = quest.NewProgress(playerID, def)
			e.snapshot(rec)
		}
		s.records[rec.QuestID] = rec
	}

	logger.Debug("Quest session opened", "player", playerID, "records", len(s.records))
	return s
}

// withSession runs fn under the player's session lock and returns the
// effects to dispatch once the lock is released.
func (e *Engine) withSession(ctx context.Context, playerID string, fn func(s *session) (*effects, error)) (*effects, error) {
	for {
		s, err := e.session(ctx, playerID)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		fx, err := fn(s)
		s.mu.Unlock()
		return fx, err
	}
}

// cached returns the session if it is loaded, without loading it.
func (e *Engine) cached(playerID string) *session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[playerID]
}

// snapshot queues a copy of rec for storage. Caller holds the session lock.
func (e *Engine) snapshot(rec *quest.Progress) {
	if err := e.writer.Enqueue(rec.Clone()); err != nil {
		logger.Error("Failed to queue quest progress", "player", rec.PlayerID, "quest", rec.QuestID, "error", err)
	}
}

// sortedIDs returns the session's quest IDs in order so dispatch is
// deterministic.
func (s *session) sortedIDs() []quest.ID {
	ids := make([]quest.ID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
