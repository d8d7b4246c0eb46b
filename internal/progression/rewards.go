package progression

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/mail"
	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/retry"
	"github.com/lawnchairsociety/questengine/internal/reward"
)

// mailBatch bounds how many mails one redelivery pass handles.
const mailBatch = 100

// dispatch sends notifications for effects collected under a session lock
// and hands completed quests to a background grant worker. Started and
// objective notifications go out before dispatch returns; each completed
// quest is granted before its completion is announced.
func (e *Engine) dispatch(playerID string, fx *effects) {
	if fx == nil {
		return
	}
	for _, id := range fx.started {
		notify("quest_started", playerID, func() { e.notifier.QuestStarted(playerID, id) })
	}
	for _, o := range fx.objectives {
		notify("objective_complete", playerID, func() { e.notifier.ObjectiveComplete(playerID, o.questID, o.objectiveID) })
	}
	if len(fx.completed) == 0 {
		return
	}

	e.workers.start(playerID)
	go func() {
		defer e.workers.finish(playerID)
		for _, c := range fx.completed {
			e.deliver(e.ctx, playerID, c)
			if e.ctx.Err() != nil {
				return
			}
			notify("quest_complete", playerID, func() { e.notifier.QuestComplete(playerID, c.questID) })
		}
	}()
}

// remainderID is the mail ID for the items grantID could not deliver.
// Granting the same ID again reports the same remainder, so queueing it
// under a derived ID is idempotent.
func remainderID(grantID string) string {
	return grantID + "/rest"
}

// deliver grants a completed quest's reward. Grants that keep failing and
// items that do not fit are queued as reward mail.
func (e *Engine) deliver(ctx context.Context, playerID string, c completion) {
	if !e.claim(c.grantID) {
		return
	}
	defer e.release(c.grantID)

	res, err := retry.Do(ctx, e.policy, "grant reward", func(ctx context.Context) (reward.Result, error) {
		res, err := e.granter.Grant(ctx, playerID, c.grantID, c.questID, c.reward)
		if err != nil && !errors.Is(err, quest.ErrGrantFailed) {
			return res, retry.Permanent(err)
		}
		return res, err
	})
	if ctx.Err() != nil {
		// Shutting down. The record stays pending for the next redelivery.
		return
	}

	var m *mail.Mail
	switch {
	case err == nil:
		e.settle(playerID, c, quest.RewardGranted)
		return
	case errors.Is(err, quest.ErrGrantPartial):
		logger.Warning("Reward partially granted", "player", playerID, "quest", c.questID, "error", err)
		m = mail.NewWithID(remainderID(c.grantID), playerID, c.questID, res.Undelivered, e.now())
	default:
		logger.Error("Reward grant failed", "player", playerID, "quest", c.questID, "error", err)
		m = mail.NewWithID(c.grantID, playerID, c.questID, c.reward, e.now())
	}

	if err := e.mail.Enqueue(ctx, m); err != nil {
		// The record stays pending. Redelivery grants again, which pays
		// nothing twice and reports the same remainder to queue.
		logger.Error("Failed to queue reward mail", "player", playerID, "quest", c.questID, "mail", m.ID, "error", err)
		return
	}
	e.settle(playerID, c, quest.RewardDeferred)
	notify("reward_deferred", playerID, func() { e.notifier.RewardDeferred(playerID, c.questID, m.Reward) })
}

// settle records the outcome of a grant on the live record, if the record
// still belongs to that completion.
func (e *Engine) settle(playerID string, c completion, status quest.RewardStatus) {
	s := e.cached(playerID)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[c.questID]
	if !ok || rec.Reward.GrantID != c.grantID || rec.Reward.Status != quest.RewardPending {
		return
	}
	rec.Reward.Status = status
	e.snapshot(rec)
}

func (e *Engine) claim(grantID string) bool {
	e.grantMu.Lock()
	defer e.grantMu.Unlock()
	if e.inflight[grantID] {
		return false
	}
	e.inflight[grantID] = true
	return true
}

func (e *Engine) release(grantID string) {
	e.grantMu.Lock()
	defer e.grantMu.Unlock()
	delete(e.inflight, grantID)
}

// Redeliver retries rewards that have not landed: completed records of
// online players whose grant is still pending, then queued reward mail.
func (e *Engine) Redeliver(ctx context.Context) error {
	e.redeliverPending(ctx)
	return e.DeliverMail(ctx)
}

func (e *Engine) redeliverPending(ctx context.Context) {
	type pendingGrant struct {
		playerID string
		c        completion
	}

	e.mu.RLock()
	players := make(map[string]*session, len(e.sessions))
	for id, s := range e.sessions {
		players[id] = s
	}
	e.mu.RUnlock()

	var pending []pendingGrant
	for playerID, s := range players {
		s.mu.Lock()
		for _, id := range s.sortedIDs() {
			rec := s.records[id]
			if rec.Status == quest.StatusCompleted && rec.Reward.Status == quest.RewardPending {
				pending = append(pending, pendingGrant{playerID, completion{
					questID: rec.QuestID,
					grantID: rec.Reward.GrantID,
					reward:  rec.Definition().Reward,
				}})
			}
		}
		s.mu.Unlock()
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		e.deliver(ctx, p.playerID, p.c)
	}
}

// DeliverMail attempts every queued reward mail, oldest first. Each mail is
// granted under its own ID, so a mail delivered before a crash is removed
// without paying twice, and items that still do not fit move to a
// remainder mail.
func (e *Engine) DeliverMail(ctx context.Context) error {
	mails, err := e.mail.Pending(ctx, mailBatch)
	if err != nil {
		return err
	}

	for _, m := range mails {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A grant worker may be delivering the same grant ID right now.
		if !e.claim(m.ID) {
			continue
		}
		e.deliverMail(ctx, m)
		e.release(m.ID)
	}
	return nil
}

func (e *Engine) deliverMail(ctx context.Context, m *mail.Mail) {
	res, err := e.granter.Grant(ctx, m.PlayerID, m.ID, m.QuestID, m.Reward)
	switch {
	case err == nil:
		logger.Info("Reward mail delivered", "player", m.PlayerID, "quest", m.QuestID, "mail", m.ID)
	case errors.Is(err, quest.ErrGrantPartial):
		rest := mail.NewWithID(remainderID(m.ID), m.PlayerID, m.QuestID, res.Undelivered, m.SentAt)
		if err := e.mail.Enqueue(ctx, rest); err != nil {
			// The mail stays queued; its next grant reports the same remainder.
			logger.Error("Failed to requeue reward mail", "mail", m.ID, "error", err)
			return
		}
	default:
		if err := e.mail.Touch(ctx, m.ID, err.Error()); err != nil {
			logger.Error("Failed to record mail attempt", "mail", m.ID, "error", err)
		}
		return
	}

	if err := e.mail.Remove(ctx, m.ID); err != nil && !errors.Is(err, mail.ErrNotFound) {
		logger.Error("Failed to remove delivered mail", "mail", m.ID, "error", err)
	}
}

// Run redelivers rewards on an interval until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.mailInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Redeliver(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Reward redelivery failed", "error", err)
			}
		}
	}
}

// grantWorkers counts the background reward deliveries of each player.
type grantWorkers struct {
	mu      sync.Mutex
	players map[string]*playerGrants
}

type playerGrants struct {
	n    int
	done chan struct{} // Closed when n drops to zero
}

func (w *grantWorkers) start(playerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.players == nil {
		w.players = make(map[string]*playerGrants)
	}
	p := w.players[playerID]
	if p == nil {
		p = &playerGrants{done: make(chan struct{})}
		w.players[playerID] = p
	}
	p.n++
}

func (w *grantWorkers) finish(playerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p := w.players[playerID]
	p.n--
	if p.n == 0 {
		close(p.done)
		delete(w.players, playerID)
	}
}

// wait blocks until the deliveries running now for the named players, or
// for every player when none are named, have finished or ctx ends.
func (w *grantWorkers) wait(ctx context.Context, playerIDs ...string) error {
	w.mu.Lock()
	var pending []chan struct{}
	if len(playerIDs) == 0 {
		for _, p := range w.players {
			pending = append(pending, p.done)
		}
	}
	for _, id := range playerIDs {
		if p := w.players[id]; p != nil {
			pending = append(pending, p.done)
		}
	}
	w.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
