package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/retry"
)

// ErrWriterClosed is returned by Enqueue after Close.
var ErrWriterClosed = errors.New("progress writer closed")

type recordKey struct {
	playerID string
	questID  quest.ID
}

// Writer saves progress snapshots in the background. Only the newest
// snapshot per (player, quest) is kept while a write is pending, so a slow
// store never sees stale records after fresh ones. Failed writes are retried
// with backoff and then re-queued until they succeed or a newer snapshot
// replaces them.
type Writer struct {
	store  ProgressStore
	policy retry.Policy
	pause  time.Duration // Delay before re-attempting a failed batch

	mu       sync.Mutex
	pending  map[recordKey]*quest.Progress
	inflight int
	closed   bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewWriter starts a writer over store.
func NewWriter(store ProgressStore, policy retry.Policy) *Writer {
	pause := policy.MaxInterval
	if pause <= 0 {
		pause = time.Second
	}
	w := &Writer{
		store:   store,
		policy:  policy,
		pause:   pause,
		pending: make(map[recordKey]*quest.Progress),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue schedules p to be saved. The caller must not modify p afterwards;
// pass a clone.
func (w *Writer) Enqueue(p *quest.Progress) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.pending[recordKey{p.PlayerID, p.QuestID}] = p
	w.mu.Unlock()

	w.signal()
	return nil
}

// Pending returns the number of snapshots not yet saved.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) + w.inflight
}

// Flush blocks until every queued snapshot is saved or ctx ends.
func (w *Writer) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if w.Pending() == 0 {
			return nil
		}
		w.signal()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close flushes within ctx and stops the writer. Snapshots still pending
// when ctx ends are logged and dropped.
func (w *Writer) Close(ctx context.Context) error {
	err := w.Flush(ctx)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return err
	}
	w.closed = true
	dropped := len(w.pending)
	w.mu.Unlock()

	close(w.stop)
	<-w.done

	if dropped > 0 {
		logger.Error("Progress writer closed with unsaved snapshots", "count", dropped)
	}
	return err
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) run() {
	defer close(w.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.stop
		cancel()
	}()

	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
		}

		if failed := w.drain(ctx); failed {
			select {
			case <-w.stop:
				return
			case <-time.After(w.pause):
				w.signal()
			}
		}
	}
}

// drain saves the current batch. It reports whether any write failed.
func (w *Writer) drain(ctx context.Context) bool {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[recordKey]*quest.Progress)
	w.inflight = len(batch)
	w.mu.Unlock()

	failed := false
	for key, p := range batch {
		_, err := retry.Do(ctx, w.policy, "save progress", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, w.store.Save(ctx, key.playerID, p)
		})

		w.mu.Lock()
		w.inflight--
		if err != nil {
			failed = true
			// Keep the failed snapshot unless a newer one arrived meanwhile.
			if _, newer := w.pending[key]; !newer {
				w.pending[key] = p
			}
		}
		w.mu.Unlock()

		if err != nil {
			logger.Error("Failed to save quest progress",
				"player", key.playerID, "quest", key.questID,
				"error", quest.Wrap(quest.CodeStoreUnavailable, key.questID, "save failed", err))
		}
	}
	return failed
}
