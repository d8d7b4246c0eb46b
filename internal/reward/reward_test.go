package reward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lawnchairsociety/questengine/internal/quest"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fullReward() quest.Reward {
	return quest.Reward{
		Currency:   map[quest.Currency]int{"gold": 50},
		Items:      []quest.ItemStack{{Kind: "potion", Quantity: 2}, {Kind: "scroll", Quantity: 1}},
		Experience: 300,
	}
}

type brokenLedger struct{ err error }

func (b brokenLedger) Apply(ctx context.Context, playerID string, g Grant) (bool, []quest.ItemStack, error) {
	return false, nil, b.err
}

func TestGrantKeyIsStable(t *testing.T) {
	a := GrantKey("p1", "q1", testNow)
	b := GrantKey("p1", "q1", testNow)
	if a != b {
		t.Error("same completion should give the same key")
	}
	if len(a) != 32 {
		t.Errorf("key should be 32 hex chars, got %d", len(a))
	}

	others := []string{
		GrantKey("p2", "q1", testNow),
		GrantKey("p1", "q2", testNow),
		GrantKey("p1", "q1", testNow.Add(time.Nanosecond)),
	}
	for _, k := range others {
		if k == a {
			t.Error("different completions should give different keys")
		}
	}
}

func TestGrantFull(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(10)
	g := NewGranter(ledger)

	res, err := g.Grant(ctx, "p1", "grant-1", "q1", fullReward())
	if err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}
	if res.Status != StatusGranted {
		t.Errorf("status = %s, want granted", res.Status)
	}

	b := ledger.Balance("p1")
	if b.Currency["gold"] != 50 || b.Items["potion"] != 2 || b.Items["scroll"] != 1 || b.Experience != 300 {
		t.Errorf("unexpected balance: %+v", b)
	}
	if b.Level() != 2 {
		t.Errorf("300 xp should be level 2, got %d", b.Level())
	}
	if lvl, _ := ledger.Level(ctx, "p1"); lvl != 2 {
		t.Errorf("Level() = %d, want 2", lvl)
	}
}

func TestGrantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(10)
	g := NewGranter(ledger)

	g.Grant(ctx, "p1", "grant-1", "q1", fullReward())
	res, err := g.Grant(ctx, "p1", "grant-1", "q1", fullReward())
	if err != nil {
		t.Fatalf("repeat Grant returned error: %v", err)
	}
	if res.Status != StatusDuplicate {
		t.Errorf("repeat grant status = %s, want duplicate", res.Status)
	}
	if gold := ledger.Balance("p1").Currency["gold"]; gold != 50 {
		t.Errorf("repeat grant paid out again: gold = %d", gold)
	}
}

func TestGrantPartialWhenInventoryFull(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(2)
	ledger.AddItems("p1", "potion", 1) // stacks with the reward potion
	ledger.AddItems("p1", "torch", 1)  // fills the second slot
	g := NewGranter(ledger)

	res, err := g.Grant(ctx, "p1", "grant-1", "q1", fullReward())
	if !errors.Is(err, quest.ErrGrantPartial) {
		t.Fatalf("expected GrantPartial, got %v", err)
	}
	if res.Status != StatusPartial {
		t.Errorf("status = %s, want partial", res.Status)
	}
	if len(res.Undelivered.Items) != 1 || res.Undelivered.Items[0] != (quest.ItemStack{Kind: "scroll", Quantity: 1}) {
		t.Errorf("scroll should be undelivered, got %+v", res.Undelivered)
	}
	if res.Undelivered.Experience != 0 || len(res.Undelivered.Currency) != 0 {
		t.Error("currency and experience always land and must not be left over")
	}

	b := ledger.Balance("p1")
	if b.Items["potion"] != 3 || b.Items["scroll"] != 0 || b.Currency["gold"] != 50 {
		t.Errorf("unexpected balance: %+v", b)
	}
}

func TestRepeatedPartialGrantReportsSameRemainder(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(1)
	g := NewGranter(ledger)

	if _, err := g.Grant(ctx, "p1", "grant-1", "q1", fullReward()); !errors.Is(err, quest.ErrGrantPartial) {
		t.Fatalf("expected GrantPartial, got %v", err)
	}

	// Room appears, but the grant was already paid: only the remainder is
	// reported again.
	ledger.SetSlots("p1", 5)
	res, err := g.Grant(ctx, "p1", "grant-1", "q1", fullReward())
	if !errors.Is(err, quest.ErrGrantPartial) {
		t.Fatalf("repeat of a partial grant should still report GrantPartial, got %v", err)
	}
	if res.Status != StatusDuplicate {
		t.Errorf("status = %s, want duplicate", res.Status)
	}
	if len(res.Undelivered.Items) != 1 || res.Undelivered.Items[0] != (quest.ItemStack{Kind: "scroll", Quantity: 1}) {
		t.Errorf("repeat should report the original remainder, got %+v", res.Undelivered)
	}

	b := ledger.Balance("p1")
	if b.Items["potion"] != 2 || b.Items["scroll"] != 0 || b.Currency["gold"] != 50 || b.Experience != 300 {
		t.Errorf("repeat grant changed the ledger: %+v", b)
	}
}

func TestConcurrentGrantsRespectCapacity(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(3)
	g := NewGranter(ledger)

	const grants = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		partial int
	)
	for i := 0; i < grants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := quest.Reward{Items: []quest.ItemStack{{Kind: fmt.Sprintf("gem-%d", i), Quantity: 1}}}
			_, err := g.Grant(ctx, "p1", fmt.Sprintf("grant-%d", i), "q1", r)
			if errors.Is(err, quest.ErrGrantPartial) {
				mu.Lock()
				partial++
				mu.Unlock()
			} else if err != nil {
				t.Errorf("grant %d returned error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if kinds := len(ledger.Balance("p1").Items); kinds != 3 {
		t.Errorf("inventory holds %d kinds, want 3", kinds)
	}
	if partial != grants-3 {
		t.Errorf("%d grants were partial, want %d", partial, grants-3)
	}
}

func TestGrantMergesDuplicateStacks(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(1)
	g := NewGranter(ledger)

	reward := quest.Reward{Items: []quest.ItemStack{{Kind: "arrow", Quantity: 10}, {Kind: "arrow", Quantity: 5}}}
	res, err := g.Grant(ctx, "p1", "grant-1", "q1", reward)
	if err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}
	if res.Status != StatusGranted {
		t.Errorf("one kind needs one slot, got %s", res.Status)
	}
	if arrows := ledger.Balance("p1").Items["arrow"]; arrows != 15 {
		t.Errorf("arrows = %d, want 15", arrows)
	}
}

func TestGrantFailed(t *testing.T) {
	cause := errors.New("ledger offline")
	g := NewGranter(brokenLedger{err: cause})

	res, err := g.Grant(context.Background(), "p1", "grant-1", "q1", fullReward())
	if !errors.Is(err, quest.ErrGrantFailed) {
		t.Fatalf("expected GrantFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("GrantFailed should wrap the ledger error")
	}
	if res.Status != StatusFailed || res.Undelivered.Experience != 300 {
		t.Errorf("failed grant should leave the whole reward undelivered: %+v", res)
	}
}

func TestInventorySpace(t *testing.T) {
	ledger := NewMemoryLedger(3)
	ledger.AddItems("p1", "potion", 4)

	space, err := ledger.InventorySpace(context.Background(), "p1")
	if err != nil {
		t.Fatalf("InventorySpace returned error: %v", err)
	}
	if space.FreeSlots != 2 || !space.Held["potion"] {
		t.Errorf("unexpected space: %+v", space)
	}

	ledger.SetSlots("p1", 0)
	space, _ = ledger.InventorySpace(context.Background(), "p1")
	if space.FreeSlots != 0 {
		t.Errorf("free slots should not go negative, got %d", space.FreeSlots)
	}
}
