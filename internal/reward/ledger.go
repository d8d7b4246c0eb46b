package reward

import (
	"context"
	"sync"

	"github.com/lawnchairsociety/questengine/internal/leveling"
	"github.com/lawnchairsociety/questengine/internal/quest"
)

// Space describes room in a player's inventory. Items stack by kind: a
// kind already held needs no new slot.
type Space struct {
	FreeSlots int
	Held      map[string]bool
}

// Grant is one atomic payout to a player's ledger.
type Grant struct {
	ID         string
	Currency   map[quest.Currency]int
	Items      []quest.ItemStack
	Experience int
}

// Ledger holds player balances.
//
// Apply pays out a grant all-or-nothing. Currency and experience always
// land; item stacks land while inventory slots last, and the stacks that do
// not fit are returned and recorded with the grant. The capacity check and
// the payout are one atomic step, so concurrent grants for a player never
// overfill the inventory. Apply is idempotent on the grant ID: a repeated
// grant changes nothing, returns false and the remainder recorded the first
// time.
type Ledger interface {
	Apply(ctx context.Context, playerID string, g Grant) (applied bool, undelivered []quest.ItemStack, err error)
}

// Balance is a snapshot of one player's ledger.
type Balance struct {
	Currency   map[quest.Currency]int
	Items      map[string]int
	Experience int
	Slots      int
}

// Level derives the player's level from experience.
func (b Balance) Level() int {
	return leveling.LevelForXP(b.Experience)
}

// Space returns the room left in the player's inventory.
func (b Balance) Space() Space {
	space := Space{FreeSlots: b.Slots, Held: make(map[string]bool, len(b.Items))}
	for kind, qty := range b.Items {
		if qty > 0 {
			space.Held[kind] = true
			space.FreeSlots--
		}
	}
	if space.FreeSlots < 0 {
		space.FreeSlots = 0
	}
	return space
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu           sync.Mutex
	defaultSlots int
	players      map[string]*Balance
	applied      map[string][]quest.ItemStack // Grant ID to the stacks that did not fit
}

// NewMemoryLedger creates a ledger where new players have slots inventory
// slots.
func NewMemoryLedger(slots int) *MemoryLedger {
	return &MemoryLedger{
		defaultSlots: slots,
		players:      make(map[string]*Balance),
		applied:      make(map[string][]quest.ItemStack),
	}
}

// player must be called with the lock held
func (l *MemoryLedger) player(playerID string) *Balance {
	b, ok := l.players[playerID]
	if !ok {
		b = &Balance{
			Currency: make(map[quest.Currency]int),
			Items:    make(map[string]int),
			Slots:    l.defaultSlots,
		}
		l.players[playerID] = b
	}
	return b
}

// SetSlots changes a player's inventory capacity.
func (l *MemoryLedger) SetSlots(playerID string, slots int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.player(playerID).Slots = slots
}

// AddItems puts items directly into a player's inventory.
func (l *MemoryLedger) AddItems(playerID, kind string, quantity int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.player(playerID).Items[kind] += quantity
}

// AddExperience credits experience outside of quest rewards.
func (l *MemoryLedger) AddExperience(playerID string, xp int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.player(playerID).Experience += xp
}

// Balance returns a copy of the player's balances.
func (l *MemoryLedger) Balance(playerID string) Balance {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.player(playerID)
	c := Balance{
		Currency:   make(map[quest.Currency]int, len(b.Currency)),
		Items:      make(map[string]int, len(b.Items)),
		Experience: b.Experience,
		Slots:      b.Slots,
	}
	for k, v := range b.Currency {
		c.Currency[k] = v
	}
	for k, v := range b.Items {
		c.Items[k] = v
	}
	return c
}

// Level returns the player's level.
func (l *MemoryLedger) Level(ctx context.Context, playerID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.player(playerID).Level(), nil
}

// InventorySpace reports the room left in the player's inventory.
func (l *MemoryLedger) InventorySpace(ctx context.Context, playerID string) (Space, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.player(playerID).Space(), nil
}

func (l *MemoryLedger) Apply(ctx context.Context, playerID string, g Grant) (bool, []quest.ItemStack, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rest, ok := l.applied[g.ID]; ok {
		return false, append([]quest.ItemStack(nil), rest...), nil
	}
	b := l.player(playerID)
	fits, rest := SplitItems(g.Items, b.Space())
	for currency, amount := range g.Currency {
		b.Currency[currency] += amount
	}
	for _, stack := range fits {
		b.Items[stack.Kind] += stack.Quantity
	}
	b.Experience += g.Experience
	l.applied[g.ID] = rest
	return true, append([]quest.ItemStack(nil), rest...), nil
}
