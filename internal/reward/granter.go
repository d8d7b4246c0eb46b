// Package reward delivers quest rewards to player ledgers.
package reward

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/quest"
)

// Status is the outcome of a grant.
type Status string

const (
	StatusGranted   Status = "granted"   // Everything delivered
	StatusDuplicate Status = "duplicate" // Grant ID was applied before; nothing changed
	StatusPartial   Status = "partial"   // Some items did not fit
	StatusFailed    Status = "failed"    // Nothing delivered
)

// Result describes what a grant delivered.
type Result struct {
	Status      Status
	Undelivered quest.Reward // Items that did not fit, for later delivery
}

// GrantKey derives a stable idempotency key for a quest completion. The
// same player, quest and start time always give the same key.
func GrantKey(playerID string, questID quest.ID, startedAt time.Time) string {
	input := playerID + "\x00" + string(questID) + "\x00" + strconv.FormatInt(startedAt.UnixNano(), 10)
	sum := blake2b.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}

// Granter pays rewards into a Ledger.
type Granter struct {
	ledger Ledger
}

// NewGranter creates a granter over ledger.
func NewGranter(ledger Ledger) *Granter {
	return &Granter{ledger: ledger}
}

// Grant delivers reward to playerID under grantID. Currency and experience
// always land; item stacks land while inventory slots last. A partial grant
// returns quest.ErrGrantPartial with the remainder in Result.Undelivered.
// Repeating a grant pays nothing and reports the same remainder, so a
// remainder lost before it was queued can still be recovered. Ledger
// failures return quest.ErrGrantFailed and deliver nothing.
func (g *Granter) Grant(ctx context.Context, playerID, grantID string, questID quest.ID, reward quest.Reward) (Result, error) {
	applied, rest, err := g.ledger.Apply(ctx, playerID, Grant{
		ID:         grantID,
		Currency:   reward.Currency,
		Items:      reward.Items,
		Experience: reward.Experience,
	})
	if err != nil {
		return Result{Status: StatusFailed, Undelivered: reward},
			quest.Wrap(quest.CodeGrantFailed, questID, "apply grant", err)
	}

	status := StatusGranted
	if applied {
		logger.Audit("Reward granted",
			"player", playerID, "quest", questID, "grant", grantID,
			"currency", reward.Currency, "experience", reward.Experience,
			"items", reward.Items, "undelivered", rest)
	} else {
		status = StatusDuplicate
		logger.Info("Reward grant already applied", "player", playerID, "quest", questID, "grant", grantID)
	}

	if len(rest) > 0 {
		if applied {
			status = StatusPartial
		}
		return Result{Status: status, Undelivered: quest.Reward{Items: rest}},
			quest.Errorf(quest.CodeGrantPartial, questID, "%d item stacks did not fit", len(rest))
	}
	return Result{Status: status}, nil
}

// SplitItems merges stacks by kind and splits them into those that fit the
// available space and those that do not. Order follows first appearance.
func SplitItems(items []quest.ItemStack, space Space) (fits, rest []quest.ItemStack) {
	merged := make([]quest.ItemStack, 0, len(items))
	index := make(map[string]int, len(items))
	for _, stack := range items {
		if i, ok := index[stack.Kind]; ok {
			merged[i].Quantity += stack.Quantity
			continue
		}
		index[stack.Kind] = len(merged)
		merged = append(merged, stack)
	}

	free := space.FreeSlots
	for _, stack := range merged {
		switch {
		case space.Held[stack.Kind]:
			fits = append(fits, stack)
		case free > 0:
			free--
			fits = append(fits, stack)
		default:
			rest = append(rest, stack)
		}
	}
	return fits, rest
}
