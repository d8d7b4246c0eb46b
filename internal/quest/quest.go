package quest

import (
	"fmt"
	"strings"
)

// ID identifies a quest definition.
type ID string

// Category groups quests for listing and repeat policy.
type Category string

const (
	CategoryMain     Category = "main"     // Main story quests
	CategorySide     Category = "side"     // Optional side quests
	CategoryDaily    Category = "daily"    // Reset at daily rollover
	CategoryTutorial Category = "tutorial" // Onboarding quests
	CategoryBranch   Category = "branch"   // Story branches
	CategoryClass    Category = "class"    // Class-specific quests
	CategoryEvent    Category = "event"    // Limited-time events
)

// IsValid reports whether the category is one of the known categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryMain, CategorySide, CategoryDaily, CategoryTutorial,
		CategoryBranch, CategoryClass, CategoryEvent:
		return true
	}
	return false
}

// Repeatable reports whether completed quests of this category may be reset
// by a rollover and taken again.
func (c Category) Repeatable() bool {
	return c == CategoryDaily || c == CategoryEvent
}

// Currency names a reward currency (e.g. "gold", "tokens").
type Currency string

// ItemStack is a quantity of one item kind.
type ItemStack struct {
	Kind     string `json:"kind" yaml:"kind"`
	Quantity int    `json:"quantity" yaml:"quantity"`
}

// Reward defines what a player receives when a quest completes.
type Reward struct {
	Currency   map[Currency]int `json:"currency,omitempty"`
	Items      []ItemStack      `json:"items,omitempty"`
	Experience int              `json:"experience,omitempty"`
}

// IsEmpty returns true if the reward grants nothing.
func (r Reward) IsEmpty() bool {
	if r.Experience != 0 || len(r.Items) > 0 {
		return false
	}
	for _, amount := range r.Currency {
		if amount != 0 {
			return false
		}
	}
	return true
}

// Definition is an immutable quest definition. Definitions are shared by
// every player and must not be modified after registration.
type Definition struct {
	ID          ID
	Category    Category
	GiverNPC    string      // NPC ID who offers this quest (empty = not NPC-bound)
	Objectives  []Objective // Ordered; order matters only when Sequential
	Sequential  bool
	Reward      Reward
	MinLevel    int
	MaxLevel    int  // 0 = unbounded
	Prereqs     []ID // Quests that must be completed first
	DialogLines int  // Number of linear dialog lines in the text catalog
}

// Objective returns the objective with the given id.
func (d *Definition) Objective(id string) (Objective, bool) {
	for _, obj := range d.Objectives {
		if obj.ObjectiveID() == id {
			return obj, true
		}
	}
	return nil, false
}

// InLevelRange reports whether a player level passes the level gate.
func (d *Definition) InLevelRange(level int) bool {
	if d.MinLevel > 0 && level < d.MinLevel {
		return false
	}
	if d.MaxLevel > 0 && level > d.MaxLevel {
		return false
	}
	return true
}

// NameKey returns the text key of the quest name.
func (d *Definition) NameKey() string {
	return "quest." + string(d.ID) + ".name"
}

// DescriptionKey returns the text key of the quest description.
func (d *Definition) DescriptionKey() string {
	return "quest." + string(d.ID) + ".description"
}

// ObjectiveKey returns the text key describing an objective.
func (d *Definition) ObjectiveKey(objectiveID string) string {
	return "quest." + string(d.ID) + ".objective." + objectiveID
}

// DialogKey returns the text key of the i-th dialog line (0-based).
func (d *Definition) DialogKey(i int) string {
	return fmt.Sprintf("quest.%s.dialog.%d", d.ID, i)
}

// Validate checks the definition for content authoring errors.
func (d *Definition) Validate() error {
	if strings.TrimSpace(string(d.ID)) == "" {
		return Errorf(CodeInvalidDefinition, d.ID, "quest id is required")
	}
	if !d.Category.IsValid() {
		return Errorf(CodeInvalidDefinition, d.ID, "unknown category %q", d.Category)
	}
	if len(d.Objectives) == 0 {
		return Errorf(CodeInvalidDefinition, d.ID, "quest has no objectives")
	}
	if d.MinLevel < 0 || d.MaxLevel < 0 {
		return Errorf(CodeInvalidDefinition, d.ID, "levels must not be negative")
	}
	if d.MaxLevel > 0 && d.MinLevel > d.MaxLevel {
		return Errorf(CodeInvalidDefinition, d.ID, "min level %d exceeds max level %d", d.MinLevel, d.MaxLevel)
	}

	seen := make(map[string]bool, len(d.Objectives))
	for i, obj := range d.Objectives {
		if obj == nil {
			return Errorf(CodeInvalidDefinition, d.ID, "objective %d is empty", i)
		}
		id := obj.ObjectiveID()
		if strings.TrimSpace(id) == "" {
			return Errorf(CodeInvalidDefinition, d.ID, "objective %d has no id", i)
		}
		if seen[id] {
			return Errorf(CodeInvalidDefinition, d.ID, "duplicate objective id %q", id)
		}
		seen[id] = true
		if err := obj.validate(); err != nil {
			return Errorf(CodeInvalidDefinition, d.ID, "objective %q: %v", id, err)
		}
	}

	for _, prereq := range d.Prereqs {
		if prereq == d.ID {
			return Errorf(CodeInvalidDefinition, d.ID, "quest lists itself as a prerequisite")
		}
	}

	if d.Reward.Experience < 0 {
		return Errorf(CodeInvalidDefinition, d.ID, "negative experience reward")
	}
	for currency, amount := range d.Reward.Currency {
		if amount < 0 {
			return Errorf(CodeInvalidDefinition, d.ID, "negative %s reward", currency)
		}
	}
	for _, stack := range d.Reward.Items {
		if stack.Kind == "" || stack.Quantity <= 0 {
			return Errorf(CodeInvalidDefinition, d.ID, "invalid reward item %+v", stack)
		}
	}
	if d.DialogLines < 0 {
		return Errorf(CodeInvalidDefinition, d.ID, "negative dialog line count")
	}

	return nil
}
