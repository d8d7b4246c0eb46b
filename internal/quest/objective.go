package quest

import "errors"

// ObjectiveKind names an objective variant.
type ObjectiveKind string

const (
	KindInteractNPC   ObjectiveKind = "interact_npc"   // Talk to an NPC
	KindVisitLocation ObjectiveKind = "visit_location" // Reach a location
	KindCollectItem   ObjectiveKind = "collect_item"   // Pick up items
	KindKillMob       ObjectiveKind = "kill_mob"       // Defeat enemies
	KindDeliverItem   ObjectiveKind = "deliver_item"   // Hand a bundle to an NPC
	KindHarvest       ObjectiveKind = "harvest"        // Harvest crops
)

// Objective is one step of a quest. The set of implementations is closed:
// InteractNPC, VisitLocation, CollectItem, KillMob, DeliverItem and Harvest.
type Objective interface {
	ObjectiveID() string
	Kind() ObjectiveKind
	// Required is the amount that completes the objective.
	Required() int

	validate() error
}

// InteractNPC completes when the player interacts with an NPC.
type InteractNPC struct {
	ID  string
	NPC string
}

// VisitLocation completes when the player enters a location.
type VisitLocation struct {
	ID       string
	Location string
}

// CollectItem counts items of one kind picked up by the player.
type CollectItem struct {
	ID       string
	Item     string
	Quantity int
}

// KillMob counts kills of one mob kind. An empty Mob counts any kill.
type KillMob struct {
	ID       string
	Mob      string
	Quantity int
}

// DeliverItem completes when the whole bundle is handed to the recipient in
// one transaction.
type DeliverItem struct {
	ID        string
	Recipient string
	Items     map[string]int
}

// Harvest counts crops of one kind harvested by the player.
type Harvest struct {
	ID       string
	Crop     string
	Quantity int
}

func (o InteractNPC) ObjectiveID() string   { return o.ID }
func (o VisitLocation) ObjectiveID() string { return o.ID }
func (o CollectItem) ObjectiveID() string   { return o.ID }
func (o KillMob) ObjectiveID() string       { return o.ID }
func (o DeliverItem) ObjectiveID() string   { return o.ID }
func (o Harvest) ObjectiveID() string       { return o.ID }

func (InteractNPC) Kind() ObjectiveKind   { return KindInteractNPC }
func (VisitLocation) Kind() ObjectiveKind { return KindVisitLocation }
func (CollectItem) Kind() ObjectiveKind   { return KindCollectItem }
func (KillMob) Kind() ObjectiveKind       { return KindKillMob }
func (DeliverItem) Kind() ObjectiveKind   { return KindDeliverItem }
func (Harvest) Kind() ObjectiveKind       { return KindHarvest }

func (InteractNPC) Required() int   { return 1 }
func (VisitLocation) Required() int { return 1 }
func (o CollectItem) Required() int { return o.Quantity }
func (o KillMob) Required() int     { return o.Quantity }
func (DeliverItem) Required() int   { return 1 }
func (o Harvest) Required() int     { return o.Quantity }

func (o InteractNPC) validate() error {
	if o.NPC == "" {
		return errors.New("npc is required")
	}
	return nil
}

func (o VisitLocation) validate() error {
	if o.Location == "" {
		return errors.New("location is required")
	}
	return nil
}

func (o CollectItem) validate() error {
	if o.Item == "" {
		return errors.New("item is required")
	}
	return validateQuantity(o.Quantity)
}

func (o KillMob) validate() error {
	return validateQuantity(o.Quantity)
}

func (o DeliverItem) validate() error {
	if o.Recipient == "" {
		return errors.New("recipient is required")
	}
	if len(o.Items) == 0 {
		return errors.New("delivery bundle is empty")
	}
	for kind, qty := range o.Items {
		if kind == "" {
			return errors.New("delivery item kind is required")
		}
		if qty <= 0 {
			return errors.New("delivery quantities must be positive")
		}
	}
	return nil
}

func (o Harvest) validate() error {
	if o.Crop == "" {
		return errors.New("crop is required")
	}
	return validateQuantity(o.Quantity)
}

func validateQuantity(n int) error {
	if n <= 0 {
		return errors.New("quantity must be positive")
	}
	return nil
}
