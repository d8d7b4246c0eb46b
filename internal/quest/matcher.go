package quest

// EventKind names a gameplay event type.
type EventKind string

const (
	EventInteract EventKind = "interact"
	EventVisit    EventKind = "visit"
	EventCollect  EventKind = "collect"
	EventKill     EventKind = "kill"
	EventDeliver  EventKind = "deliver"
	EventHarvest  EventKind = "harvest"
)

// Event is a gameplay event attributed to one player.
type Event struct {
	Kind     EventKind      `json:"kind"`
	Target   string         `json:"target,omitempty"`   // NPC, location, mob or recipient ID
	Item     string         `json:"item,omitempty"`     // Item or crop kind
	Quantity int            `json:"quantity,omitempty"` // Collected or harvested amount
	Items    map[string]int `json:"items,omitempty"`    // Delivered bundle
}

// Interact returns an NPC interaction event.
func Interact(npcID string) Event { return Event{Kind: EventInteract, Target: npcID} }

// Visit returns a location visit event.
func Visit(locationID string) Event { return Event{Kind: EventVisit, Target: locationID} }

// Collect returns an item pickup event.
func Collect(item string, quantity int) Event {
	return Event{Kind: EventCollect, Item: item, Quantity: quantity}
}

// Kill returns a single kill event.
func Kill(mobID string) Event { return Event{Kind: EventKill, Target: mobID} }

// Deliver returns a delivery event handing items to a recipient.
func Deliver(recipient string, items map[string]int) Event {
	return Event{Kind: EventDeliver, Target: recipient, Items: items}
}

// HarvestCrop returns a crop harvest event.
func HarvestCrop(crop string, quantity int) Event {
	return Event{Kind: EventHarvest, Item: crop, Quantity: quantity}
}

// Match reports how much progress an event contributes to an objective.
// It never mutates anything.
func Match(ev Event, obj Objective) (int, bool) {
	switch o := obj.(type) {
	case InteractNPC:
		if ev.Kind == EventInteract && ev.Target == o.NPC {
			return 1, true
		}
	case VisitLocation:
		if ev.Kind == EventVisit && ev.Target == o.Location {
			return 1, true
		}
	case CollectItem:
		if ev.Kind == EventCollect && ev.Item == o.Item && ev.Quantity > 0 {
			return ev.Quantity, true
		}
	case Harvest:
		if ev.Kind == EventHarvest && ev.Item == o.Crop && ev.Quantity > 0 {
			return ev.Quantity, true
		}
	case KillMob:
		if ev.Kind == EventKill && (o.Mob == "" || ev.Target == o.Mob) {
			return 1, true
		}
	case DeliverItem:
		if ev.Kind == EventDeliver && ev.Target == o.Recipient && coversBundle(ev.Items, o.Items) {
			return 1, true
		}
	}
	return 0, false
}

// coversBundle reports whether supplied holds at least every required quantity.
func coversBundle(supplied, required map[string]int) bool {
	if len(required) == 0 {
		return false
	}
	for kind, qty := range required {
		if supplied[kind] < qty {
			return false
		}
	}
	return true
}
