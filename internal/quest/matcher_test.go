package quest

import "testing"

func TestMatch(t *testing.T) {
	delivery := DeliverItem{ID: "d", Recipient: "smith", Items: map[string]int{"ore": 2, "coal": 1}}

	tests := []struct {
		name  string
		ev    Event
		obj   Objective
		delta int
		ok    bool
	}{
		{"interact target", Interact("elder"), InteractNPC{ID: "a", NPC: "elder"}, 1, true},
		{"interact other npc", Interact("guard"), InteractNPC{ID: "a", NPC: "elder"}, 0, false},
		{"visit target", Visit("well"), VisitLocation{ID: "b", Location: "well"}, 1, true},
		{"visit wrong kind", Interact("well"), VisitLocation{ID: "b", Location: "well"}, 0, false},
		{"collect quantity", Collect("herb", 3), CollectItem{ID: "c", Item: "herb", Quantity: 5}, 3, true},
		{"collect other item", Collect("ore", 3), CollectItem{ID: "c", Item: "herb", Quantity: 5}, 0, false},
		{"collect zero", Collect("herb", 0), CollectItem{ID: "c", Item: "herb", Quantity: 5}, 0, false},
		{"collect negative", Collect("herb", -2), CollectItem{ID: "c", Item: "herb", Quantity: 5}, 0, false},
		{"kill target", Kill("rat"), KillMob{ID: "k", Mob: "rat", Quantity: 3}, 1, true},
		{"kill other mob", Kill("wolf"), KillMob{ID: "k", Mob: "rat", Quantity: 3}, 0, false},
		{"kill any mob", Kill("wolf"), KillMob{ID: "k", Quantity: 3}, 1, true},
		{"harvest quantity", HarvestCrop("wheat", 4), Harvest{ID: "h", Crop: "wheat", Quantity: 10}, 4, true},
		{"harvest other crop", HarvestCrop("corn", 4), Harvest{ID: "h", Crop: "wheat", Quantity: 10}, 0, false},
		{"harvest is not collect", Collect("wheat", 4), Harvest{ID: "h", Crop: "wheat", Quantity: 10}, 0, false},
		{"deliver exact", Deliver("smith", map[string]int{"ore": 2, "coal": 1}), delivery, 1, true},
		{"deliver surplus", Deliver("smith", map[string]int{"ore": 5, "coal": 1, "gem": 1}), delivery, 1, true},
		{"deliver short", Deliver("smith", map[string]int{"ore": 1, "coal": 1}), delivery, 0, false},
		{"deliver missing kind", Deliver("smith", map[string]int{"ore": 2}), delivery, 0, false},
		{"deliver wrong recipient", Deliver("guard", map[string]int{"ore": 2, "coal": 1}), delivery, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, ok := Match(tt.ev, tt.obj)
			if ok != tt.ok || delta != tt.delta {
				t.Errorf("Match() = (%d, %v), want (%d, %v)", delta, ok, tt.delta, tt.ok)
			}
		})
	}
}

func TestMatchDoesNotMutateEvent(t *testing.T) {
	items := map[string]int{"ore": 2}
	ev := Deliver("smith", items)
	Match(ev, DeliverItem{ID: "d", Recipient: "smith", Items: map[string]int{"ore": 2}})

	if items["ore"] != 2 || len(items) != 1 {
		t.Errorf("delivered bundle changed: %v", items)
	}
}
