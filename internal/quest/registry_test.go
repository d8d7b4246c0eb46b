package quest

import (
	"errors"
	"testing"
)

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	if registry == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if registry.Count() != 0 {
		t.Errorf("new registry should be empty, got %d", registry.Count())
	}
}

func TestRegistryLoadFromConfig(t *testing.T) {
	registry := NewRegistry()
	config, err := ParseQuestsYAML([]byte(sampleQuestsYAML))
	if err != nil {
		t.Fatalf("ParseQuestsYAML returned error: %v", err)
	}

	if err := registry.LoadFromConfig(config); err != nil {
		t.Fatalf("LoadFromConfig returned error: %v", err)
	}
	if registry.Count() != 2 {
		t.Errorf("Should have 2 quests, got %d", registry.Count())
	}

	def, ok := registry.Get("herb_gathering")
	if !ok {
		t.Fatal("herb_gathering should be registered")
	}
	if def.GiverNPC != "herbalist" {
		t.Errorf("GiverNPC = %s, want herbalist", def.GiverNPC)
	}

	if _, ok := registry.Get("nonexistent"); ok {
		t.Error("nonexistent quest should not be found")
	}
}

func TestRegistryLoadFromConfig_KeepsValidQuests(t *testing.T) {
	registry := NewRegistry()
	config := &QuestsConfig{
		Quests: map[string]DefinitionYAML{
			"good": {
				Category:   "side",
				Objectives: []ObjectiveYAML{{ID: "a", Type: "visit_location", Location: "well"}},
			},
			"bad": {Category: "side"},
		},
	}

	err := registry.LoadFromConfig(config)
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("LoadFromConfig should report the rejected quest, got %v", err)
	}
	if registry.Count() != 1 {
		t.Errorf("valid quest should still load, got %d quests", registry.Count())
	}
	if _, ok := registry.Get("bad"); ok {
		t.Error("rejected quest must not be offered")
	}
}

func TestRegistryLoadFromConfig_ReplacesExistingData(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(validDefinition()); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	registry.LoadFromConfig(&QuestsConfig{Quests: map[string]DefinitionYAML{}})

	if registry.Count() != 0 {
		t.Errorf("reload should clear old quests, got %d", registry.Count())
	}
	if len(registry.ForNPC("herbalist")) != 0 {
		t.Error("reload should clear the NPC index")
	}
}

func TestRegistryRegister(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(validDefinition()); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := registry.Register(validDefinition()); !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("duplicate Register should fail, got %v", err)
	}

	invalid := validDefinition()
	invalid.ID = "broken"
	invalid.Objectives = nil
	if err := registry.Register(invalid); err == nil {
		t.Error("Register should validate the definition")
	}
	if registry.Count() != 1 {
		t.Errorf("Count() = %d, want 1", registry.Count())
	}
}

func TestRegistryForNPC(t *testing.T) {
	registry := NewRegistry()
	for _, id := range []ID{"q3", "q1", "q2"} {
		def := validDefinition()
		def.ID = id
		if id == "q2" {
			def.GiverNPC = "guard"
		}
		if err := registry.Register(def); err != nil {
			t.Fatalf("Register(%s) returned error: %v", id, err)
		}
	}

	herbalist := registry.ForNPC("herbalist")
	if len(herbalist) != 2 {
		t.Fatalf("herbalist should give 2 quests, got %d", len(herbalist))
	}
	if herbalist[0].ID != "q1" || herbalist[1].ID != "q3" {
		t.Errorf("ForNPC should be sorted, got %s, %s", herbalist[0].ID, herbalist[1].ID)
	}
	if len(registry.ForNPC("nobody")) != 0 {
		t.Error("unknown NPC should give no quests")
	}

	all := registry.All()
	if len(all) != 3 || all[0].ID != "q1" || all[2].ID != "q3" {
		t.Errorf("All() should return every quest sorted")
	}
}
