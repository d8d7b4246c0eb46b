package quest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sampleQuestsYAML = `quests:
  herb_gathering:
    category: side
    giver_npc: herbalist
    objectives:
      - id: herbs
        type: collect_item
        item: moonleaf
        quantity: 5
      - id: return
        type: interact_npc
        npc: herbalist
    rewards:
      currency:
        gold: 50
      items:
        - kind: potion
          quantity: 2
      experience: 100
    min_level: 2
    dialog_lines: 3
  village_errand:
    category: Main
    sequential: true
    objectives:
      - id: a
        type: visit_location
        location: well
      - id: b
        type: deliver_item
        recipient: smith
        items:
          ore: 2
          coal: 1
      - id: c
        type: harvest
        crop: wheat
        quantity: 10
      - id: d
        type: kill_mob
        quantity: 3
    prereqs:
      - herb_gathering
`

func TestParseQuestsYAML(t *testing.T) {
	config, err := ParseQuestsYAML([]byte(sampleQuestsYAML))
	if err != nil {
		t.Fatalf("ParseQuestsYAML returned error: %v", err)
	}

	defs, errs := config.Build()
	if len(errs) != 0 {
		t.Fatalf("Build returned errors: %v", errs)
	}
	if len(defs) != 2 {
		t.Fatalf("should build 2 quests, got %d", len(defs))
	}

	herbs := defs[0]
	if herbs.ID != "herb_gathering" {
		t.Fatalf("quests should be sorted by id, first is %s", herbs.ID)
	}
	if herbs.Category != CategorySide || herbs.GiverNPC != "herbalist" {
		t.Errorf("unexpected herb quest header: %+v", herbs)
	}
	if herbs.Reward.Currency["gold"] != 50 || herbs.Reward.Experience != 100 {
		t.Errorf("unexpected reward: %+v", herbs.Reward)
	}
	if len(herbs.Reward.Items) != 1 || herbs.Reward.Items[0] != (ItemStack{Kind: "potion", Quantity: 2}) {
		t.Errorf("unexpected reward items: %+v", herbs.Reward.Items)
	}
	if herbs.MinLevel != 2 || herbs.DialogLines != 3 {
		t.Errorf("MinLevel/DialogLines = %d/%d, want 2/3", herbs.MinLevel, herbs.DialogLines)
	}

	errand := defs[1]
	if errand.Category != CategoryMain {
		t.Errorf("category should be lowercased, got %s", errand.Category)
	}
	if !errand.Sequential {
		t.Error("errand should be sequential")
	}
	if len(errand.Prereqs) != 1 || errand.Prereqs[0] != "herb_gathering" {
		t.Errorf("unexpected prereqs: %v", errand.Prereqs)
	}

	wantKinds := []ObjectiveKind{KindVisitLocation, KindDeliverItem, KindHarvest, KindKillMob}
	for i, kind := range wantKinds {
		if errand.Objectives[i].Kind() != kind {
			t.Errorf("objective %d kind = %s, want %s", i, errand.Objectives[i].Kind(), kind)
		}
	}
	delivery, ok := errand.Objectives[1].(DeliverItem)
	if !ok || delivery.Items["ore"] != 2 || delivery.Items["coal"] != 1 {
		t.Errorf("unexpected delivery objective: %+v", errand.Objectives[1])
	}
	if kill := errand.Objectives[3].(KillMob); kill.Mob != "" || kill.Quantity != 3 {
		t.Errorf("unexpected kill objective: %+v", kill)
	}
}

func TestBuild_RejectsInvalidQuestsIndividually(t *testing.T) {
	yamlContent := `quests:
  good:
    category: side
    objectives:
      - id: a
        type: visit_location
        location: well
  no_objectives:
    category: side
  bad_type:
    category: side
    objectives:
      - id: a
        type: cast_spell
  zero_quantity:
    category: side
    objectives:
      - id: a
        type: collect_item
        item: herb
`
	config, err := ParseQuestsYAML([]byte(yamlContent))
	if err != nil {
		t.Fatalf("ParseQuestsYAML returned error: %v", err)
	}

	defs, errs := config.Build()
	if len(defs) != 1 || defs[0].ID != "good" {
		t.Fatalf("only the good quest should build, got %d", len(defs))
	}
	if len(errs) != 3 {
		t.Fatalf("should report 3 rejected quests, got %d: %v", len(errs), errs)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrInvalidDefinition) {
			t.Errorf("rejection should be InvalidDefinition, got %v", err)
		}
	}
}

func TestLoadQuestsFromYAML_MalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	questFile := filepath.Join(tmpDir, "quests.yaml")

	if err := os.WriteFile(questFile, []byte("quests:\n  bad: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := LoadQuestsFromYAML(questFile); err == nil {
		t.Error("Should return error for malformed YAML")
	}
}

func TestLoadQuestsFromYAML_MissingFile(t *testing.T) {
	if _, err := LoadQuestsFromYAML(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Should return error for missing file")
	}
}

func TestLoadQuestsFromDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	files := map[string]string{
		"main.yaml": `quests:
  q1:
    category: main
    objectives:
      - id: a
        type: interact_npc
        npc: elder
`,
		"daily.yml": `quests:
  q2:
    category: daily
    objectives:
      - id: a
        type: kill_mob
        mob: rat
        quantity: 5
`,
		"notes.txt": "not yaml",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(tmpDir, "nested"), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	config, err := LoadQuestsFromDirectory(tmpDir)
	if err != nil {
		t.Fatalf("LoadQuestsFromDirectory returned error: %v", err)
	}
	if len(config.Quests) != 2 {
		t.Errorf("should merge 2 quests, got %d", len(config.Quests))
	}
	if _, ok := config.Quests["q2"]; !ok {
		t.Error("quest from .yml file should be loaded")
	}
}

func TestMerge_LaterWins(t *testing.T) {
	a := &QuestsConfig{Quests: map[string]DefinitionYAML{"q1": {Category: "main"}}}
	b := &QuestsConfig{Quests: map[string]DefinitionYAML{"q1": {Category: "side"}, "q2": {Category: "daily"}}}

	a.Merge(b)
	a.Merge(nil)

	if len(a.Quests) != 2 {
		t.Errorf("should have 2 quests, got %d", len(a.Quests))
	}
	if a.Quests["q1"].Category != "side" {
		t.Errorf("later file should win, got %s", a.Quests["q1"].Category)
	}
}
