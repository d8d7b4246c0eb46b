package quest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lawnchairsociety/questengine/internal/logger"
	"gopkg.in/yaml.v3"
)

// ObjectiveYAML for YAML parsing
type ObjectiveYAML struct {
	ID        string         `yaml:"id"`
	Type      string         `yaml:"type"` // interact_npc, visit_location, collect_item, kill_mob, deliver_item, harvest
	NPC       string         `yaml:"npc"`
	Location  string         `yaml:"location"`
	Item      string         `yaml:"item"`
	Mob       string         `yaml:"mob"`
	Crop      string         `yaml:"crop"`
	Recipient string         `yaml:"recipient"`
	Quantity  int            `yaml:"quantity"`
	Items     map[string]int `yaml:"items"`
}

// RewardYAML for YAML parsing
type RewardYAML struct {
	Currency   map[string]int `yaml:"currency"`
	Items      []ItemStack    `yaml:"items"`
	Experience int            `yaml:"experience"`
}

// DefinitionYAML for YAML parsing
type DefinitionYAML struct {
	Category    string          `yaml:"category"`
	GiverNPC    string          `yaml:"giver_npc"`
	Sequential  bool            `yaml:"sequential"`
	Objectives  []ObjectiveYAML `yaml:"objectives"`
	Rewards     RewardYAML      `yaml:"rewards"`
	MinLevel    int             `yaml:"min_level"`
	MaxLevel    int             `yaml:"max_level"`
	Prereqs     []string        `yaml:"prereqs"`
	DialogLines int             `yaml:"dialog_lines"`
}

// QuestsConfig represents the structure of a quest content file
type QuestsConfig struct {
	Quests map[string]DefinitionYAML `yaml:"quests"`
}

// LoadQuestsFromYAML loads quest definitions from a YAML file
func LoadQuestsFromYAML(filename string) (*QuestsConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read quests file: %w", err)
	}
	return ParseQuestsYAML(data)
}

// ParseQuestsYAML parses quest content from YAML bytes
func ParseQuestsYAML(data []byte) (*QuestsConfig, error) {
	var config QuestsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse quests YAML: %w", err)
	}
	if config.Quests == nil {
		config.Quests = make(map[string]DefinitionYAML)
	}
	return &config, nil
}

// Build converts and validates every entry, sorted by ID. Quests that fail
// are left out and reported as InvalidDefinition errors.
func (config *QuestsConfig) Build() ([]*Definition, []error) {
	ids := make([]string, 0, len(config.Quests))
	for id := range config.Quests {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	defs := make([]*Definition, 0, len(ids))
	var errs []error
	for _, id := range ids {
		def := config.Quests[id]
		d, err := createDefinition(ID(id), &def)
		if err == nil {
			err = d.Validate()
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, d)
	}
	return defs, errs
}

// createDefinition converts a YAML definition to a Definition
func createDefinition(id ID, def *DefinitionYAML) (*Definition, error) {
	objectives := make([]Objective, 0, len(def.Objectives))
	for i, objDef := range def.Objectives {
		obj, err := createObjective(objDef)
		if err != nil {
			return nil, Errorf(CodeInvalidDefinition, id, "objective %d: %v", i, err)
		}
		objectives = append(objectives, obj)
	}

	var currency map[Currency]int
	if len(def.Rewards.Currency) > 0 {
		currency = make(map[Currency]int, len(def.Rewards.Currency))
		for name, amount := range def.Rewards.Currency {
			currency[Currency(name)] = amount
		}
	}

	prereqs := make([]ID, 0, len(def.Prereqs))
	for _, p := range def.Prereqs {
		prereqs = append(prereqs, ID(p))
	}

	return &Definition{
		ID:         id,
		Category:   Category(strings.ToLower(def.Category)),
		GiverNPC:   def.GiverNPC,
		Objectives: objectives,
		Sequential: def.Sequential,
		Reward: Reward{
			Currency:   currency,
			Items:      def.Rewards.Items,
			Experience: def.Rewards.Experience,
		},
		MinLevel:    def.MinLevel,
		MaxLevel:    def.MaxLevel,
		Prereqs:     prereqs,
		DialogLines: def.DialogLines,
	}, nil
}

// createObjective converts a YAML objective to its variant
func createObjective(o ObjectiveYAML) (Objective, error) {
	switch ObjectiveKind(o.Type) {
	case KindInteractNPC:
		return InteractNPC{ID: o.ID, NPC: o.NPC}, nil
	case KindVisitLocation:
		return VisitLocation{ID: o.ID, Location: o.Location}, nil
	case KindCollectItem:
		return CollectItem{ID: o.ID, Item: o.Item, Quantity: o.Quantity}, nil
	case KindKillMob:
		return KillMob{ID: o.ID, Mob: o.Mob, Quantity: o.Quantity}, nil
	case KindDeliverItem:
		return DeliverItem{ID: o.ID, Recipient: o.Recipient, Items: o.Items}, nil
	case KindHarvest:
		return Harvest{ID: o.ID, Crop: o.Crop, Quantity: o.Quantity}, nil
	default:
		return nil, fmt.Errorf("unknown objective type %q", o.Type)
	}
}

// Merge combines another QuestsConfig into this one
func (config *QuestsConfig) Merge(other *QuestsConfig) {
	if other == nil {
		return
	}
	for id, def := range other.Quests {
		config.Quests[id] = def
	}
}

// LoadQuestsFromDirectory loads and merges all YAML files from a directory
func LoadQuestsFromDirectory(dir string) (*QuestsConfig, error) {
	merged := &QuestsConfig{
		Quests: make(map[string]DefinitionYAML),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	fileCount := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		filePath := filepath.Join(dir, name)
		config, err := LoadQuestsFromYAML(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", filePath, err)
		}
		merged.Merge(config)
		fileCount++
		logger.Debug("Loaded quest file", "path", filePath, "quests", len(config.Quests))
	}

	logger.Info("Loaded quests from directory", "dir", dir, "files", fileCount, "total_quests", len(merged.Quests))
	return merged, nil
}
