package quest

import (
	"errors"
	"sort"
	"sync"

	"github.com/lawnchairsociety/questengine/internal/logger"
)

// Registry holds all loaded quest definitions
type Registry struct {
	mu     sync.RWMutex
	quests map[ID]*Definition       // questID -> Definition
	byNPC  map[string][]*Definition // npcID -> quests they give
}

// NewRegistry creates a new registry
func NewRegistry() *Registry {
	return &Registry{
		quests: make(map[ID]*Definition),
		byNPC:  make(map[string][]*Definition),
	}
}

// LoadFromConfig replaces the registry contents with the valid quests in
// config. Rejected quests are logged and returned joined; they are never
// offered.
func (r *Registry) LoadFromConfig(config *QuestsConfig) error {
	defs, errs := config.Build()
	for _, err := range errs {
		logger.Error("Rejected quest definition", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.quests = make(map[ID]*Definition, len(defs))
	r.byNPC = make(map[string][]*Definition)
	for _, def := range defs {
		r.add(def)
	}

	return errors.Join(errs...)
}

// Register validates and adds a single definition.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.quests[def.ID]; exists {
		return Errorf(CodeInvalidDefinition, def.ID, "quest already registered")
	}
	r.add(def)
	return nil
}

// add must be called with the lock held
func (r *Registry) add(def *Definition) {
	r.quests[def.ID] = def
	if def.GiverNPC != "" {
		r.byNPC[def.GiverNPC] = append(r.byNPC[def.GiverNPC], def)
	}
}

// Get returns a quest by ID
func (r *Registry) Get(id ID) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, exists := r.quests[id]
	return def, exists
}

// ForNPC returns all quests an NPC can give
func (r *Registry) ForNPC(npcID string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := r.byNPC[npcID]
	result := make([]*Definition, len(defs))
	copy(result, defs)
	sortByID(result)
	return result
}

// All returns all registered quests sorted by ID
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.quests))
	for _, def := range r.quests {
		defs = append(defs, def)
	}
	sortByID(defs)
	return defs
}

// Count returns the number of registered quests
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.quests)
}

// LoadFromYAML loads quests from a YAML file
func (r *Registry) LoadFromYAML(filename string) error {
	config, err := LoadQuestsFromYAML(filename)
	if err != nil {
		return err
	}
	return r.LoadFromConfig(config)
}

// LoadFromDirectory loads quests from all YAML files in a directory
func (r *Registry) LoadFromDirectory(dir string) error {
	config, err := LoadQuestsFromDirectory(dir)
	if err != nil {
		return err
	}
	return r.LoadFromConfig(config)
}

func sortByID(defs []*Definition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
}
