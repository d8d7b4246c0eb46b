package quest

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a player's quest.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// IsTerminal returns true for states that never transition again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// RewardStatus tracks delivery of a completed quest's reward.
type RewardStatus string

const (
	RewardNone     RewardStatus = ""         // Quest not completed yet
	RewardPending  RewardStatus = "pending"  // Grant dispatched
	RewardGranted  RewardStatus = "granted"  // Fully delivered
	RewardDeferred RewardStatus = "deferred" // Remainder queued for later delivery
)

// RewardState records the single reward grant of a completed quest.
type RewardState struct {
	Status  RewardStatus `json:"status,omitempty"`
	GrantID string       `json:"grant_id,omitempty"`
}

// ObjectiveProgress tracks progress on a single objective.
type ObjectiveProgress struct {
	ObjectiveID string     `json:"objective_id"`
	Current     int        `json:"current"`
	Required    int        `json:"required"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Progress tracks one player's progress on one quest.
type Progress struct {
	PlayerID    string                        `json:"player_id"`
	QuestID     ID                            `json:"quest_id"`
	Status      Status                        `json:"status"`
	StartedAt   time.Time                     `json:"started_at"`
	CompletedAt *time.Time                    `json:"completed_at,omitempty"`
	Objectives  map[string]*ObjectiveProgress `json:"objectives"`
	Reward      RewardState                   `json:"reward"`

	def *Definition
}

// NewProgress creates a NotStarted record for a player and quest.
func NewProgress(playerID string, def *Definition) *Progress {
	return &Progress{
		PlayerID:   playerID,
		QuestID:    def.ID,
		Status:     StatusNotStarted,
		Objectives: make(map[string]*ObjectiveProgress),
		def:        def,
	}
}

// Definition returns the definition this record is bound to.
func (p *Progress) Definition() *Definition {
	return p.def
}

// Bind attaches a loaded record to its definition. It fails when the stored
// objectives no longer match the definition.
func (p *Progress) Bind(def *Definition) error {
	if def.ID != p.QuestID {
		return fmt.Errorf("progress for %s cannot bind to %s", p.QuestID, def.ID)
	}
	if p.Objectives == nil {
		p.Objectives = make(map[string]*ObjectiveProgress)
	}
	if p.Status != StatusNotStarted {
		if len(p.Objectives) != len(def.Objectives) {
			return fmt.Errorf("progress for %s has %d objectives, definition has %d",
				p.QuestID, len(p.Objectives), len(def.Objectives))
		}
		for _, obj := range def.Objectives {
			op, ok := p.Objectives[obj.ObjectiveID()]
			if !ok {
				return fmt.Errorf("progress for %s is missing objective %q", p.QuestID, obj.ObjectiveID())
			}
			if op.Required != obj.Required() {
				return fmt.Errorf("objective %q of %s requires %d, record says %d",
					obj.ObjectiveID(), p.QuestID, obj.Required(), op.Required)
			}
		}
	}
	p.def = def
	return nil
}

// Start moves the quest from NotStarted to InProgress.
func (p *Progress) Start(now time.Time) error {
	if p.Status != StatusNotStarted {
		return Errorf(CodeAlreadyStarted, p.QuestID, "quest is %s", p.Status)
	}

	objectives := make(map[string]*ObjectiveProgress, len(p.def.Objectives))
	for _, obj := range p.def.Objectives {
		objectives[obj.ObjectiveID()] = &ObjectiveProgress{
			ObjectiveID: obj.ObjectiveID(),
			Required:    obj.Required(),
		}
	}

	p.Objectives = objectives
	p.Status = StatusInProgress
	p.StartedAt = now
	return nil
}

// EligibleObjectives returns the objectives that may receive progress now.
// Sequential quests expose only the first incomplete objective.
func (p *Progress) EligibleObjectives() []Objective {
	if p.Status != StatusInProgress {
		return nil
	}

	var eligible []Objective
	for _, obj := range p.def.Objectives {
		op := p.Objectives[obj.ObjectiveID()]
		if op == nil || op.Completed {
			continue
		}
		eligible = append(eligible, obj)
		if p.def.Sequential {
			break
		}
	}
	return eligible
}

func (p *Progress) isEligible(objectiveID string) bool {
	for _, obj := range p.EligibleObjectives() {
		if obj.ObjectiveID() == objectiveID {
			return true
		}
	}
	return false
}

// ApplyDelta adds progress to an eligible objective, clamped to its required
// amount. It returns true when this call completed the objective.
func (p *Progress) ApplyDelta(objectiveID string, delta int, now time.Time) (bool, error) {
	if p.Status != StatusInProgress {
		return false, Errorf(CodeNotInProgress, p.QuestID, "quest is %s", p.Status)
	}
	if delta <= 0 {
		return false, Errorf(CodeInvalidDelta, p.QuestID, "delta %d for objective %q", delta, objectiveID)
	}
	op, ok := p.Objectives[objectiveID]
	if !ok {
		return false, Errorf(CodeUnknownObjective, p.QuestID, "objective %q", objectiveID)
	}
	if !p.isEligible(objectiveID) {
		return false, Errorf(CodeNotEligible, p.QuestID, "objective %q is not eligible", objectiveID)
	}

	op.Current += delta
	if op.Current > op.Required {
		op.Current = op.Required
	}
	if op.Current == op.Required && !op.Completed {
		op.Completed = true
		at := now
		op.CompletedAt = &at
		return true, nil
	}
	return false, nil
}

// RecomputeCompletion marks the quest completed when every objective is
// done. It returns true only on the transition, so callers can hang the
// reward grant on it.
func (p *Progress) RecomputeCompletion(now time.Time) bool {
	if p.Status != StatusInProgress {
		return false
	}
	for _, op := range p.Objectives {
		if !op.Completed {
			return false
		}
	}
	p.Status = StatusCompleted
	at := now
	p.CompletedAt = &at
	return true
}

// Abandon moves an in-progress quest to Abandoned. No rewards are granted.
func (p *Progress) Abandon() error {
	if p.Status != StatusInProgress {
		return Errorf(CodeNotInProgress, p.QuestID, "quest is %s", p.Status)
	}
	p.Status = StatusAbandoned
	return nil
}

// Percent returns overall completion as a percentage of required amounts.
func (p *Progress) Percent() int {
	if p.Status == StatusCompleted {
		return 100
	}
	var current, required int
	for _, op := range p.Objectives {
		current += op.Current
		required += op.Required
	}
	if required == 0 {
		return 0
	}
	return current * 100 / required
}

// Clone returns a deep copy bound to the same definition.
func (p *Progress) Clone() *Progress {
	c := *p
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		c.CompletedAt = &at
	}
	c.Objectives = make(map[string]*ObjectiveProgress, len(p.Objectives))
	for id, op := range p.Objectives {
		cp := *op
		if op.CompletedAt != nil {
			at := *op.CompletedAt
			cp.CompletedAt = &at
		}
		c.Objectives[id] = &cp
	}
	return &c
}

// Verify checks the record's invariants against its definition.
func (p *Progress) Verify() error {
	if p.def == nil {
		return fmt.Errorf("progress for %s is not bound to a definition", p.QuestID)
	}
	if p.Status == StatusNotStarted {
		if len(p.Objectives) != 0 {
			return fmt.Errorf("not started quest %s has objective progress", p.QuestID)
		}
		return nil
	}

	allDone := true
	seenIncomplete := false
	for _, obj := range p.def.Objectives {
		op := p.Objectives[obj.ObjectiveID()]
		if op == nil {
			return fmt.Errorf("quest %s is missing objective %q", p.QuestID, obj.ObjectiveID())
		}
		if op.Current < 0 || op.Current > op.Required {
			return fmt.Errorf("objective %q of %s out of range: %d/%d", op.ObjectiveID, p.QuestID, op.Current, op.Required)
		}
		if op.Completed != (op.Current == op.Required) {
			return fmt.Errorf("objective %q of %s completion flag disagrees with %d/%d",
				op.ObjectiveID, p.QuestID, op.Current, op.Required)
		}
		if p.def.Sequential && seenIncomplete && op.Current > 0 {
			return fmt.Errorf("sequential quest %s has progress on %q before earlier objectives finished",
				p.QuestID, op.ObjectiveID)
		}
		if !op.Completed {
			allDone = false
			seenIncomplete = true
		}
	}

	switch p.Status {
	case StatusCompleted:
		if !allDone {
			return fmt.Errorf("quest %s is completed with open objectives", p.QuestID)
		}
	case StatusInProgress:
		if allDone {
			return fmt.Errorf("quest %s has every objective done but is still in progress", p.QuestID)
		}
	}
	return nil
}
