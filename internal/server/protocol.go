package server

import (
	"errors"

	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/text"
)

// Client operations.
const (
	OpStart     = "start"
	OpAbandon   = "abandon"
	OpEvent     = "event"
	OpProgress  = "progress"
	OpEligible  = "eligible"
	OpAvailable = "available"
)

// Frame types sent to clients.
const (
	FrameReply  = "reply"
	FrameNotice = "notice"
)

// Request is a message from a client.
type Request struct {
	ID    string       `json:"id,omitempty"` // Echoed in the reply
	Op    string       `json:"op"`
	Quest quest.ID     `json:"quest,omitempty"`
	Event *quest.Event `json:"event,omitempty"`
}

// Reply answers one Request.
type Reply struct {
	Type     string         `json:"type"`
	ID       string         `json:"id,omitempty"`
	Op       string         `json:"op"`
	OK       bool           `json:"ok"`
	Error    *ErrorBody     `json:"error,omitempty"`
	Progress []ProgressView `json:"progress,omitempty"`
	Quests   []QuestView    `json:"quests,omitempty"`
}

// ErrorBody carries a machine-readable code and a short message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Notice is a pushed notification for the connected player.
type Notice struct {
	Type        string        `json:"type"`
	Kind        string        `json:"kind"`
	Quest       quest.ID      `json:"quest"`
	Objective   string        `json:"objective,omitempty"`
	Text        string        `json:"text"`
	Undelivered *quest.Reward `json:"undelivered,omitempty"`
}

// QuestView is a localized quest definition.
type QuestView struct {
	ID          quest.ID       `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    quest.Category `json:"category"`
	GiverNPC    string         `json:"giver_npc,omitempty"`
	Dialog      []string       `json:"dialog,omitempty"`
	Reward      quest.Reward   `json:"reward"`
}

// ProgressView is a localized progress record.
type ProgressView struct {
	Quest      quest.ID           `json:"quest"`
	Name       string             `json:"name"`
	Status     quest.Status       `json:"status"`
	Percent    int                `json:"percent"`
	Reward     quest.RewardStatus `json:"reward,omitempty"`
	Objectives []ObjectiveView    `json:"objectives"`
}

// ObjectiveView is one localized objective line.
type ObjectiveView struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Current   int    `json:"current"`
	Required  int    `json:"required"`
	Completed bool   `json:"completed"`
}

func errorBody(err error) *ErrorBody {
	var qe *quest.Error
	if errors.As(err, &qe) {
		return &ErrorBody{Code: string(qe.Code), Message: qe.Error()}
	}
	return &ErrorBody{Code: "bad_request", Message: err.Error()}
}

func questView(r *text.Resolver, def *quest.Definition, locale string) QuestView {
	return QuestView{
		ID:          def.ID,
		Name:        r.QuestName(def, locale),
		Description: r.QuestDescription(def, locale),
		Category:    def.Category,
		GiverNPC:    def.GiverNPC,
		Dialog:      r.DialogLines(def, locale),
		Reward:      def.Reward,
	}
}

// progressView lists objectives in definition order.
func progressView(r *text.Resolver, p *quest.Progress, locale string) ProgressView {
	def := p.Definition()
	v := ProgressView{
		Quest:   p.QuestID,
		Name:    r.QuestName(def, locale),
		Status:  p.Status,
		Percent: p.Percent(),
		Reward:  p.Reward.Status,
	}
	for _, obj := range def.Objectives {
		op, ok := p.Objectives[obj.ObjectiveID()]
		if !ok {
			op = &quest.ObjectiveProgress{ObjectiveID: obj.ObjectiveID(), Required: obj.Required()}
		}
		v.Objectives = append(v.Objectives, ObjectiveView{
			ID:        op.ObjectiveID,
			Text:      r.ObjectiveText(def, op, locale),
			Current:   op.Current,
			Required:  op.Required,
			Completed: op.Completed,
		})
	}
	return v
}
