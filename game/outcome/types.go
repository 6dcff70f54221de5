package outcome

import (
	"github.com/kestrelgames/taleweaver/journeylog"
)

// QuestAction is what the model wants to happen to the active quest.
type QuestAction string

const (
	QuestActionNone     QuestAction = "none"
	QuestActionOffer    QuestAction = "offer"
	QuestActionComplete QuestAction = "complete"
	QuestActionAbandon  QuestAction = "abandon"
)

// CombatAction is what the model wants to happen to the combat state.
type CombatAction string

const (
	CombatActionNone     CombatAction = "none"
	CombatActionStart    CombatAction = "start"
	CombatActionContinue CombatAction = "continue"
	CombatActionEnd      CombatAction = "end"
)

// POIAction is what the model wants to happen to the point-of-interest log.
type POIAction string

const (
	POIActionNone      POIAction = "none"
	POIActionCreate    POIAction = "create"
	POIActionReference POIAction = "reference"
)

// Pacing is the model's hint about narrative tempo.
type Pacing string

const (
	PacingSlow   Pacing = "slow"
	PacingNormal Pacing = "normal"
	PacingFast   Pacing = "fast"
)

// QuestIntent carries a quest state change requested by the model.
type QuestIntent struct {
	Action       QuestAction    `json:"action"`
	Title        string         `json:"title,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Requirements map[string]any `json:"requirements,omitempty"`
}

// CombatIntent carries a combat state change requested by the model.
type CombatIntent struct {
	Action  CombatAction       `json:"action"`
	Enemies []journeylog.Enemy `json:"enemies,omitempty"`
	Notes   string             `json:"notes,omitempty"`
}

// POIIntent carries a point-of-interest change requested by the model.
type POIIntent struct {
	Action      POIAction `json:"action"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// MetaIntent carries advisory signals that never translate into writes.
type MetaIntent struct {
	PlayerMood string   `json:"player_mood,omitempty"`
	Pacing     Pacing   `json:"pacing,omitempty"`
	Flags      []string `json:"flags,omitempty"`
}

// Intents groups the four independent sub-intents of an outcome. Any of
// them may be nil, which reads as "no change requested".
type Intents struct {
	Quest  *QuestIntent  `json:"quest,omitempty"`
	Combat *CombatIntent `json:"combat,omitempty"`
	POI    *POIIntent    `json:"poi,omitempty"`
	Meta   *MetaIntent   `json:"meta,omitempty"`
}

// QuestAction returns the quest action, QuestActionNone when the
// sub-intent is absent.
func (i *Intents) QuestAction() QuestAction {
	if i == nil || i.Quest == nil || i.Quest.Action == "" {
		return QuestActionNone
	}
	return i.Quest.Action
}

// CombatAction returns the combat action, CombatActionNone when the
// sub-intent is absent.
func (i *Intents) CombatAction() CombatAction {
	if i == nil || i.Combat == nil || i.Combat.Action == "" {
		return CombatActionNone
	}
	return i.Combat.Action
}

// POIAction returns the point-of-interest action, POIActionNone when
// the sub-intent is absent.
func (i *Intents) POIAction() POIAction {
	if i == nil || i.POI == nil || i.POI.Action == "" {
		return POIActionNone
	}
	return i.POI.Action
}

// ErrorType classifies why a parse fell back.
type ErrorType string

const (
	// ErrorNone means the output decoded and validated cleanly.
	ErrorNone ErrorType = ""
	// ErrorDecode means the output was not JSON at all.
	ErrorDecode ErrorType = "decode_error"
	// ErrorSchema means the output was JSON but violated the outcome schema.
	ErrorSchema ErrorType = "schema_error"
)

// ParsedOutcome is the result of parsing one model response. Narrative
// is never empty; Intents is nil whenever SchemaValid is false.
type ParsedOutcome struct {
	Narrative   string
	Intents     *Intents
	SchemaValid bool
	ErrorType   ErrorType
}
