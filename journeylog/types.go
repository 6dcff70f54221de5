package journeylog

import "time"

// Store-side field maxima. Normalization truncates intent text to these
// bounds before any write is attempted.
const (
	MaxQuestTitleLen     = 200
	MaxQuestSummaryLen   = 2000
	MaxPOINameLen        = 200
	MaxPOIDescriptionLen = 2000
)

// HealthStatus is the character's health state. Transitions are
// monotonic toward StatusDead and never reverse from it; the store owns
// the transition, this service only reads it.
type HealthStatus string

const (
	StatusHealthy HealthStatus = "Healthy"
	StatusWounded HealthStatus = "Wounded"
	StatusDead    HealthStatus = "Dead"
)

// Alive reports whether the character can still act in the world.
func (s HealthStatus) Alive() bool {
	return s == StatusHealthy || s == StatusWounded
}

// Location is where the character currently stands.
type Location struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Quest is an active or offered quest record.
type Quest struct {
	Title        string         `json:"title"`
	Summary      string         `json:"summary"`
	Details      map[string]any `json:"details,omitempty"`
	Requirements map[string]any `json:"requirements,omitempty"`
}

// Enemy is a single combatant in the character's current fight.
type Enemy struct {
	Name      string `json:"name"`
	CurrentHP int    `json:"current_hp"`
	MaxHP     int    `json:"max_hp"`
	Weapon    string `json:"weapon,omitempty"`
	Status    string `json:"status,omitempty"`
}

// CombatState describes an ongoing fight.
type CombatState struct {
	TurnNumber int     `json:"turn_number"`
	Enemies    []Enemy `json:"enemies"`
}

// HistoryEntry is one prior turn, oldest-first in Context.RecentHistory.
type HistoryEntry struct {
	TurnIndex    int    `json:"turn_index,omitempty"`
	PlayerAction string `json:"player_action"`
	Response     string `json:"response"`
}

// POI is a named, tagged location record.
type POI struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// PolicyState carries the per-character trigger counters. Both count
// turns since the last successful subsystem write and never decrease
// within a turn.
type PolicyState struct {
	TurnsSinceLastQuest int `json:"turns_since_last_quest"`
	TurnsSinceLastPOI   int `json:"turns_since_last_poi"`
}

// Context is the character snapshot fetched at the start of a turn and
// discarded when the turn completes.
//
// MemorySparks is filled by the orchestrator from GetRandomPOIs, never
// by the context call, so it has no wire representation here.
type Context struct {
	CharacterID   string         `json:"character_id"`
	Status        HealthStatus   `json:"status"`
	Location      Location       `json:"location"`
	ActiveQuest   *Quest         `json:"active_quest,omitempty"`
	CombatState   *CombatState   `json:"combat_state,omitempty"`
	RecentHistory []HistoryEntry `json:"recent_history,omitempty"`
	PolicyState   PolicyState    `json:"policy_state"`
	KnownPOIs     []POI          `json:"pois,omitempty"`

	MemorySparks []POI `json:"-"`
}

// InCombat reports whether a fight is in progress.
func (c *Context) InCombat() bool {
	return c.CombatState != nil && len(c.CombatState.Enemies) > 0
}
