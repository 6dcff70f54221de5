// Package audit keeps a bounded in-memory log of completed turns for
// inspection, with an optional sqlite archive for post-session
// debugging. Records are sanitized on store: narratives are cut to a
// preview, extension fields are dropped.
package audit

import (
	"time"

	"github.com/kestrelgames/taleweaver/game/policy"
)

// Classification is the overall outcome of a turn.
type Classification string

const (
	// ClassificationSuccess means every attempted write landed.
	ClassificationSuccess Classification = "success"
	// ClassificationPartial means the narrative reached the player but
	// at least one subsystem write or parse step degraded.
	ClassificationPartial Classification = "partial"
	// ClassificationError means the turn aborted before producing a result.
	ClassificationError Classification = "error"
)

// SubsystemOutcome records what happened to one subsystem in a turn.
// A nil Success means the write was not attempted.
type SubsystemOutcome struct {
	Action  string `json:"action"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Attempted is a convenience constructor for an executed write.
func Attempted(action string, success bool, errText string) SubsystemOutcome {
	return SubsystemOutcome{Action: action, Success: &success, Error: errText}
}

// Skipped is a convenience constructor for a gated-out write.
func Skipped(action string) SubsystemOutcome {
	return SubsystemOutcome{Action: action}
}

// Record is one turn's audit trail.
type Record struct {
	TurnID         string                      `json:"turn_id"`
	TraceID        string                      `json:"trace_id,omitempty"`
	CharacterID    string                      `json:"character_id"`
	Classification Classification              `json:"classification"`
	PlayerAction   string                      `json:"player_action,omitempty"`
	Narrative      string                      `json:"narrative,omitempty"`
	SchemaValid    bool                        `json:"schema_valid"`
	DryRun         bool                        `json:"dry_run,omitempty"`
	Decisions      *policy.Decisions           `json:"decisions,omitempty"`
	Subsystems     map[string]SubsystemOutcome `json:"subsystems,omitempty"`
	PhaseLatencies map[string]time.Duration    `json:"phase_latencies,omitempty"`
	Errors         []string                    `json:"errors,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`

	// Extensions carries adapter-attached extras during the turn. The
	// store drops it on insert and it never serializes.
	Extensions map[string]any `json:"-"`
}
