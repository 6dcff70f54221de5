package turn

import (
	"fmt"

	"github.com/kestrelgames/taleweaver/game/audit"
	"github.com/kestrelgames/taleweaver/game/llm"
	"github.com/kestrelgames/taleweaver/game/outcome"
)

// Pipeline phase names, in execution order. Phase latencies in audit
// records and metrics key off these strings.
const (
	PhaseAdmit         = "admit"
	PhaseFetchContext  = "fetch_context"
	PhasePolicy        = "policy"
	PhaseMemorySparks  = "memory_sparks"
	PhaseBuildPrompt   = "build_prompt"
	PhaseLLMCall       = "llm_call"
	PhaseParse         = "parse_normalize"
	PhaseDeriveActions = "derive_actions"
	PhaseExecuteWrites = "execute_writes"
	PhaseRespond       = "respond_audit"
)

// Request is one player turn to process.
type Request struct {
	CharacterID  string `json:"character_id"`
	PlayerAction string `json:"player_action"`
	// TraceID is generated when empty.
	TraceID string `json:"trace_id,omitempty"`
	// DryRun runs the full pipeline, model call included, but skips
	// every journey-log write.
	DryRun bool `json:"dry_run,omitempty"`
}

// SubsystemSummary reports what each subsystem write did this turn.
// A nil Success on an outcome means the write was never attempted; on
// a dry run the action label still names what would have happened.
type SubsystemSummary struct {
	QuestChange        audit.SubsystemOutcome `json:"quest_change"`
	CombatUpdate       audit.SubsystemOutcome `json:"combat_update"`
	POICreated         audit.SubsystemOutcome `json:"poi_created"`
	NarrativePersisted bool                   `json:"narrative_persisted"`
	NarrativeError     string                 `json:"narrative_error,omitempty"`
}

// TurnResult is a completed turn. Narrative is never empty, whatever
// the model produced.
type TurnResult struct {
	TurnID         string               `json:"turn_id"`
	TraceID        string               `json:"trace_id"`
	CharacterID    string               `json:"character_id"`
	Narrative      string               `json:"narrative"`
	Intents        *outcome.Intents     `json:"intents,omitempty"`
	SchemaValid    bool                 `json:"schema_valid"`
	Classification audit.Classification `json:"classification"`
	Summary        SubsystemSummary     `json:"summary"`
	Usage          *llm.CallStats       `json:"usage,omitempty"`
	DryRun         bool                 `json:"dry_run,omitempty"`
	DurationMs     int64                `json:"duration_ms"`
}

// RateLimitedError rejects a turn at admission. A rejected turn does
// no work: no context fetch, no model call, no writes.
type RateLimitedError struct {
	CharacterID       string  `json:"character_id"`
	RetryAfterSeconds float64 `json:"retry_after_seconds"`
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("turn: character %s is rate limited, retry after %.2fs", e.CharacterID, e.RetryAfterSeconds)
}

// ErrorKind classifies fatal turn failures for transport mapping.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "invalid_input"
	KindCharacterNotFound ErrorKind = "character_not_found"
	KindContextTimeout    ErrorKind = "context_fetch_timeout"
	KindContextFetch      ErrorKind = "context_fetch_error"
	KindLLMTimeout        ErrorKind = "llm_timeout"
	KindLLMAuth           ErrorKind = "llm_auth_error"
	KindLLMBadRequest     ErrorKind = "llm_bad_request"
	KindLLMFailure        ErrorKind = "llm_error"
)

// Error is a fatal, turn-aborting failure. No narrative was produced
// and nothing was written to the journey log.
type Error struct {
	Kind    ErrorKind
	TraceID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("turn: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
