// Package policy decides, independently of any model output, whether
// the optional subsystems may fire this turn. Decisions are pure
// functions of (config, context, RNG source); reproducibility comes
// from the seeded per-character source threaded in by the orchestrator.
package policy

import (
	"fmt"

	"github.com/kestrelgames/taleweaver/game/rng"
	"github.com/kestrelgames/taleweaver/journeylog"
)

// Ineligibility reasons recorded on trigger decisions.
const (
	ReasonActiveQuest   = "active quest present"
	ReasonStatus        = "character is not Healthy or Wounded"
	ReasonCombatActive  = "combat in progress"
	reasonCooldownQuest = "quest cooldown active (%d/%d turns)"
	reasonCooldownPOI   = "poi cooldown active (%d/%d turns)"
)

// TriggerDecision records one subsystem's eligibility check and roll.
// Roll is only meaningful when Eligible is true; ineligible subsystems
// draw nothing so the random stream stays deterministic per context.
type TriggerDecision struct {
	Eligible    bool     `json:"eligible"`
	Reasons     []string `json:"reasons,omitempty"`
	Probability float64  `json:"probability"`
	Roll        float64  `json:"roll"`
	Passed      bool     `json:"passed"`
}

// SparkDecision records the memory-spark fetch coin flip.
type SparkDecision struct {
	Enabled     bool    `json:"enabled"`
	Probability float64 `json:"probability"`
	Roll        float64 `json:"roll"`
	Fetch       bool    `json:"fetch"`
	Count       int     `json:"count"`
}

// ReferenceDecision records the quest-POI cross-reference draw made
// after sparks arrive. SparkIndex is -1 unless the draw passed.
type ReferenceDecision struct {
	Probability float64 `json:"probability"`
	Roll        float64 `json:"roll"`
	Passed      bool    `json:"passed"`
	SparkIndex  int     `json:"spark_index"`
}

// Decisions is the per-turn policy record. Append-only within a turn:
// Evaluate fills the three fixed sub-decisions, DecideReference may add
// one more, nothing is ever rewritten.
type Decisions struct {
	Quest     TriggerDecision    `json:"quest"`
	POI       TriggerDecision    `json:"poi"`
	Spark     SparkDecision      `json:"spark"`
	Reference *ReferenceDecision `json:"reference,omitempty"`
}

// Evaluate produces the turn's policy decisions. Draw order is fixed
// (quest, POI, spark) so a given seed replays identically.
func Evaluate(cfg *Config, charCtx *journeylog.Context, src rng.Source) *Decisions {
	return &Decisions{
		Quest: questDecision(cfg, charCtx, src),
		POI:   poiDecision(cfg, charCtx, src),
		Spark: sparkDecision(cfg, src),
	}
}

func questDecision(cfg *Config, charCtx *journeylog.Context, src rng.Source) TriggerDecision {
	d := TriggerDecision{Probability: cfg.QuestTriggerProbability}

	if charCtx.ActiveQuest != nil {
		d.Reasons = append(d.Reasons, ReasonActiveQuest)
	}
	if !charCtx.Status.Alive() {
		d.Reasons = append(d.Reasons, ReasonStatus)
	}
	if charCtx.InCombat() {
		d.Reasons = append(d.Reasons, ReasonCombatActive)
	}
	if since := charCtx.PolicyState.TurnsSinceLastQuest; since < cfg.QuestCooldownTurns {
		d.Reasons = append(d.Reasons, fmt.Sprintf(reasonCooldownQuest, since, cfg.QuestCooldownTurns))
	}

	d.Eligible = len(d.Reasons) == 0
	if !d.Eligible {
		return d
	}
	d.Roll = src.Float64()
	d.Passed = d.Roll < d.Probability
	return d
}

func poiDecision(cfg *Config, charCtx *journeylog.Context, src rng.Source) TriggerDecision {
	d := TriggerDecision{Probability: cfg.POITriggerProbability}

	if !charCtx.Status.Alive() {
		d.Reasons = append(d.Reasons, ReasonStatus)
	}
	if since := charCtx.PolicyState.TurnsSinceLastPOI; since < cfg.POICooldownTurns {
		d.Reasons = append(d.Reasons, fmt.Sprintf(reasonCooldownPOI, since, cfg.POICooldownTurns))
	}

	d.Eligible = len(d.Reasons) == 0
	if !d.Eligible {
		return d
	}
	d.Roll = src.Float64()
	d.Passed = d.Roll < d.Probability
	return d
}

func sparkDecision(cfg *Config, src rng.Source) SparkDecision {
	d := SparkDecision{
		Enabled:     cfg.MemorySparksEnabled,
		Probability: cfg.MemorySparkProbability,
		Count:       cfg.MemorySparkCount,
	}
	if !d.Enabled {
		return d
	}
	d.Roll = src.Float64()
	d.Fetch = d.Roll < d.Probability
	return d
}

// DecideReference draws the quest-POI cross-reference decision once the
// sparks are known. It draws only when the quest trigger passed and at
// least one spark is present, and records the chosen spark index on a
// pass. Idempotent: a second call returns the recorded decision.
func DecideReference(cfg *Config, d *Decisions, sparkCount int, src rng.Source) *ReferenceDecision {
	if d.Reference != nil {
		return d.Reference
	}
	if !d.Quest.Passed || sparkCount <= 0 {
		return nil
	}

	ref := &ReferenceDecision{Probability: cfg.QuestPOIReferenceProbability, SparkIndex: -1}
	ref.Roll = src.Float64()
	ref.Passed = ref.Roll < ref.Probability
	if ref.Passed {
		ref.SparkIndex = selectSpark(cfg.SparkSelection, sparkCount, src)
	}
	d.Reference = ref
	return ref
}

// selectSpark picks a spark index. Sparks are ordered newest-first, so
// the recency strategy gives index 0 the highest linear weight.
func selectSpark(strategy string, count int, src rng.Source) int {
	if count <= 1 {
		return 0
	}
	switch strategy {
	case SparkSelectionRecency:
		total := count * (count + 1) / 2
		pick := src.IntN(total)
		for i := 0; i < count; i++ {
			pick -= count - i
			if pick < 0 {
				return i
			}
		}
		return 0
	default:
		return src.IntN(count)
	}
}
