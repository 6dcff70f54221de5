package turn

import (
	"github.com/kestrelgames/taleweaver/game/outcome"
	"github.com/kestrelgames/taleweaver/game/policy"
	"github.com/kestrelgames/taleweaver/journeylog"
)

// Action labels reported in the subsystem summary.
const (
	actionNone      = "none"
	actionOffered   = "offered"
	actionCompleted = "completed"
	actionAbandoned = "abandoned"
	actionStarted   = "started"
	actionContinued = "continued"
	actionEnded     = "ended"
	actionCreated   = "created"
	actionWritten   = "written"
)

// questWrite is a planned quest mutation. A nil Put deletes the active
// quest instead of replacing it.
type questWrite struct {
	Label string
	Put   *journeylog.Quest
}

type combatWrite struct {
	Label string
	State *journeylog.CombatState
}

type poiWrite struct {
	Label string
	POI   *journeylog.POI
}

// writePlan is the set of journey-log writes one turn will attempt, in
// execution order: quest, combat, point of interest, narrative.
type writePlan struct {
	Quest     *questWrite
	Combat    *combatWrite
	POI       *poiWrite
	Narrative string
}

// deriveActions gates the model's intents against the policy decisions
// and the context state fetched at the start of the turn. Intents that
// fail a gate are dropped silently; the narrative always survives.
// Nothing here touches the network.
func deriveActions(charCtx *journeylog.Context, decisions *policy.Decisions, parsed *outcome.ParsedOutcome, enforceDead bool) writePlan {
	plan := writePlan{Narrative: parsed.Narrative}
	if !parsed.SchemaValid {
		return plan
	}
	if enforceDead && charCtx.Status == journeylog.StatusDead {
		// Dead characters narrate but never mutate world state.
		return plan
	}
	plan.Quest = planQuest(charCtx, decisions, parsed.Intents)
	plan.Combat = planCombat(charCtx, parsed.Intents)
	plan.POI = planPOI(decisions, parsed.Intents)
	return plan
}

func planQuest(charCtx *journeylog.Context, decisions *policy.Decisions, intents *outcome.Intents) *questWrite {
	if intents == nil || intents.Quest == nil {
		return nil
	}
	q := intents.Quest
	switch q.Action {
	case outcome.QuestActionOffer:
		if !decisions.Quest.Passed || charCtx.ActiveQuest != nil {
			return nil
		}
		return &questWrite{
			Label: actionOffered,
			Put: &journeylog.Quest{
				Title:        q.Title,
				Summary:      q.Summary,
				Details:      q.Details,
				Requirements: q.Requirements,
			},
		}
	case outcome.QuestActionComplete:
		if charCtx.ActiveQuest == nil {
			return nil
		}
		return &questWrite{Label: actionCompleted}
	case outcome.QuestActionAbandon:
		if charCtx.ActiveQuest == nil {
			return nil
		}
		return &questWrite{Label: actionAbandoned}
	}
	return nil
}

func planCombat(charCtx *journeylog.Context, intents *outcome.Intents) *combatWrite {
	if intents == nil || intents.Combat == nil {
		return nil
	}
	c := intents.Combat
	switch c.Action {
	case outcome.CombatActionStart:
		if charCtx.InCombat() || len(c.Enemies) == 0 {
			return nil
		}
		return &combatWrite{
			Label: actionStarted,
			State: &journeylog.CombatState{TurnNumber: 1, Enemies: c.Enemies},
		}
	case outcome.CombatActionContinue:
		if !charCtx.InCombat() {
			return nil
		}
		enemies := c.Enemies
		if len(enemies) == 0 {
			// The model omitted the roster; keep the known one.
			enemies = charCtx.CombatState.Enemies
		}
		return &combatWrite{
			Label: actionContinued,
			State: &journeylog.CombatState{TurnNumber: charCtx.CombatState.TurnNumber + 1, Enemies: enemies},
		}
	case outcome.CombatActionEnd:
		if !charCtx.InCombat() {
			return nil
		}
		return &combatWrite{
			Label: actionEnded,
			State: &journeylog.CombatState{TurnNumber: charCtx.CombatState.TurnNumber + 1, Enemies: []journeylog.Enemy{}},
		}
	}
	return nil
}

func planPOI(decisions *policy.Decisions, intents *outcome.Intents) *poiWrite {
	if intents == nil || intents.POI == nil {
		return nil
	}
	p := intents.POI
	if p.Action != outcome.POIActionCreate || !decisions.POI.Passed {
		return nil
	}
	return &poiWrite{
		Label: actionCreated,
		POI: &journeylog.POI{
			Name:        p.Name,
			Description: p.Description,
			Tags:        p.Tags,
		},
	}
}
