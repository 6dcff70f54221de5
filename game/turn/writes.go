package turn

import (
	"context"

	"github.com/kestrelgames/taleweaver/game/audit"
)

// executeWrites attempts the planned writes in fixed order: quest,
// combat, point of interest, narrative. Each write runs exactly once;
// a failure is recorded and the writes behind it still run. Dry runs
// report the plan's action labels without touching the store.
func (o *Orchestrator) executeWrites(ctx context.Context, st *turnState) SubsystemSummary {
	summary := SubsystemSummary{
		QuestChange:  audit.Skipped(actionNone),
		CombatUpdate: audit.Skipped(actionNone),
		POICreated:   audit.Skipped(actionNone),
	}

	if w := st.plan.Quest; w != nil {
		summary.QuestChange = o.writeQuest(ctx, st, w)
	}
	if w := st.plan.Combat; w != nil {
		summary.CombatUpdate = o.writeCombat(ctx, st, w)
	}
	if w := st.plan.POI; w != nil {
		summary.POICreated = o.writePOI(ctx, st, w)
	}
	if st.plan.Narrative != "" && !st.req.DryRun {
		err := o.store.PostNarrative(ctx, st.req.CharacterID, st.req.PlayerAction, st.plan.Narrative)
		o.recordWrite(st, "narrative", err)
		if err != nil {
			summary.NarrativeError = err.Error()
		} else {
			summary.NarrativePersisted = true
		}
	}
	return summary
}

func (o *Orchestrator) writeQuest(ctx context.Context, st *turnState, w *questWrite) audit.SubsystemOutcome {
	if st.req.DryRun {
		return audit.Skipped(w.Label)
	}
	var err error
	if w.Put != nil {
		err = o.store.PutQuest(ctx, st.req.CharacterID, w.Put)
	} else {
		err = o.store.DeleteQuest(ctx, st.req.CharacterID)
	}
	o.recordWrite(st, "quest", err)
	return audit.Attempted(w.Label, err == nil, errText(err))
}

func (o *Orchestrator) writeCombat(ctx context.Context, st *turnState, w *combatWrite) audit.SubsystemOutcome {
	if st.req.DryRun {
		return audit.Skipped(w.Label)
	}
	err := o.store.PutCombat(ctx, st.req.CharacterID, w.State)
	o.recordWrite(st, "combat", err)
	return audit.Attempted(w.Label, err == nil, errText(err))
}

func (o *Orchestrator) writePOI(ctx context.Context, st *turnState, w *poiWrite) audit.SubsystemOutcome {
	if st.req.DryRun {
		return audit.Skipped(w.Label)
	}
	err := o.store.PostPOI(ctx, st.req.CharacterID, w.POI)
	o.recordWrite(st, "poi", err)
	return audit.Attempted(w.Label, err == nil, errText(err))
}

func (o *Orchestrator) recordWrite(st *turnState, subsystem string, err error) {
	if o.exporter != nil {
		o.exporter.RecordStoreWrite(subsystem, err == nil)
	}
	if err != nil {
		st.errs = append(st.errs, subsystem+" write: "+err.Error())
		st.log.Warn("turn: "+subsystem+" write failed", "error", err)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
