package outcome

import (
	"strings"

	"github.com/kestrelgames/taleweaver/internal/strutil"
	"github.com/kestrelgames/taleweaver/journeylog"
)

// Fallback content used when a passed trigger arrives with no matching
// intent from the model.
const (
	fallbackQuestTitle     = "A New Opportunity"
	fallbackQuestSummary   = "An opportunity for adventure presents itself."
	fallbackPOIName        = "A Notable Location"
	fallbackPOIDescription = "An interesting location worth remembering."
)

// Normalize applies trigger-driven fallback synthesis and the store's
// write limits to a parse result, in place. Idempotent: a second pass
// over the same outcome changes nothing.
//
// questPassed and poiPassed are the turn's trigger rolls; locationName
// seeds the fallback name of a synthesized point of interest.
func Normalize(out *ParsedOutcome, questPassed, poiPassed bool, locationName string) {
	if out == nil {
		return
	}
	out.Narrative = strings.TrimSpace(out.Narrative)
	if out.Narrative == "" {
		out.Narrative = fallbackNarrative
	}
	if !out.SchemaValid {
		out.Intents = nil
		return
	}
	normalizeQuest(out, questPassed)
	normalizePOI(out, poiPassed, locationName)
}

func normalizeQuest(out *ParsedOutcome, passed bool) {
	var quest *QuestIntent
	if out.Intents != nil {
		quest = out.Intents.Quest
	}

	// A passed trigger with no quest block from the model still offers
	// a quest; an explicit "none" stands.
	if passed && (quest == nil || quest.Action == "") {
		if quest == nil {
			quest = &QuestIntent{}
			ensureIntents(out).Quest = quest
		}
		quest.Action = QuestActionOffer
	}
	if quest == nil {
		return
	}

	if quest.Action == QuestActionOffer {
		if strings.TrimSpace(quest.Title) == "" {
			quest.Title = fallbackQuestTitle
		}
		if strings.TrimSpace(quest.Summary) == "" {
			quest.Summary = fallbackQuestSummary
		}
		if quest.Details == nil {
			quest.Details = map[string]any{}
		}
	}
	quest.Title = strutil.Clip(quest.Title, journeylog.MaxQuestTitleLen)
	quest.Summary = strutil.Clip(quest.Summary, journeylog.MaxQuestSummaryLen)
}

func normalizePOI(out *ParsedOutcome, passed bool, locationName string) {
	var poi *POIIntent
	if out.Intents != nil {
		poi = out.Intents.POI
	}

	if passed && (poi == nil || poi.Action == "") {
		if poi == nil {
			poi = &POIIntent{}
			ensureIntents(out).POI = poi
		}
		poi.Action = POIActionCreate
	}
	if poi == nil {
		return
	}

	if poi.Action == POIActionCreate {
		if strings.TrimSpace(poi.Name) == "" {
			poi.Name = strings.TrimSpace(locationName)
			if poi.Name == "" {
				poi.Name = fallbackPOIName
			}
		}
		if strings.TrimSpace(poi.Description) == "" {
			poi.Description = fallbackPOIDescription
		}
		if poi.Tags == nil {
			poi.Tags = []string{}
		}
	}
	poi.Name = strutil.Clip(poi.Name, journeylog.MaxPOINameLen)
	poi.Description = strutil.Clip(poi.Description, journeylog.MaxPOIDescriptionLen)
}

func ensureIntents(out *ParsedOutcome) *Intents {
	if out.Intents == nil {
		out.Intents = &Intents{}
	}
	return out.Intents
}
