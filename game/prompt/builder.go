// Package prompt assembles the two strings sent to the model: fixed
// system instructions and a user prompt built in a deterministic
// section order. The user prompt is a pure function of (context,
// decisions, player action); empty sections are omitted entirely.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kestrelgames/taleweaver/internal/strutil"
	"github.com/kestrelgames/taleweaver/game/policy"
	"github.com/kestrelgames/taleweaver/journeylog"
)

// Display truncation limits. These bound prompt size, not store writes.
const (
	sparkDescriptionLimit = 200
	sparkTagLimit         = 5
	historyActionLimit    = 200
	historyResponseLimit  = 300
)

const systemInstructions = `You are the narrator of an ongoing text adventure. Each turn you receive the character's current state and the player's action. Respond with a single JSON object, with no markdown fences and no text outside the JSON.

## Output
{
  "narrative": "what happens next, written in second person",
  "intents": {
    "quest":  {"action": "none|offer|complete|abandon", "title": "...", "summary": "...", "details": {}},
    "combat": {"action": "none|start|continue|end", "enemies": [{"name": "...", "current_hp": 0, "max_hp": 0, "weapon": "...", "status": "..."}], "notes": "..."},
    "poi":    {"action": "none|create|reference", "name": "...", "description": "...", "tags": []},
    "meta":   {"player_mood": "...", "pacing": "slow|normal|fast", "flags": {}}
  }
}
Omit optional fields you have no value for. "narrative" is required and must never be empty.

## Status rules
- Health only moves forward: Healthy -> Wounded -> Dead. Never heal a Dead character and never reverse a transition in your narration.
- When the character is Dead the story is over: narrate the aftermath and set every intent action to "none".

## Turn rules
- Respect the "This Turn" section: a subsystem marked NOT ALLOWED must not appear in your intents.
- Only reference places, people and quests present in the provided state or introduced in your own narration this turn.`

// SystemInstructions returns the per-turn model contract: role, output
// shape, status-transition rules and game-over rules.
func SystemInstructions() string {
	return systemInstructions
}

// SortSparksNewestFirst orders sparks for display and selection. The
// orchestrator sorts before the reference draw so the recorded spark
// index matches what the prompt shows.
func SortSparksNewestFirst(sparks []journeylog.POI) {
	sort.SliceStable(sparks, func(i, j int) bool {
		return sparks[i].CreatedAt.After(sparks[j].CreatedAt)
	})
}

// Build assembles the user prompt. Section order is fixed: status,
// location, quest, combat, sparks, policy hints, history, player action.
func Build(charCtx *journeylog.Context, decisions *policy.Decisions, playerAction string) string {
	var b strings.Builder

	writeStatus(&b, charCtx)
	writeLocation(&b, charCtx)
	writeQuest(&b, charCtx)
	writeCombat(&b, charCtx)
	writeSparks(&b, charCtx)
	writeHints(&b, charCtx, decisions)
	writeHistory(&b, charCtx)
	writeAction(&b, playerAction)

	return strings.TrimRight(b.String(), "\n")
}

func writeStatus(b *strings.Builder, charCtx *journeylog.Context) {
	if charCtx.Status == "" {
		return
	}
	fmt.Fprintf(b, "## Character Status\n%s\n\n", charCtx.Status)
}

func writeLocation(b *strings.Builder, charCtx *journeylog.Context) {
	name := charCtx.Location.DisplayName
	if name == "" {
		name = charCtx.Location.ID
	}
	if name == "" {
		return
	}
	fmt.Fprintf(b, "## Current Location\n%s\n\n", name)
}

func writeQuest(b *strings.Builder, charCtx *journeylog.Context) {
	quest := charCtx.ActiveQuest
	if quest == nil {
		return
	}
	b.WriteString("## Active Quest\n")
	fmt.Fprintf(b, "Title: %s\n", quest.Title)
	if quest.Summary != "" {
		fmt.Fprintf(b, "Summary: %s\n", quest.Summary)
	}
	if len(quest.Details) > 0 {
		if raw, err := json.Marshal(quest.Details); err == nil {
			fmt.Fprintf(b, "Details: %s\n", raw)
		}
	}
	if len(quest.Requirements) > 0 {
		if raw, err := json.Marshal(quest.Requirements); err == nil {
			fmt.Fprintf(b, "Requirements: %s\n", raw)
		}
	}
	b.WriteString("\n")
}

func writeCombat(b *strings.Builder, charCtx *journeylog.Context) {
	if !charCtx.InCombat() {
		return
	}
	combat := charCtx.CombatState
	b.WriteString("## Combat\n")
	fmt.Fprintf(b, "Round %d\n", combat.TurnNumber)
	for _, enemy := range combat.Enemies {
		line := fmt.Sprintf("- %s: %d/%d HP", enemy.Name, enemy.CurrentHP, enemy.MaxHP)
		if enemy.Weapon != "" {
			line += ", weapon: " + enemy.Weapon
		}
		if enemy.Status != "" {
			line += ", status: " + enemy.Status
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")
}

func writeSparks(b *strings.Builder, charCtx *journeylog.Context) {
	if len(charCtx.MemorySparks) == 0 {
		return
	}
	sparks := make([]journeylog.POI, len(charCtx.MemorySparks))
	copy(sparks, charCtx.MemorySparks)
	SortSparksNewestFirst(sparks)

	b.WriteString("## Places You Remember\n")
	for _, spark := range sparks {
		line := "- " + spark.Name
		if spark.Description != "" {
			line += ": " + strutil.Truncate(spark.Description, sparkDescriptionLimit)
		}
		if len(spark.Tags) > 0 {
			tags := spark.Tags
			if len(tags) > sparkTagLimit {
				tags = tags[:sparkTagLimit]
			}
			line += " [tags: " + strings.Join(tags, ", ") + "]"
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")
}

func writeHints(b *strings.Builder, charCtx *journeylog.Context, decisions *policy.Decisions) {
	if decisions == nil {
		return
	}
	b.WriteString("## This Turn\n")
	writeTriggerHint(b, "Quest offer", decisions.Quest)
	if ref := decisions.Reference; ref != nil && ref.Passed {
		if spark := referencedSpark(charCtx, ref.SparkIndex); spark != nil {
			line := "  Tie the quest to this remembered place: " + spark.Name
			if spark.Description != "" {
				line += " - " + strutil.Truncate(spark.Description, sparkDescriptionLimit)
			}
			b.WriteString(line + "\n")
		}
	}
	writeTriggerHint(b, "New point of interest", decisions.POI)
	b.WriteString("\n")
}

func writeTriggerHint(b *strings.Builder, label string, d policy.TriggerDecision) {
	if d.Eligible && d.Passed {
		fmt.Fprintf(b, "- %s: ALLOWED\n", label)
		return
	}
	reason := "trigger roll did not pass"
	if !d.Eligible {
		reason = strings.Join(d.Reasons, "; ")
	}
	fmt.Fprintf(b, "- %s: NOT ALLOWED (%s)\n", label, reason)
}

// referencedSpark resolves the chosen index against display order.
func referencedSpark(charCtx *journeylog.Context, index int) *journeylog.POI {
	if index < 0 || index >= len(charCtx.MemorySparks) {
		return nil
	}
	sparks := make([]journeylog.POI, len(charCtx.MemorySparks))
	copy(sparks, charCtx.MemorySparks)
	SortSparksNewestFirst(sparks)
	return &sparks[index]
}

func writeHistory(b *strings.Builder, charCtx *journeylog.Context) {
	if len(charCtx.RecentHistory) == 0 {
		return
	}
	b.WriteString("## Recent Events\n")
	for _, entry := range charCtx.RecentHistory {
		fmt.Fprintf(b, "- You: %s\n", strutil.Truncate(entry.PlayerAction, historyActionLimit))
		if entry.Response != "" {
			fmt.Fprintf(b, "  Outcome: %s\n", strutil.Truncate(entry.Response, historyResponseLimit))
		}
	}
	b.WriteString("\n")
}

func writeAction(b *strings.Builder, playerAction string) {
	fmt.Fprintf(b, "## Player Action\n%s\n", playerAction)
}
