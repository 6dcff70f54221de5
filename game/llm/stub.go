package llm

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strings"
	"time"
)

// stubNarratives are the canned outcomes served in stub mode, one
// picked per prompt. Every entry is a complete outcome document so the
// parse and write phases behave exactly as they would live.
var stubNarratives = []string{
	"The road bends past a fallen watchtower, its stones slick with moss. You press on, boots sinking into the soft earth, and the wind carries the faint smell of woodsmoke from somewhere ahead.",
	"Lantern light spills from the tavern door as you step inside. Conversations dim for a moment, then resume; a bard in the corner picks up a tune about a drowned king.",
	"You crest the ridge and the valley opens below, a river stitching silver through the dark pines. Far off, a single bell begins to toll.",
	"The cellar air is cold and tastes of iron. Your torch gutters once, steadies, and throws your shadow long across rows of dusty casks.",
}

type stubService struct{}

// NewStub returns a Service that serves canned outcomes without any
// remote call. Used by tests, offline runs and demo mode.
func NewStub() Service {
	return &stubService{}
}

func (s *stubService) Provider() string { return "stub" }
func (s *stubService) Model() string    { return "stub" }

func (s *stubService) Generate(_ context.Context, _, userPrompt string) (string, *CallStats, error) {
	start := time.Now()
	text := stubOutcome(userPrompt)
	return text, stubStats(userPrompt, text, start), nil
}

func (s *stubService) GenerateStream(_ context.Context, _, userPrompt string, sink TokenSink) (string, *CallStats, error) {
	start := time.Now()
	text := stubOutcome(userPrompt)

	if sink != nil {
		sinkDead := false
		for _, token := range splitTokens(text) {
			if sinkDead {
				break
			}
			if err := sink(token); err != nil {
				sinkDead = true
			}
		}
	}
	return text, stubStats(userPrompt, text, start), nil
}

// stubOutcome returns a full outcome document with all intents set to
// none, chosen deterministically from the prompt.
func stubOutcome(userPrompt string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userPrompt))
	narrative := stubNarratives[int(h.Sum32())%len(stubNarratives)]

	doc := map[string]any{
		"narrative": narrative,
		"intents": map[string]any{
			"quest":  map[string]any{"action": "none"},
			"combat": map[string]any{"action": "none"},
			"poi":    map[string]any{"action": "none"},
			"meta":   map[string]any{"pacing": "normal"},
		},
	}
	raw, _ := json.Marshal(doc)
	return string(raw)
}

// splitTokens chunks text on word boundaries so streaming consumers see
// a realistic token cadence.
func splitTokens(text string) []string {
	words := strings.SplitAfter(text, " ")
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

func stubStats(prompt, text string, start time.Time) *CallStats {
	elapsed := time.Since(start)
	return &CallStats{
		PromptTokens:       len(prompt) / 4,
		CompletionTokens:   len(text) / 4,
		TotalTokens:        (len(prompt) + len(text)) / 4,
		TimeToFirstTokenMs: elapsed.Milliseconds(),
		TotalDurationMs:    elapsed.Milliseconds(),
	}
}
