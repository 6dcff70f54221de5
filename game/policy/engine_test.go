package policy

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/kestrelgames/taleweaver/game/rng"
	"github.com/kestrelgames/taleweaver/journeylog"
)

func openContext() *journeylog.Context {
	return &journeylog.Context{
		CharacterID: "char-1",
		Status:      journeylog.StatusHealthy,
		Location:    journeylog.Location{ID: "loc-1", DisplayName: "Riverside Market"},
		PolicyState: journeylog.PolicyState{TurnsSinceLastQuest: 99, TurnsSinceLastPOI: 99},
	}
}

func permissiveConfig() *Config {
	cfg := DefaultConfig()
	cfg.QuestTriggerProbability = 1.0
	cfg.QuestCooldownTurns = 0
	cfg.POITriggerProbability = 1.0
	cfg.POICooldownTurns = 0
	cfg.MemorySparkProbability = 1.0
	return cfg
}

func charSource(seed int64) rng.Source {
	return rng.NewSeededProvider(seed).ForCharacter("char-1")
}

func TestEvaluateCertainTriggers(t *testing.T) {
	d := Evaluate(permissiveConfig(), openContext(), charSource(42))

	if !d.Quest.Eligible || !d.Quest.Passed {
		t.Errorf("quest = %+v, want eligible and passed at probability 1.0", d.Quest)
	}
	if !d.POI.Eligible || !d.POI.Passed {
		t.Errorf("poi = %+v, want eligible and passed at probability 1.0", d.POI)
	}
	if !d.Spark.Fetch {
		t.Errorf("spark = %+v, want fetch at probability 1.0", d.Spark)
	}
}

func TestEvaluateZeroProbabilityNeverPasses(t *testing.T) {
	cfg := permissiveConfig()
	cfg.QuestTriggerProbability = 0.0

	for seed := int64(0); seed < 50; seed++ {
		d := Evaluate(cfg, openContext(), charSource(seed))
		if !d.Quest.Eligible {
			t.Fatalf("seed %d: quest should stay eligible, got %+v", seed, d.Quest)
		}
		if d.Quest.Passed {
			t.Fatalf("seed %d: quest passed at probability 0.0", seed)
		}
	}
}

func TestQuestEligibility(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*journeylog.Context)
		wantReason string
	}{
		{
			"active quest blocks",
			func(c *journeylog.Context) { c.ActiveQuest = &journeylog.Quest{Title: "Open"} },
			ReasonActiveQuest,
		},
		{
			"dead character blocks",
			func(c *journeylog.Context) { c.Status = journeylog.StatusDead },
			ReasonStatus,
		},
		{
			"combat blocks",
			func(c *journeylog.Context) {
				c.CombatState = &journeylog.CombatState{TurnNumber: 1, Enemies: []journeylog.Enemy{{Name: "Wolf"}}}
			},
			ReasonCombatActive,
		},
		{
			"cooldown blocks",
			func(c *journeylog.Context) { c.PolicyState.TurnsSinceLastQuest = 2 },
			"quest cooldown active",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := permissiveConfig()
			cfg.QuestCooldownTurns = 5
			charCtx := openContext()
			tt.mutate(charCtx)

			d := Evaluate(cfg, charCtx, charSource(1))
			if d.Quest.Eligible {
				t.Fatalf("quest = %+v, want ineligible", d.Quest)
			}
			if d.Quest.Passed {
				t.Errorf("ineligible quest must never pass")
			}
			found := false
			for _, r := range d.Quest.Reasons {
				if strings.Contains(r, tt.wantReason) {
					found = true
				}
			}
			if !found {
				t.Errorf("reasons = %v, want one containing %q", d.Quest.Reasons, tt.wantReason)
			}
		})
	}
}

func TestPOIEligibilityIgnoresCombatAndQuest(t *testing.T) {
	charCtx := openContext()
	charCtx.ActiveQuest = &journeylog.Quest{Title: "Open"}
	charCtx.CombatState = &journeylog.CombatState{TurnNumber: 3, Enemies: []journeylog.Enemy{{Name: "Bandit"}}}

	d := Evaluate(permissiveConfig(), charCtx, charSource(7))
	if !d.POI.Eligible {
		t.Errorf("poi = %+v, want eligible despite quest and combat", d.POI)
	}
	if d.Quest.Eligible {
		t.Errorf("quest = %+v, want ineligible", d.Quest)
	}
}

func TestWoundedCharacterStaysEligible(t *testing.T) {
	charCtx := openContext()
	charCtx.Status = journeylog.StatusWounded

	d := Evaluate(permissiveConfig(), charCtx, charSource(3))
	if !d.Quest.Eligible || !d.POI.Eligible {
		t.Errorf("wounded character should remain eligible: quest=%+v poi=%+v", d.Quest, d.POI)
	}
}

func TestSparksDisabledDrawsNothing(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MemorySparksEnabled = false

	d := Evaluate(cfg, openContext(), charSource(9))
	if d.Spark.Enabled || d.Spark.Fetch {
		t.Errorf("spark = %+v, want disabled and no fetch", d.Spark)
	}
	if d.Spark.Roll != 0 {
		t.Errorf("disabled spark should not consume a draw, roll = %v", d.Spark.Roll)
	}
}

func TestEvaluateReplayIsIdentical(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QuestCooldownTurns = 0
	cfg.POICooldownTurns = 0

	run := func() []*Decisions {
		provider := rng.NewSeededProvider(1234)
		src := provider.ForCharacter("char-replay")
		out := make([]*Decisions, 0, 20)
		for i := 0; i < 20; i++ {
			charCtx := openContext()
			charCtx.CharacterID = "char-replay"
			out = append(out, Evaluate(cfg, charCtx, src))
		}
		return out
	}

	first, second := run(), run()
	for i := range first {
		if !reflect.DeepEqual(first[i], second[i]) {
			t.Fatalf("turn %d diverged between replays:\n%+v\n%+v", i, first[i], second[i])
		}
	}
}

func TestCooldownProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no trigger fires while its cooldown holds", prop.ForAll(
		func(cooldown, since int, seed int64) bool {
			cfg := permissiveConfig()
			cfg.QuestCooldownTurns = cooldown
			cfg.POICooldownTurns = cooldown

			charCtx := openContext()
			charCtx.PolicyState.TurnsSinceLastQuest = since
			charCtx.PolicyState.TurnsSinceLastPOI = since

			d := Evaluate(cfg, charCtx, charSource(seed))
			if since < cooldown {
				return !d.Quest.Passed && !d.POI.Passed
			}
			// Probability 1.0, no other blockers.
			return d.Quest.Passed && d.POI.Passed
		},
		gen.IntRange(0, 10),
		gen.IntRange(0, 10),
		gen.Int64Range(0, 1<<30),
	))

	properties.TestingRun(t)
}

func TestTriggerRateWithinBinomialBounds(t *testing.T) {
	const (
		n = 2000
		p = 0.3
	)
	cfg := permissiveConfig()
	cfg.QuestTriggerProbability = p

	passed := 0
	for i := 0; i < n; i++ {
		// Fresh seed per turn so draws are independent samples.
		d := Evaluate(cfg, openContext(), charSource(int64(i)))
		if d.Quest.Passed {
			passed++
		}
	}

	rate := float64(passed) / n
	sigma := math.Sqrt(p * (1 - p) / n)
	if diff := math.Abs(rate - p); diff > 3*sigma {
		t.Errorf("observed rate %.4f deviates from %.2f by %.4f (3 sigma = %.4f)", rate, p, diff, 3*sigma)
	}
}

func TestDecideReference(t *testing.T) {
	cfg := permissiveConfig()
	cfg.QuestPOIReferenceProbability = 1.0

	t.Run("skipped when quest did not pass", func(t *testing.T) {
		d := &Decisions{}
		if ref := DecideReference(cfg, d, 3, charSource(1)); ref != nil {
			t.Errorf("reference = %+v, want nil without a quest pass", ref)
		}
	})

	t.Run("skipped without sparks", func(t *testing.T) {
		d := &Decisions{Quest: TriggerDecision{Eligible: true, Passed: true}}
		if ref := DecideReference(cfg, d, 0, charSource(1)); ref != nil {
			t.Errorf("reference = %+v, want nil without sparks", ref)
		}
	})

	t.Run("records chosen spark on pass", func(t *testing.T) {
		d := &Decisions{Quest: TriggerDecision{Eligible: true, Passed: true}}
		ref := DecideReference(cfg, d, 4, charSource(2))
		if ref == nil || !ref.Passed {
			t.Fatalf("reference = %+v, want pass at probability 1.0", ref)
		}
		if ref.SparkIndex < 0 || ref.SparkIndex >= 4 {
			t.Errorf("spark index %d out of range", ref.SparkIndex)
		}
		if d.Reference != ref {
			t.Errorf("decision record not appended")
		}
	})

	t.Run("second call returns the recorded decision", func(t *testing.T) {
		d := &Decisions{Quest: TriggerDecision{Eligible: true, Passed: true}}
		src := charSource(3)
		first := DecideReference(cfg, d, 2, src)
		second := DecideReference(cfg, d, 2, src)
		if first != second {
			t.Errorf("reference draw must happen once per turn")
		}
	})

	t.Run("failed draw keeps index unset", func(t *testing.T) {
		blocked := permissiveConfig()
		blocked.QuestPOIReferenceProbability = 0.0
		d := &Decisions{Quest: TriggerDecision{Eligible: true, Passed: true}}
		ref := DecideReference(blocked, d, 3, charSource(4))
		if ref == nil || ref.Passed {
			t.Fatalf("reference = %+v, want recorded failure", ref)
		}
		if ref.SparkIndex != -1 {
			t.Errorf("spark index = %d, want -1", ref.SparkIndex)
		}
	})
}

// scriptedSource returns pre-arranged values for draw-shape tests.
type scriptedSource struct {
	ints []int
	pos  int
}

func (s *scriptedSource) Float64() float64 { return 0 }

func (s *scriptedSource) IntN(n int) int {
	v := s.ints[s.pos]
	s.pos++
	if v >= n {
		v = n - 1
	}
	return v
}

func TestSelectSparkRecencyWeights(t *testing.T) {
	// count=3 gives linear weights 3,2,1 over a total of 6:
	// picks 0..2 land on index 0, 3..4 on index 1, 5 on index 2.
	tests := []struct {
		pick int
		want int
	}{
		{0, 0}, {2, 0}, {3, 1}, {4, 1}, {5, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("pick_%d", tt.pick), func(t *testing.T) {
			src := &scriptedSource{ints: []int{tt.pick}}
			if got := selectSpark(SparkSelectionRecency, 3, src); got != tt.want {
				t.Errorf("selectSpark(recency, 3) with pick %d = %d, want %d", tt.pick, got, tt.want)
			}
		})
	}
}

func TestSelectSparkUniformBounds(t *testing.T) {
	src := charSource(11)
	for i := 0; i < 100; i++ {
		if got := selectSpark(SparkSelectionUniform, 5, src); got < 0 || got >= 5 {
			t.Fatalf("selectSpark out of range: %d", got)
		}
	}
	if got := selectSpark(SparkSelectionUniform, 1, src); got != 0 {
		t.Errorf("single candidate must select index 0, got %d", got)
	}
}
