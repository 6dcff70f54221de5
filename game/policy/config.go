package policy

import "fmt"

// Spark selection strategies for the quest cross-reference path.
// Display order is always newest-first; selection is its own knob.
const (
	SparkSelectionUniform = "uniform"
	SparkSelectionRecency = "recency"
)

// Config holds the trigger knobs evaluated every turn. A snapshot is
// immutable once applied; the Manager swaps whole snapshots.
type Config struct {
	QuestTriggerProbability      float64 `json:"quest_trigger_probability"`
	QuestCooldownTurns           int     `json:"quest_cooldown_turns"`
	POITriggerProbability        float64 `json:"poi_trigger_probability"`
	POICooldownTurns             int     `json:"poi_cooldown_turns"`
	MemorySparkProbability       float64 `json:"memory_spark_probability"`
	MemorySparkCount             int     `json:"memory_spark_count"`
	MemorySparksEnabled          bool    `json:"memory_sparks_enabled"`
	QuestPOIReferenceProbability float64 `json:"quest_poi_reference_probability"`
	SparkSelection               string  `json:"spark_selection,omitempty"`
}

// DefaultConfig returns the trigger settings used when none are
// configured.
func DefaultConfig() *Config {
	return &Config{
		QuestTriggerProbability:      0.15,
		QuestCooldownTurns:           5,
		POITriggerProbability:        0.25,
		POICooldownTurns:             3,
		MemorySparkProbability:       0.3,
		MemorySparkCount:             3,
		MemorySparksEnabled:          true,
		QuestPOIReferenceProbability: 0.5,
		SparkSelection:               SparkSelectionUniform,
	}
}

// InvalidConfigError rejects a configuration at apply time. The active
// snapshot is never touched when validation fails.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("policy: invalid config: %s %s", e.Field, e.Reason)
}

// Validate checks every knob's range.
func (c *Config) Validate() error {
	probabilities := []struct {
		field string
		value float64
	}{
		{"quest_trigger_probability", c.QuestTriggerProbability},
		{"poi_trigger_probability", c.POITriggerProbability},
		{"memory_spark_probability", c.MemorySparkProbability},
		{"quest_poi_reference_probability", c.QuestPOIReferenceProbability},
	}
	for _, p := range probabilities {
		if p.value < 0 || p.value > 1 {
			return &InvalidConfigError{Field: p.field, Reason: "must be in [0,1]"}
		}
	}

	if c.QuestCooldownTurns < 0 {
		return &InvalidConfigError{Field: "quest_cooldown_turns", Reason: "must be non-negative"}
	}
	if c.POICooldownTurns < 0 {
		return &InvalidConfigError{Field: "poi_cooldown_turns", Reason: "must be non-negative"}
	}
	if c.MemorySparkCount < 1 || c.MemorySparkCount > 20 {
		return &InvalidConfigError{Field: "memory_spark_count", Reason: "must be in 1..20"}
	}

	switch c.SparkSelection {
	case "", SparkSelectionUniform, SparkSelectionRecency:
	default:
		return &InvalidConfigError{Field: "spark_selection", Reason: "must be uniform or recency"}
	}
	return nil
}
