package policy

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/kestrelgames/taleweaver/game/observability/logging"
)

// Manager holds the active policy snapshot behind an atomic pointer.
// Readers never block; Apply validates first and swaps whole snapshots,
// retaining the replaced one so a bad rollout can be undone.
type Manager struct {
	mu       sync.Mutex
	active   atomic.Pointer[Config]
	previous *Config
}

// NewManager creates a Manager with cfg as the active snapshot.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{}
	snapshot := *cfg
	m.active.Store(&snapshot)
	return m, nil
}

// Current returns the active snapshot. Callers must treat it as
// read-only.
func (m *Manager) Current() *Config {
	return m.active.Load()
}

// Apply validates cfg and swaps it in atomically. On validation failure
// the active snapshot is untouched.
func (m *Manager) Apply(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := *cfg
	m.previous = m.active.Swap(&snapshot)

	logging.Info("policy: configuration applied",
		"quest_probability", snapshot.QuestTriggerProbability,
		"poi_probability", snapshot.POITriggerProbability,
		"spark_probability", snapshot.MemorySparkProbability,
		"sparks_enabled", snapshot.MemorySparksEnabled,
	)
	return nil
}

// Rollback re-swaps the previously active snapshot. Calling it twice
// toggles between the two most recent snapshots.
func (m *Manager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previous == nil {
		return errors.New("policy: no previous configuration to roll back to")
	}
	m.previous = m.active.Swap(m.previous)
	logging.Info("policy: configuration rolled back")
	return nil
}
