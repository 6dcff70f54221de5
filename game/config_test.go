package game

import (
	"strings"
	"testing"
	"time"

	"github.com/kestrelgames/taleweaver/internal/profile"
)

func testProfile() *profile.Profile {
	return &profile.Profile{
		LLMProvider:       "deepseek",
		LLMAPIKey:         "test-key",
		LLMBaseURL:        "https://api.deepseek.com",
		LLMModel:          "deepseek-chat",
		LLMTimeout:        60,
		LLMMaxRetries:     3,
		LLMRetryDelayBase: 0.5,
		LLMRetryDelayMax:  8,

		JourneyLogBaseURL:        "http://localhost:8600",
		JourneyLogTimeout:        10,
		JourneyLogRecentN:        6,
		JourneyLogMaxRetries:     3,
		JourneyLogRetryDelayBase: 0.2,
		JourneyLogRetryDelayMax:  2,

		QuestTriggerProbability:      0.15,
		QuestCooldownTurns:           5,
		POITriggerProbability:        0.25,
		POICooldownTurns:             3,
		MemorySparkProbability:       0.3,
		MemorySparkCount:             3,
		MemorySparksEnabled:          true,
		QuestPOIReferenceProbability: 0.5,
		SparkSelectionStrategy:       "uniform",

		MaxTurnsPerCharacterPerSecond: 2,
		MaxConcurrentLLMCalls:         10,

		TurnAuditMaxEntries: 10000,
		TurnAuditTTLSeconds: 3600,

		TurnLogSamplingRate: 1.0,
		LogLevel:            "info",

		WebhookURLs:      "https://a.example/hook, https://b.example/hook,",
		StreamingEnabled: true,
	}
}

func TestNewConfigFromProfile(t *testing.T) {
	cfg := NewConfigFromProfile(testProfile())

	if cfg.LLM.Provider != "deepseek" {
		t.Errorf("Expected LLM.Provider=deepseek, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "deepseek-chat" {
		t.Errorf("Expected LLM.Model=deepseek-chat, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout != 60*time.Second {
		t.Errorf("Expected LLM.Timeout=60s, got %s", cfg.LLM.Timeout)
	}
	if cfg.LLM.StubMode {
		t.Errorf("Expected StubMode=false, got true")
	}

	if cfg.Store.BaseURL != "http://localhost:8600" {
		t.Errorf("Expected Store.BaseURL=http://localhost:8600, got %s", cfg.Store.BaseURL)
	}
	if cfg.Store.Timeout != 10*time.Second {
		t.Errorf("Expected Store.Timeout=10s, got %s", cfg.Store.Timeout)
	}
	if cfg.Store.Retry.MaxAttempts != 3 {
		t.Errorf("Expected Store.Retry.MaxAttempts=3, got %d", cfg.Store.Retry.MaxAttempts)
	}
	if cfg.Store.Retry.BaseDelay != 200*time.Millisecond {
		t.Errorf("Expected Store.Retry.BaseDelay=200ms, got %s", cfg.Store.Retry.BaseDelay)
	}

	if cfg.Policy.QuestTriggerProbability != 0.15 {
		t.Errorf("Expected quest trigger probability 0.15, got %f", cfg.Policy.QuestTriggerProbability)
	}
	if cfg.Policy.MemorySparkCount != 3 {
		t.Errorf("Expected memory spark count 3, got %d", cfg.Policy.MemorySparkCount)
	}

	if cfg.Turn.HistoryTurns != 6 {
		t.Errorf("Expected Turn.HistoryTurns=6, got %d", cfg.Turn.HistoryTurns)
	}
	if cfg.Turn.LLMRetry.MaxDelay != 8*time.Second {
		t.Errorf("Expected LLM retry max delay 8s, got %s", cfg.Turn.LLMRetry.MaxDelay)
	}

	if cfg.Limits.TurnsPerCharacterPerSecond != 2 {
		t.Errorf("Expected 2 turns/character/sec, got %f", cfg.Limits.TurnsPerCharacterPerSecond)
	}
	if cfg.Limits.ConcurrentLLMCalls != 10 {
		t.Errorf("Expected 10 concurrent LLM calls, got %d", cfg.Limits.ConcurrentLLMCalls)
	}

	if cfg.Audit.MaxEntries != 10000 {
		t.Errorf("Expected audit max entries 10000, got %d", cfg.Audit.MaxEntries)
	}
	if cfg.Audit.TTL != time.Hour {
		t.Errorf("Expected audit TTL 1h, got %s", cfg.Audit.TTL)
	}

	urls := cfg.Integrations.WebhookURLs
	if len(urls) != 2 || urls[0] != "https://a.example/hook" || urls[1] != "https://b.example/hook" {
		t.Errorf("Expected two trimmed webhook URLs, got %v", urls)
	}
	if !cfg.Integrations.StreamingEnabled {
		t.Errorf("Expected streaming enabled")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := NewConfigFromProfile(testProfile()).Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing store scheme",
			mutate:  func(c *Config) { c.Store.BaseURL = "localhost:8600" },
			wantErr: "scheme",
		},
		{
			name:    "relative store URL",
			mutate:  func(c *Config) { c.Store.BaseURL = "/journey-log" },
			wantErr: "absolute",
		},
		{
			name:    "missing API key",
			mutate:  func(c *Config) { c.LLM.APIKey = "" },
			wantErr: "API key",
		},
		{
			name:    "probability out of range",
			mutate:  func(c *Config) { c.Policy.QuestTriggerProbability = 1.5 },
			wantErr: "quest_trigger_probability",
		},
		{
			name:    "negative cooldown",
			mutate:  func(c *Config) { c.Policy.POICooldownTurns = -1 },
			wantErr: "poi_cooldown_turns",
		},
		{
			name:    "spark count too large",
			mutate:  func(c *Config) { c.Policy.MemorySparkCount = 21 },
			wantErr: "memory_spark_count",
		},
		{
			name:    "retry base above max",
			mutate:  func(c *Config) { c.Turn.LLMRetry.BaseDelay = 10 * time.Second },
			wantErr: "base delay exceeds",
		},
		{
			name:    "zero history turns",
			mutate:  func(c *Config) { c.Turn.HistoryTurns = 0 },
			wantErr: "history",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.Limits.TurnsPerCharacterPerSecond = 0 },
			wantErr: "turns per character",
		},
		{
			name:    "zero LLM gate",
			mutate:  func(c *Config) { c.Limits.ConcurrentLLMCalls = 0 },
			wantErr: "concurrent LLM",
		},
		{
			name:    "archive without path",
			mutate:  func(c *Config) { c.Audit.ArchiveEnabled = true; c.Audit.ArchiveDSN = "" },
			wantErr: "archive",
		},
		{
			name:    "sampling rate out of range",
			mutate:  func(c *Config) { c.Log.SamplingRate = 2 },
			wantErr: "sampling",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfigFromProfile(testProfile())
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected validation error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestConfigValidateStubModeSkipsAPIKey(t *testing.T) {
	prof := testProfile()
	prof.LLMAPIKey = ""
	prof.LLMStubMode = true

	cfg := NewConfigFromProfile(prof)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected stub mode to pass without an API key, got %v", err)
	}
}

func TestConfigNewLLMServiceStubMode(t *testing.T) {
	prof := testProfile()
	prof.LLMStubMode = true

	svc, err := NewConfigFromProfile(prof).NewLLMService()
	if err != nil {
		t.Fatalf("Expected stub service, got error %v", err)
	}
	if svc.Provider() != "stub" {
		t.Errorf("Expected provider stub, got %s", svc.Provider())
	}
}

func TestConfigRandomProvider(t *testing.T) {
	prof := testProfile()
	prof.RNGSeed = 42
	prof.RNGSeedSet = true

	a := NewConfigFromProfile(prof).RandomProvider()
	b := NewConfigFromProfile(prof).RandomProvider()

	ra := a.ForCharacter("char-1")
	rb := b.ForCharacter("char-1")
	for i := 0; i < 8; i++ {
		if ra.Float64() != rb.Float64() {
			t.Fatalf("Expected identical rolls from the same seed at draw %d", i)
		}
	}
}
