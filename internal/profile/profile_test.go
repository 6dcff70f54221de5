package profile

import (
	"os"
	"testing"
)

func TestProfileDefaults(t *testing.T) {
	clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"LLMProvider default", "openai", profile.LLMProvider},
		{"LLMModel default", "gpt-5.2", profile.LLMModel},
		{"LLMBaseURL default", "https://api.openai.com/v1", profile.LLMBaseURL},
		{"LLMAPIKey default", "", profile.LLMAPIKey},
		{"JourneyLogBaseURL default", "http://localhost:8600", profile.JourneyLogBaseURL},
		{"SparkSelectionStrategy default", "uniform", profile.SparkSelectionStrategy},
		{"LogLevel default", "info", profile.LogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if profile.LLMStubMode {
		t.Error("LLMStubMode should be false by default")
	}
	if !profile.MemorySparksEnabled {
		t.Error("MemorySparksEnabled should be true by default")
	}
	if profile.RNGSeedSet {
		t.Error("RNGSeedSet should be false when TALEWEAVER_RNG_SEED is absent")
	}
	if profile.MaxConcurrentLLMCalls != 10 {
		t.Errorf("MaxConcurrentLLMCalls: expected 10, got %d", profile.MaxConcurrentLLMCalls)
	}
	if profile.MaxTurnsPerCharacterPerSecond != 2 {
		t.Errorf("MaxTurnsPerCharacterPerSecond: expected 2, got %v", profile.MaxTurnsPerCharacterPerSecond)
	}
	if profile.TurnAuditMaxEntries != 10000 {
		t.Errorf("TurnAuditMaxEntries: expected 10000, got %d", profile.TurnAuditMaxEntries)
	}
	if profile.TurnAuditTTLSeconds != 3600 {
		t.Errorf("TurnAuditTTLSeconds: expected 3600, got %d", profile.TurnAuditTTLSeconds)
	}
}

func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "LLM provider is deepseek",
			envVar:   "TALEWEAVER_LLM_PROVIDER",
			envValue: "deepseek",
			field:    func(p *Profile) string { return p.LLMProvider },
			expected: "deepseek",
		},
		{
			name:     "LLM API key",
			envVar:   "TALEWEAVER_LLM_API_KEY",
			envValue: "test-llm-key",
			field:    func(p *Profile) string { return p.LLMAPIKey },
			expected: "test-llm-key",
		},
		{
			name:     "journey log base URL",
			envVar:   "TALEWEAVER_JOURNEY_LOG_BASE_URL",
			envValue: "https://journeylog.example.com",
			field:    func(p *Profile) string { return p.JourneyLogBaseURL },
			expected: "https://journeylog.example.com",
		},
		{
			name:     "spark selection strategy",
			envVar:   "TALEWEAVER_SPARK_SELECTION_STRATEGY",
			envValue: "recency",
			field:    func(p *Profile) string { return p.SparkSelectionStrategy },
			expected: "recency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			profile := &Profile{}
			profile.FromEnv()

			actual := tt.field(profile)
			if actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestProviderDefaultApplied(t *testing.T) {
	clearEnvVars()
	os.Setenv("TALEWEAVER_LLM_PROVIDER", "deepseek")
	defer os.Unsetenv("TALEWEAVER_LLM_PROVIDER")

	profile := &Profile{}
	profile.FromEnv()

	if profile.LLMBaseURL != "https://api.deepseek.com" {
		t.Errorf("expected deepseek base URL, got %q", profile.LLMBaseURL)
	}
	if profile.LLMModel != "deepseek-chat" {
		t.Errorf("expected deepseek-chat model, got %q", profile.LLMModel)
	}
}

func TestRNGSeedFromEnv(t *testing.T) {
	clearEnvVars()
	os.Setenv("TALEWEAVER_RNG_SEED", "42")
	defer os.Unsetenv("TALEWEAVER_RNG_SEED")

	profile := &Profile{}
	profile.FromEnv()

	if !profile.RNGSeedSet {
		t.Fatal("RNGSeedSet should be true")
	}
	if profile.RNGSeed != 42 {
		t.Errorf("RNGSeed: expected 42, got %d", profile.RNGSeed)
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name         string
		setupProfile func(*Profile)
		wantErr      bool
		expectedMode string
	}{
		{
			name: "stub mode without API key passes",
			setupProfile: func(p *Profile) {
				p.Mode = "dev"
				p.LLMStubMode = true
			},
			wantErr:      false,
			expectedMode: "dev",
		},
		{
			name: "missing API key without stub mode fails",
			setupProfile: func(p *Profile) {
				p.Mode = "prod"
				p.LLMStubMode = false
				p.LLMAPIKey = ""
			},
			wantErr:      true,
			expectedMode: "prod",
		},
		{
			name: "unknown mode falls back to demo",
			setupProfile: func(p *Profile) {
				p.Mode = "staging"
				p.LLMStubMode = true
			},
			wantErr:      false,
			expectedMode: "demo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := &Profile{}
			tt.setupProfile(profile)

			err := profile.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(): expected error=%v, got %v", tt.wantErr, err)
			}
			if profile.Mode != tt.expectedMode {
				t.Errorf("Mode: expected %q, got %q", tt.expectedMode, profile.Mode)
			}
		})
	}
}

// clearEnvVars clears all taleweaver environment variables used by FromEnv.
func clearEnvVars() {
	prefix := "TALEWEAVER_"
	suffixes := []string{
		"LLM_PROVIDER",
		"LLM_API_KEY",
		"LLM_BASE_URL",
		"LLM_MODEL",
		"LLM_TIMEOUT_SECONDS",
		"LLM_STUB_MODE",
		"JOURNEY_LOG_BASE_URL",
		"JOURNEY_LOG_TIMEOUT_SECONDS",
		"QUEST_TRIGGER_PROBABILITY",
		"POI_TRIGGER_PROBABILITY",
		"MEMORY_SPARK_PROBABILITY",
		"MEMORY_SPARKS_ENABLED",
		"SPARK_SELECTION_STRATEGY",
		"RNG_SEED",
		"MAX_TURNS_PER_CHARACTER_PER_SECOND",
		"MAX_CONCURRENT_LLM_CALLS",
		"TURN_AUDIT_MAX_ENTRIES",
		"TURN_AUDIT_TTL_SECONDS",
		"LOG_LEVEL",
		"LOG_JSON_FORMAT",
	}

	for _, suffix := range suffixes {
		os.Unsetenv(prefix + suffix)
	}
}
