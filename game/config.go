// Package game assembles the turn service from configuration.
package game

import (
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrelgames/taleweaver/game/audit"
	"github.com/kestrelgames/taleweaver/game/llm"
	"github.com/kestrelgames/taleweaver/game/outcome"
	"github.com/kestrelgames/taleweaver/game/policy"
	"github.com/kestrelgames/taleweaver/game/retry"
	"github.com/kestrelgames/taleweaver/game/rng"
	"github.com/kestrelgames/taleweaver/game/turn"
	"github.com/kestrelgames/taleweaver/internal/profile"
	"github.com/kestrelgames/taleweaver/journeylog"
)

// Config carries every runtime setting the turn service needs,
// assembled from the profile in one place.
type Config struct {
	LLM          LLMConfig
	Store        journeylog.Config
	Policy       *policy.Config
	Turn         turn.Config
	Limits       LimitsConfig
	Audit        AuditConfig
	Log          LogConfig
	Integrations IntegrationsConfig

	// RNGSeed pins the trigger rolls for replayable sessions. Unset,
	// every roll draws from the crypto source.
	RNGSeed    int64
	RNGSeedSet bool
}

// LLMConfig selects the narrative model. StubMode swaps the remote
// provider for canned narratives so the service runs without a key.
type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	StubMode bool
}

// LimitsConfig bounds per-character turn admission and model concurrency.
type LimitsConfig struct {
	TurnsPerCharacterPerSecond float64
	ConcurrentLLMCalls         int
}

// AuditConfig sizes the in-memory audit store and its optional
// SQLite archive.
type AuditConfig struct {
	MaxEntries       int
	TTL              time.Duration
	ArchiveEnabled   bool
	ArchiveDSN       string
	ArchiveRetention time.Duration
}

// LogConfig shapes the structured logger.
type LogConfig struct {
	SamplingRate float64
	JSONFormat   bool
	Level        string
}

// IntegrationsConfig wires the optional outward surfaces.
type IntegrationsConfig struct {
	TelegramBotToken string
	WebhookURLs      []string
	AdminTokenHash   string
	StreamingEnabled bool
}

// NewConfigFromProfile creates the service config from the profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		LLM: LLMConfig{
			Provider: p.LLMProvider,
			Model:    p.LLMModel,
			APIKey:   p.LLMAPIKey,
			BaseURL:  p.LLMBaseURL,
			Timeout:  time.Duration(p.LLMTimeout) * time.Second,
			StubMode: p.LLMStubMode,
		},
		Store: journeylog.Config{
			BaseURL: p.JourneyLogBaseURL,
			Timeout: time.Duration(p.JourneyLogTimeout) * time.Second,
			Retry: retry.Config{
				MaxAttempts: p.JourneyLogMaxRetries,
				BaseDelay:   secondsToDuration(p.JourneyLogRetryDelayBase),
				MaxDelay:    secondsToDuration(p.JourneyLogRetryDelayMax),
			},
		},
		Policy: &policy.Config{
			QuestTriggerProbability:      p.QuestTriggerProbability,
			QuestCooldownTurns:           p.QuestCooldownTurns,
			POITriggerProbability:        p.POITriggerProbability,
			POICooldownTurns:             p.POICooldownTurns,
			MemorySparkProbability:       p.MemorySparkProbability,
			MemorySparkCount:             p.MemorySparkCount,
			MemorySparksEnabled:          p.MemorySparksEnabled,
			QuestPOIReferenceProbability: p.QuestPOIReferenceProbability,
			SparkSelection:               p.SparkSelectionStrategy,
		},
		Turn: turn.Config{
			HistoryTurns: p.JourneyLogRecentN,
			LLMRetry: retry.Config{
				MaxAttempts: p.LLMMaxRetries,
				BaseDelay:   secondsToDuration(p.LLMRetryDelayBase),
				MaxDelay:    secondsToDuration(p.LLMRetryDelayMax),
			},
			DeadCharacterWriteEnforcement: p.DeadCharacterWriteEnforcement,
		},
		Limits: LimitsConfig{
			TurnsPerCharacterPerSecond: p.MaxTurnsPerCharacterPerSecond,
			ConcurrentLLMCalls:         p.MaxConcurrentLLMCalls,
		},
		Audit: AuditConfig{
			MaxEntries:       p.TurnAuditMaxEntries,
			TTL:              time.Duration(p.TurnAuditTTLSeconds) * time.Second,
			ArchiveEnabled:   p.AuditArchiveEnabled,
			ArchiveDSN:       p.DSN,
			ArchiveRetention: time.Duration(p.AuditArchiveRetentionDays) * 24 * time.Hour,
		},
		Log: LogConfig{
			SamplingRate: p.TurnLogSamplingRate,
			JSONFormat:   p.LogJSONFormat,
			Level:        p.LogLevel,
		},
		Integrations: IntegrationsConfig{
			TelegramBotToken: p.TelegramBotToken,
			WebhookURLs:      profile.SplitWebhookURLs(p.WebhookURLs),
			AdminTokenHash:   p.AdminTokenHash,
			StreamingEnabled: p.StreamingEnabled,
		},
		RNGSeed:    p.RNGSeed,
		RNGSeedSet: p.RNGSeedSet,
	}
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Store.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("config: journey-log base URL must be absolute with a scheme, got %q", c.Store.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("config: journey-log base URL scheme must be http or https, got %q", u.Scheme)
	}
	if c.Store.Timeout <= 0 {
		return errors.New("config: journey-log timeout must be positive")
	}

	if !c.LLM.StubMode {
		if c.LLM.Provider == "" {
			return errors.New("config: LLM provider is required")
		}
		if c.LLM.APIKey == "" && c.LLM.Provider != "ollama" {
			return errors.New("config: LLM API key is required unless stub mode is enabled")
		}
	}
	if c.LLM.Timeout <= 0 {
		return errors.New("config: LLM timeout must be positive")
	}

	if err := validateRetry("journey-log", c.Store.Retry); err != nil {
		return err
	}
	if err := validateRetry("LLM", c.Turn.LLMRetry); err != nil {
		return err
	}

	if err := c.Policy.Validate(); err != nil {
		return err
	}

	if c.Turn.HistoryTurns < 1 {
		return errors.New("config: history turn count must be at least 1")
	}

	if c.Limits.TurnsPerCharacterPerSecond <= 0 {
		return errors.New("config: turns per character per second must be positive")
	}
	if c.Limits.ConcurrentLLMCalls < 1 {
		return errors.New("config: concurrent LLM call limit must be at least 1")
	}

	if c.Audit.MaxEntries < 1 {
		return errors.New("config: audit max entries must be at least 1")
	}
	if c.Audit.TTL <= 0 {
		return errors.New("config: audit TTL must be positive")
	}
	if c.Audit.ArchiveEnabled && c.Audit.ArchiveDSN == "" {
		return errors.New("config: audit archive requires a database path")
	}

	if c.Log.SamplingRate < 0 || c.Log.SamplingRate > 1 {
		return errors.New("config: log sampling rate must be in [0,1]")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Errorf("config: unknown log level %q", c.Log.Level)
	}

	return nil
}

func validateRetry(name string, cfg retry.Config) error {
	if cfg.MaxAttempts < 0 {
		return errors.Errorf("config: %s retry attempts must be non-negative", name)
	}
	if cfg.BaseDelay < 0 || cfg.MaxDelay < 0 {
		return errors.Errorf("config: %s retry delays must be non-negative", name)
	}
	if cfg.MaxDelay > 0 && cfg.BaseDelay > cfg.MaxDelay {
		return errors.Errorf("config: %s retry base delay exceeds the max", name)
	}
	return nil
}

// NewLLMService builds the model client for the configured provider,
// attaching the structured-output schema every turn uses. Stub mode
// short-circuits to the canned service.
func (c *Config) NewLLMService() (llm.Service, error) {
	if c.LLM.StubMode {
		return llm.NewStub(), nil
	}
	return llm.NewService(&llm.Config{
		Provider:     c.LLM.Provider,
		Model:        c.LLM.Model,
		APIKey:       c.LLM.APIKey,
		BaseURL:      c.LLM.BaseURL,
		Timeout:      c.LLM.Timeout,
		OutputSchema: outcome.SchemaJSON(),
		SchemaName:   "turn_outcome",
	})
}

// RandomProvider returns the trigger-roll source, seeded when the
// profile pinned a seed.
func (c *Config) RandomProvider() *rng.Provider {
	if c.RNGSeedSet {
		return rng.NewSeededProvider(c.RNGSeed)
	}
	return rng.NewCryptoProvider()
}

// AuditStoreConfig converts the audit settings into the store config,
// keeping the store defaults for anything unset.
func (c *Config) AuditStoreConfig() audit.Config {
	cfg := audit.DefaultConfig()
	if c.Audit.MaxEntries > 0 {
		cfg.MaxEntries = c.Audit.MaxEntries
	}
	if c.Audit.TTL > 0 {
		cfg.TTL = c.Audit.TTL
	}
	return cfg
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
