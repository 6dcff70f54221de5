package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol)
	// All providers (openai, deepseek, zai, openrouter, ollama) use the same config
	LLMProvider       string  // Provider identifier: openai, deepseek, zai, openrouter, ollama
	LLMAPIKey         string  // LLM API key
	LLMBaseURL        string  // LLM base URL (optional, has default per provider)
	LLMModel          string  // Model name: gpt-5.2, deepseek-chat, etc.
	LLMTimeout        int     // LLM request timeout in seconds (default: 60)
	LLMMaxRetries     int     // Retry attempts for retryable LLM failures
	LLMRetryDelayBase float64 // Initial backoff in seconds
	LLMRetryDelayMax  float64 // Backoff ceiling in seconds
	LLMStubMode       bool    // Canned narratives instead of remote calls

	// Journey-log store configuration
	JourneyLogBaseURL        string
	JourneyLogTimeout        int // seconds
	JourneyLogRecentN        int // history entries fetched per turn
	JourneyLogMaxRetries     int
	JourneyLogRetryDelayBase float64
	JourneyLogRetryDelayMax  float64

	// Policy configuration
	QuestTriggerProbability       float64
	QuestCooldownTurns            int
	POITriggerProbability         float64
	POICooldownTurns              int
	MemorySparkProbability        float64
	MemorySparkCount              int
	MemorySparksEnabled           bool
	QuestPOIReferenceProbability  float64
	SparkSelectionStrategy        string // uniform or recency
	RNGSeed                       int64
	RNGSeedSet                    bool
	DeadCharacterWriteEnforcement bool

	// Throughput limits
	MaxTurnsPerCharacterPerSecond float64
	MaxConcurrentLLMCalls         int

	// Turn audit store
	TurnAuditMaxEntries       int
	TurnAuditTTLSeconds       int
	AuditArchiveEnabled       bool
	AuditArchiveRetentionDays int

	// Logging
	TurnLogSamplingRate float64
	LogJSONFormat       bool
	LogLevel            string

	// Integrations
	TelegramBotToken string
	WebhookURLs      string // comma separated
	AdminTokenHash   string // bcrypt hash guarding the admin endpoints
	StreamingEnabled bool

	// Server
	Mode        string
	Addr        string
	Port        int
	Data        string
	DSN         string
	InstanceURL string
	Version     string
}

// Provider default configurations for the LLM.
// Used when TALEWEAVER_LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-5.2",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Unified LLM configuration
	p.LLMProvider = getEnvOrDefault("TALEWEAVER_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("TALEWEAVER_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("TALEWEAVER_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("TALEWEAVER_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("TALEWEAVER_LLM_TIMEOUT_SECONDS", 60)
	p.LLMMaxRetries = getEnvOrDefaultInt("TALEWEAVER_LLM_MAX_RETRIES", 3)
	p.LLMRetryDelayBase = getEnvOrDefaultFloat("TALEWEAVER_LLM_RETRY_DELAY_BASE", 0.5)
	p.LLMRetryDelayMax = getEnvOrDefaultFloat("TALEWEAVER_LLM_RETRY_DELAY_MAX", 8)
	p.LLMStubMode = getEnvOrDefault("TALEWEAVER_LLM_STUB_MODE", "false") == "true"

	// Validate and apply provider defaults if not explicitly set
	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("unknown LLM provider, using default: openai", "provider", p.LLMProvider)
			p.LLMProvider = "openai"
		}
	}
	if p.LLMBaseURL == "" || p.LLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
			if p.LLMBaseURL == "" {
				p.LLMBaseURL = defaults.BaseURL
			}
			if p.LLMModel == "" {
				p.LLMModel = defaults.Model
			}
		}
	}

	// Journey-log store
	p.JourneyLogBaseURL = getEnvOrDefault("TALEWEAVER_JOURNEY_LOG_BASE_URL", "http://localhost:8600")
	p.JourneyLogTimeout = getEnvOrDefaultInt("TALEWEAVER_JOURNEY_LOG_TIMEOUT_SECONDS", 10)
	p.JourneyLogRecentN = getEnvOrDefaultInt("TALEWEAVER_JOURNEY_LOG_RECENT_N", 6)
	p.JourneyLogMaxRetries = getEnvOrDefaultInt("TALEWEAVER_JOURNEY_LOG_MAX_RETRIES", 3)
	p.JourneyLogRetryDelayBase = getEnvOrDefaultFloat("TALEWEAVER_JOURNEY_LOG_RETRY_DELAY_BASE", 0.2)
	p.JourneyLogRetryDelayMax = getEnvOrDefaultFloat("TALEWEAVER_JOURNEY_LOG_RETRY_DELAY_MAX", 2)

	// Policy
	p.QuestTriggerProbability = getEnvOrDefaultFloat("TALEWEAVER_QUEST_TRIGGER_PROBABILITY", 0.15)
	p.QuestCooldownTurns = getEnvOrDefaultInt("TALEWEAVER_QUEST_COOLDOWN_TURNS", 5)
	p.POITriggerProbability = getEnvOrDefaultFloat("TALEWEAVER_POI_TRIGGER_PROBABILITY", 0.25)
	p.POICooldownTurns = getEnvOrDefaultInt("TALEWEAVER_POI_COOLDOWN_TURNS", 3)
	p.MemorySparkProbability = getEnvOrDefaultFloat("TALEWEAVER_MEMORY_SPARK_PROBABILITY", 0.3)
	p.MemorySparkCount = getEnvOrDefaultInt("TALEWEAVER_MEMORY_SPARK_COUNT", 3)
	p.MemorySparksEnabled = getEnvOrDefault("TALEWEAVER_MEMORY_SPARKS_ENABLED", "true") == "true"
	p.QuestPOIReferenceProbability = getEnvOrDefaultFloat("TALEWEAVER_QUEST_POI_REFERENCE_PROBABILITY", 0.5)
	p.SparkSelectionStrategy = getEnvOrDefault("TALEWEAVER_SPARK_SELECTION_STRATEGY", "uniform")
	if value := os.Getenv("TALEWEAVER_RNG_SEED"); value != "" {
		if seed, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.RNGSeed = seed
			p.RNGSeedSet = true
		} else {
			slog.Warn("invalid TALEWEAVER_RNG_SEED, using crypto source", "value", value)
		}
	}
	p.DeadCharacterWriteEnforcement = getEnvOrDefault("TALEWEAVER_DEAD_CHARACTER_WRITE_ENFORCEMENT", "false") == "true"

	// Throughput limits
	p.MaxTurnsPerCharacterPerSecond = getEnvOrDefaultFloat("TALEWEAVER_MAX_TURNS_PER_CHARACTER_PER_SECOND", 2)
	p.MaxConcurrentLLMCalls = getEnvOrDefaultInt("TALEWEAVER_MAX_CONCURRENT_LLM_CALLS", 10)

	// Turn audit store
	p.TurnAuditMaxEntries = getEnvOrDefaultInt("TALEWEAVER_TURN_AUDIT_MAX_ENTRIES", 10000)
	p.TurnAuditTTLSeconds = getEnvOrDefaultInt("TALEWEAVER_TURN_AUDIT_TTL_SECONDS", 3600)
	p.AuditArchiveEnabled = getEnvOrDefault("TALEWEAVER_AUDIT_ARCHIVE_ENABLED", "false") == "true"
	p.AuditArchiveRetentionDays = getEnvOrDefaultInt("TALEWEAVER_AUDIT_ARCHIVE_RETENTION_DAYS", 7)

	// Logging
	p.TurnLogSamplingRate = getEnvOrDefaultFloat("TALEWEAVER_TURN_LOG_SAMPLING_RATE", 1.0)
	p.LogJSONFormat = getEnvOrDefault("TALEWEAVER_LOG_JSON_FORMAT", "false") == "true"
	p.LogLevel = getEnvOrDefault("TALEWEAVER_LOG_LEVEL", "info")

	// Integrations
	p.TelegramBotToken = getEnvOrDefault("TALEWEAVER_TELEGRAM_BOT_TOKEN", "")
	p.WebhookURLs = getEnvOrDefault("TALEWEAVER_WEBHOOK_URLS", "")
	p.AdminTokenHash = getEnvOrDefault("TALEWEAVER_ADMIN_TOKEN_HASH", "")
	p.StreamingEnabled = getEnvOrDefault("TALEWEAVER_STREAMING_ENABLED", "true") == "true"

	// Flag-sourced, env overrides only when set.
	if v := os.Getenv("TALEWEAVER_INSTANCE_URL"); v != "" {
		p.InstanceURL = v
	}
}

// SplitWebhookURLs parses the comma-separated webhook list from the
// environment, dropping empty entries.
func SplitWebhookURLs(raw string) []string {
	var urls []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	// The data directory only backs the optional audit archive.
	if p.AuditArchiveEnabled {
		if p.Data == "" {
			p.Data = "/var/opt/taleweaver"
		}
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		if p.DSN == "" {
			dbFile := fmt.Sprintf("taleweaver_%s.db", p.Mode)
			p.DSN = filepath.Join(dataDir, dbFile)
		}
	}

	if !p.LLMStubMode && p.LLMAPIKey == "" {
		return errors.New("LLM API key is required unless stub mode is enabled")
	}

	return nil
}
