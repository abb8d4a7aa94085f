package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN,required"`
	AdminUsers       []int64 `env:"ADMIN_USERS" envSeparator:":"`
	AdminsFilePath   string  `env:"ADMINS_FILE_PATH" envDefault:"data/admins.json"`
	// BotName is both the speaker recorded for the bot's own replies and the
	// name token that counts as a mention.
	BotName string `env:"BOT_NAME" envDefault:"ClaudeBot"`

	// LLM settings
	LLMProvider       LLMProvider   `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	JudgeModel        string        `env:"JUDGE_MODEL"`
	GeneratorModel    string        `env:"GENERATOR_MODEL"`
	MaxResponseTokens int           `env:"MAX_RESPONSE_TOKENS" envDefault:"300"`
	Temperature       float32       `env:"TEMPERATURE" envDefault:"0.7"`
	OracleTimeout     time.Duration `env:"ORACLE_TIMEOUT" envDefault:"30s"`
	YandexOAuthToken  string        `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID    string        `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Prompts and policy
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/system_prompt.txt"`
	PolicyFilePath   string `env:"POLICY_FILE_PATH" envDefault:"data/policy.yaml"`

	// Conversation cache
	CacheFilePath           string        `env:"CACHE_FILE_PATH" envDefault:"data/conversation_cache.json"`
	MaxTokensPerChannel     int           `env:"MAX_TOKENS_PER_CHANNEL" envDefault:"150000"`
	MessageExpiry           time.Duration `env:"MESSAGE_EXPIRY" envDefault:"720h"`
	CharsPerToken           int           `env:"CHARS_PER_TOKEN" envDefault:"4"`
	JudgeHistoryTokens      int           `env:"JUDGE_HISTORY_TOKENS" envDefault:"2000"`
	GenerationHistoryTokens int           `env:"GENERATION_HISTORY_TOKENS" envDefault:"8000"`
	DisplayTimezone         string        `env:"DISPLAY_TIMEZONE" envDefault:"America/New_York"`

	// Dispatch
	BatchWindow    time.Duration `env:"BATCH_WINDOW" envDefault:"5s"`
	ScoreThreshold int           `env:"SCORE_THRESHOLD" envDefault:"8"`
	RateLimit      time.Duration `env:"RATE_LIMIT" envDefault:"2s"`
	ListenOnly     []string      `env:"LISTEN_ONLY" envSeparator:"," envDefault:"Information"`
	RedisURL       string        `env:"REDIS_URL"`

	// Stats and operations
	StatsFilePath      string `env:"STATS_FILE_PATH" envDefault:"data/bot_stats.json"`
	StatsSchedule      string `env:"STATS_SCHEDULE" envDefault:"@every 1m"`
	SnapshotSchedule   string `env:"SNAPSHOT_SCHEDULE" envDefault:"@every 5m"`
	InteractionLogPath string `env:"INTERACTION_LOG_PATH" envDefault:"logs/interactions.jsonl"`
	AdminAddr          string `env:"ADMIN_ADDR"`
	AdminToken         string `env:"ADMIN_TOKEN"`

	// Logging
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFilePath string `env:"LOG_FILE_PATH"`

	// Filled from the system prompt file and the policy file, not the environment.
	SystemPrompt string          `env:"-"`
	Commands     map[string]bool `env:"-"`
}

// Parse reads the environment into a Config.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.JudgeModel == "" {
		cfg.JudgeModel = cfg.OpenAIModel
	}
	if cfg.GeneratorModel == "" {
		cfg.GeneratorModel = cfg.OpenAIModel
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

// Location resolves DisplayTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil || c.DisplayTimezone == "" {
		return time.UTC
	}
	return loc
}

// CommandEnabled reports whether a chat command is switched on. Commands are
// enabled unless the policy turns them off. Names are case-insensitive, so
// policy keys such as cacheStats and clearCache match /cachestats.
func (c *Config) CommandEnabled(name string) bool {
	enabled, ok := c.Commands[strings.ToLower(name)]
	return !ok || enabled
}
