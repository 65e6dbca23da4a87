package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/stupiduntilnot/cortexchat/internal/model"
)

const (
	StoreSnowflake = "snowflake"
	StoreSQLite    = "sqlite"

	ProviderCortex = "cortex"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderDummy  = "dummy"
)

// DefaultGreeting is the welcome message persisted once per new conversation.
const DefaultGreeting = "Hello! I'm your AI assistant. How can I help you today?"

// SnowflakeConfig holds the account connection parameters.
type SnowflakeConfig struct {
	Account   string
	User      string
	Password  string
	Role      string
	Warehouse string
	Database  string
	Schema    string
}

// Config holds configuration for the chat process.
type Config struct {
	StoreDriver string
	DBPath      string
	Snowflake   SnowflakeConfig
	Table       string

	CompletionProvider       string
	Model                    string
	SystemPrompt             string
	Greeting                 string
	HistoryWindow            int
	CompletionTimeoutSeconds int
	CompletionMaxRetries     int
	CircuitThreshold         int
	CircuitCooldownSeconds   int
	SlowReplySeconds         int
	CortexFunction           string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OllamaHost    string
	DummyScript   string

	LogLevel        string
	LogConsoleLevel string
	LogFile         string
}

var snowflakeKeys = []string{
	"SNOWFLAKE_ACCOUNT",
	"SNOWFLAKE_USER",
	"SNOWFLAKE_PASSWORD",
	"SNOWFLAKE_ROLE",
	"SNOWFLAKE_WAREHOUSE",
	"SNOWFLAKE_DATABASE",
	"SNOWFLAKE_SCHEMA",
}

// Load reads configuration from a .env file in the working directory (if
// any) and then from the environment. Variables already set win over .env.
func Load() (Config, error) {
	if err := loadDotenv(".env"); err != nil {
		return Config{}, err
	}
	return fromEnv()
}

func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

func fromEnv() (Config, error) {
	cfg := Config{
		StoreDriver:        strings.ToLower(envOrDefault("CHAT_STORE_DRIVER", StoreSnowflake)),
		DBPath:             envOrDefault("CHAT_DB_PATH", "./state/chat.db"),
		Table:              envOrDefault("CHAT_TABLE", "CONVERSATIONS"),
		CompletionProvider: strings.ToLower(envOrDefault("CHAT_COMPLETION_PROVIDER", ProviderCortex)),
		Model:              envOrDefault("CHAT_MODEL", model.MistralLarge),
		SystemPrompt:       os.Getenv("CHAT_SYSTEM_PROMPT"),
		Greeting:           envOrDefault("CHAT_GREETING", DefaultGreeting),
		CortexFunction:     os.Getenv("CHAT_CORTEX_FUNCTION"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:        os.Getenv("OPENAI_MODEL"),
		OllamaHost:         envOrDefault("OLLAMA_HOST", "http://localhost:11434"),
		DummyScript:        envOrDefault("CHAT_DUMMY_SCRIPT", "ok"),
		LogLevel:           envOrDefault("CHAT_LOG_LEVEL", "info"),
		LogConsoleLevel:    envOrDefault("CHAT_LOG_CONSOLE_LEVEL", "fatal"),
		LogFile:            envOrDefault("CHAT_LOG_FILE", "./state/chat.log"),
	}

	switch cfg.StoreDriver {
	case StoreSnowflake:
		var missing []string
		values := make(map[string]string, len(snowflakeKeys))
		for _, key := range snowflakeKeys {
			v := strings.TrimSpace(os.Getenv(key))
			if v == "" {
				missing = append(missing, key)
			}
			values[key] = v
		}
		if len(missing) > 0 {
			return Config{}, fmt.Errorf("%s required in environment when CHAT_STORE_DRIVER=snowflake", strings.Join(missing, ", "))
		}
		cfg.Snowflake = SnowflakeConfig{
			Account:   values["SNOWFLAKE_ACCOUNT"],
			User:      values["SNOWFLAKE_USER"],
			Password:  values["SNOWFLAKE_PASSWORD"],
			Role:      values["SNOWFLAKE_ROLE"],
			Warehouse: values["SNOWFLAKE_WAREHOUSE"],
			Database:  values["SNOWFLAKE_DATABASE"],
			Schema:    values["SNOWFLAKE_SCHEMA"],
		}
	case StoreSQLite:
	default:
		return Config{}, fmt.Errorf("CHAT_STORE_DRIVER must be %s or %s, got %q", StoreSnowflake, StoreSQLite, cfg.StoreDriver)
	}

	switch cfg.CompletionProvider {
	case ProviderCortex:
		if cfg.StoreDriver != StoreSnowflake {
			return Config{}, fmt.Errorf("CHAT_COMPLETION_PROVIDER=cortex requires CHAT_STORE_DRIVER=snowflake")
		}
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("OPENAI_API_KEY is required in environment when CHAT_COMPLETION_PROVIDER=openai")
		}
	case ProviderOllama, ProviderDummy:
	default:
		return Config{}, fmt.Errorf("unsupported CHAT_COMPLETION_PROVIDER %q", cfg.CompletionProvider)
	}

	if _, err := model.Lookup(cfg.Model); err != nil {
		return Config{}, fmt.Errorf("CHAT_MODEL: %w", err)
	}

	ints := []struct {
		key      string
		fallback int
		least    int
		dst      *int
	}{
		{"CHAT_HISTORY_WINDOW", 0, 0, &cfg.HistoryWindow},
		{"CHAT_COMPLETION_TIMEOUT_SECONDS", 0, 0, &cfg.CompletionTimeoutSeconds},
		{"CHAT_COMPLETION_MAX_RETRIES", 0, 0, &cfg.CompletionMaxRetries},
		{"CHAT_CIRCUIT_THRESHOLD", 0, 0, &cfg.CircuitThreshold},
		{"CHAT_CIRCUIT_COOLDOWN_SECONDS", 30, 0, &cfg.CircuitCooldownSeconds},
		{"CHAT_SLOW_REPLY_SECONDS", 10, 1, &cfg.SlowReplySeconds},
	}
	for _, it := range ints {
		v, err := envIntAtLeast(it.key, it.fallback, it.least)
		if err != nil {
			return Config{}, err
		}
		*it.dst = v
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntAtLeast(key string, fallback, least int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	if n < least {
		return 0, fmt.Errorf("%s must be >= %d, got %d", key, least, n)
	}
	return n, nil
}
