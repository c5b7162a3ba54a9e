package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application. It is read once at
// startup and treated as read-only afterwards, so concurrent attempts can
// share it freely.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	StudentEmail  string `mapstructure:"STUDENT_EMAIL"`
	StudentSecret string `mapstructure:"STUDENT_SECRET"`

	AIPipeToken   string `mapstructure:"AIPIPE_TOKEN"`
	AIPipeBaseURL string `mapstructure:"AIPIPE_BASE_URL"`
	LLMModel      string `mapstructure:"LLM_MODEL"`

	AttemptTimeout int `mapstructure:"ATTEMPT_TIMEOUT"` // seconds
	MaxRetries     int `mapstructure:"MAX_RETRIES"`
	FetchTimeout   int `mapstructure:"FETCH_TIMEOUT"`  // seconds
	LLMTimeout     int `mapstructure:"LLM_TIMEOUT"`    // seconds
	ExecTimeout    int `mapstructure:"EXEC_TIMEOUT"`   // seconds
	SubmitTimeout  int `mapstructure:"SUBMIT_TIMEOUT"` // seconds
	BackoffBaseMS  int `mapstructure:"BACKOFF_BASE_MS"`

	ProxyURLs string `mapstructure:"PROXY_URLS"` // comma-separated, empty for direct

	WorkDir      string `mapstructure:"WORK_DIR"`
	PythonBin    string `mapstructure:"PYTHON_BIN"`
	SolveWorkers int    `mapstructure:"SOLVE_WORKERS"`

	PostgresURL          string `mapstructure:"POSTGRES_URL"`
	RedisAddr            string `mapstructure:"REDIS_ADDR"`
	DeduplicationMinutes int    `mapstructure:"DEDUPLICATION_MINUTES"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present.
	// This allows configuration purely through environment variables.
	_ = viper.ReadInConfig()

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("AIPIPE_BASE_URL", "https://aipipe.org/openrouter/v1")
	viper.SetDefault("LLM_MODEL", "openai/gpt-4o-mini")
	viper.SetDefault("ATTEMPT_TIMEOUT", 170)
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("FETCH_TIMEOUT", 30)
	viper.SetDefault("LLM_TIMEOUT", 60)
	viper.SetDefault("EXEC_TIMEOUT", 30)
	viper.SetDefault("SUBMIT_TIMEOUT", 10)
	viper.SetDefault("BACKOFF_BASE_MS", 500)
	viper.SetDefault("WORK_DIR", "/tmp/quizsolver")
	viper.SetDefault("PYTHON_BIN", "python3")
	viper.SetDefault("SOLVE_WORKERS", 4)
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("DEDUPLICATION_MINUTES", 30)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.StudentEmail == "" || cfg.StudentSecret == "" {
		return nil, fmt.Errorf("STUDENT_EMAIL and STUDENT_SECRET must be set")
	}
	return &cfg, nil
}

// AttemptBudget is the wall-clock budget for one attempt.
func (c *Config) AttemptBudget() time.Duration {
	return time.Duration(c.AttemptTimeout) * time.Second
}

// BackoffBase is the initial delay between stage retries.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// Proxies returns the configured outbound proxy URLs.
func (c *Config) Proxies() []string {
	var out []string
	for _, p := range strings.Split(c.ProxyURLs, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
