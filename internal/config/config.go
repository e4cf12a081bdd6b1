package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/kiliankoe/twentyq/internal/ai"
)

type Config struct {
	Port            string
	DefaultProvider string
	DefaultModel    string
	SystemPrompt    string
	OpenAIKey       string
	OpenAIBaseURL   string
	OllamaHost      string

	QuestionBudget int
	ModelRetries   int
	ModelTimeout   time.Duration
	SessionTTL     time.Duration

	JWTSecret     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RateLimit     int
	RateWindow    time.Duration

	HistoryDSN    string
	ExportEnabled bool
	ExportFile    string
	LogLevel      string
}

// fileConfig mirrors Config for the optional TOML file. Pointers tell unset
// keys apart from zero values.
type fileConfig struct {
	Port            *string `toml:"port"`
	DefaultProvider *string `toml:"default_provider"`
	DefaultModel    *string `toml:"default_model"`
	SystemPrompt    *string `toml:"system_prompt"`
	OpenAIBaseURL   *string `toml:"openai_base_url"`
	OllamaHost      *string `toml:"ollama_host"`
	QuestionBudget  *int    `toml:"question_budget"`
	ModelRetries    *int    `toml:"model_retries"`
	ModelTimeout    *string `toml:"model_timeout"`
	SessionTTL      *string `toml:"session_ttl"`
	RedisAddr       *string `toml:"redis_addr"`
	RedisDB         *int    `toml:"redis_db"`
	RateLimit       *int    `toml:"rate_limit"`
	RateWindow      *string `toml:"rate_window"`
	HistoryDSN      *string `toml:"history_dsn"`
	ExportEnabled   *bool   `toml:"export_enabled"`
	ExportFile      *string `toml:"export_file"`
	LogLevel        *string `toml:"log_level"`
}

func defaults() Config {
	return Config{
		Port:            "8080",
		DefaultProvider: "openai",
		DefaultModel:    "gpt-4o-mini",
		SystemPrompt:    "You are a precise game master for a game of 20 Questions about video games. You always reply with a single JSON object.",
		OllamaHost:      "http://localhost:11434",
		QuestionBudget:  20,
		ModelRetries:    1,
		ModelTimeout:    20 * time.Second,
		SessionTTL:      2 * time.Hour,
		RateLimit:       30,
		RateWindow:      time.Minute,
		ExportEnabled:   false,
		ExportFile:      "./twentyq-results.txt",
		LogLevel:        "info",
	}
}

// Load reads .env (if present), then the TOML file named by CONFIG_FILE,
// then the environment. Later sources win.
func Load() (Config, error) {
	_ = godotenv.Load()

	c := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := overlayFromFile(&c, path); err != nil {
			return c, err
		}
	}
	if err := applyEnv(&c); err != nil {
		return c, err
	}
	return c, c.validate()
}

func applyEnv(c *Config) error {
	var errs []error
	c.Port = getenv("PORT", c.Port)
	c.DefaultProvider = getenv("DEFAULT_PROVIDER", c.DefaultProvider)
	c.DefaultModel = getenv("DEFAULT_MODEL", c.DefaultModel)
	c.SystemPrompt = getenv("SYSTEM_PROMPT", c.SystemPrompt)
	c.OpenAIKey = getenv("OPENAI_API_KEY", c.OpenAIKey)
	c.OpenAIBaseURL = getenv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OllamaHost = getenv("OLLAMA_HOST", c.OllamaHost)
	c.QuestionBudget = getint("QUESTION_BUDGET", c.QuestionBudget, &errs)
	c.ModelRetries = getint("MODEL_RETRIES", c.ModelRetries, &errs)
	c.ModelTimeout = getduration("MODEL_TIMEOUT", c.ModelTimeout, &errs)
	c.SessionTTL = getduration("SESSION_TTL", c.SessionTTL, &errs)
	c.JWTSecret = getenv("JWT_SECRET", c.JWTSecret)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getenv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getint("REDIS_DB", c.RedisDB, &errs)
	c.RateLimit = getint("RATE_LIMIT", c.RateLimit, &errs)
	c.RateWindow = getduration("RATE_WINDOW", c.RateWindow, &errs)
	c.HistoryDSN = getenv("HISTORY_DSN", c.HistoryDSN)
	c.ExportEnabled = getenv("EXPORT_ENABLED", strconv.FormatBool(c.ExportEnabled)) == "true"
	c.ExportFile = getenv("EXPORT_FILE", c.ExportFile)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	return errors.Join(errs...)
}

func overlayFromFile(c *Config, path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	setString(&c.Port, f.Port)
	setString(&c.DefaultProvider, f.DefaultProvider)
	setString(&c.DefaultModel, f.DefaultModel)
	setString(&c.SystemPrompt, f.SystemPrompt)
	setString(&c.OpenAIBaseURL, f.OpenAIBaseURL)
	setString(&c.OllamaHost, f.OllamaHost)
	setString(&c.RedisAddr, f.RedisAddr)
	setString(&c.HistoryDSN, f.HistoryDSN)
	setString(&c.ExportFile, f.ExportFile)
	setString(&c.LogLevel, f.LogLevel)
	if f.QuestionBudget != nil {
		c.QuestionBudget = *f.QuestionBudget
	}
	if f.ModelRetries != nil {
		c.ModelRetries = *f.ModelRetries
	}
	if f.RedisDB != nil {
		c.RedisDB = *f.RedisDB
	}
	if f.RateLimit != nil {
		c.RateLimit = *f.RateLimit
	}
	if f.ExportEnabled != nil {
		c.ExportEnabled = *f.ExportEnabled
	}

	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"model_timeout", f.ModelTimeout, &c.ModelTimeout},
		{"session_ttl", f.SessionTTL, &c.SessionTTL},
		{"rate_window", f.RateWindow, &c.RateWindow},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("parse %s in %q: %w", d.key, path, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c Config) validate() error {
	switch {
	case c.QuestionBudget <= 0:
		return fmt.Errorf("QUESTION_BUDGET must be positive, got %d", c.QuestionBudget)
	case c.ModelRetries < 0:
		return fmt.Errorf("MODEL_RETRIES must not be negative, got %d", c.ModelRetries)
	case c.ModelTimeout <= 0:
		return fmt.Errorf("MODEL_TIMEOUT must be positive, got %s", c.ModelTimeout)
	}
	return nil
}

// AI returns the subset the model clients need.
func (c Config) AI() ai.Config {
	return ai.Config{
		DefaultProvider: c.DefaultProvider,
		DefaultModel:    c.DefaultModel,
		SystemPrompt:    c.SystemPrompt,
		OpenAIKey:       c.OpenAIKey,
		OpenAIBaseURL:   c.OpenAIBaseURL,
		OllamaHost:      c.OllamaHost,
		Timeout:         c.ModelTimeout,
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int, errs *[]error) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func getduration(k string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
