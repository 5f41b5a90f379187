// Package config loads runtime settings from .env, an optional YAML file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the assistant.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string
	LogFormat        string

	StoreBackend string
	ChatDir      string
	SQLitePath   string
	DatabaseURL  string

	BrainProvider     string
	Model             string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	AnthropicAPIKey   string
	AnthropicModel    string
	OllamaURL         string
	OllamaModel       string
	BrainHTTPURL      string
	CompletionTimeout time.Duration
	CompletionRetries int
	MaxTokens         int

	AgentMaxSteps int
	WikipediaURL  string
}

// fileConfig is the YAML overlay shape. Empty values leave the defaults alone.
type fileConfig struct {
	BindAddr         string `yaml:"bind_addr"`
	ShutdownTimeout  string `yaml:"shutdown_timeout"`
	MetricsNamespace string `yaml:"metrics_namespace"`
	AllowAnyOrigin   *bool  `yaml:"allow_any_origin"`
	Log              struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Store struct {
		Backend    string `yaml:"backend"`
		ChatDir    string `yaml:"chat_dir"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"store"`
	Brain struct {
		Provider          string `yaml:"provider"`
		Model             string `yaml:"model"`
		OpenRouterBaseURL string `yaml:"openrouter_base_url"`
		AnthropicModel    string `yaml:"anthropic_model"`
		OllamaURL         string `yaml:"ollama_url"`
		OllamaModel       string `yaml:"ollama_model"`
		HTTPURL           string `yaml:"http_url"`
		Timeout           string `yaml:"timeout"`
		Retries           *int   `yaml:"retries"`
		MaxTokens         *int   `yaml:"max_tokens"`
	} `yaml:"brain"`
	Agent struct {
		MaxSteps     *int   `yaml:"max_steps"`
		WikipediaURL string `yaml:"wikipedia_url"`
	} `yaml:"agent"`
}

func defaults() Config {
	return Config{
		BindAddr:          ":8080",
		ShutdownTimeout:   15 * time.Second,
		MetricsNamespace:  "ava",
		LogLevel:          "info",
		LogFormat:         "json",
		StoreBackend:      "file",
		ChatDir:           "chat_logs",
		SQLitePath:        "chat_logs/ava.db",
		BrainProvider:     "auto",
		Model:             "mistralai/mistral-7b-instruct",
		OpenRouterBaseURL: "https://openrouter.ai/api/v1",
		AnthropicModel:    "claude-3-5-haiku-latest",
		OllamaModel:       "llama3.2",
		CompletionTimeout: 60 * time.Second,
		CompletionRetries: 1,
		MaxTokens:         1024,
		AgentMaxSteps:     4,
		WikipediaURL:      "https://en.wikipedia.org",
	}
}

// Load reads .env (AVA_ENV_FILE, default ".env"), the YAML file named by AVA_CONFIG_FILE,
// then environment variables, and validates the result.
func Load() (Config, error) {
	envFile := envOrDefault("AVA_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := defaults()
	if path := stringsTrimSpace("AVA_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("AVA_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("AVA_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = envOrDefault("AVA_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("AVA_LOG_FORMAT", cfg.LogFormat)
	cfg.StoreBackend = strings.ToLower(envOrDefault("AVA_STORE_BACKEND", cfg.StoreBackend))
	cfg.ChatDir = envOrDefault("AVA_CHAT_DIR", cfg.ChatDir)
	cfg.SQLitePath = envOrDefault("AVA_SQLITE_PATH", cfg.SQLitePath)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.BrainProvider = strings.ToLower(envOrDefault("AVA_BRAIN_PROVIDER", cfg.BrainProvider))
	cfg.Model = envOrDefault("AVA_MODEL", cfg.Model)
	cfg.OpenRouterAPIKey = stringsTrimSpace("OPENROUTER_API_KEY")
	cfg.OpenRouterBaseURL = envOrDefault("AVA_OPENROUTER_BASE_URL", cfg.OpenRouterBaseURL)
	cfg.AnthropicAPIKey = stringsTrimSpace("ANTHROPIC_API_KEY")
	cfg.AnthropicModel = envOrDefault("AVA_ANTHROPIC_MODEL", cfg.AnthropicModel)
	cfg.OllamaURL = envOrDefault("AVA_OLLAMA_URL", cfg.OllamaURL)
	cfg.OllamaModel = envOrDefault("AVA_OLLAMA_MODEL", cfg.OllamaModel)
	cfg.BrainHTTPURL = envOrDefault("AVA_BRAIN_HTTP_URL", cfg.BrainHTTPURL)
	cfg.WikipediaURL = envOrDefault("AVA_WIKIPEDIA_URL", cfg.WikipediaURL)

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("AVA_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("AVA_COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionRetries, err = intFromEnv("AVA_COMPLETION_RETRIES", cfg.CompletionRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTokens, err = intFromEnv("AVA_MAX_TOKENS", cfg.MaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentMaxSteps, err = intFromEnv("AVA_AGENT_MAX_STEPS", cfg.AgentMaxSteps)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("AVA_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case "file", "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("AVA_STORE_BACKEND must be one of file|sqlite|postgres|memory, got %q", c.StoreBackend)
	}
	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when AVA_STORE_BACKEND=postgres")
	}
	if c.CompletionTimeout < time.Second {
		return fmt.Errorf("AVA_COMPLETION_TIMEOUT must be at least 1s")
	}
	if c.CompletionRetries < 0 || c.CompletionRetries > 5 {
		return fmt.Errorf("AVA_COMPLETION_RETRIES must be between 0 and 5")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("AVA_MAX_TOKENS must be positive")
	}
	if c.AgentMaxSteps < 1 || c.AgentMaxSteps > 20 {
		return fmt.Errorf("AVA_AGENT_MAX_STEPS must be between 1 and 20")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("AVA_SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.BindAddr, fc.BindAddr)
	setString(&cfg.MetricsNamespace, fc.MetricsNamespace)
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)
	setString(&cfg.StoreBackend, fc.Store.Backend)
	setString(&cfg.ChatDir, fc.Store.ChatDir)
	setString(&cfg.SQLitePath, fc.Store.SQLitePath)
	setString(&cfg.BrainProvider, fc.Brain.Provider)
	setString(&cfg.Model, fc.Brain.Model)
	setString(&cfg.OpenRouterBaseURL, fc.Brain.OpenRouterBaseURL)
	setString(&cfg.AnthropicModel, fc.Brain.AnthropicModel)
	setString(&cfg.OllamaURL, fc.Brain.OllamaURL)
	setString(&cfg.OllamaModel, fc.Brain.OllamaModel)
	setString(&cfg.BrainHTTPURL, fc.Brain.HTTPURL)
	setString(&cfg.WikipediaURL, fc.Agent.WikipediaURL)
	if fc.AllowAnyOrigin != nil {
		cfg.AllowAnyOrigin = *fc.AllowAnyOrigin
	}
	if fc.Brain.Retries != nil {
		cfg.CompletionRetries = *fc.Brain.Retries
	}
	if fc.Brain.MaxTokens != nil {
		cfg.MaxTokens = *fc.Brain.MaxTokens
	}
	if fc.Agent.MaxSteps != nil {
		cfg.AgentMaxSteps = *fc.Agent.MaxSteps
	}
	if err := setDuration(&cfg.ShutdownTimeout, "shutdown_timeout", fc.ShutdownTimeout); err != nil {
		return err
	}
	return setDuration(&cfg.CompletionTimeout, "brain.timeout", fc.Brain.Timeout)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config file %s parse error: %w", key, err)
	}
	*dst = d
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
