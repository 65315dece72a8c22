// Package config loads process configuration from defaults, an optional
// config file and MINDSPACE_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "MINDSPACE"

// History backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

type Config struct {
	History     HistoryConfig   `mapstructure:"history"`
	Redis       RedisConfig     `mapstructure:"redis"`
	LLM         LLMConfig       `mapstructure:"llm"`
	Ollama      OllamaConfig    `mapstructure:"ollama"`
	ParamPrefix string          `mapstructure:"param_prefix"`
	Postgres    PostgresConfig  `mapstructure:"postgres"`
	Knowledge   KnowledgeConfig `mapstructure:"knowledge"`
	Timeouts    TimeoutConfig   `mapstructure:"timeouts"`
	Chat        ChatConfig      `mapstructure:"chat"`
	Rate        RateConfig      `mapstructure:"rate"`
	Server      ServerConfig    `mapstructure:"server"`

	// Identities is a static email to conversation id map used when no
	// PostgreSQL DSN is configured.
	Identities map[string]string `mapstructure:"-"`
}

type HistoryConfig struct {
	Backend string `mapstructure:"backend"`
	Table   string `mapstructure:"table"`
	Limit   int    `mapstructure:"limit"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type LLMConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	APIKey           string `mapstructure:"api_key"`
	ChatModel        string `mapstructure:"chat_model"`
	RouterModel      string `mapstructure:"router_model"`
	EmbeddingModel   string `mapstructure:"embedding_model"`
	EmbeddingBaseURL string `mapstructure:"embedding_base_url"`
	EmbeddingAPIKey  string `mapstructure:"embedding_api_key"`
}

type OllamaConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// Enabled reports whether a local model server is configured.
func (o OllamaConfig) Enabled() bool { return strings.TrimSpace(o.URL) != "" }

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type KnowledgeConfig struct {
	Table      string `mapstructure:"table"`
	TopK       int    `mapstructure:"top_k"`
	Dimensions int    `mapstructure:"dimensions"`
}

type TimeoutConfig struct {
	Classifier time.Duration `mapstructure:"classifier"`
	Generation time.Duration `mapstructure:"generation"`
	Storage    time.Duration `mapstructure:"storage"`
}

type ChatConfig struct {
	MaxMessageLength int `mapstructure:"max_message_length"`
}

type RateConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("history.backend", BackendDynamoDB)
	v.SetDefault("history.table", "mindspace-history")
	v.SetDefault("history.limit", 20)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "mindspace:history:")

	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.chat_model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.router_model", "llama-3.1-8b-instant")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.embedding_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.embedding_api_key", "")

	v.SetDefault("ollama.url", "")
	v.SetDefault("ollama.model", "qwen2.5:1.5b")

	v.SetDefault("param_prefix", "/mindspace")
	v.SetDefault("postgres.dsn", "")

	v.SetDefault("knowledge.table", "knowledge_chunks")
	v.SetDefault("knowledge.top_k", 5)
	v.SetDefault("knowledge.dimensions", 1536)

	v.SetDefault("timeouts.classifier", 10*time.Second)
	v.SetDefault("timeouts.generation", 30*time.Second)
	v.SetDefault("timeouts.storage", 5*time.Second)

	v.SetDefault("chat.max_message_length", 2000)

	v.SetDefault("rate.per_second", 1.0)
	v.SetDefault("rate.burst", 5)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("identities", map[string]string{})
}

// Load reads configuration. path may be empty to skip the config file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Identities = v.GetStringMapString("identities")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.History.Backend {
	case BackendDynamoDB:
		if strings.TrimSpace(c.History.Table) == "" {
			errs = append(errs, errors.New("history.table is required for the dynamodb backend"))
		}
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis backend"))
		}
	case BackendMemory, BackendNone:
	default:
		errs = append(errs, fmt.Errorf("history.backend %q is not one of dynamodb, redis, memory, none", c.History.Backend))
	}
	if c.History.Limit <= 0 {
		errs = append(errs, errors.New("history.limit must be positive"))
	}
	if strings.TrimSpace(c.LLM.ChatModel) == "" || strings.TrimSpace(c.LLM.RouterModel) == "" {
		errs = append(errs, errors.New("llm.chat_model and llm.router_model are required"))
	}
	if c.Chat.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("chat.max_message_length must be positive"))
	}
	// per_second 0 turns the limiter off; burst only matters when it is on.
	switch {
	case c.Rate.PerSecond < 0:
		errs = append(errs, errors.New("rate.per_second must not be negative"))
	case c.Rate.PerSecond > 0 && c.Rate.Burst <= 0:
		errs = append(errs, errors.New("rate.burst must be positive when rate.per_second is set"))
	}
	if c.Timeouts.Classifier <= 0 || c.Timeouts.Generation <= 0 || c.Timeouts.Storage <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
