// Package app reads the environment and wires the services shared by the
// API and sweeper Lambdas.
package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDynamoDB = "dynamodb"
	StoreRedis    = "redis"
	StoreMemory   = "memory"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// Config is everything read from the environment. It is loaded once at
// cold start.
type Config struct {
	StoreDriver string
	StateTable  string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	ParamPrefix string
	LLMProvider string
	LLMBaseURL  string
	LLMTimeout  time.Duration

	IdleTimeout      time.Duration
	MaxMessageLength int
	HistoryContext   int

	LogLevel  string
	LogFormat string
}

// LoadConfig reads the configuration through getenv, normally os.Getenv.
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := readConfig(getenv)
	return cfg, cfg.validate()
}

// LoadSweeperConfig is LoadConfig for the cleanup Lambda. The sweep never
// calls the model, so the provider is forced to none before validation and
// the LLM settings are not required.
func LoadSweeperConfig(getenv func(string) string) (Config, error) {
	cfg := readConfig(getenv)
	cfg.LLMProvider = ProviderNone
	return cfg, cfg.validate()
}

func readConfig(getenv func(string) string) Config {
	return Config{
		StoreDriver:      strings.ToLower(envString(getenv, "STORE_DRIVER", StoreDynamoDB)),
		StateTable:       strings.TrimSpace(getenv("STATE_TABLE")),
		RedisAddr:        strings.TrimSpace(getenv("REDIS_ADDR")),
		RedisPassword:    getenv("REDIS_PASSWORD"),
		RedisDB:          envInt(getenv, "REDIS_DB", 0),
		RedisKeyPrefix:   envString(getenv, "REDIS_KEY_PREFIX", "insurance:"),
		ParamPrefix:      strings.TrimSpace(getenv("PARAM_PREFIX")),
		LLMProvider:      strings.ToLower(envString(getenv, "LLM_PROVIDER", ProviderOpenAI)),
		LLMBaseURL:       strings.TrimSpace(getenv("LLM_BASE_URL")),
		LLMTimeout:       time.Duration(envInt(getenv, "LLM_TIMEOUT_MS", 8000)) * time.Millisecond,
		IdleTimeout:      time.Duration(envInt(getenv, "IDLE_TIMEOUT_HOURS", 24)) * time.Hour,
		MaxMessageLength: envInt(getenv, "MAX_MESSAGE_LENGTH", 500),
		HistoryContext:   envInt(getenv, "HISTORY_CONTEXT", 3),
		LogLevel:         envString(getenv, "LOG_LEVEL", "info"),
		LogFormat:        envString(getenv, "LOG_FORMAT", "json"),
	}
}

func (c Config) validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreDynamoDB:
		if c.StateTable == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb store"))
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of dynamodb, redis, memory", c.StoreDriver))
	}

	switch c.LLMProvider {
	case ProviderOpenAI, ProviderAnthropic:
		if c.ParamPrefix == "" {
			errs = append(errs, fmt.Errorf("PARAM_PREFIX is required for LLM_PROVIDER %q", c.LLMProvider))
		}
	case ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is not one of openai, anthropic, none", c.LLMProvider))
	}

	if c.LLMTimeout <= 0 {
		errs = append(errs, errors.New("LLM_TIMEOUT_MS must be positive"))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("IDLE_TIMEOUT_HOURS must be positive"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.HistoryContext <= 0 {
		errs = append(errs, errors.New("HISTORY_CONTEXT must be positive"))
	}
	return errors.Join(errs...)
}

// NeedsAWS reports whether the configuration talks to any AWS service.
func (c Config) NeedsAWS() bool {
	return c.StoreDriver == StoreDynamoDB || c.LLMProvider != ProviderNone
}

func envString(getenv func(string) string, key, def string) string {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(getenv func(string) string, key string, def int) int {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
