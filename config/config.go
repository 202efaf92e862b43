// Package config loads the healthgate process configuration from defaults, an optional JSON
// file and HEALTHGATE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	// A double underscore separates nesting levels:
	// HEALTHGATE_BREAKER__FAILURE_THRESHOLD -> breaker.failure_threshold,
	// HEALTHGATE_SERVICES__AUTH -> services.auth.
	EnvPrefix = "HEALTHGATE_"

	SourceNone   = "none"
	SourceConsul = "consul"
	SourceRedis  = "redis"
)

// Config is the root of the process configuration.
type Config struct {
	// Services is the static fallback map of service name -> health-check base URL.
	Services        map[string]string `json:"services" validate:"dive,omitempty,url"`
	Log             LogConfig         `json:"log"`
	Source          SourceConfig      `json:"source"`
	Listen          string            `json:"listen" validate:"required"`
	Breaker         BreakerConfig     `json:"breaker"`
	Probe           ProbeConfig       `json:"probe"`
	ShutdownTimeout time.Duration     `json:"shutdown_timeout" validate:"gt=0"`
}

// SourceConfig selects and configures the dynamic configuration source.
type SourceConfig struct {
	Kind        string        `json:"kind" validate:"oneof=none consul redis"`
	Prefix      string        `json:"prefix" validate:"required_unless=Kind none"`
	ConsulAddr  string        `json:"consul_addr" validate:"required_if=Kind consul"`
	ConsulToken string        `json:"consul_token"`
	RedisURL    string        `json:"redis_url" validate:"required_if=Kind redis"`
	MaxAttempts int           `json:"max_attempts" validate:"min=1,max=10"`
	RetryDelay  time.Duration `json:"retry_delay" validate:"gt=0"`
}

// BreakerConfig tunes the per-service circuit breakers.
type BreakerConfig struct {
	FailureThreshold uint32        `json:"failure_threshold" validate:"min=1"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" validate:"gt=0"`
}

// ProbeConfig tunes the downstream health checks.
type ProbeConfig struct {
	Timeout       time.Duration `json:"timeout" validate:"gt=0"`
	PreviewLength int           `json:"preview_length" validate:"min=0"`
	// MaxConcurrent bounds the checks in flight per evaluation; 0 checks every service at once.
	MaxConcurrent int `json:"max_concurrent" validate:"min=0"`
}

// LogConfig configures process logging.
type LogConfig struct {
	Level string `json:"level" validate:"oneof=debug info warn error"`
	// File, when set, receives a copy of the log output, rotated by size.
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb" validate:"min=1"`
	MaxBackups int    `json:"max_backups" validate:"min=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Listen:          ":8080",
		Services:        map[string]string{},
		ShutdownTimeout: 15 * time.Second,
		Source: SourceConfig{
			Kind:        SourceNone,
			MaxAttempts: 2,
			RetryDelay:  200 * time.Millisecond,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
		},
		Probe: ProbeConfig{
			Timeout:       10 * time.Second,
			PreviewLength: 200,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load builds the configuration from defaults, the JSON file at path (skipped when path is
// empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults (lowest precedence)
	if err := k.Load(structs.Provider(Default(), "json"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// 2. JSON file
	if path != "" {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file not found: %q: %w", path, err)
			}
			return nil, fmt.Errorf("load config file %q: %w", path, err)
		}
	}

	// 3. Environment (highest precedence)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "json",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "json",
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name := range c.Services {
		if strings.Contains(name, "/") {
			return fmt.Errorf("invalid config: service name %q must not contain '/'", name)
		}
	}
	return nil
}

// envKey maps HEALTHGATE_BREAKER__FAILURE_THRESHOLD to breaker.failure_threshold.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}
