package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Gate      GateConfig      `yaml:"gate"`
	AI        AIConfig        `yaml:"ai"`
	SES       SESConfig       `yaml:"ses"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout_seconds"`
	WriteTimeout int    `yaml:"write_timeout_seconds"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds Redis settings for the scheduler tick lock. Redis is
// optional; without it the scheduler falls back to PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SchedulerConfig holds step scheduler settings.
type SchedulerConfig struct {
	Enabled             bool `yaml:"enabled"`
	TickIntervalSeconds int  `yaml:"tick_interval_seconds"`
	BatchSize           int  `yaml:"batch_size"`
	LockTTLSeconds      int  `yaml:"lock_ttl_seconds"`
}

// TickInterval returns the polling interval, defaulting to one minute.
func (s SchedulerConfig) TickInterval() time.Duration {
	if s.TickIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(s.TickIntervalSeconds) * time.Second
}

// LockTTL returns the tick lock TTL, defaulting to five minutes.
func (s SchedulerConfig) LockTTL() time.Duration {
	if s.LockTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.LockTTLSeconds) * time.Second
}

// GateConfig holds content gate defaults for workspaces without explicit
// settings.
type GateConfig struct {
	DefaultSendMode string `yaml:"default_send_mode"` // auto_send or require_approval
}

// AIConfig holds content generation and reply classification settings.
type AIConfig struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`
	BedrockModelID  string `yaml:"bedrock_model_id"`
	BedrockRegion   string `yaml:"bedrock_region"`
}

// SESConfig holds AWS SES v2 transport credentials.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromEnv loads configuration from a YAML file if present, then applies
// environment variable overrides. A missing file is not an error: all
// required settings can come from the environment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30,
		},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			TickIntervalSeconds: 60,
			BatchSize:           100,
			LockTTLSeconds:      300,
		},
		Gate: GateConfig{
			DefaultSendMode: "require_approval",
		},
		AI: AIConfig{
			AnthropicModel: "claude-sonnet-4-20250514",
			BedrockModelID: "anthropic.claude-3-sonnet-20240229-v1:0",
			BedrockRegion:  "us-east-1",
		},
		SES: SESConfig{
			Region: "us-east-1",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AI.AnthropicAPIKey = v
	}
	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.AI.BedrockModelID = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AI.BedrockRegion = v
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("SCHEDULER_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.TickIntervalSeconds = n
		}
	}
	if v := os.Getenv("GATE_DEFAULT_SEND_MODE"); v != "" {
		cfg.Gate.DefaultSendMode = v
	}
}
