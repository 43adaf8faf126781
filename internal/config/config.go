// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token    string  `yaml:"token"`
	Username string  `yaml:"username"`
	AdminIDs []int64 `yaml:"admin_ids"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type APIConfig struct {
	Port        int           `yaml:"port"`
	InternalKey string        `yaml:"internal_key"` // HMAC-derived key presented by the bot front-end
	AdminKey    string        `yaml:"admin_key"`    // exchanged for an admin session cookie
	JWTSecret   string        `yaml:"jwt_secret"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type ProviderConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	MinBalance   float64       `yaml:"min_balance"`
	BalanceTTL   time.Duration `yaml:"balance_ttl"`
	AlertLockTTL time.Duration `yaml:"alert_lock_ttl"`
}

type GenerationConfig struct {
	MaxParallelPerUser int           `yaml:"max_parallel_per_user"`
	MaxReferences      int           `yaml:"max_references"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxPollDuration    time.Duration `yaml:"max_poll_duration"`
	StuckThreshold     time.Duration `yaml:"stuck_threshold"`
	ReapInterval       time.Duration `yaml:"reap_interval"`
	MarkupPercent      int           `yaml:"markup_percent"`
	ReferralBonusPct   int           `yaml:"referral_bonus_percent"`
	Workers            int           `yaml:"workers"`
}

type BroadcastConfig struct {
	MessagesPerSecond int `yaml:"messages_per_second"`
}

type Config struct {
	Bot        BotConfig        `yaml:"bot"`
	Log        LogConfig        `yaml:"log"`
	API        APIConfig        `yaml:"api"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Provider   ProviderConfig   `yaml:"provider"`
	Generation GenerationConfig `yaml:"generation"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Bot.Token == "" {
		return nil, errors.New("bot.token is required")
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Provider.APIKey == "" {
		return nil, errors.New("provider.api_key is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.API.Port <= 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.SessionTTL <= 0 {
		cfg.API.SessionTTL = 30 * time.Minute
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.Provider.Timeout <= 0 {
		cfg.Provider.Timeout = 30 * time.Second
	}
	if cfg.Provider.BalanceTTL <= 0 {
		cfg.Provider.BalanceTTL = time.Minute
	}
	if cfg.Provider.AlertLockTTL <= 0 {
		cfg.Provider.AlertLockTTL = 10 * time.Minute
	}
	if cfg.Generation.MaxParallelPerUser <= 0 {
		cfg.Generation.MaxParallelPerUser = 2
	}
	if cfg.Generation.MaxReferences <= 0 {
		cfg.Generation.MaxReferences = 10
	}
	if cfg.Generation.PollInterval <= 0 {
		cfg.Generation.PollInterval = 3 * time.Second
	}
	if cfg.Generation.MaxPollDuration <= 0 {
		cfg.Generation.MaxPollDuration = 5 * time.Minute
	}
	if cfg.Generation.StuckThreshold <= 0 {
		cfg.Generation.StuckThreshold = 10 * time.Minute
	}
	if cfg.Generation.ReapInterval <= 0 {
		cfg.Generation.ReapInterval = time.Minute
	}
	if cfg.Generation.ReferralBonusPct <= 0 {
		cfg.Generation.ReferralBonusPct = 10
	}
	if cfg.Generation.Workers <= 0 {
		cfg.Generation.Workers = 16
	}
	if cfg.Broadcast.MessagesPerSecond <= 0 {
		cfg.Broadcast.MessagesPerSecond = 20
	}
}
