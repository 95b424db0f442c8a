// Package config loads the bot configuration: a JSON file as the base,
// environment variables on top. Secrets prefer Vault when it is enabled;
// environment variables are the fallback.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"intraday-trading-bot/internal/api"
	"intraday-trading-bot/internal/cache"
	"intraday-trading-bot/internal/confirm"
	"intraday-trading-bot/internal/indicators"
	"intraday-trading-bot/internal/journal"
	"intraday-trading-bot/internal/learning"
	"intraday-trading-bot/internal/logging"
	"intraday-trading-bot/internal/monitor"
	"intraday-trading-bot/internal/notify"
	"intraday-trading-bot/internal/recommend"
	"intraday-trading-bot/internal/risk"
	"intraday-trading-bot/internal/scheduler"
	"intraday-trading-bot/internal/screener"
	"intraday-trading-bot/internal/sentiment"
	"intraday-trading-bot/internal/vault"
)

// Config is the full bot configuration.
type Config struct {
	Logging       logging.Config     `json:"logging"`
	Database      journal.Config     `json:"database"`
	Redis         cache.Config       `json:"redis"`
	MarketData    MarketDataConfig   `json:"market_data"`
	Broker        BrokerConfig       `json:"broker"`
	Trading       TradingConfig      `json:"trading"`
	Screener      screener.Config    `json:"screener"`
	Indicators    indicators.Config  `json:"indicators"`
	Sentiment     sentiment.Config   `json:"sentiment"`
	Sources       SourcesConfig      `json:"sentiment_sources"`
	Risk          risk.Config        `json:"risk"`
	Recommend     recommend.Config   `json:"recommend"`
	Confirm       confirm.Config     `json:"confirm"`
	Monitor       monitor.Config     `json:"monitor"`
	Learning      learning.Config    `json:"learning"`
	Scheduler     scheduler.Config   `json:"scheduler"`
	Server        api.Config         `json:"server"`
	Auth          AuthConfig         `json:"auth"`
	Vault         vault.Config       `json:"vault"`
	Notifications NotificationConfig `json:"notifications"`
}

// MarketDataConfig holds the market data provider settings.
type MarketDataConfig struct {
	BaseURL   string `json:"base_url"`
	StreamURL string `json:"stream_url"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	MockMode  bool   `json:"mock_mode"`
	Stream    bool   `json:"stream"`
}

// BrokerConfig holds the broker connection settings.
type BrokerConfig struct {
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key"`
	APISecret    string `json:"api_secret"`
	PaperTrading bool   `json:"paper_trading"`
	MockMode     bool   `json:"mock_mode"`
}

// TradingConfig narrows the entry window inside the open session.
type TradingConfig struct {
	StartTime string `json:"trading_start_time"` // HH:MM exchange time
	EndTime   string `json:"trading_end_time"`
}

// AuthConfig holds the operator login for the control API.
type AuthConfig struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

// NotificationConfig holds outbound messaging settings.
type NotificationConfig struct {
	Enabled  bool                  `json:"enabled"`
	Telegram notify.TelegramConfig `json:"telegram"`
}

// SourceConfig is one sentiment source endpoint.
type SourceConfig struct {
	Enabled        bool     `json:"enabled"`
	BaseURL        string   `json:"base_url"`
	APIKey         string   `json:"api_key"`
	Subcollections []string `json:"subcollections,omitempty"`
}

// SourcesConfig configures the three sentiment source families.
type SourcesConfig struct {
	News   SourceConfig `json:"news"`
	Forum  SourceConfig `json:"forum"`
	Social SourceConfig `json:"social"`
}

// Load reads .env, then config.json, then environment overrides.
// Component defaults fill whatever remains unset, inside each
// component's own normalize.
func Load() (*Config, error) {
	return LoadFile("config.json")
}

// LoadFile is Load with an explicit config path, for the cmd tools.
func LoadFile(path string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Logging
	cfg.Logging.Level = envOr("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOr("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = envOr("LOG_OUTPUT", cfg.Logging.Output)

	// Database
	cfg.Database.Host = envOr("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = envIntOr("DB_PORT", cfg.Database.Port)
	cfg.Database.User = envOr("DB_USER", cfg.Database.User)
	cfg.Database.Password = envOr("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = envOr("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = envOr("DB_SSLMODE", cfg.Database.SSLMode)

	// Redis
	cfg.Redis.Enabled = envBoolOr("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = envOr("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = envOr("REDIS_PASSWORD", cfg.Redis.Password)

	// Market data
	cfg.MarketData.BaseURL = envOr("MARKET_BASE_URL", cfg.MarketData.BaseURL)
	cfg.MarketData.APIKey = envOr("MARKET_API_KEY", cfg.MarketData.APIKey)
	cfg.MarketData.APISecret = envOr("MARKET_API_SECRET", cfg.MarketData.APISecret)
	cfg.MarketData.MockMode = envBoolOr("MOCK_MODE", cfg.MarketData.MockMode)

	// Broker
	cfg.Broker.BaseURL = envOr("BROKER_BASE_URL", cfg.Broker.BaseURL)
	cfg.Broker.APIKey = envOr("BROKER_API_KEY", cfg.Broker.APIKey)
	cfg.Broker.APISecret = envOr("BROKER_API_SECRET", cfg.Broker.APISecret)
	cfg.Broker.PaperTrading = envBoolOr("PAPER_TRADING", cfg.Broker.PaperTrading)
	cfg.Broker.MockMode = envBoolOr("MOCK_MODE", cfg.Broker.MockMode)

	// Trading window
	cfg.Trading.StartTime = envOr("TRADING_START_TIME", cfg.Trading.StartTime)
	cfg.Trading.EndTime = envOr("TRADING_END_TIME", cfg.Trading.EndTime)

	// Confirmation mode
	if mode := os.Getenv("CONFIRM_MODE"); mode != "" {
		cfg.Confirm.Mode = confirm.Mode(mode)
	}

	// Server and auth
	cfg.Server.Host = envOr("WEB_HOST", cfg.Server.Host)
	cfg.Server.Port = envIntOr("WEB_PORT", cfg.Server.Port)
	cfg.Server.JWTSecret = envOr("AUTH_JWT_SECRET", cfg.Server.JWTSecret)
	cfg.Auth.Enabled = envBoolOr("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.Username = envOr("AUTH_USERNAME", cfg.Auth.Username)
	cfg.Auth.PasswordHash = envOr("AUTH_PASSWORD_HASH", cfg.Auth.PasswordHash)

	// Vault
	cfg.Vault.Enabled = envBoolOr("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = envOr("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = envOr("VAULT_TOKEN", cfg.Vault.Token)

	// Notifications
	cfg.Notifications.Enabled = envBoolOr("NOTIFICATIONS_ENABLED", cfg.Notifications.Enabled)
	cfg.Notifications.Telegram.Enabled = envBoolOr("TELEGRAM_ENABLED", cfg.Notifications.Telegram.Enabled)
	cfg.Notifications.Telegram.BotToken = envOr("TELEGRAM_BOT_TOKEN", cfg.Notifications.Telegram.BotToken)
	cfg.Notifications.Telegram.ChatID = envOr("TELEGRAM_CHAT_ID", cfg.Notifications.Telegram.ChatID)

	// Sentiment sources
	cfg.Sources.News.APIKey = envOr("NEWS_API_KEY", cfg.Sources.News.APIKey)
	cfg.Sources.Forum.APIKey = envOr("FORUM_API_KEY", cfg.Sources.Forum.APIKey)
	cfg.Sources.Social.APIKey = envOr("SOCIAL_API_KEY", cfg.Sources.Social.APIKey)
}

func (c *Config) validate() error {
	if c.Auth.Enabled && c.Server.JWTSecret == "" {
		return fmt.Errorf("auth enabled but AUTH_JWT_SECRET is not set")
	}
	if c.Auth.Enabled && (c.Auth.Username == "" || c.Auth.PasswordHash == "") {
		return fmt.Errorf("auth enabled but operator credentials are not set")
	}
	if !c.Broker.MockMode && !c.Vault.Enabled && c.Broker.APIKey == "" {
		return fmt.Errorf("broker credentials missing: set BROKER_API_KEY or enable vault or mock mode")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}

// GenerateSample writes a commented-free sample config with defaults
// filled in, for first-time setup.
func GenerateSample(path string) error {
	sample := Config{
		Logging:   logging.Config{Level: "info", Format: "console", Output: "stdout"},
		Database:  journal.Config{Host: "localhost", Port: 5432, User: "trading", Database: "trading_bot", SSLMode: "disable"},
		Redis:     cache.Config{Enabled: true, Address: "localhost:6379"},
		Trading:   TradingConfig{StartTime: "09:45", EndTime: "15:30"},
		Screener:  screener.Config{Criteria: screener.DefaultCriteria()},
		Recommend: recommend.DefaultConfig(),
		Monitor:   monitor.DefaultConfig(),
		Learning:  learning.DefaultConfig(),
		Broker:    BrokerConfig{PaperTrading: true, MockMode: true},
	}

	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sample config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}
	return nil
}
