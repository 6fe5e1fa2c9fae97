package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerConfig       ServerConfig       `json:"server"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	RiskConfig         RiskConfig         `json:"risk"`
	ValidationConfig   ValidationConfig   `json:"validation"`
	SignalBotConfig    SignalBotConfig    `json:"signal_bot"`
	AlertConfig        AlertConfig        `json:"alerts"`
	MarketDataConfig   MarketDataConfig   `json:"market_data"`
	NotificationConfig NotificationConfig `json:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`    // Seconds
	WriteTimeout    int    `json:"write_timeout"`   // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for alert deduplication
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// RiskConfig holds risk management configuration
type RiskConfig struct {
	AccountEquity       float64 `json:"account_equity"`         // Starting equity for sizing
	RiskPerTradePercent float64 `json:"risk_per_trade_percent"` // Percentage of equity risked per setup
	MinRiskReward       float64 `json:"min_risk_reward"`        // Minimum reward:risk to accept a setup
	MaxOpenSetups       int     `json:"max_open_setups"`
	BreakEvenRatio      float64 `json:"break_even_ratio"` // Fraction of planned move arming break-even
}

// ValidationConfig holds validation engine configuration
type ValidationConfig struct {
	MinConfidence float64 `json:"min_confidence"` // Score required to create a setup
}

// SignalBotConfig holds signal bot configuration
type SignalBotConfig struct {
	Enabled       bool `json:"enabled"`
	SweepInterval int  `json:"sweep_interval"` // Seconds between sweeps
	WorkerCount   int  `json:"worker_count"`
}

// AlertConfig holds alert engine configuration
type AlertConfig struct {
	Enabled           bool    `json:"enabled"`
	TouchTolerancePct float64 `json:"touch_tolerance_pct"`
}

// MarketDataConfig holds market data provider configuration
type MarketDataConfig struct {
	BaseURL  string `json:"base_url"`
	Interval string `json:"interval"`  // Kline interval, e.g. "1h"
	CacheTTL int    `json:"cache_ttl"` // Seconds
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

type LoggingConfig struct {
	Level  string `json:"level"`  // DEBUG, INFO, WARN, ERROR
	Output string `json:"output"` // stdout, stderr, or file path
	Pretty bool   `json:"pretty"` // Console format instead of JSON
}

func Load() (*Config, error) {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	// Environment variable overrides take precedence over the file.
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", defaultStr(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultStr(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultStr(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultStr(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultStr(cfg.DatabaseConfig.Database, "setup_tracker"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultStr(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultStr(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Risk config
	cfg.RiskConfig.AccountEquity = getEnvFloatOrDefault("RISK_ACCOUNT_EQUITY", defaultFloat(cfg.RiskConfig.AccountEquity, 10000))
	cfg.RiskConfig.RiskPerTradePercent = getEnvFloatOrDefault("RISK_PER_TRADE_PERCENT", defaultFloat(cfg.RiskConfig.RiskPerTradePercent, 1.0))
	cfg.RiskConfig.MinRiskReward = getEnvFloatOrDefault("RISK_MIN_RISK_REWARD", defaultFloat(cfg.RiskConfig.MinRiskReward, 1.5))
	cfg.RiskConfig.MaxOpenSetups = getEnvIntOrDefault("RISK_MAX_OPEN_SETUPS", defaultInt(cfg.RiskConfig.MaxOpenSetups, 10))
	cfg.RiskConfig.BreakEvenRatio = getEnvFloatOrDefault("RISK_BREAK_EVEN_RATIO", defaultFloat(cfg.RiskConfig.BreakEvenRatio, 0.5))

	// Validation config
	cfg.ValidationConfig.MinConfidence = getEnvFloatOrDefault("VALIDATION_MIN_CONFIDENCE", defaultFloat(cfg.ValidationConfig.MinConfidence, 0.70))

	// Signal bot config
	cfg.SignalBotConfig.Enabled = getEnvOrDefault("SIGNAL_BOT_ENABLED", "true") == "true"
	cfg.SignalBotConfig.SweepInterval = getEnvIntOrDefault("SIGNAL_BOT_SWEEP_INTERVAL", defaultInt(cfg.SignalBotConfig.SweepInterval, 60))
	cfg.SignalBotConfig.WorkerCount = getEnvIntOrDefault("SIGNAL_BOT_WORKER_COUNT", defaultInt(cfg.SignalBotConfig.WorkerCount, 4))

	// Alert config
	cfg.AlertConfig.Enabled = getEnvOrDefault("ALERTS_ENABLED", "true") == "true"
	cfg.AlertConfig.TouchTolerancePct = getEnvFloatOrDefault("ALERT_TOUCH_TOLERANCE_PCT", defaultFloat(cfg.AlertConfig.TouchTolerancePct, 0.1))

	// Market data config
	cfg.MarketDataConfig.BaseURL = getEnvOrDefault("MARKET_DATA_BASE_URL", cfg.MarketDataConfig.BaseURL)
	cfg.MarketDataConfig.Interval = getEnvOrDefault("MARKET_DATA_INTERVAL", defaultStr(cfg.MarketDataConfig.Interval, "1h"))
	cfg.MarketDataConfig.CacheTTL = getEnvIntOrDefault("MARKET_DATA_CACHE_TTL", defaultInt(cfg.MarketDataConfig.CacheTTL, 60))

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", "false") == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultStr(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultStr(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.Pretty = getEnvOrDefault("LOG_PRETTY", "false") == "true"
}

// SweepInterval returns the signal bot interval as a duration.
func (c *SignalBotConfig) Interval() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

// CacheTTLDuration returns the market data cache TTL as a duration.
func (c *MarketDataConfig) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func defaultStr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func defaultInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func defaultFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "",
			Database: "setup_tracker",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  false,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		RiskConfig: RiskConfig{
			AccountEquity:       10000,
			RiskPerTradePercent: 1.0,
			MinRiskReward:       1.5,
			MaxOpenSetups:       10,
			BreakEvenRatio:      0.5,
		},
		ValidationConfig: ValidationConfig{
			MinConfidence: 0.70,
		},
		SignalBotConfig: SignalBotConfig{
			Enabled:       true,
			SweepInterval: 60,
			WorkerCount:   4,
		},
		AlertConfig: AlertConfig{
			Enabled:           true,
			TouchTolerancePct: 0.1,
		},
		MarketDataConfig: MarketDataConfig{
			BaseURL:  "https://api.binance.com",
			Interval: "1h",
			CacheTTL: 60,
		},
		LoggingConfig: LoggingConfig{
			Level:  "INFO",
			Output: "stdout",
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0o644)
}
