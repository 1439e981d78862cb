package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Security  SecurityConfig  `json:"security"`
	TikTok    TikTokConfig    `json:"tiktok"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Telegram  TelegramConfig  `json:"telegram"`
	Redis     RedisConfig     `json:"redis"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig contains admin API security settings
type SecurityConfig struct {
	APIKey string `json:"api_key"`
}

// TikTokConfig contains TikTok Shop Open API settings
type TikTokConfig struct {
	AppKey        string `json:"app_key"`
	AppSecret     string `json:"app_secret"`
	ServiceID     string `json:"service_id"`
	RedirectURI   string `json:"redirect_uri"`
	AuthorizeBase string `json:"authorize_base"`
	AuthBase      string `json:"auth_base"`
	APIBase       string `json:"api_base"`
	APIBaseUS     string `json:"api_base_us"`
	RefreshAhead  int    `json:"refresh_ahead"` // seconds before expiry to refresh
}

// SchedulerConfig contains background maintenance settings
type SchedulerConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"interval_minutes"`
	SyncProducts    bool `json:"sync_products"`
}

// TelegramConfig contains settings for re-authorization alerts.
// Alerts are disabled when the bot token is empty.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

// RedisConfig contains shop-info cache settings.
// The cache is disabled when the address is empty.
type RedisConfig struct {
	Addr       string `json:"addr"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}

	if c.Security.APIKey == "" {
		return fmt.Errorf("%w: API key is required", ErrInvalidConfig)
	}

	if c.TikTok.AppKey == "" || c.TikTok.AppSecret == "" {
		return fmt.Errorf("%w: TikTok app credentials are required", ErrInvalidConfig)
	}

	if c.TikTok.AuthorizeBase == "" {
		c.TikTok.AuthorizeBase = "https://services.tiktokshop.com/open/authorize"
	}

	if c.TikTok.AuthBase == "" {
		c.TikTok.AuthBase = "https://auth.tiktok-shops.com"
	}

	if c.TikTok.APIBase == "" {
		c.TikTok.APIBase = "https://open-api.tiktokglobalshop.com"
	}

	if c.TikTok.APIBaseUS == "" {
		c.TikTok.APIBaseUS = "https://open-api.tiktokshopus.com"
	}

	if c.TikTok.RefreshAhead <= 0 {
		c.TikTok.RefreshAhead = 600
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		c.Scheduler.IntervalMinutes = 15
	}

	if c.Redis.Addr != "" && c.Redis.TTLSeconds <= 0 {
		c.Redis.TTLSeconds = 300
	}

	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("%w: telegram chat_id is required when bot_token is set", ErrInvalidConfig)
	}

	return nil
}

// Load loads configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads configuration from environment variables
// This is useful for containerized deployments
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnv("SHOPBRIDGE_HOST", "0.0.0.0"),
			Port: getEnvInt("SHOPBRIDGE_PORT", 8080),
		},
		Database: DatabaseConfig{
			Path: getEnv("SHOPBRIDGE_DB_PATH", "shopbridge.db"),
		},
		Security: SecurityConfig{
			APIKey: getEnv("SHOPBRIDGE_API_KEY", ""),
		},
		TikTok: TikTokConfig{
			AppKey:        getEnv("TIKTOK_APP_KEY", ""),
			AppSecret:     getEnv("TIKTOK_APP_SECRET", ""),
			ServiceID:     getEnv("TIKTOK_SERVICE_ID", ""),
			RedirectURI:   getEnv("TIKTOK_REDIRECT_URI", ""),
			AuthorizeBase: getEnv("TIKTOK_AUTHORIZE_BASE", ""),
			AuthBase:      getEnv("TIKTOK_AUTH_BASE", ""),
			APIBase:       getEnv("TIKTOK_OPEN_API_BASE", ""),
			APIBaseUS:     getEnv("TIKTOK_OPEN_API_BASE_US", ""),
			RefreshAhead:  getEnvInt("TIKTOK_REFRESH_AHEAD", 600),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getEnvBool("SHOPBRIDGE_SCHEDULER_ENABLED", true),
			IntervalMinutes: getEnvInt("SHOPBRIDGE_SCHEDULER_INTERVAL", 15),
			SyncProducts:    getEnvBool("SHOPBRIDGE_SYNC_PRODUCTS", true),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("SHOPBRIDGE_TELEGRAM_TOKEN", ""),
			ChatID:   getEnvInt64("SHOPBRIDGE_TELEGRAM_CHAT_ID", 0),
		},
		Redis: RedisConfig{
			Addr:       getEnv("SHOPBRIDGE_REDIS_ADDR", ""),
			Password:   getEnv("SHOPBRIDGE_REDIS_PASSWORD", ""),
			DB:         getEnvInt("SHOPBRIDGE_REDIS_DB", 0),
			TTLSeconds: getEnvInt("SHOPBRIDGE_REDIS_TTL", 300),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
