package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Watchlists
	Watchlist       []string
	CryptoWatchlist []string
	Subreddits      []string

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Broker (Alpaca-style paper API)
	Broker BrokerConfig

	// LLM configuration
	LLM LLMConfig

	// Risk guardrails
	Risk RiskConfig

	// Trading schedule and behavior
	Trading TradingConfig

	// Dashboard
	APIPort int
}

// DatabaseConfig selects and configures the audit store backend.
type DatabaseConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	Path     string // sqlite file path
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// BrokerConfig holds broker API credentials and endpoints
type BrokerConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	DataURL   string
	StreamURL string
}

// LLMConfig holds the analyst model configuration
type LLMConfig struct {
	Enabled     bool
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	CacheTTLMin int
}

// RiskConfig holds the guardrail thresholds
type RiskConfig struct {
	MaxPositionPct         float64
	DailyLossLimitPct      float64
	MaxTradesPerDay        int
	MinCashReservePct      float64
	SessionBudget          float64 // 0 disables the session budget guard
	LowPriceThreshold      float64 // stocks below this price get tighter limits
	LowPriceMaxPositionPct float64
	WashSaleWindowDays     int
	MinHoldMinutes         int
}

// TradingConfig holds scheduling parameters
type TradingConfig struct {
	Mode                string // "paper" or "live"
	IntervalMinutes     int
	MarketOpen          string // "09:35"
	MarketClose         string // "15:55"
	HoldCooldownMinutes int
	BarHistoryDays      int
	NewsLimit           int
	SocialLimit         int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Watchlist:       getEnvList("WATCHLIST", "AAPL,MSFT,NVDA,AMZN,GOOGL,SPY"),
		CryptoWatchlist: getEnvList("CRYPTO_WATCHLIST", ""),
		Subreddits:      getEnvList("REDDIT_SUBREDDITS", "stocks,investing,algotrading"),

		Database: DatabaseConfig{
			Driver:   getEnvOrDefault("DB_DRIVER", "sqlite"),
			Path:     getEnvOrDefault("DB_PATH", "auto_investor.db"),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			Name:     getEnvOrDefault("DB_NAME", "auto_investor"),
			User:     getEnvOrDefault("DB_USER", "auto_investor"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
		},

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		Broker: BrokerConfig{
			APIKey:    os.Getenv("ALPACA_API_KEY"),
			SecretKey: os.Getenv("ALPACA_SECRET_KEY"),
			BaseURL:   getEnvOrDefault("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
			DataURL:   getEnvOrDefault("ALPACA_DATA_URL", "https://data.alpaca.markets"),
			StreamURL: getEnvOrDefault("ALPACA_STREAM_URL", "wss://paper-api.alpaca.markets/stream"),
		},

		LLM: LLMConfig{
			Enabled:     getEnvOrDefault("LLM_ENABLED", "true") == "true",
			Endpoint:    getEnvOrDefault("LLM_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:      getEnvOrDefault("LLM_API_KEY", ""),
			Model:       getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 4096),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			CacheTTLMin: getEnvInt("LLM_CACHE_TTL_MINUTES", 10),
		},

		Risk: RiskConfig{
			MaxPositionPct:         getEnvFloat("RISK_MAX_POSITION_PCT", 15.0),
			DailyLossLimitPct:      getEnvFloat("RISK_DAILY_LOSS_LIMIT_PCT", 3.0),
			MaxTradesPerDay:        getEnvInt("RISK_MAX_TRADES_PER_DAY", 10),
			MinCashReservePct:      getEnvFloat("RISK_MIN_CASH_RESERVE_PCT", 20.0),
			SessionBudget:          getEnvFloat("RISK_SESSION_BUDGET", 0),
			LowPriceThreshold:      getEnvFloat("RISK_LOW_PRICE_THRESHOLD", 10.0),
			LowPriceMaxPositionPct: getEnvFloat("RISK_LOW_PRICE_MAX_POSITION_PCT", 3.0),
			WashSaleWindowDays:     getEnvInt("RISK_WASH_SALE_WINDOW_DAYS", 30),
			MinHoldMinutes:         getEnvInt("RISK_MIN_HOLD_MINUTES", 30),
		},

		Trading: TradingConfig{
			Mode:                getEnvOrDefault("TRADING_MODE", "paper"),
			IntervalMinutes:     getEnvInt("TRADING_INTERVAL_MINUTES", 30),
			MarketOpen:          getEnvOrDefault("TRADING_MARKET_OPEN", "09:35"),
			MarketClose:         getEnvOrDefault("TRADING_MARKET_CLOSE", "15:55"),
			HoldCooldownMinutes: getEnvInt("TRADING_HOLD_COOLDOWN_MINUTES", 20),
			BarHistoryDays:      getEnvInt("TRADING_BAR_HISTORY_DAYS", 35),
			NewsLimit:           getEnvInt("TRADING_NEWS_LIMIT", 5),
			SocialLimit:         getEnvInt("TRADING_SOCIAL_LIMIT", 10),
		},

		APIPort: getEnvInt("PORT", 8000),
	}
}

// Validate checks that required credentials are present.
func (c *Config) Validate() error {
	if c.Broker.APIKey == "" || c.Broker.SecretKey == "" {
		return fmt.Errorf("ALPACA_API_KEY and ALPACA_SECRET_KEY must be set")
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY must be set when LLM_ENABLED=true")
	}
	return nil
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList parses a comma-separated environment variable into a slice,
// trimming whitespace and dropping empty entries.
func getEnvList(key, defaultValue string) []string {
	raw := getEnvOrDefault(key, defaultValue)
	parts := strings.Split(raw, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}
