package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the desk engine.
type Config struct {
	Port string

	// Exchange
	ExchangeAPIKey    string
	ExchangeAPISecret string
	ExchangeBaseURL   string
	Symbols           []string

	// Cadences
	PricePollInterval   time.Duration
	AccountPollInterval time.Duration
	DemoTickInterval    time.Duration
	FallbackWindow      time.Duration

	// Database
	DBPath string

	// Logs
	LogRetention int

	// Auth
	JWTSecret string

	// Optional watchlist file overriding Symbols and cadences
	WatchlistPath string
}

// Load reads environment variables (optionally via .env) into Config, then
// applies the watchlist file when one is configured.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		ExchangeAPIKey:      os.Getenv("EXCHANGE_API_KEY"),
		ExchangeAPISecret:   os.Getenv("EXCHANGE_API_SECRET"),
		ExchangeBaseURL:     getEnv("EXCHANGE_BASE_URL", ""),
		Symbols:             splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT,SOLUSDT,BNBUSDT,XRPUSDT,DOGEUSDT")),
		PricePollInterval:   getEnvDuration("PRICE_POLL_INTERVAL", 3*time.Second),
		AccountPollInterval: getEnvDuration("ACCOUNT_POLL_INTERVAL", 8*time.Second),
		DemoTickInterval:    getEnvDuration("DEMO_TICK_INTERVAL", 2*time.Second),
		FallbackWindow:      getEnvDuration("FALLBACK_WINDOW", 10*time.Second),
		DBPath:              getEnv("DB_PATH", "./data/desk.db"),
		LogRetention:        getEnvInt("LOG_RETENTION", 500),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		WatchlistPath:       getEnv("WATCHLIST_PATH", ""),
	}

	if cfg.WatchlistPath != "" {
		if err := cfg.applyWatchlist(cfg.WatchlistPath); err != nil {
			return nil, fmt.Errorf("load watchlist %s: %w", cfg.WatchlistPath, err)
		}
	}
	return cfg, nil
}

// Watchlist is the optional YAML file shape: tracked symbols plus cadence
// overrides.
type Watchlist struct {
	Symbols  []string `yaml:"symbols"`
	Cadences struct {
		Prices   string `yaml:"prices"`
		Account  string `yaml:"account"`
		DemoTick string `yaml:"demo_tick"`
	} `yaml:"cadences"`
}

func (c *Config) applyWatchlist(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var wl Watchlist
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return err
	}

	if len(wl.Symbols) > 0 {
		c.Symbols = wl.Symbols
	}
	if wl.Cadences.Prices != "" {
		d, err := time.ParseDuration(wl.Cadences.Prices)
		if err != nil {
			return fmt.Errorf("cadences.prices: %w", err)
		}
		c.PricePollInterval = d
	}
	if wl.Cadences.Account != "" {
		d, err := time.ParseDuration(wl.Cadences.Account)
		if err != nil {
			return fmt.Errorf("cadences.account: %w", err)
		}
		c.AccountPollInterval = d
	}
	if wl.Cadences.DemoTick != "" {
		d, err := time.ParseDuration(wl.Cadences.DemoTick)
		if err != nil {
			return fmt.Errorf("cadences.demo_tick: %w", err)
		}
		c.DemoTickInterval = d
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
