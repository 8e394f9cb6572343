package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Binance USDT-M futures
	EnableBinance    bool
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool
	// Symbols to stream mark prices for between REST refreshes.
	BinanceStreamSymbols []string

	// OKX USDT swaps
	EnableOKX     bool
	OKXAPIKey     string
	OKXAPISecret  string
	OKXPassphrase string
	OKXTestnet    bool

	// Monitoring
	MonitorInterval time.Duration

	// Persistence
	DBPath string

	// Signal source profiles (YAML)
	SourcesPath string

	// Auth
	JWTSecret         string
	AdminPasswordHash string // bcrypt hash for the operator login

	// InstanceID stamps persisted lifecycle events; machine-derived with a
	// UUID fallback.
	InstanceID string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		EnableBinance:        getEnv("ENABLE_BINANCE", "true") == "true",
		BinanceAPIKey:        os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:     os.Getenv("BINANCE_API_SECRET"),
		BinanceTestnet:       getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceStreamSymbols: splitAndTrim(getEnv("BINANCE_STREAM_SYMBOLS", "")),
		EnableOKX:            getEnv("ENABLE_OKX", "false") == "true",
		OKXAPIKey:            os.Getenv("OKX_API_KEY"),
		OKXAPISecret:         os.Getenv("OKX_API_SECRET"),
		OKXPassphrase:        os.Getenv("OKX_PASSPHRASE"),
		OKXTestnet:           getEnv("OKX_TESTNET", "false") == "true",
		MonitorInterval:      time.Duration(getEnvInt("MONITOR_INTERVAL_MS", 1000)) * time.Millisecond,
		DBPath:               getEnv("DB_PATH", "./data/signals.db"),
		SourcesPath:          getEnv("SOURCES_PATH", "./sources.yaml"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		AdminPasswordHash:    os.Getenv("ADMIN_PASSWORD_HASH"),
		InstanceID:           instanceID(),
	}, nil
}

// instanceID derives a stable per-host ID, falling back to a random UUID on
// hosts where the machine ID is unreadable.
func instanceID() string {
	if id, err := machineid.ProtectedID("copytrade-core"); err == nil && id != "" {
		return id[:16]
	}
	return uuid.NewString()
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
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
