package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL    string
	MigrateOnStart bool

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Security
	JWTSecret         string
	JWTExpiresMinutes int
	OperatorKeyHash   string // bcrypt hash of the operator API key

	// Telegram Mini App
	TelegramBotToken        string
	TelegramInitDataMaxAgeS int

	// NEAR
	NearRPCURL          string
	NearNFTContracts    []string
	AssetValidation     bool
	AssetCacheSeconds   int
	DepositCheckMinutes int

	// Game Settings
	DefaultRating        int
	DefaultMaxRatingDiff int
	MaxDeckSize          int
	QueueRescanSeconds   int
	QueueExpiryMinutes   int
	MatchRetentionMin    int
	SnapshotTTLMinutes   int
	WSSendBuffer         int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/triadarena?sslmode=disable"),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", true),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Security
		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production"),
		JWTExpiresMinutes: getEnvInt("JWT_EXPIRES_MINUTES", 60*24),
		OperatorKeyHash:   getEnv("OPERATOR_KEY_HASH", ""),

		// Telegram
		TelegramBotToken:        getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramInitDataMaxAgeS: getEnvInt("TG_INITDATA_MAX_AGE_SECONDS", 86400),

		// NEAR
		NearRPCURL:          getEnv("NEAR_RPC_URL", "https://rpc.testnet.near.org"),
		NearNFTContracts:    getEnvList("NEAR_NFT_CONTRACTS"),
		AssetValidation:     getEnvBool("ASSET_VALIDATION", false),
		AssetCacheSeconds:   getEnvInt("ASSET_CACHE_SECONDS", 60),
		DepositCheckMinutes: getEnvInt("DEPOSIT_CHECK_MINUTES", 2),

		// Game Settings
		DefaultRating:        getEnvInt("DEFAULT_RATING", 1000),
		DefaultMaxRatingDiff: getEnvInt("DEFAULT_MAX_RATING_DIFF", 200),
		MaxDeckSize:          getEnvInt("MAX_DECK_SIZE", 10),
		QueueRescanSeconds:   getEnvInt("QUEUE_RESCAN_SECONDS", 5),
		QueueExpiryMinutes:   getEnvInt("QUEUE_EXPIRY_MINUTES", 10),
		MatchRetentionMin:    getEnvInt("MATCH_RETENTION_MINUTES", 30),
		SnapshotTTLMinutes:   getEnvInt("SNAPSHOT_TTL_MINUTES", 60),
		WSSendBuffer:         getEnvInt("WS_SEND_BUFFER", 256),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
