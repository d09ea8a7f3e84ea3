package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseDSN string
	Redis       RedisConfig
	JWTSecret   string
	Ledger      LedgerConfig
	Payout      PayoutConfig
	Gateway     GatewayConfig
}

type LedgerConfig struct {
	DefaultClearanceDays int
}

type PayoutConfig struct {
	MinWithdrawalAmount string
	MaxWithdrawalAmount string
	BulkProcessLimit    int
	GatewayTimeout      time.Duration
}

type GatewayConfig struct {
	URL     string
	Timeout time.Duration
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	clearanceDays, _ := strconv.Atoi(getEnv("DEFAULT_CLEARANCE_DAYS", "30"))
	bulkLimit, _ := strconv.Atoi(getEnv("BULK_PROCESS_LIMIT", "50"))
	gatewayTimeout, _ := strconv.Atoi(getEnv("PAYMENT_GATEWAY_TIMEOUT_SECONDS", "30"))

	return Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseDSN: getEnv("DATABASE_DSN", ""),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWTSecret: getEnv("JWT_SECRET", ""),
		Ledger: LedgerConfig{
			DefaultClearanceDays: clearanceDays,
		},
		Payout: PayoutConfig{
			MinWithdrawalAmount: getEnv("MIN_WITHDRAWAL_AMOUNT", "50.00"),
			MaxWithdrawalAmount: getEnv("MAX_WITHDRAWAL_AMOUNT", "10000.00"),
			BulkProcessLimit:    bulkLimit,
			GatewayTimeout:      time.Duration(gatewayTimeout) * time.Second,
		},
		Gateway: GatewayConfig{
			URL:     getEnv("PAYMENT_GATEWAY_URL", "http://localhost:9090"),
			Timeout: time.Duration(gatewayTimeout) * time.Second,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
