package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int

	DBDriver         string
	DBDataSourceName string
	MigrationsDir    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SweepInterval  time.Duration
	RecentFeedSize int
	AdminToken     string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: could not load .env file, using environment")
	}

	config := &Config{}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.ServerPort = p
		}
	}
	if config.ServerPort == 0 {
		config.ServerPort = 8032
	}

	config.DBDriver = "postgres"

	dbHost := getEnvOrDefault("FLASHSALE_DB_HOST", "localhost")
	dbPort := getEnvOrDefault("FLASHSALE_DB_PORT", "5432")
	dbName := getEnvOrDefault("FLASHSALE_DB_DATABASE", "flashsale")
	dbUser := getEnvOrDefault("FLASHSALE_DB_USERNAME", "root")
	dbPassword := getEnvOrDefault("FLASHSALE_DB_PASSWORD", "1234")

	config.DBDataSourceName = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPassword, dbHost, dbPort, dbName)
	config.MigrationsDir = getEnvOrDefault("MIGRATIONS_DIR", "migrations")

	redisHost := getEnvOrDefault("FLASHSALE_REDIS_HOST", "localhost")
	redisPort := getEnvOrDefault("FLASHSALE_REDIS_PORT", "6379")
	config.RedisAddr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	config.RedisPassword = os.Getenv("FLASHSALE_REDIS_PASSWORD")
	if db := os.Getenv("FLASHSALE_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			config.RedisDB = n
		}
	}

	config.SweepInterval = time.Minute
	if raw := os.Getenv("FLASHSALE_SWEEP_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid FLASHSALE_SWEEP_INTERVAL %q: %w", raw, err)
		}
		config.SweepInterval = d
	}

	config.RecentFeedSize = 20
	if raw := os.Getenv("FLASHSALE_RECENT_FEED_SIZE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			config.RecentFeedSize = n
		}
	}

	config.AdminToken = os.Getenv("FLASHSALE_ADMIN_TOKEN")

	return config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
