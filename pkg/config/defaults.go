// Package config provides centralized default values for PromptWatch
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration

	// Database Configuration
	DBDriver                 string
	SQLitePath               string
	TursoDatabaseURL         string
	TursoAuthToken           string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	SlowQueryThreshold       time.Duration

	// Batch Loading
	BatchMaxWaitTime time.Duration
	BatchMaxSize     int
	FetchTimeout     time.Duration

	// Aggregation
	OffloadThreshold int
	ComputeTimeout   time.Duration

	// TTL Configuration
	DashboardTTL  time.Duration
	CompetitorTTL time.Duration
	BreakdownTTL  time.Duration
	RowCacheTTL   time.Duration

	// Cache Maintenance
	SweepInterval time.Duration
	SweepVerbose  bool

	// Realtime Configuration
	SubscriberSendBuffer int
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)

	// Database Configuration
	DBDriver = getEnvString("DB_DRIVER", "sqlite3")
	SQLitePath = getEnvString("SQLITE_PATH", "promptwatch.db")
	TursoDatabaseURL = getEnvString("TURSO_DATABASE_URL", "")
	TursoAuthToken = getEnvString("TURSO_AUTH_TOKEN", "")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 100*time.Millisecond)

	// Batch Loading
	BatchMaxWaitTime = getEnvDuration("BATCH_MAX_WAIT_TIME", 50*time.Millisecond)
	BatchMaxSize = getEnvInt("BATCH_MAX_SIZE", 10)
	FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)

	// Aggregation
	OffloadThreshold = getEnvInt("OFFLOAD_THRESHOLD", 1000)
	ComputeTimeout = getEnvDuration("COMPUTE_TIMEOUT", 10*time.Second)

	// TTL Configuration
	DashboardTTL = getEnvDuration("DASHBOARD_TTL", 5*time.Minute)
	CompetitorTTL = getEnvDuration("COMPETITOR_TTL", 10*time.Minute)
	BreakdownTTL = getEnvDuration("BREAKDOWN_TTL", 30*time.Minute)
	RowCacheTTL = getEnvDuration("ROW_CACHE_TTL", 2*time.Minute)

	// Cache Maintenance
	SweepInterval = getEnvDuration("SWEEP_INTERVAL", 5*time.Minute)
	SweepVerbose = getEnvBool("SWEEP_VERBOSE", false)

	// Realtime Configuration
	SubscriberSendBuffer = getEnvInt("SUBSCRIBER_SEND_BUFFER", 10)
}
